package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/deadlined/internal/deadline"
	"github.com/fyrsmithlabs/deadlined/internal/tracker"
)

var (
	// add command flags
	addDue         string
	addDescription string
	addPriority    string
	addProject     string
	addTags        []string
	addOffsets     []int64
	addChannels    []string
)

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(doneCmd)

	addCmd.Flags().StringVar(&addDue, "due", "", "Due time, RFC3339 or \"2006-01-02 15:04\" in local time (required)")
	addCmd.Flags().StringVar(&addDescription, "description", "", "Deadline description")
	addCmd.Flags().StringVar(&addPriority, "priority", "", "Priority: low, normal, high, critical")
	addCmd.Flags().StringVar(&addProject, "project", "", "Project name")
	addCmd.Flags().StringSliceVar(&addTags, "tag", nil, "Tag (repeatable)")
	addCmd.Flags().Int64SliceVar(&addOffsets, "offset", nil, "Reminder offset in seconds relative to due time, e.g. -3600 (repeatable)")
	addCmd.Flags().StringSliceVar(&addChannels, "channel", nil, "Channel for --offset rules (default desktop)")
	_ = addCmd.MarkFlagRequired("due")
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List deadlines ordered by due time",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a deadline",
	Long: `Create a deadline and schedule its reminders.

Examples:
  # Default reminders
  dlctl add "Submit report" --due "2024-01-20 17:00"

  # One hour before, on the phone
  dlctl add "Call bank" --due 2024-01-20T09:00:00Z --offset -3600 --channel mobile-push`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a deadline and its reminder rules",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a deadline and cancel its reminders",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var doneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a deadline done",
	Args:  cobra.ExactArgs(1),
	RunE:  runDone,
}

func deadlinePath(id string) string {
	return "/api/v1/deadlines/" + url.PathEscape(id)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

// parseDue accepts RFC3339 or a local "2006-01-02 15:04" / "2006-01-02".
func parseDue(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse due time %q", errUsage, s)
}

func buildCreateRequest(title string) (tracker.CreateRequest, error) {
	due, err := parseDue(addDue)
	if err != nil {
		return tracker.CreateRequest{}, err
	}
	req := tracker.CreateRequest{
		Title:       title,
		Description: addDescription,
		DueAt:       due,
		Priority:    deadline.Priority(addPriority),
		Project:     addProject,
		Tags:        addTags,
	}

	channels := addChannels
	if len(channels) == 0 {
		channels = []string{string(deadline.ChannelDesktop)}
	}
	for _, off := range addOffsets {
		for _, ch := range channels {
			req.Rules = append(req.Rules, tracker.RuleSpec{
				OffsetSeconds: off,
				Channel:       deadline.Channel(ch),
			})
		}
	}
	return req, nil
}

func runList(cmd *cobra.Command, args []string) error {
	var all []deadline.Deadline
	if err := call(http.MethodGet, "/api/v1/deadlines", nil, &all); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(all)
	}
	if len(all) == 0 {
		fmt.Println("No deadlines.")
		return nil
	}

	w := newTable()
	fmt.Fprintln(w, "ID\tDUE\tSTATUS\tSOURCE\tTITLE")
	for _, d := range all {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.DueAt.Local().Format("2006-01-02 15:04"), d.Status, d.Source, truncate(d.Title, 50))
	}
	return w.Flush()
}

func runAdd(cmd *cobra.Command, args []string) error {
	req, err := buildCreateRequest(strings.Join(args, " "))
	if err != nil {
		return err
	}
	var created deadline.Deadline
	if err := call(http.MethodPost, "/api/v1/deadlines", req, &created); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(created)
	}
	fmt.Printf("Created %s due %s\n", created.ID, created.DueAt.Local().Format("2006-01-02 15:04"))
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	var d tracker.Detail
	if err := call(http.MethodGet, deadlinePath(args[0]), nil, &d); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(d)
	}

	fmt.Printf("ID:       %s\n", d.ID)
	fmt.Printf("Title:    %s\n", d.Title)
	fmt.Printf("Due:      %s\n", d.DueAt.Local().Format("2006-01-02 15:04 MST"))
	fmt.Printf("Status:   %s\n", d.Status)
	fmt.Printf("Priority: %s\n", d.Priority)
	fmt.Printf("Source:   %s\n", d.Source)
	if d.Description != "" {
		fmt.Printf("Notes:    %s\n", d.Description)
	}
	if len(d.Rules) == 0 {
		return nil
	}
	fmt.Println()
	w := newTable()
	fmt.Fprintln(w, "RULE\tOFFSET\tCHANNEL\tENABLED")
	for _, r := range d.Rules {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", r.ID, formatOffset(r.OffsetSeconds), r.Channel, r.Enabled)
	}
	return w.Flush()
}

func runDelete(cmd *cobra.Command, args []string) error {
	if err := call(http.MethodDelete, deadlinePath(args[0]), nil, nil); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}

func runDone(cmd *cobra.Command, args []string) error {
	done := deadline.StatusDone
	var d deadline.Deadline
	if err := call(http.MethodPut, deadlinePath(args[0]), tracker.UpdateRequest{Status: &done}, &d); err != nil {
		return err
	}
	fmt.Printf("Marked %s done\n", d.ID)
	return nil
}

// formatOffset renders -3600 as "1h0m0s before" and 0 as "at due time".
func formatOffset(seconds int64) string {
	switch {
	case seconds == 0:
		return "at due time"
	case seconds < 0:
		return (time.Duration(-seconds) * time.Second).String() + " before"
	default:
		return (time.Duration(seconds) * time.Second).String() + " after"
	}
}

// truncate shortens s to maxLen runes, ending with "...".
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."[:maxLen]
	}
	return string(r[:maxLen-3]) + "..."
}
