package main

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/deadlined/internal/http"
	"github.com/fyrsmithlabs/deadlined/internal/ingestion"
)

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.AddCommand(ingestStartCmd)
	ingestCmd.AddCommand(ingestStopCmd)
	ingestCmd.AddCommand(ingestStatusCmd)
	ingestCmd.AddCommand(ingestPushCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Control ingestion sources",
}

var ingestStartCmd = &cobra.Command{
	Use:   "start <source>",
	Short: "Start polling a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ingestAction(args[0], "start")
	},
}

var ingestStopCmd = &cobra.Command{
	Use:   "stop <source>",
	Short: "Stop polling a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ingestAction(args[0], "stop")
	},
}

var ingestStatusCmd = &cobra.Command{
	Use:   "status [source]",
	Short: "Show one source, or every source when none is named",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIngestStatus,
}

var ingestPushCmd = &cobra.Command{
	Use:   "push <source> [file]",
	Short: "Queue text from a file or stdin on a push source",
	Long: `Queue a snippet on a push source. It is extracted on the source's next poll.

Examples:
  echo "Invoice due 2024-02-01" | dlctl ingest push email -`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runIngestPush,
}

func sourcePath(name, action string) string {
	return "/api/v1/ingestion/" + url.PathEscape(name) + "/" + action
}

func ingestAction(name, action string) error {
	var st ingestion.Status
	if err := call(http.MethodPost, sourcePath(name, action), nil, &st); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(st)
	}
	printStatuses([]ingestion.Status{st})
	return nil
}

func runIngestStatus(cmd *cobra.Command, args []string) error {
	var all []ingestion.Status
	if len(args) == 1 {
		var st ingestion.Status
		if err := call(http.MethodGet, sourcePath(args[0], "status"), nil, &st); err != nil {
			return err
		}
		all = append(all, st)
	} else if err := call(http.MethodGet, "/api/v1/ingestion", nil, &all); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(all)
	}
	printStatuses(all)
	return nil
}

func runIngestPush(cmd *cobra.Command, args []string) error {
	text, err := readInput(args[1:])
	if err != nil {
		return err
	}
	var resp httpapi.PushResponse
	if err := call(http.MethodPost, sourcePath(args[0], "messages"), httpapi.PushRequest{Text: text}, &resp); err != nil {
		return err
	}
	fmt.Printf("Queued %d snippet(s) on %s\n", resp.Queued, args[0])
	return nil
}

func printStatuses(all []ingestion.Status) {
	w := newTable()
	fmt.Fprintln(w, "SOURCE\tRUNNING\tPOLLS\tCREATED\tLAST POLL\tMESSAGE")
	for _, st := range all {
		last := "-"
		if !st.LastPollAt.IsZero() {
			last = st.LastPollAt.Local().Format(time.TimeOnly)
		}
		msg := st.Message
		if st.LastError != "" {
			msg = "error: " + st.LastError
		}
		fmt.Fprintf(w, "%s\t%t\t%d\t%d\t%s\t%s\n", st.Source, st.Running, st.Polls, st.Created, last, truncate(msg, 60))
	}
	_ = w.Flush()
}
