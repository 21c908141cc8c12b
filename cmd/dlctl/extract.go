package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/deadlined/internal/http"
)

var extractProvider string

func init() {
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(extractorsCmd)

	extractCmd.Flags().StringVar(&extractProvider, "provider", "", "Force one interpreter: cloud, local or pattern")
}

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract deadlines from a file or stdin without saving them",
	Long: `Run the extraction chain on ad-hoc text and print the candidates.

Examples:
  # Extract from a file
  dlctl extract message.txt

  # Extract from stdin with the offline pattern interpreter
  echo "report due tomorrow at 5pm" | dlctl extract --provider pattern -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExtract,
}

var extractorsCmd = &cobra.Command{
	Use:   "extractors",
	Short: "Show interpreter availability",
	Args:  cobra.NoArgs,
	RunE:  runExtractors,
}

// readInput reads args[0], or stdin when absent or "-".
func readInput(args []string) (string, error) {
	var (
		content []byte
		err     error
	)
	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}
	text := strings.TrimSpace(string(content))
	if text == "" {
		return "", fmt.Errorf("%w: no text to extract from", errUsage)
	}
	return text, nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	text, err := readInput(args)
	if err != nil {
		return err
	}

	var resp httpapi.ExtractResponse
	req := httpapi.ExtractRequest{Text: text, Provider: extractProvider}
	if err := call(http.MethodPost, "/api/v1/extract", req, &resp); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(resp)
	}

	for _, a := range resp.Attempts {
		if a.Error != "" {
			fmt.Fprintf(os.Stderr, "[dlctl] %s failed (%s): %s\n", a.Interpreter, a.Failure, a.Error)
		}
	}
	if len(resp.Candidates) == 0 {
		fmt.Println("No deadlines found.")
		return nil
	}

	w := newTable()
	fmt.Fprintf(w, "DATE\tTIME\tTASK\t(via %s)\n", resp.Interpreter)
	for _, c := range resp.Candidates {
		tm := "-"
		if c.Time != nil {
			tm = *c.Time
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t\n", c.Date, tm, c.Task)
	}
	return w.Flush()
}

func runExtractors(cmd *cobra.Command, args []string) error {
	var resp httpapi.ExtractorsResponse
	if err := call(http.MethodGet, "/api/v1/extractors", nil, &resp); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(resp)
	}

	w := newTable()
	fmt.Fprintln(w, "NAME\tAVAILABLE\tPROVIDER\tMODEL\tREASON")
	for _, a := range resp.Extractors {
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\n", a.Name, a.Available, a.Provider, a.Model, a.Reason)
	}
	return w.Flush()
}
