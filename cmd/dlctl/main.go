// Package main implements the dlctl CLI for manual operations against the deadlined HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/deadlined/internal/http"
)

var (
	// serverURL is the base URL for the deadlined HTTP server
	serverURL string
	// outputJSON prints raw JSON instead of tables
	outputJSON bool
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dlctl",
	Short: "CLI for deadlined HTTP server operations",
	Long: `dlctl is a command-line interface for interacting with the deadlined HTTP server.
It manages deadlines, runs extraction on ad-hoc text and controls ingestion sources.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9191", "deadlined server URL")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(remindersCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check deadlined server health",
	Long: `Check the health status of the deadlined HTTP server.

Examples:
  # Check health
  dlctl health

  # Check health on a different server
  dlctl health --server http://localhost:8080`,
	RunE: runHealth,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show deadline counts and service state",
	RunE:  runStatus,
}

var remindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "List pending reminder triggers in fire order",
	RunE:  runReminders,
}

// apiClient is shared by every command; tests point serverURL at httptest.
var apiClient = &http.Client{Timeout: 30 * time.Second}

// call sends an optional JSON body and decodes a JSON response into out.
// Non-2xx responses are returned as errors carrying the server's message.
func call(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		reqJSON, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(reqJSON)
	}

	url := strings.TrimRight(serverURL, "/") + path
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		var apiErr httpapi.ErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// printJSON writes v indented to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runHealth(cmd *cobra.Command, args []string) error {
	var health httpapi.HealthResponse
	if err := call(http.MethodGet, "/health", nil, &health); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	fmt.Printf("Server Status: %s\n", health.Status)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	var st httpapi.StatusResponse
	if err := call(http.MethodGet, "/api/v1/status", nil, &st); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(st)
	}

	fmt.Printf("Status:    %s\n", st.Status)
	if st.Version != "" {
		fmt.Printf("Version:   %s\n", st.Version)
	}
	fmt.Printf("Pending:   %d\n", st.Counts.Pending)
	fmt.Printf("Confirmed: %d\n", st.Counts.Confirmed)
	fmt.Printf("Done:      %d\n", st.Counts.Done)
	fmt.Printf("Overdue:   %d\n", st.Counts.Overdue)
	fmt.Printf("Scheduled: %d\n", st.Scheduled)
	for name, state := range st.Services {
		fmt.Printf("  %-12s %s\n", name, state)
	}
	return nil
}

func runReminders(cmd *cobra.Command, args []string) error {
	var resp httpapi.RemindersResponse
	if err := call(http.MethodGet, "/api/v1/reminders", nil, &resp); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(resp)
	}

	if !resp.Running {
		fmt.Fprintln(os.Stderr, "warning: reminder engine is not running")
	}
	if len(resp.Triggers) == 0 {
		fmt.Println("No pending reminders.")
		return nil
	}
	w := newTable()
	fmt.Fprintln(w, "FIRE AT\tCHANNEL\tDEADLINE\tMISSED")
	for _, t := range resp.Triggers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", t.FireAt.Local().Format(time.RFC3339), t.Channel, t.DeadlineID, t.Missed)
	}
	return w.Flush()
}

// errUsage wraps input the command could not parse.
var errUsage = errors.New("usage")
