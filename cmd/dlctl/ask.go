package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/deadlined/internal/assistant"
	httpapi "github.com/fyrsmithlabs/deadlined/internal/http"
)

var askSuggest bool

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().BoolVar(&askSuggest, "suggest", false, "List example questions instead of asking one")
}

var askCmd = &cobra.Command{
	Use:   "ask [question...]",
	Short: "Ask the local model about your deadlines",
	Long: `Answer a question over the stored deadlines using the daemon's local model.

Examples:
  dlctl ask what is due this week
  dlctl ask --suggest`,
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	if askSuggest {
		var resp httpapi.SuggestionsResponse
		if err := call(http.MethodGet, "/api/v1/chat/suggestions", nil, &resp); err != nil {
			return err
		}
		if outputJSON {
			return printJSON(resp)
		}
		for _, q := range resp.Questions {
			fmt.Println("  " + q)
		}
		return nil
	}

	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("%w: a question is required", errUsage)
	}

	var ans assistant.Answer
	if err := call(http.MethodPost, "/api/v1/chat", httpapi.ChatRequest{Question: question}, &ans); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(ans)
	}
	fmt.Println(ans.Answer)
	return nil
}
