package extraction

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaConfig configures the local model.
type OllamaConfig struct {
	ServerURL string
	Model     string
	Timeout   time.Duration
	// Temperature and MaxTokens fall back to the extraction defaults when zero.
	Temperature float64
	MaxTokens   int
}

// ollamaCompleter runs prompts against a local Ollama server.
type ollamaCompleter struct {
	llm         llms.Model
	serverURL   string
	httpClient  *http.Client
	temperature float64
	maxTokens   int
}

// NewOllamaCompleter returns a Completer for a local Ollama server.
// Construction does not contact the server.
func NewOllamaCompleter(cfg OllamaConfig) (Completer, error) {
	if cfg.ServerURL == "" {
		cfg.ServerURL = defaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}

	llm, err := ollama.New(
		ollama.WithModel(cfg.Model),
		ollama.WithServerURL(cfg.ServerURL),
		ollama.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	return &ollamaCompleter{
		llm:         llm,
		serverURL:   strings.TrimRight(cfg.ServerURL, "/"),
		httpClient:  httpClient,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (o *ollamaCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, o.llm, prompt,
		llms.WithTemperature(o.temperature),
		llms.WithMaxTokens(o.maxTokens),
	)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("ollama generate: %w", err)}
	}
	return out, nil
}

// Ping checks the server answers its model listing endpoint.
func (o *ollamaCompleter) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.serverURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

var (
	_ Completer = (*ollamaCompleter)(nil)
	_ Pinger    = (*ollamaCompleter)(nil)
)
