package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ClientConfig configures a hosted model client.
type ClientConfig struct {
	Model      string
	APIKey     string `json:"-"`
	BaseURL    string
	MaxTokens  int
	Timeout    time.Duration
	// MaxRetries of 0 selects the default; negative disables retries.
	MaxRetries int
	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration
}

func (c ClientConfig) withDefaults(model, baseURL string) ClientConfig {
	if c.Model == "" {
		c.Model = model
	}
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
	return c
}

// retrier holds the rate limiter and retry policy shared by hosted clients.
type retrier struct {
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

func newRetrier(cfg ClientConfig) retrier {
	return retrier{
		limiter:     rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
	}
}

func (r retrier) do(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		response, err := fn(ctx)
		if err == nil {
			return response, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// statusError turns a non-200 response into an error, marking 429 and 5xx
// retryable.
func statusError(status int, body []byte, message func([]byte) string) error {
	if status == http.StatusTooManyRequests {
		return &retryableError{err: fmt.Errorf("rate limited (429)")}
	}
	if status >= 500 {
		return &retryableError{err: fmt.Errorf("server error (%d): %s", status, truncate(body))}
	}
	if msg := message(body); msg != "" {
		return fmt.Errorf("API error (%d): %s", status, msg)
	}
	return fmt.Errorf("API error (%d): %s", status, truncate(body))
}

func truncate(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// openAIClient talks to an OpenAI-compatible chat completions API. Groq
// serves this API under /openai.
type openAIClient struct {
	model      string
	apiKey     string `json:"-"` // Never serialize API keys
	baseURL    string
	maxTokens  int
	httpClient *http.Client
	retry      retrier
}

// NewGroqCompleter returns a Completer for Groq's OpenAI-compatible API.
func NewGroqCompleter(cfg ClientConfig) (Completer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("groq API key required: %w", ErrNotConfigured)
	}
	cfg = cfg.withDefaults(defaultGroqModel, defaultGroqBaseURL)
	return &openAIClient{
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      newRetrier(cfg),
	}, nil
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (o *openAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	req := openAIRequest{
		Model: o.model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   o.maxTokens,
		Temperature: defaultTemperature,
	}
	return o.retry.do(ctx, func(ctx context.Context) (string, error) {
		return o.doRequest(ctx, req)
	})
}

func (o *openAIClient) doRequest(ctx context.Context, req openAIRequest) (string, error) {
	body, err := o.send(ctx, http.MethodPost, "/v1/chat/completions", req)
	if err != nil {
		return "", err
	}

	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from API")
	}
	return resp.Choices[0].Message.Content, nil
}

// Ping lists models, which checks reachability and the key without
// spending completion tokens.
func (o *openAIClient) Ping(ctx context.Context) error {
	_, err := o.send(ctx, http.MethodGet, "/v1/models", nil)
	return err
}

func (o *openAIClient) send(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body, func(b []byte) string {
			var e openAIError
			if json.Unmarshal(b, &e) == nil {
				return e.Error.Message
			}
			return ""
		})
	}
	return body, nil
}

// anthropicClient talks to Anthropic's Messages API.
type anthropicClient struct {
	model      string
	apiKey     string `json:"-"` // Never serialize API keys
	baseURL    string
	maxTokens  int
	httpClient *http.Client
	retry      retrier
}

// NewAnthropicCompleter returns a Completer for Anthropic's Messages API.
func NewAnthropicCompleter(cfg ClientConfig) (Completer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key required: %w", ErrNotConfigured)
	}
	cfg = cfg.withDefaults(defaultAnthropicModel, defaultAnthropicBaseURL)
	return &anthropicClient{
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      newRetrier(cfg),
	}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *anthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	req := anthropicRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		System:      systemPrompt,
		Temperature: defaultTemperature,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
	}
	return a.retry.do(ctx, func(ctx context.Context) (string, error) {
		return a.doRequest(ctx, req)
	})
}

func (a *anthropicClient) doRequest(ctx context.Context, req anthropicRequest) (string, error) {
	body, err := a.send(ctx, http.MethodPost, "/v1/messages", req)
	if err != nil {
		return "", err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("empty response from API")
	}
	return resp.Content[0].Text, nil
}

func (a *anthropicClient) Ping(ctx context.Context) error {
	_, err := a.send(ctx, http.MethodGet, "/v1/models", nil)
	return err
}

func (a *anthropicClient) send(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", a.apiKey)
	httpReq.Header.Set("Anthropic-Version", "2023-06-01")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body, func(b []byte) string {
			var e anthropicError
			if json.Unmarshal(b, &e) == nil {
				return e.Error.Message
			}
			return ""
		})
	}
	return body, nil
}

// Ensure interfaces are implemented at compile time.
var (
	_ Completer = (*openAIClient)(nil)
	_ Pinger    = (*openAIClient)(nil)
	_ Completer = (*anthropicClient)(nil)
	_ Pinger    = (*anthropicClient)(nil)
)
