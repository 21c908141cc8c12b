package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/fyrsmithlabs/deadlined/internal/secrets"
)

// Default configuration values.
const (
	defaultGroqBaseURL      = "https://api.groq.com/openai"
	defaultGroqModel        = "llama-3.3-70b-versatile"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-haiku-20241022"
	defaultOllamaURL        = "http://localhost:11434"
	defaultOllamaModel      = "llama3.2:1b"
	defaultMaxTokens        = 500
	defaultTemperature      = 0.1
	defaultTimeout          = 30 * time.Second
	defaultMaxRetries       = 3
	defaultBaseBackoff      = 1 * time.Second

	// maxPromptRunes bounds how much of a snippet reaches the model.
	maxPromptRunes = 1000
)

// Rate limiter defaults: 50 requests per minute for the hosted APIs.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

const systemPrompt = "You are a deadline extraction assistant. Always respond with valid JSON."

const extractPrompt = `Extract all deadlines and due dates from the following text.
Return ONLY a valid JSON array of objects with this exact format:
[{"task": "description", "date": "YYYY-MM-DD", "time": "HH:MM or null"}]

If you find no deadlines, return an empty array: []

Text to analyze:
%s

JSON output:`

// buildPrompt scrubs secrets and truncates text before it leaves the process.
func buildPrompt(text string) string {
	text = scrubSecrets(text)
	if r := []rune(text); len(r) > maxPromptRunes {
		text = string(r[:maxPromptRunes])
	}
	return fmt.Sprintf(extractPrompt, text)
}

// LLMInterpreter extracts candidates by prompting a language model.
type LLMInterpreter struct {
	name      string
	provider  string
	model     string
	completer Completer
	// reason explains why completer is nil.
	reason string
}

// NewLLMInterpreter wraps completer. A nil completer yields an interpreter
// that always fails with ErrNotConfigured, carrying reason for status.
func NewLLMInterpreter(name, provider, model string, completer Completer, reason string) *LLMInterpreter {
	return &LLMInterpreter{
		name:      name,
		provider:  provider,
		model:     model,
		completer: completer,
		reason:    reason,
	}
}

func (l *LLMInterpreter) Name() string { return l.name }

func (l *LLMInterpreter) Extract(ctx context.Context, text string) ([]Candidate, error) {
	if l.completer == nil {
		return nil, fmt.Errorf("%s: %w: %s", l.name, ErrNotConfigured, l.reason)
	}
	reply, err := l.completer.Complete(ctx, buildPrompt(text))
	if err != nil {
		return nil, fmt.Errorf("%s (%s): %w", l.name, l.provider, err)
	}
	candidates, err := parseCandidates(reply)
	if err != nil {
		return nil, fmt.Errorf("%s (%s): %w", l.name, l.provider, err)
	}
	return candidates, nil
}

func (l *LLMInterpreter) Available(ctx context.Context) Availability {
	a := Availability{Name: l.name, Provider: l.provider, Model: l.model}
	if l.completer == nil {
		a.Reason = l.reason
		return a
	}
	if p, ok := l.completer.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			a.Reason = err.Error()
			return a
		}
	}
	a.Available = true
	return a
}

var codeFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// parseCandidates pulls the first JSON array out of a model reply,
// repairing it when the model produced almost-JSON.
func parseCandidates(reply string) ([]Candidate, error) {
	reply = strings.TrimSpace(reply)
	if m := codeFence.FindStringSubmatch(reply); m != nil {
		reply = strings.TrimSpace(m[1])
	}

	start := strings.Index(reply, "[")
	if start < 0 {
		return nil, fmt.Errorf("%w: no JSON array in reply", ErrMalformedOutput)
	}
	raw := reply[start:]
	if end := strings.LastIndex(raw, "]"); end >= 0 {
		raw = raw[:end+1]
	}

	var out []Candidate
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
		out = nil
		if err := json.Unmarshal([]byte(repaired), &out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
	}

	cleaned := make([]Candidate, 0, len(out))
	for _, c := range out {
		c.Task = strings.TrimSpace(c.Task)
		c.Date = strings.TrimSpace(c.Date)
		if c.Date == "" {
			continue
		}
		if c.Time != nil {
			t := strings.TrimSpace(*c.Time)
			if t == "" || strings.EqualFold(t, "null") {
				c.Time = nil
			} else {
				c.Time = &t
			}
		}
		cleaned = append(cleaned, c)
	}
	return cleaned, nil
}

// classify maps an interpreter error to a FailureKind.
func classify(err error) FailureKind {
	var netErr net.Error
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrNotConfigured):
		return FailureUnavailable
	case errors.Is(err, ErrMalformedOutput):
		return FailureMalformed
	case isRetryableError(err), errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded):
		return FailureTransport
	default:
		return FailureOther
	}
}

// retryableError wraps an error to indicate it can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryableError(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

// promptScrubber redacts credentials before text reaches a model.
var promptScrubber = secrets.MustNew(nil)

func scrubSecrets(content string) string {
	return promptScrubber.Scrub(content).Scrubbed
}
