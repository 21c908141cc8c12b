// Package assistant answers free-form questions about the stored deadlines
// with a language model. The model sees a plain-text listing of the
// deadlines and today's date; it never sees reminder rules or raw sources.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deadlined/internal/deadline"
	"github.com/fyrsmithlabs/deadlined/internal/extraction"
)

// ErrModelFailed is returned when the model call fails.
var ErrModelFailed = errors.New("assistant model failed")

const (
	// DefaultMaxDeadlines caps how many deadlines are listed in a prompt.
	DefaultMaxDeadlines = 100
	maxQuestionRunes    = 500
)

// Lister returns the deadlines a question is answered over.
type Lister interface {
	List(ctx context.Context) ([]deadline.Deadline, error)
}

// Answer is the reply to one question.
type Answer struct {
	Answer           string `json:"answer"`
	Model            string `json:"model,omitempty"`
	ContextDeadlines int    `json:"context_deadlines"`
}

// Assistant answers questions over the deadline list.
type Assistant struct {
	completer    extraction.Completer
	lister       Lister
	logger       *zap.Logger
	model        string
	clock        clock.Clock
	location     *time.Location
	maxDeadlines int
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithModel records the model name reported in answers.
func WithModel(name string) Option {
	return func(a *Assistant) { a.model = name }
}

// WithClock replaces the wall clock used for today's date.
func WithClock(c clock.Clock) Option {
	return func(a *Assistant) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithLocation sets the zone dates are shown in.
func WithLocation(loc *time.Location) Option {
	return func(a *Assistant) {
		if loc != nil {
			a.location = loc
		}
	}
}

// WithMaxDeadlines caps the listing; the soonest deadlines are kept.
func WithMaxDeadlines(n int) Option {
	return func(a *Assistant) {
		if n > 0 {
			a.maxDeadlines = n
		}
	}
}

// New creates an Assistant.
func New(completer extraction.Completer, lister Lister, logger *zap.Logger, opts ...Option) (*Assistant, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer cannot be nil")
	}
	if lister == nil {
		return nil, fmt.Errorf("lister cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	a := &Assistant{
		completer:    completer,
		lister:       lister,
		logger:       logger,
		clock:        clock.New(),
		location:     time.Local,
		maxDeadlines: DefaultMaxDeadlines,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Ask answers question over the current deadlines. A blank question is
// invalid input; a model failure wraps ErrModelFailed.
func (a *Assistant) Ask(ctx context.Context, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, fmt.Errorf("%w: question is required", deadline.ErrInvalid)
	}
	if r := []rune(question); len(r) > maxQuestionRunes {
		question = string(r[:maxQuestionRunes])
	}

	all, err := a.lister.List(ctx)
	if err != nil {
		return Answer{}, fmt.Errorf("list deadlines: %w", err)
	}
	if len(all) > a.maxDeadlines {
		all = all[:a.maxDeadlines]
	}

	prompt := BuildPrompt(question, all, a.clock.Now().In(a.location))
	reply, err := a.completer.Complete(ctx, prompt)
	if err != nil {
		a.logger.Warn("assistant completion failed", zap.Error(err))
		return Answer{}, fmt.Errorf("%w: %w", ErrModelFailed, err)
	}

	return Answer{
		Answer:           strings.TrimSpace(reply),
		Model:            a.model,
		ContextDeadlines: len(all),
	}, nil
}

// BuildContext lists deadlines one per line, in the zone of now.
func BuildContext(all []deadline.Deadline, loc *time.Location) string {
	if len(all) == 0 {
		return "No deadlines currently in the system."
	}
	var b strings.Builder
	b.WriteString("Current deadlines:")
	for _, d := range all {
		fmt.Fprintf(&b, "\n- %s (Due: %s) [Source: %s]", d.Title, d.DueAt.In(loc).Format("2006-01-02 15:04"), d.Source)
		if d.Status == deadline.StatusDone {
			b.WriteString(" [done]")
		}
		if d.Priority != "" && d.Priority != deadline.PriorityNormal {
			fmt.Fprintf(&b, " [priority: %s]", d.Priority)
		}
	}
	return b.String()
}

// BuildPrompt assembles the model prompt for one question.
func BuildPrompt(question string, all []deadline.Deadline, now time.Time) string {
	return fmt.Sprintf(`You are a helpful assistant for deadline management. Today's date is %s.

%s

User question: %s

Provide a concise, helpful answer. If asking about deadlines this week/month, calculate from today's date.
If there are no relevant deadlines, say so clearly.

Answer:`, now.Format("2006-01-02"), BuildContext(all, now.Location()), question)
}

// Suggestions are example questions for clients to offer.
func Suggestions() []string {
	return []string{
		"What deadlines do I have this week?",
		"Show me all urgent deadlines",
		"When is my next deadline?",
		"What's due in January?",
		"Do I have any deadlines from email?",
		"Summarize my upcoming tasks",
	}
}
