// Package events publishes deadline lifecycle events on NATS so other
// processes (chat bots, dashboards) can follow what the daemon does.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects.
const (
	SubjectDeadlineCreated = "deadlined.events.deadline.created"
	SubjectReminderFired   = "deadlined.events.reminder.fired"

	// IngestPrefix prefixes the subjects external drivers publish raw
	// snippets to, one per source: deadlined.ingest.<source>.
	IngestPrefix = "deadlined.ingest."
)

// IngestSubject returns the subject a source's driver publishes to.
func IngestSubject(source string) string {
	return IngestPrefix + strings.ReplaceAll(strings.TrimSpace(source), " ", "_")
}

// DeadlineCreated is published when ingestion or the API creates a deadline.
type DeadlineCreated struct {
	DeadlineID  string    `json:"deadline_id"`
	Title       string    `json:"title"`
	DueAt       time.Time `json:"due_at"`
	Source      string    `json:"source"`
	SourceRef   string    `json:"source_ref,omitempty"`
	Interpreter string    `json:"interpreter,omitempty"`
	Confidence  *float64  `json:"confidence,omitempty"`
	At          time.Time `json:"at"`
}

// ReminderFired is published after each dispatch.
type ReminderFired struct {
	DeadlineID string    `json:"deadline_id"`
	RuleID     string    `json:"rule_id"`
	Channel    string    `json:"channel"`
	Title      string    `json:"title"`
	Delivered  bool      `json:"delivered"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher emits lifecycle events.
type Publisher interface {
	DeadlineCreated(ctx context.Context, ev DeadlineCreated) error
	ReminderFired(ctx context.Context, ev ReminderFired) error
}

// Bus publishes events on a NATS connection. A Bus with a nil connection
// drops every event.
type Bus struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewBus returns a Bus. nc may be nil.
func NewBus(nc *nats.Conn, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{nc: nc, logger: logger}
}

// Enabled reports whether events leave the process.
func (b *Bus) Enabled() bool {
	return b != nil && b.nc != nil
}

func (b *Bus) DeadlineCreated(ctx context.Context, ev DeadlineCreated) error {
	return b.publish(ctx, SubjectDeadlineCreated, ev)
}

func (b *Bus) ReminderFired(ctx context.Context, ev ReminderFired) error {
	return b.publish(ctx, SubjectReminderFired, ev)
}

func (b *Bus) publish(ctx context.Context, subject string, ev any) error {
	if !b.Enabled() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	b.logger.Debug("event published", zap.String("subject", subject))
	return nil
}

var _ Publisher = (*Bus)(nil)
