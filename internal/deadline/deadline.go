// Package deadline defines the deadline and reminder-rule records shared by
// the store, the reminder engine and the ingestion pipeline.
package deadline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalid is returned when a record fails validation.
var ErrInvalid = errors.New("invalid deadline")

// Status is the lifecycle state of a deadline.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusDone      Status = "done"
)

// Priority ranks a deadline.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Source records where a deadline came from.
type Source string

const (
	SourceManual     Source = "manual"
	SourceChatStream Source = "chat-stream"
	SourceEmail      Source = "email"
)

// Channel is a notification channel.
type Channel string

const (
	ChannelDesktop     Channel = "desktop"
	ChannelMobilePush  Channel = "mobile-push"
	ChannelChatMessage Channel = "chat-message"
)

// Channels lists every channel in a stable order.
var Channels = []Channel{ChannelDesktop, ChannelMobilePush, ChannelChatMessage}

// Deadline is a dated obligation.
type Deadline struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	DueAt       time.Time `json:"due_at"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	Source      Source    `json:"source"`
	SourceRef   string    `json:"source_ref,omitempty"`
	SourceURL   string    `json:"source_url,omitempty"`
	// Confidence is set for extracted deadlines only.
	Confidence *float64  `json:"confidence,omitempty"`
	Project    string    `json:"project,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ReminderRule asks for a notification at DueAt+OffsetSeconds on Channel.
// Negative offsets fire before the due instant.
type ReminderRule struct {
	ID            string  `json:"id"`
	DeadlineID    string  `json:"deadline_id"`
	OffsetSeconds int64   `json:"offset_seconds"`
	Channel       Channel `json:"channel"`
	Enabled       bool    `json:"enabled"`
}

// New returns a pending, normal-priority deadline with a fresh id.
func New(title string, dueAt time.Time, source Source) Deadline {
	now := time.Now().UTC()
	return Deadline{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(title),
		DueAt:     dueAt.UTC(),
		Status:    StatusPending,
		Priority:  PriorityNormal,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewRule returns an enabled rule with a fresh id.
func NewRule(deadlineID string, offsetSeconds int64, channel Channel) ReminderRule {
	return ReminderRule{
		ID:            uuid.NewString(),
		DeadlineID:    deadlineID,
		OffsetSeconds: offsetSeconds,
		Channel:       channel,
		Enabled:       true,
	}
}

// DefaultRules builds one rule per offset per channel.
func DefaultRules(deadlineID string, offsets []int64, channels []Channel) []ReminderRule {
	rules := make([]ReminderRule, 0, len(offsets)*len(channels))
	for _, off := range offsets {
		for _, ch := range channels {
			rules = append(rules, NewRule(deadlineID, off, ch))
		}
	}
	return rules
}

// Validate checks required fields and enum values.
func (d *Deadline) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if d.DueAt.IsZero() {
		return fmt.Errorf("%w: due_at is required", ErrInvalid)
	}
	if !d.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, d.Status)
	}
	if !d.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalid, d.Priority)
	}
	if !d.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalid, d.Source)
	}
	if d.Confidence != nil && (*d.Confidence < 0 || *d.Confidence > 1) {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalid, *d.Confidence)
	}
	return nil
}

// Validate checks the rule belongs to deadlineID and names a known channel.
func (r *ReminderRule) Validate(deadlineID string) error {
	if r.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalid)
	}
	if r.DeadlineID != deadlineID {
		return fmt.Errorf("%w: rule %s belongs to deadline %q", ErrInvalid, r.ID, r.DeadlineID)
	}
	if !r.Channel.Valid() {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalid, r.Channel)
	}
	return nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusDone:
		return true
	}
	return false
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceChatStream, SourceEmail:
		return true
	}
	return false
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelDesktop, ChannelMobilePush, ChannelChatMessage:
		return true
	}
	return false
}

// ParseSource accepts canonical names plus the chat driver's "whatsapp".
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manual":
		return SourceManual, nil
	case "chat-stream", "chat", "whatsapp":
		return SourceChatStream, nil
	case "email", "gmail":
		return SourceEmail, nil
	}
	return "", fmt.Errorf("%w: unknown source %q", ErrInvalid, s)
}

// ParseChannel accepts canonical names plus "mobile", "push" and "whatsapp".
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "desktop":
		return ChannelDesktop, nil
	case "mobile-push", "mobile", "push":
		return ChannelMobilePush, nil
	case "chat-message", "chat", "whatsapp":
		return ChannelChatMessage, nil
	}
	return "", fmt.Errorf("%w: unknown channel %q", ErrInvalid, s)
}
