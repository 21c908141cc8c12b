// Package tracker is the manual path for deadlines: create, edit and
// delete them directly, keeping the scheduling engine in step.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deadlined/internal/deadline"
	"github.com/fyrsmithlabs/deadlined/internal/events"
	"github.com/fyrsmithlabs/deadlined/internal/store"
)

// ErrRuleNotFound is returned when a rule id does not belong to the deadline.
var ErrRuleNotFound = errors.New("reminder rule not found")

// Scheduler keeps triggers in step with stored deadlines.
type Scheduler interface {
	Sync(d deadline.Deadline, rules []deadline.ReminderRule) int
	CancelDeadline(deadlineID string) int
}

// RuleSpec describes a rule to attach. Enabled defaults to true.
type RuleSpec struct {
	OffsetSeconds int64            `json:"offset_seconds"`
	Channel       deadline.Channel `json:"channel"`
	Enabled       *bool            `json:"enabled,omitempty"`
}

// CreateRequest carries the fields of a new deadline. Rules default to the
// configured offsets on desktop and mobile push when empty.
type CreateRequest struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	DueAt       time.Time         `json:"due_at"`
	Status      deadline.Status   `json:"status,omitempty"`
	Priority    deadline.Priority `json:"priority,omitempty"`
	Source      deadline.Source   `json:"source,omitempty"`
	SourceRef   string            `json:"source_ref,omitempty"`
	SourceURL   string            `json:"source_url,omitempty"`
	Confidence  *float64          `json:"confidence,omitempty"`
	Project     string            `json:"project,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Rules       []RuleSpec        `json:"reminder_rules,omitempty"`
}

// UpdateRequest is a partial update; nil fields are left unchanged.
type UpdateRequest struct {
	Title       *string            `json:"title,omitempty"`
	Description *string            `json:"description,omitempty"`
	DueAt       *time.Time         `json:"due_at,omitempty"`
	Status      *deadline.Status   `json:"status,omitempty"`
	Priority    *deadline.Priority `json:"priority,omitempty"`
	Project     *string            `json:"project,omitempty"`
	Tags        []string           `json:"tags,omitempty"`
}

// Detail is a deadline with its rules.
type Detail struct {
	deadline.Deadline
	Rules []deadline.ReminderRule `json:"reminder_rules"`
}

// Service applies deadline mutations to the store and the engine.
type Service struct {
	store     store.Store
	scheduler Scheduler
	publisher events.Publisher
	logger    *zap.Logger
	clock     clock.Clock
	offsets   []int64
	channels  []deadline.Channel
}

// Option configures a Service.
type Option func(*Service)

// WithDefaultOffsets sets the offsets used when a create request has no rules.
func WithDefaultOffsets(offsets []int64) Option {
	return func(s *Service) {
		if len(offsets) > 0 {
			s.offsets = offsets
		}
	}
}

// WithPublisher publishes deadline.created events.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithClock sets the clock stamping CreatedAt/UpdatedAt.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewService creates a Service.
func NewService(st store.Store, sched Scheduler, logger *zap.Logger, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if sched == nil {
		return nil, fmt.Errorf("scheduler cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	s := &Service{
		store:     st,
		scheduler: sched,
		publisher: events.NewBus(nil, nil),
		logger:    logger,
		clock:     clock.New(),
		offsets:   []int64{-86400, -3600},
		channels:  []deadline.Channel{deadline.ChannelDesktop, deadline.ChannelMobilePush},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create stores a new deadline and schedules its reminders.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Detail, error) {
	if req.Source == "" {
		req.Source = deadline.SourceManual
	}
	d := deadline.New(req.Title, req.DueAt, req.Source)
	now := s.clock.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	d.Description = strings.TrimSpace(req.Description)
	if req.Status != "" {
		d.Status = req.Status
	}
	if req.Priority != "" {
		d.Priority = req.Priority
	}
	d.SourceRef = req.SourceRef
	d.SourceURL = req.SourceURL
	d.Confidence = req.Confidence
	d.Project = req.Project
	d.Tags = req.Tags

	var rules []deadline.ReminderRule
	if len(req.Rules) == 0 {
		rules = deadline.DefaultRules(d.ID, s.offsets, s.channels)
	} else {
		rules = make([]deadline.ReminderRule, 0, len(req.Rules))
		for _, spec := range req.Rules {
			rules = append(rules, spec.rule(d.ID))
		}
	}

	if err := s.store.UpsertDeadline(ctx, d, rules); err != nil {
		return Detail{}, fmt.Errorf("create deadline: %w", err)
	}
	n := s.scheduler.Sync(d, rules)

	if err := s.publisher.DeadlineCreated(ctx, events.DeadlineCreated{
		DeadlineID: d.ID,
		Title:      d.Title,
		DueAt:      d.DueAt,
		Source:     string(d.Source),
		SourceRef:  d.SourceRef,
		Confidence: d.Confidence,
		At:         now,
	}); err != nil {
		s.logger.Warn("failed to publish deadline event", zap.Error(err))
	}
	s.logger.Info("deadline created",
		zap.String("deadline_id", d.ID),
		zap.Time("due_at", d.DueAt),
		zap.Int("triggers", n))
	return Detail{Deadline: d, Rules: rules}, nil
}

func (r RuleSpec) rule(deadlineID string) deadline.ReminderRule {
	rule := deadline.NewRule(deadlineID, r.OffsetSeconds, r.Channel)
	if r.Enabled != nil {
		rule.Enabled = *r.Enabled
	}
	return rule
}

// Get returns a deadline and its rules.
func (s *Service) Get(ctx context.Context, id string) (Detail, error) {
	d, err := s.store.GetDeadline(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	rules, err := s.store.ListReminderRules(ctx, id)
	if err != nil {
		return Detail{}, fmt.Errorf("list rules: %w", err)
	}
	return Detail{Deadline: d, Rules: rules}, nil
}

// List returns every deadline ordered by due instant.
func (s *Service) List(ctx context.Context) ([]deadline.Deadline, error) {
	return s.store.ListDeadlines(ctx)
}

// Update applies req and re-syncs the engine. Marking a deadline done
// cancels all of its triggers.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (Detail, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	d := cur.Deadline

	if req.Title != nil {
		d.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		d.Description = strings.TrimSpace(*req.Description)
	}
	if req.DueAt != nil {
		d.DueAt = req.DueAt.UTC()
	}
	if req.Status != nil {
		d.Status = *req.Status
	}
	if req.Priority != nil {
		d.Priority = *req.Priority
	}
	if req.Project != nil {
		d.Project = *req.Project
	}
	if req.Tags != nil {
		d.Tags = req.Tags
	}
	d.UpdatedAt = s.clock.Now().UTC()

	if err := s.store.UpsertDeadline(ctx, d, nil); err != nil {
		return Detail{}, fmt.Errorf("update deadline: %w", err)
	}
	n := s.scheduler.Sync(d, cur.Rules)
	s.logger.Debug("deadline updated", zap.String("deadline_id", id), zap.Int("triggers", n))
	return Detail{Deadline: d, Rules: cur.Rules}, nil
}

// Delete removes a deadline, its rules and its triggers. Deleting a
// missing deadline is not an error.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.scheduler.CancelDeadline(id)
	err := s.store.DeleteDeadline(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete deadline: %w", err)
	}
	s.logger.Info("deadline deleted", zap.String("deadline_id", id))
	return nil
}

// AddRule attaches a rule to an existing deadline.
func (s *Service) AddRule(ctx context.Context, deadlineID string, spec RuleSpec) (deadline.ReminderRule, error) {
	rule := spec.rule(deadlineID)
	if err := rule.Validate(deadlineID); err != nil {
		return deadline.ReminderRule{}, err
	}
	if err := s.store.UpsertRule(ctx, rule); err != nil {
		return deadline.ReminderRule{}, fmt.Errorf("add rule: %w", err)
	}
	if err := s.resync(ctx, deadlineID); err != nil {
		return deadline.ReminderRule{}, err
	}
	return rule, nil
}

// SetRuleEnabled toggles a rule. Disabling cancels its trigger.
func (s *Service) SetRuleEnabled(ctx context.Context, deadlineID, ruleID string, enabled bool) (deadline.ReminderRule, error) {
	rules, err := s.store.ListReminderRules(ctx, deadlineID)
	if err != nil {
		return deadline.ReminderRule{}, err
	}
	for _, r := range rules {
		if r.ID != ruleID {
			continue
		}
		r.Enabled = enabled
		if err := s.store.UpsertRule(ctx, r); err != nil {
			return deadline.ReminderRule{}, fmt.Errorf("update rule: %w", err)
		}
		if err := s.resync(ctx, deadlineID); err != nil {
			return deadline.ReminderRule{}, err
		}
		return r, nil
	}
	return deadline.ReminderRule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
}

func (s *Service) resync(ctx context.Context, id string) error {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	s.scheduler.Sync(cur.Deadline, cur.Rules)
	return nil
}
