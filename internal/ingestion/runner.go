// Package ingestion turns text from message sources into scheduled
// deadlines. Each source gets one Runner; a Manager supervises them.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deadlined/internal/config"
	"github.com/fyrsmithlabs/deadlined/internal/dedup"
	"github.com/fyrsmithlabs/deadlined/internal/deadline"
	"github.com/fyrsmithlabs/deadlined/internal/events"
	"github.com/fyrsmithlabs/deadlined/internal/extraction"
	"github.com/fyrsmithlabs/deadlined/internal/logging"
	"github.com/fyrsmithlabs/deadlined/internal/store"
)

// Confidence recorded on extracted deadlines.
const (
	ModelConfidence   = 0.9
	PatternConfidence = 0.5
)

const (
	defaultPollInterval = 60 * time.Second
	defaultStopGrace    = 5 * time.Second
)

// DefaultChannels receive the default rules of ingested deadlines.
var DefaultChannels = []deadline.Channel{deadline.ChannelDesktop, deadline.ChannelMobilePush}

// Extractor turns text into candidates.
type Extractor interface {
	Extract(ctx context.Context, text string) (extraction.Result, error)
}

// Scheduler registers and removes the triggers of a deadline.
type Scheduler interface {
	Sync(d deadline.Deadline, rules []deadline.ReminderRule) int
	CancelDeadline(deadlineID string) int
}

// Deps are the collaborators shared by every runner.
type Deps struct {
	Chain     Extractor
	Store     store.Store
	Scheduler Scheduler
	Publisher events.Publisher
	Logger    *zap.Logger
	Clock     clock.Clock
}

func (d Deps) validate() error {
	switch {
	case d.Chain == nil:
		return fmt.Errorf("extractor cannot be nil")
	case d.Store == nil:
		return fmt.Errorf("store cannot be nil")
	case d.Scheduler == nil:
		return fmt.Errorf("scheduler cannot be nil")
	case d.Logger == nil:
		return fmt.Errorf("logger cannot be nil")
	}
	return nil
}

// Settings tune a runner.
type Settings struct {
	PollInterval   time.Duration
	StopGrace      time.Duration
	DedupCapacity  int
	DefaultOffsets []int64
	Channels       []deadline.Channel
	// Location interprets candidate dates that carry no zone.
	Location *time.Location
}

// SettingsFrom maps the ingestion config section onto Settings.
func SettingsFrom(cfg config.IngestionConfig, loc *time.Location) Settings {
	return Settings{
		PollInterval:   cfg.PollInterval.Duration(),
		StopGrace:      cfg.StopGrace.Duration(),
		DedupCapacity:  cfg.DedupCapacity,
		DefaultOffsets: cfg.DefaultOffsets,
		Location:       loc,
	}
}

func (s Settings) withDefaults() Settings {
	if s.PollInterval <= 0 {
		s.PollInterval = defaultPollInterval
	}
	if s.StopGrace <= 0 {
		s.StopGrace = defaultStopGrace
	}
	if len(s.DefaultOffsets) == 0 {
		s.DefaultOffsets = []int64{-86400, -3600}
	}
	if len(s.Channels) == 0 {
		s.Channels = DefaultChannels
	}
	if s.Location == nil {
		s.Location = time.Local
	}
	return s
}

// Status is a snapshot of a runner.
type Status struct {
	Source     string    `json:"source"`
	Running    bool      `json:"running"`
	Message    string    `json:"message"`
	LastError  string    `json:"last_error,omitempty"`
	LastPollAt time.Time `json:"last_poll_at,omitempty"`
	Polls      int       `json:"polls"`
	Snippets   int       `json:"snippets"`
	Duplicates int       `json:"duplicates"`
	Created    int       `json:"created"`
}

// Runner polls one source on a fixed cadence.
type Runner struct {
	name     string
	kind     deadline.Source
	source   Source
	deps     Deps
	settings Settings
	seen     *dedup.Filter
	metrics  *Metrics

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a stopped runner for source. kind is recorded as the
// origin of every deadline it creates.
func NewRunner(name string, kind deadline.Source, source Source, deps Deps, settings Settings) (*Runner, error) {
	if name == "" {
		return nil, fmt.Errorf("source name required")
	}
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: source kind %q", deadline.ErrInvalid, kind)
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NewBus(nil, nil)
	}
	settings = settings.withDefaults()

	seen, err := dedup.New(settings.DedupCapacity)
	if err != nil {
		return nil, err
	}

	return &Runner{
		name:     name,
		kind:     kind,
		source:   source,
		deps:     deps,
		settings: settings,
		seen:     seen,
		metrics:  NewMetrics(),
		status:   Status{Source: name, Message: "idle"},
	}, nil
}

// Name returns the source name.
func (r *Runner) Name() string {
	return r.name
}

// Start launches the poll loop. It returns ErrAlreadyRunning when the loop
// is active. The loop outlives nothing but parent.
func (r *Runner) Start(parent context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.status.Running = true
	r.status.Message = "running"
	r.status.LastError = ""

	go r.run(ctx, r.done)
	return nil
}

// Stop cancels the loop and waits up to the stop grace for it to exit.
// An interrupted unit is rolled back before the loop returns.
func (r *Runner) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(r.settings.StopGrace):
		r.setMessage("stopping")
		return fmt.Errorf("runner %s did not stop within %s", r.name, r.settings.StopGrace)
	}
}

// Status returns a snapshot.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Runner) setMessage(msg string) {
	r.mu.Lock()
	r.status.Message = msg
	r.mu.Unlock()
}

func (r *Runner) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		r.mu.Lock()
		r.status.Running = false
		r.status.Message = "stopped"
		r.cancel = nil
		r.mu.Unlock()
	}()

	ctx = logging.WithSource(ctx, r.name)
	r.deps.Logger.Info("ingestion started", zap.String("source", r.name),
		zap.Duration("poll_interval", r.settings.PollInterval))

	ticker := r.deps.Clock.Ticker(r.settings.PollInterval)
	defer ticker.Stop()

	for {
		var pc panics.Catcher
		pc.Try(func() { r.PollOnce(ctx) })
		if rec := pc.Recovered(); rec != nil {
			r.fail(rec.AsError())
			r.deps.Logger.Error("ingestion iteration panicked", zap.String("source", r.name), zap.Error(rec.AsError()))
		}

		select {
		case <-ctx.Done():
			r.deps.Logger.Info("ingestion stopped", zap.String("source", r.name))
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) fail(err error) {
	r.mu.Lock()
	r.status.LastError = err.Error()
	r.mu.Unlock()
}

// PollOnce runs one iteration: poll, then process each snippet as an
// atomic unit. It returns the number of deadlines created.
func (r *Runner) PollOnce(ctx context.Context) int {
	snippets, err := r.source.Poll(ctx)

	r.mu.Lock()
	r.status.Polls++
	r.status.LastPollAt = r.deps.Clock.Now().UTC()
	r.status.Snippets += len(snippets)
	if err != nil && ctx.Err() == nil {
		r.status.LastError = err.Error()
	}
	r.mu.Unlock()

	r.metrics.PollsTotal.WithLabelValues(r.name).Inc()
	r.metrics.SnippetsTotal.WithLabelValues(r.name).Add(float64(len(snippets)))
	if err != nil && ctx.Err() == nil {
		r.metrics.PollErrorsTotal.WithLabelValues(r.name).Inc()
		r.deps.Logger.Warn("source poll failed", zap.String("source", r.name), zap.Error(err))
	}

	created := 0
	for i, text := range snippets {
		if ctx.Err() != nil {
			r.requeue(snippets[i:])
			break
		}
		n, err := r.process(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				// The unit was rolled back; hand it back with the rest.
				r.requeue(snippets[i:])
				break
			}
			r.fail(err)
			continue
		}
		created += n
	}
	return created
}

// requeue returns unprocessed snippets to sources that drain on Poll.
func (r *Runner) requeue(texts []string) {
	if len(texts) == 0 {
		return
	}
	rq, ok := r.source.(Requeuer)
	if !ok {
		return
	}
	rq.Requeue(texts...)
	r.metrics.RequeuedTotal.WithLabelValues(r.name).Add(float64(len(texts)))
	r.deps.Logger.Info("unprocessed snippets requeued",
		zap.String("source", r.name),
		zap.Int("count", len(texts)))
}

// process runs one snippet. Either every deadline it yields is persisted
// and scheduled, or none is.
func (r *Runner) process(ctx context.Context, text string) (int, error) {
	if r.seen.Seen(text) {
		r.mu.Lock()
		r.status.Duplicates++
		r.mu.Unlock()
		r.metrics.DuplicatesTotal.WithLabelValues(r.name).Inc()
		return 0, nil
	}

	res, err := r.deps.Chain.Extract(ctx, text)
	if err != nil {
		r.seen.Forget(text)
		r.deps.Logger.Warn("extraction failed", zap.String("source", r.name), zap.Error(err))
		return 0, fmt.Errorf("extract: %w", err)
	}

	type unit struct {
		d     deadline.Deadline
		rules []deadline.ReminderRule
	}
	units := make([]unit, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		d, rules, err := r.build(c, res, text)
		if err != nil {
			r.deps.Logger.Debug("candidate skipped", zap.String("source", r.name), zap.Error(err))
			continue
		}
		units = append(units, unit{d, rules})
	}
	if len(units) == 0 {
		return 0, nil
	}

	persisted := make([]string, 0, len(units))
	rollback := func(cause error) (int, error) {
		r.rollback(persisted)
		r.seen.Forget(text)
		r.metrics.RollbacksTotal.WithLabelValues(r.name).Inc()
		return 0, cause
	}

	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return rollback(err)
		}
		if err := r.deps.Store.UpsertDeadline(ctx, u.d, u.rules); err != nil {
			return rollback(fmt.Errorf("persist deadline: %w", err))
		}
		persisted = append(persisted, u.d.ID)
	}
	if err := ctx.Err(); err != nil {
		return rollback(err)
	}

	for _, u := range units {
		r.deps.Scheduler.Sync(u.d, u.rules)
		if err := r.deps.Publisher.DeadlineCreated(ctx, events.DeadlineCreated{
			DeadlineID:  u.d.ID,
			Title:       u.d.Title,
			DueAt:       u.d.DueAt,
			Source:      string(u.d.Source),
			SourceRef:   u.d.SourceRef,
			Interpreter: res.Interpreter,
			Confidence:  u.d.Confidence,
			At:          r.deps.Clock.Now().UTC(),
		}); err != nil {
			r.deps.Logger.Warn("failed to publish deadline event", zap.Error(err))
		}
		r.deps.Logger.Info("deadline created",
			zap.String("source", r.name),
			zap.String("deadline_id", u.d.ID),
			zap.Time("due_at", u.d.DueAt),
			zap.String("interpreter", res.Interpreter))
	}

	r.mu.Lock()
	r.status.Created += len(units)
	r.mu.Unlock()
	r.metrics.CreatedTotal.WithLabelValues(r.name).Add(float64(len(units)))
	return len(units), nil
}

func (r *Runner) build(c extraction.Candidate, res extraction.Result, text string) (deadline.Deadline, []deadline.ReminderRule, error) {
	due, err := c.DueAt(r.settings.Location)
	if err != nil {
		return deadline.Deadline{}, nil, err
	}

	d := deadline.New(c.Task, due, r.kind)
	if d.Title == "" {
		d.Title = extraction.DefaultPatternTask
	}
	confidence := PatternConfidence
	if res.FromModel() {
		confidence = ModelConfidence
	}
	d.Confidence = &confidence
	d.SourceRef = r.name + ":" + dedup.Fingerprint(text)[:16]
	now := r.deps.Clock.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now

	if err := d.Validate(); err != nil {
		return deadline.Deadline{}, nil, err
	}
	return d, deadline.DefaultRules(d.ID, r.settings.DefaultOffsets, r.settings.Channels), nil
}

// rollback removes persisted deadlines and their triggers. It runs on a
// fresh context since the unit's context is usually cancelled.
func (r *Runner) rollback(ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.settings.StopGrace)
	defer cancel()

	var errs []error
	for _, id := range ids {
		r.deps.Scheduler.CancelDeadline(id)
		if err := r.deps.Store.DeleteDeadline(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		r.deps.Logger.Error("rollback incomplete", zap.String("source", r.name), zap.Error(err))
	}
}
