// Package scheduler holds the reminder engine: an in-memory table of
// triggers that fires each one once at its instant and hands it to a
// dispatcher.
//
// The engine keeps no durable state. Reconcile rebuilds the table from the
// store, so a restart loses nothing that is still in the future.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/facebookgo/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deadlined/internal/deadline"
	"github.com/fyrsmithlabs/deadlined/internal/logging"
	"github.com/fyrsmithlabs/deadlined/internal/reminder"
)

// DefaultDispatchTimeout bounds one dispatch.
const DefaultDispatchTimeout = 30 * time.Second

// terminalHistory bounds how many fired or cancelled identities State remembers.
const terminalHistory = 10000

// State is the lifecycle state of one trigger identity.
type State string

const (
	StateAbsent    State = "absent"
	StateScheduled State = "scheduled"
	StateFired     State = "fired"
	StateCancelled State = "cancelled"
)

// Dispatcher delivers a fired trigger.
type Dispatcher interface {
	Dispatch(ctx context.Context, deadlineID, ruleID string, channel deadline.Channel) error
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(ctx context.Context, deadlineID, ruleID string, channel deadline.Channel) error

func (f DispatchFunc) Dispatch(ctx context.Context, deadlineID, ruleID string, channel deadline.Channel) error {
	return f(ctx, deadlineID, ruleID, channel)
}

// Source is the part of the store Reconcile reads.
type Source interface {
	ListDeadlines(ctx context.Context) ([]deadline.Deadline, error)
	ListReminderRules(ctx context.Context, deadlineID string) ([]deadline.ReminderRule, error)
}

// queueKey orders triggers by instant, then identity.
type queueKey struct {
	at time.Time
	id string
}

func compareKeys(a, b interface{}) int {
	ka, kb := a.(queueKey), b.(queueKey)
	switch {
	case ka.at.Before(kb.at):
		return -1
	case ka.at.After(kb.at):
		return 1
	case ka.id < kb.id:
		return -1
	case ka.id > kb.id:
		return 1
	default:
		return 0
	}
}

// Engine schedules and fires reminder triggers.
//
// Thread Safety: all methods are safe for concurrent use. Dispatch runs
// outside the table lock.
type Engine struct {
	dispatcher      Dispatcher
	resolver        reminder.Resolver
	clock           clock.Clock
	logger          *zap.Logger
	metrics         *Metrics
	dispatchTimeout time.Duration

	// mu protects everything below.
	mu       sync.Mutex
	queue    *redblacktree.Tree
	pending  map[string]reminder.Trigger
	terminal *lru.Cache[string, State]
	// held suppresses firing until the first Reconcile completes.
	held bool
	// armedAt is the instant the worker's timer targets, zero when idle.
	armedAt time.Time

	wake    chan struct{}
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	baseCtx context.Context
	cancel  context.CancelFunc

	inflight conc.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, typically with clock.NewMock().
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithResolver sets the missed-trigger policy.
func WithResolver(r reminder.Resolver) Option {
	return func(e *Engine) {
		e.resolver = r
	}
}

// WithDispatchTimeout bounds each dispatch.
func WithDispatchTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.dispatchTimeout = d
		}
	}
}

// NewEngine creates an engine. It does not fire anything until Start is
// called and the first Reconcile has completed.
func NewEngine(dispatcher Dispatcher, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	terminal, err := lru.New[string, State](terminalHistory)
	if err != nil {
		return nil, fmt.Errorf("engine init: %w", err)
	}

	e := &Engine{
		dispatcher:      dispatcher,
		resolver:        reminder.NewResolver(reminder.MissedDrop, 0),
		clock:           clock.New(),
		logger:          logger,
		metrics:         NewMetrics(),
		dispatchTimeout: DefaultDispatchTimeout,
		queue:           redblacktree.NewWith(compareKeys),
		pending:         make(map[string]reminder.Trigger),
		terminal:        terminal,
		held:            true,
		wake:            make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Now returns the engine's clock time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// Upsert schedules t, replacing any scheduled trigger with the same
// identity. A trigger whose instant has passed is dropped and Upsert
// returns false, unless the resolver marked it as a catch-up.
func (e *Engine) Upsert(t reminder.Trigger) bool {
	e.mu.Lock()
	ok := e.upsertLocked(t, e.clock.Now())
	e.mu.Unlock()
	if ok {
		e.signal()
	}
	return ok
}

func (e *Engine) upsertLocked(t reminder.Trigger, now time.Time) bool {
	// A catch-up never revives an identity that already fired.
	if t.Missed {
		if s, ok := e.terminal.Peek(t.ID); ok && s == StateFired {
			e.metrics.DroppedTotal.WithLabelValues("fired").Inc()
			e.logger.Debug("missed trigger already fired, dropped",
				zap.String("trigger_id", t.ID))
			return false
		}
	}

	if !t.Missed && !t.FireAt.After(now) {
		// Any scheduled trigger it would have replaced ends cancelled.
		e.cancelLocked(t.ID)
		e.metrics.DroppedTotal.WithLabelValues("past").Inc()
		e.logger.Debug("trigger in the past, dropped",
			zap.String("trigger_id", t.ID),
			zap.Time("fire_at", t.FireAt))
		e.metrics.Scheduled.Set(float64(len(e.pending)))
		return false
	}

	if prev, ok := e.pending[t.ID]; ok {
		e.queue.Remove(queueKey{at: prev.FireAt, id: prev.ID})
	}
	e.queue.Put(queueKey{at: t.FireAt, id: t.ID}, t)
	e.pending[t.ID] = t
	e.terminal.Remove(t.ID)
	e.metrics.Scheduled.Set(float64(len(e.pending)))
	return true
}

// Cancel removes a scheduled trigger. It reports whether one was removed;
// absent or already fired identities are left alone.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	ok := e.cancelLocked(id)
	e.mu.Unlock()
	if ok {
		e.signal()
	}
	return ok
}

func (e *Engine) cancelLocked(id string) bool {
	t, ok := e.pending[id]
	if !ok {
		return false
	}
	e.queue.Remove(queueKey{at: t.FireAt, id: id})
	delete(e.pending, id)
	e.terminal.Add(id, StateCancelled)
	e.metrics.CancelledTotal.Inc()
	e.metrics.Scheduled.Set(float64(len(e.pending)))
	return true
}

// CancelDeadline cancels every scheduled trigger of one deadline and
// returns how many were cancelled.
func (e *Engine) CancelDeadline(deadlineID string) int {
	e.mu.Lock()
	n := e.cancelDeadlineLocked(deadlineID, nil)
	e.mu.Unlock()
	if n > 0 {
		e.signal()
	}
	return n
}

// cancelDeadlineLocked cancels the deadline's triggers whose id is not in keep.
func (e *Engine) cancelDeadlineLocked(deadlineID string, keep map[string]struct{}) int {
	n := 0
	for id, t := range e.pending {
		if t.DeadlineID != deadlineID {
			continue
		}
		if _, ok := keep[id]; ok {
			continue
		}
		if e.cancelLocked(id) {
			n++
		}
	}
	return n
}

// Sync makes the scheduled triggers of d match its rules: triggers for
// removed or disabled rules are cancelled, the rest upserted. A done
// deadline loses all its triggers. It returns the number scheduled.
func (e *Engine) Sync(d deadline.Deadline, rules []deadline.ReminderRule) int {
	now := e.clock.Now()

	var triggers []reminder.Trigger
	if d.Status != deadline.StatusDone {
		triggers = e.resolver.Resolve(d, rules, now)
	}

	keep := make(map[string]struct{}, len(triggers))
	for _, t := range triggers {
		keep[t.ID] = struct{}{}
	}

	e.mu.Lock()
	e.cancelDeadlineLocked(d.ID, keep)
	n := 0
	for _, t := range triggers {
		if e.upsertLocked(t, now) {
			n++
		}
	}
	e.mu.Unlock()

	e.signal()
	return n
}

// Reconcile rebuilds the table from src at now (the engine clock when
// zero). Triggers of deadlines that no longer exist are cancelled. The
// first successful Reconcile releases the startup hold.
func (e *Engine) Reconcile(ctx context.Context, src Source, now time.Time) (int, error) {
	if now.IsZero() {
		now = e.clock.Now()
	}

	deadlines, err := src.ListDeadlines(ctx)
	if err != nil {
		e.metrics.ReconcilesTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("reconcile: list deadlines: %w", err)
	}

	type plan struct {
		deadlineID string
		triggers   []reminder.Trigger
	}
	plans := make([]plan, 0, len(deadlines))
	live := make(map[string]struct{}, len(deadlines))

	for _, d := range deadlines {
		live[d.ID] = struct{}{}
		if d.Status == deadline.StatusDone {
			plans = append(plans, plan{deadlineID: d.ID})
			continue
		}
		rules, err := src.ListReminderRules(ctx, d.ID)
		if err != nil {
			e.logger.Warn("reconcile: skipping deadline",
				zap.String("deadline_id", d.ID),
				zap.Error(err))
			continue
		}
		plans = append(plans, plan{deadlineID: d.ID, triggers: e.resolver.Resolve(d, rules, now)})
	}

	e.mu.Lock()
	for _, t := range e.pending {
		if _, ok := live[t.DeadlineID]; !ok {
			e.cancelLocked(t.ID)
		}
	}
	scheduled := 0
	for _, p := range plans {
		keep := make(map[string]struct{}, len(p.triggers))
		for _, t := range p.triggers {
			keep[t.ID] = struct{}{}
		}
		e.cancelDeadlineLocked(p.deadlineID, keep)
		for _, t := range p.triggers {
			if e.upsertLocked(t, now) {
				scheduled++
			}
		}
	}
	released := e.held
	e.held = false
	e.mu.Unlock()

	e.metrics.ReconcilesTotal.WithLabelValues("ok").Inc()
	e.logger.Info("reconciled reminder triggers",
		zap.Int("deadlines", len(deadlines)),
		zap.Int("scheduled", scheduled),
		zap.Bool("released_hold", released))

	e.signal()
	return scheduled, nil
}

// Pending returns the scheduled triggers ordered by instant.
func (e *Engine) Pending() []reminder.Trigger {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]reminder.Trigger, 0, e.queue.Size())
	it := e.queue.Iterator()
	for it.Next() {
		out = append(out, it.Value().(reminder.Trigger))
	}
	return out
}

// State returns the lifecycle state of one identity. Old terminal states
// are forgotten and then report StateAbsent.
func (e *Engine) State(id string) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.pending[id]; ok {
		return StateScheduled
	}
	if s, ok := e.terminal.Get(id); ok {
		return s
	}
	return StateAbsent
}

// Reset cancels every scheduled trigger.
func (e *Engine) Reset() {
	e.mu.Lock()
	for id := range e.pending {
		e.cancelLocked(id)
	}
	e.queue.Clear()
	e.mu.Unlock()
	e.signal()
}

// Start launches the worker. Dispatch contexts derive from ctx.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("engine is already running")
	}

	e.baseCtx, e.cancel = context.WithCancel(ctx)
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.running = true

	e.logger.Info("reminder engine started",
		zap.Duration("dispatch_timeout", e.dispatchTimeout),
		zap.String("missed_policy", string(e.resolver.Policy)))

	go e.run()
	return nil
}

// Stop halts the worker and waits for in-flight dispatches. Each wait is
// bounded by the dispatch timeout even when a dispatcher ignores its
// context. Scheduled triggers stay in the table.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		e.logger.Debug("engine stop called but not running")
		return nil
	}
	e.running = false
	close(e.stopCh)
	done := e.doneCh
	e.mu.Unlock()

	<-done
	if r := e.inflight.WaitAndRecover(); r != nil {
		e.logger.Error("dispatch panicked", zap.String("panic", r.String()))
	}
	e.cancel()

	e.logger.Info("reminder engine stopped")
	return nil
}

// IsRunning reports whether the worker is active.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) run() {
	defer close(e.doneCh)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("reminder engine worker panicked", zap.Any("panic", r))
		}
	}()

	for {
		var (
			timer *clock.Timer
			due   []reminder.Trigger
		)

		e.mu.Lock()
		stopCh := e.stopCh
		if !e.held {
			now := e.clock.Now()
			due = e.popDueLocked(now)
			if len(due) == 0 {
				if node := e.queue.Left(); node != nil {
					at := node.Key.(queueKey).at
					timer = e.clock.Timer(at.Sub(now))
					e.armedAt = at
				} else {
					e.armedAt = time.Time{}
				}
			}
		}
		e.mu.Unlock()

		if len(due) > 0 {
			e.fire(due)
			continue
		}

		var fireCh <-chan time.Time
		if timer != nil {
			fireCh = timer.C
		}
		select {
		case <-stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-e.wake:
		case <-fireCh:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// popDueLocked removes and returns every trigger due at or before now,
// marking each fired.
func (e *Engine) popDueLocked(now time.Time) []reminder.Trigger {
	var due []reminder.Trigger
	for {
		node := e.queue.Left()
		if node == nil {
			break
		}
		key := node.Key.(queueKey)
		if key.at.After(now) {
			break
		}
		t := node.Value.(reminder.Trigger)
		e.queue.Remove(key)
		delete(e.pending, t.ID)
		e.terminal.Add(t.ID, StateFired)
		due = append(due, t)
	}
	if len(due) > 0 {
		e.metrics.Scheduled.Set(float64(len(e.pending)))
	}
	return due
}

// fire dispatches each trigger in its own goroutine.
func (e *Engine) fire(due []reminder.Trigger) {
	for _, t := range due {
		e.metrics.FiredTotal.WithLabelValues(string(t.Channel)).Inc()
		e.inflight.Go(func() {
			e.dispatch(t)
		})
	}
}

func (e *Engine) dispatch(t reminder.Trigger) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("dispatch panicked",
				zap.String("trigger_id", t.ID),
				zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(e.baseCtx, e.dispatchTimeout)
	defer cancel()
	ctx = logging.WithDeadlineID(ctx, t.DeadlineID)
	ctx = logging.WithTriggerID(ctx, t.ID)

	start := time.Now()
	err := e.callDispatcher(ctx, t)
	e.metrics.DispatchDuration.WithLabelValues(string(t.Channel)).Observe(time.Since(start).Seconds())

	if err != nil {
		e.logger.Warn("trigger dispatch failed",
			zap.String("trigger_id", t.ID),
			zap.String("channel", string(t.Channel)),
			zap.Error(err))
		return
	}
	e.logger.Debug("trigger fired",
		zap.String("trigger_id", t.ID),
		zap.String("channel", string(t.Channel)),
		zap.Bool("missed", t.Missed))
}

// callDispatcher returns when the dispatcher does or when ctx expires,
// whichever is first. A dispatcher that ignores ctx is left running on its
// own goroutine so Stop never waits past the dispatch timeout.
func (e *Engine) callDispatcher(ctx context.Context, t reminder.Trigger) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if r := panics.Try(func() {
			err = e.dispatcher.Dispatch(ctx, t.DeadlineID, t.RuleID, t.Channel)
		}); r != nil {
			err = r.AsError()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		e.metrics.DroppedTotal.WithLabelValues("abandoned").Inc()
		return fmt.Errorf("dispatch abandoned: %w", ctx.Err())
	}
}

// armed returns the instant the worker is waiting for.
func (e *Engine) armed() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.armedAt
}
