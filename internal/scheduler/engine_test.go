package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deadlined/internal/deadline"
	"github.com/fyrsmithlabs/deadlined/internal/reminder"
	"github.com/fyrsmithlabs/deadlined/internal/store"
)

var base = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

type fired struct {
	deadlineID string
	ruleID     string
	channel    deadline.Channel
}

type recorder struct {
	ch   chan fired
	fail map[deadline.Channel]error
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan fired, 32), fail: map[deadline.Channel]error{}}
}

func (r *recorder) Dispatch(_ context.Context, deadlineID, ruleID string, channel deadline.Channel) error {
	r.ch <- fired{deadlineID, ruleID, channel}
	return r.fail[channel]
}

func (r *recorder) expect(t *testing.T, n int) []fired {
	t.Helper()
	var out []fired
	for i := 0; i < n; i++ {
		select {
		case f := <-r.ch:
			out = append(out, f)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected %d dispatches, got %d", n, len(out))
		}
	}
	return out
}

func (r *recorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case f := <-r.ch:
		t.Fatalf("unexpected dispatch %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *clock.Mock, *recorder) {
	t.Helper()
	mock := clock.NewMock()
	mock.Add(base.Sub(mock.Now()))
	rec := newRecorder()

	e, err := NewEngine(rec, zap.NewNop(), append([]Option{WithClock(mock)}, opts...)...)
	require.NoError(t, err)
	return e, mock, rec
}

func start(t *testing.T, e *Engine) {
	t.Helper()
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })
}

func waitArmed(t *testing.T, e *Engine, at time.Time) {
	t.Helper()
	require.Eventually(t, func() bool { return e.armed().Equal(at) },
		2*time.Second, time.Millisecond, "worker never armed for %s", at)
}

func trig(deadlineID, ruleID string, ch deadline.Channel, at time.Time) reminder.Trigger {
	return reminder.Trigger{
		ID:         reminder.TriggerID(deadlineID, ruleID, ch),
		DeadlineID: deadlineID,
		RuleID:     ruleID,
		Channel:    ch,
		FireAt:     at,
	}
}

func seed(t *testing.T, s store.Store, due time.Time, offsets ...int64) deadline.Deadline {
	t.Helper()
	d := deadline.New("Submit report", due, deadline.SourceManual)
	rules := deadline.DefaultRules(d.ID, offsets, []deadline.Channel{deadline.ChannelDesktop, deadline.ChannelMobilePush})
	require.NoError(t, s.UpsertDeadline(context.Background(), d, rules))
	return d
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(nil, zap.NewNop())
	assert.ErrorContains(t, err, "dispatcher cannot be nil")

	_, err = NewEngine(newRecorder(), nil)
	assert.ErrorContains(t, err, "logger cannot be nil")
}

func TestEngine_UpsertIsIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t)
	tr := trig("d1", "r1", deadline.ChannelDesktop, base.Add(time.Hour))

	assert.True(t, e.Upsert(tr))
	assert.True(t, e.Upsert(tr))

	pending := e.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, tr.ID, pending[0].ID)
	assert.Equal(t, StateScheduled, e.State(tr.ID))
}

func TestEngine_UpsertReplacesOnDueChange(t *testing.T) {
	e, mock, rec := newTestEngine(t)
	start(t, e)
	_, err := e.Reconcile(context.Background(), store.NewMemoryStore(), time.Time{})
	require.NoError(t, err)

	first := trig("d1", "r1", deadline.ChannelDesktop, base.Add(time.Hour))
	moved := first
	moved.FireAt = base.Add(2 * time.Hour)

	require.True(t, e.Upsert(first))
	require.True(t, e.Upsert(moved))
	require.Len(t, e.Pending(), 1)
	assert.Equal(t, moved.FireAt, e.Pending()[0].FireAt)

	waitArmed(t, e, moved.FireAt)
	mock.Add(time.Hour + time.Second)
	rec.expectNone(t)

	waitArmed(t, e, moved.FireAt)
	mock.Add(time.Hour)
	got := rec.expect(t, 1)
	assert.Equal(t, "r1", got[0].ruleID)
	rec.expectNone(t)
	assert.Equal(t, StateFired, e.State(first.ID))
}

func TestEngine_DropsPastTrigger(t *testing.T) {
	e, _, _ := newTestEngine(t)

	assert.False(t, e.Upsert(trig("d1", "r1", deadline.ChannelDesktop, base)))
	assert.False(t, e.Upsert(trig("d1", "r2", deadline.ChannelDesktop, base.Add(-time.Minute))))
	assert.Empty(t, e.Pending())
	assert.Equal(t, StateAbsent, e.State(reminder.TriggerID("d1", "r1", deadline.ChannelDesktop)))
}

func TestEngine_HoldsFiresUntilReconcile(t *testing.T) {
	e, mock, rec := newTestEngine(t)
	s := store.NewMemoryStore()
	d := seed(t, s, base.Add(2*time.Hour), 0)
	rules, err := s.ListReminderRules(context.Background(), d.ID)
	require.NoError(t, err)

	start(t, e)

	// A stale trigger for the same rule, an hour early.
	stale := trig(d.ID, rules[0].ID, rules[0].Channel, base.Add(time.Hour))
	require.True(t, e.Upsert(stale))

	mock.Add(time.Hour + time.Second)
	rec.expectNone(t)

	n, err := e.Reconcile(context.Background(), s, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	rec.expectNone(t)

	waitArmed(t, e, d.DueAt)
	mock.Add(time.Hour)
	got := rec.expect(t, 2)
	assert.ElementsMatch(t, []deadline.Channel{deadline.ChannelDesktop, deadline.ChannelMobilePush},
		[]deadline.Channel{got[0].channel, got[1].channel})
	rec.expectNone(t)
}

func TestEngine_ReconcileProducesResolvedTriggers(t *testing.T) {
	e, _, _ := newTestEngine(t)
	s := store.NewMemoryStore()
	due := time.Date(2024, 1, 20, 23, 59, 0, 0, time.UTC)
	seed(t, s, due, -86400, 0)

	n, err := e.Reconcile(context.Background(), s, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	pending := e.Pending()
	require.Len(t, pending, 4)
	assert.Equal(t, due.Add(-24*time.Hour), pending[0].FireAt)
	assert.Equal(t, due.Add(-24*time.Hour), pending[1].FireAt)
	assert.Equal(t, due, pending[2].FireAt)
	assert.Equal(t, due, pending[3].FireAt)
}

func TestEngine_ReconcileAfterDueYieldsNothing(t *testing.T) {
	e, mock, _ := newTestEngine(t)
	s := store.NewMemoryStore()
	due := base.Add(48 * time.Hour)
	seed(t, s, due, -86400, 0)

	mock.Add(due.Add(time.Second).Sub(mock.Now()))
	n, err := e.Reconcile(context.Background(), s, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, e.Pending())
}

func TestEngine_ReconcileIsRepeatable(t *testing.T) {
	e, _, _ := newTestEngine(t)
	s := store.NewMemoryStore()
	d := seed(t, s, base.Add(48*time.Hour), -3600)

	_, err := e.Reconcile(context.Background(), s, time.Time{})
	require.NoError(t, err)
	_, err = e.Reconcile(context.Background(), s, time.Time{})
	require.NoError(t, err)
	assert.Len(t, e.Pending(), 2)

	// Deleted deadlines lose their triggers on the next pass.
	require.NoError(t, s.DeleteDeadline(context.Background(), d.ID))
	_, err = e.Reconcile(context.Background(), s, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, e.Pending())
}

type failingSource struct{}

func (failingSource) ListDeadlines(context.Context) ([]deadline.Deadline, error) {
	return nil, errors.New("disk gone")
}

func (failingSource) ListReminderRules(context.Context, string) ([]deadline.ReminderRule, error) {
	return nil, nil
}

func TestEngine_ReconcileErrorKeepsHold(t *testing.T) {
	e, mock, rec := newTestEngine(t)
	start(t, e)
	require.True(t, e.Upsert(trig("d1", "r1", deadline.ChannelDesktop, base.Add(time.Minute))))

	_, err := e.Reconcile(context.Background(), failingSource{}, time.Time{})
	require.Error(t, err)

	mock.Add(2 * time.Minute)
	rec.expectNone(t)
}

func TestEngine_SimultaneousTriggersFireIndependently(t *testing.T) {
	e, mock, rec := newTestEngine(t)
	rec.fail[deadline.ChannelMobilePush] = errors.New("onesignal down")
	start(t, e)
	_, err := e.Reconcile(context.Background(), store.NewMemoryStore(), time.Time{})
	require.NoError(t, err)

	at := base.Add(10 * time.Minute)
	require.True(t, e.Upsert(trig("d1", "r1", deadline.ChannelMobilePush, at)))
	require.True(t, e.Upsert(trig("d1", "r2", deadline.ChannelDesktop, at)))
	require.True(t, e.Upsert(trig("d2", "r3", deadline.ChannelDesktop, at)))

	waitArmed(t, e, at)
	mock.Add(10 * time.Minute)
	got := rec.expect(t, 3)

	ids := make([]string, 0, len(got))
	for _, f := range got {
		ids = append(ids, f.ruleID)
	}
	assert.ElementsMatch(t, []string{"r1", "r2", "r3"}, ids)
	assert.Empty(t, e.Pending())
}

func TestEngine_CancelAndCancelDeadline(t *testing.T) {
	e, _, _ := newTestEngine(t)
	a := trig("d1", "r1", deadline.ChannelDesktop, base.Add(time.Hour))
	b := trig("d1", "r2", deadline.ChannelDesktop, base.Add(2*time.Hour))
	c := trig("d2", "r3", deadline.ChannelDesktop, base.Add(time.Hour))
	for _, tr := range []reminder.Trigger{a, b, c} {
		require.True(t, e.Upsert(tr))
	}

	assert.True(t, e.Cancel(a.ID))
	assert.False(t, e.Cancel(a.ID), "second cancel is a no-op")
	assert.False(t, e.Cancel("reminder:nope:nope:desktop"))
	assert.Equal(t, StateCancelled, e.State(a.ID))

	assert.Equal(t, 1, e.CancelDeadline("d1"))
	require.Len(t, e.Pending(), 1)
	assert.Equal(t, c.ID, e.Pending()[0].ID)

	e.Reset()
	assert.Empty(t, e.Pending())
	assert.Equal(t, StateCancelled, e.State(c.ID))
}

func TestEngine_Sync(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := deadline.New("Pay rent", base.Add(72*time.Hour), deadline.SourceManual)
	rules := deadline.DefaultRules(d.ID, []int64{-86400, 0}, []deadline.Channel{deadline.ChannelDesktop})

	assert.Equal(t, 2, e.Sync(d, rules))

	rules[0].Enabled = false
	assert.Equal(t, 1, e.Sync(d, rules))
	require.Len(t, e.Pending(), 1)
	assert.Equal(t, rules[1].ID, e.Pending()[0].RuleID)

	d.DueAt = d.DueAt.Add(time.Hour)
	e.Sync(d, rules)
	assert.Equal(t, d.DueAt, e.Pending()[0].FireAt)

	d.Status = deadline.StatusDone
	assert.Equal(t, 0, e.Sync(d, rules))
	assert.Empty(t, e.Pending())
}

func TestEngine_CatchUpFiresMissedTrigger(t *testing.T) {
	e, _, rec := newTestEngine(t, WithResolver(reminder.NewResolver(reminder.MissedCatchUp, time.Hour)))
	s := store.NewMemoryStore()
	seed(t, s, base.Add(-30*time.Minute), 0, -86400)

	start(t, e)
	n, err := e.Reconcile(context.Background(), s, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "only the recent offset is caught up, on both channels")

	rec.expect(t, 2)
}

func TestEngine_StartStop(t *testing.T) {
	e, _, _ := newTestEngine(t)

	require.NoError(t, e.Start(context.Background()))
	assert.True(t, e.IsRunning())
	assert.ErrorContains(t, e.Start(context.Background()), "already running")

	require.NoError(t, e.Stop())
	assert.False(t, e.IsRunning())
	require.NoError(t, e.Stop())
}

func TestEngine_DispatchPanicDoesNotKillWorker(t *testing.T) {
	mock := clock.NewMock()
	mock.Add(base.Sub(mock.Now()))

	var (
		mu    sync.Mutex
		calls int
	)
	dispatch := DispatchFunc(func(_ context.Context, _, ruleID string, _ deadline.Channel) error {
		mu.Lock()
		calls++
		mu.Unlock()
		if ruleID == "boom" {
			panic("notifier exploded")
		}
		return nil
	})

	e, err := NewEngine(dispatch, zap.NewNop(), WithClock(mock))
	require.NoError(t, err)
	start(t, e)
	_, err = e.Reconcile(context.Background(), store.NewMemoryStore(), time.Time{})
	require.NoError(t, err)

	first := base.Add(time.Minute)
	require.True(t, e.Upsert(trig("d1", "boom", deadline.ChannelDesktop, first)))
	waitArmed(t, e, first)
	mock.Add(time.Minute)

	second := base.Add(2 * time.Minute)
	require.True(t, e.Upsert(trig("d1", "ok", deadline.ChannelDesktop, second)))
	waitArmed(t, e, second)
	mock.Add(time.Minute)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, 2*time.Second, time.Millisecond)
}

func TestEngine_DispatchTimeout(t *testing.T) {
	mock := clock.NewMock()
	mock.Add(base.Sub(mock.Now()))

	done := make(chan error, 1)
	dispatch := DispatchFunc(func(ctx context.Context, _, _ string, _ deadline.Channel) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	})

	e, err := NewEngine(dispatch, zap.NewNop(), WithClock(mock), WithDispatchTimeout(20*time.Millisecond))
	require.NoError(t, err)
	start(t, e)
	_, err = e.Reconcile(context.Background(), store.NewMemoryStore(), time.Time{})
	require.NoError(t, err)

	at := base.Add(time.Second)
	require.True(t, e.Upsert(trig("d1", "r1", deadline.ChannelDesktop, at)))
	waitArmed(t, e, at)
	mock.Add(time.Second)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch was not bounded")
	}
}

func TestEngine_PastReplacementCancelsScheduled(t *testing.T) {
	e, _, _ := newTestEngine(t)
	tr := trig("d1", "r1", deadline.ChannelDesktop, base.Add(time.Hour))
	require.True(t, e.Upsert(tr))

	past := tr
	past.FireAt = base.Add(-time.Minute)
	assert.False(t, e.Upsert(past))
	assert.Empty(t, e.Pending())
	assert.Equal(t, StateCancelled, e.State(tr.ID))
}

func TestEngine_CatchUpDoesNotRefireAfterEdit(t *testing.T) {
	e, mock, rec := newTestEngine(t, WithResolver(reminder.NewResolver(reminder.MissedCatchUp, time.Hour)))
	s := store.NewMemoryStore()
	d := seed(t, s, base.Add(-10*time.Minute), 0)

	start(t, e)
	_, err := e.Reconcile(context.Background(), s, time.Time{})
	require.NoError(t, err)
	rec.expect(t, 2)

	mock.Add(5 * time.Minute)
	rules, err := s.ListReminderRules(context.Background(), d.ID)
	require.NoError(t, err)
	d.Title = "Submit final report"

	assert.Equal(t, 0, e.Sync(d, rules))
	assert.Empty(t, e.Pending())
	for _, r := range rules {
		assert.Equal(t, StateFired, e.State(reminder.TriggerID(d.ID, r.ID, r.Channel)))
	}

	_, err = e.Reconcile(context.Background(), s, time.Time{})
	require.NoError(t, err)
	rec.expectNone(t)
}

func TestEngine_StopIsBoundedByDispatchTimeout(t *testing.T) {
	mock := clock.NewMock()
	mock.Add(base.Sub(mock.Now()))

	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	dispatch := DispatchFunc(func(context.Context, string, string, deadline.Channel) error {
		close(started)
		<-release
		return nil
	})

	e, err := NewEngine(dispatch, zap.NewNop(), WithClock(mock), WithDispatchTimeout(50*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	_, err = e.Reconcile(context.Background(), store.NewMemoryStore(), time.Time{})
	require.NoError(t, err)

	at := base.Add(time.Second)
	require.True(t, e.Upsert(trig("d1", "r1", deadline.ChannelDesktop, at)))
	waitArmed(t, e, at)
	mock.Add(time.Second)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch never started")
	}

	stopped := make(chan struct{})
	go func() {
		_ = e.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop waited on a dispatcher that ignores its context")
	}
}
