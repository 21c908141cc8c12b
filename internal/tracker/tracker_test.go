package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deadlined/internal/deadline"
	"github.com/fyrsmithlabs/deadlined/internal/scheduler"
	"github.com/fyrsmithlabs/deadlined/internal/store"
)

var base = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *scheduler.Engine, store.Store) {
	t.Helper()
	mock := clock.NewMock()
	mock.Add(base.Sub(mock.Now()))

	engine, err := scheduler.NewEngine(scheduler.DispatchFunc(func(context.Context, string, string, deadline.Channel) error {
		return nil
	}), zap.NewNop(), scheduler.WithClock(mock))
	require.NoError(t, err)

	st := store.NewMemoryStore()
	svc, err := NewService(st, engine, zap.NewNop(), WithClock(mock), WithDefaultOffsets([]int64{-86400, -3600}))
	require.NoError(t, err)
	return svc, engine, st
}

func ptr[T any](v T) *T { return &v }

var due = time.Date(2024, 1, 20, 23, 59, 0, 0, time.UTC)

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(nil, nil, zap.NewNop())
	assert.Error(t, err)
	_, err = NewService(store.NewMemoryStore(), nil, zap.NewNop())
	assert.Error(t, err)
}

func TestService_CreateWithDefaultRules(t *testing.T) {
	svc, engine, _ := newTestService(t)

	got, err := svc.Create(context.Background(), CreateRequest{Title: "  File taxes ", DueAt: due})
	require.NoError(t, err)

	assert.Equal(t, "File taxes", got.Title)
	assert.Equal(t, deadline.SourceManual, got.Source)
	assert.Equal(t, deadline.StatusPending, got.Status)
	assert.Equal(t, base, got.CreatedAt)
	assert.Len(t, got.Rules, 4)
	assert.Len(t, engine.Pending(), 4)
}

func TestService_CreateWithExplicitRules(t *testing.T) {
	svc, engine, _ := newTestService(t)

	got, err := svc.Create(context.Background(), CreateRequest{
		Title:    "Standup",
		DueAt:    due,
		Priority: deadline.PriorityHigh,
		Rules: []RuleSpec{
			{OffsetSeconds: -600, Channel: deadline.ChannelChatMessage},
			{OffsetSeconds: -300, Channel: deadline.ChannelDesktop, Enabled: ptr(false)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, deadline.PriorityHigh, got.Priority)
	require.Len(t, got.Rules, 2)
	assert.False(t, got.Rules[1].Enabled)

	pending := engine.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, deadline.ChannelChatMessage, pending[0].Channel)
}

func TestService_CreateRejectsInvalid(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), CreateRequest{Title: "", DueAt: due})
	assert.ErrorIs(t, err, deadline.ErrInvalid)

	_, err = svc.Create(context.Background(), CreateRequest{Title: "x", DueAt: due, Priority: "urgent"})
	assert.ErrorIs(t, err, deadline.ErrInvalid)
}

func TestService_GetMissing(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.Update(context.Background(), "nope", UpdateRequest{Title: ptr("x")})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_UpdateDueDateReschedules(t *testing.T) {
	svc, engine, _ := newTestService(t)
	created, err := svc.Create(context.Background(), CreateRequest{Title: "Report", DueAt: due})
	require.NoError(t, err)

	later := due.Add(48 * time.Hour)
	updated, err := svc.Update(context.Background(), created.ID, UpdateRequest{DueAt: &later, Title: ptr("Final report")})
	require.NoError(t, err)
	assert.Equal(t, "Final report", updated.Title)
	assert.Equal(t, later, updated.DueAt)

	pending := engine.Pending()
	require.Len(t, pending, 4)
	assert.Equal(t, later.Add(-24*time.Hour), pending[0].FireAt)

	got, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Len(t, got.Rules, 4)
}

func TestService_MarkDoneCancelsTriggers(t *testing.T) {
	svc, engine, _ := newTestService(t)
	created, err := svc.Create(context.Background(), CreateRequest{Title: "Report", DueAt: due})
	require.NoError(t, err)

	done := deadline.StatusDone
	_, err = svc.Update(context.Background(), created.ID, UpdateRequest{Status: &done})
	require.NoError(t, err)
	assert.Empty(t, engine.Pending())
}

func TestService_Delete(t *testing.T) {
	svc, engine, st := newTestService(t)
	created, err := svc.Create(context.Background(), CreateRequest{Title: "Report", DueAt: due})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), created.ID))
	assert.Empty(t, engine.Pending())

	rules, err := st.ListReminderRules(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Empty(t, rules)

	assert.NoError(t, svc.Delete(context.Background(), created.ID))
}

func TestService_RuleManagement(t *testing.T) {
	svc, engine, _ := newTestService(t)
	created, err := svc.Create(context.Background(), CreateRequest{
		Title: "Report",
		DueAt: due,
		Rules: []RuleSpec{{OffsetSeconds: -3600, Channel: deadline.ChannelDesktop}},
	})
	require.NoError(t, err)
	require.Len(t, engine.Pending(), 1)

	rule, err := svc.AddRule(context.Background(), created.ID, RuleSpec{OffsetSeconds: 600, Channel: deadline.ChannelMobilePush})
	require.NoError(t, err)
	assert.True(t, rule.Enabled)
	assert.Len(t, engine.Pending(), 2)

	_, err = svc.SetRuleEnabled(context.Background(), created.ID, rule.ID, false)
	require.NoError(t, err)
	assert.Len(t, engine.Pending(), 1)

	_, err = svc.SetRuleEnabled(context.Background(), created.ID, "missing", true)
	assert.ErrorIs(t, err, ErrRuleNotFound)

	_, err = svc.AddRule(context.Background(), created.ID, RuleSpec{Channel: "pager"})
	assert.ErrorIs(t, err, deadline.ErrInvalid)

	_, err = svc.AddRule(context.Background(), "missing", RuleSpec{Channel: deadline.ChannelDesktop})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_ListOrderedByDue(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Create(context.Background(), CreateRequest{Title: "Later", DueAt: due.Add(time.Hour)})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), CreateRequest{Title: "Sooner", DueAt: due})
	require.NoError(t, err)

	all, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Sooner", all[0].Title)
}
