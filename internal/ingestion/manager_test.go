package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/deadlined/internal/deadline"
	"github.com/fyrsmithlabs/deadlined/internal/store"
)

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	deps := testDeps(t, patternChain(t), s, newRecordingScheduler())
	deps.Clock = clock.New()
	settings := testSettings()
	settings.PollInterval = 10 * time.Millisecond

	m, err := NewManager(context.Background(), deps, settings)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.StopAll() })
	return m, s
}

func TestManager_UnknownSource(t *testing.T) {
	m, _ := newTestManager(t)

	assert.ErrorIs(t, m.Start("nope"), ErrUnknownSource)
	assert.ErrorIs(t, m.Stop("nope"), ErrUnknownSource)
	_, err := m.Status("nope")
	assert.ErrorIs(t, err, ErrUnknownSource)
	_, err = m.Push("nope", "x")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestManager_RegisterTwice(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Register("chat", deadline.SourceChatStream, NewPushSource(0)))
	assert.Error(t, m.Register("chat", deadline.SourceChatStream, NewPushSource(0)))
}

func TestManager_PushIngestsThroughRunner(t *testing.T) {
	m, s := newTestManager(t)
	require.NoError(t, m.Register("whatsapp", deadline.SourceChatStream, NewPushSource(0)))
	require.NoError(t, m.Register("mail", deadline.SourceEmail, NewStaticSource()))

	require.NoError(t, m.Start("whatsapp"))
	assert.ErrorIs(t, m.Start("whatsapp"), ErrAlreadyRunning)

	n, err := m.Push("whatsapp", "Assignment due on January 20, 2024 at 11:59 PM", "  ")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = m.Push("mail", "x")
	assert.ErrorIs(t, err, ErrNotPushable)

	assert.Eventually(t, func() bool {
		st, err := m.Status("whatsapp")
		return err == nil && st.Created == 1
	}, 2*time.Second, 5*time.Millisecond)

	all, err := s.ListDeadlines(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, deadline.SourceChatStream, all[0].Source)

	statuses := m.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "mail", statuses[0].Source)
	assert.False(t, statuses[0].Running)
	assert.Equal(t, "whatsapp", statuses[1].Source)
	assert.True(t, statuses[1].Running)

	require.NoError(t, m.Stop("whatsapp"))
	st, err := m.Status("whatsapp")
	require.NoError(t, err)
	assert.False(t, st.Running)
	require.NoError(t, m.Stop("mail"))
}

func TestManager_StartAllStopAll(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Register("a", deadline.SourceEmail, NewStaticSource()))
	require.NoError(t, m.Register("b", deadline.SourceChatStream, NewPushSource(0)))

	require.NoError(t, m.StartAll())
	for _, st := range m.Statuses() {
		assert.True(t, st.Running, st.Source)
	}

	require.NoError(t, m.StopAll())
	for _, st := range m.Statuses() {
		assert.False(t, st.Running, st.Source)
	}
}

func TestManager_RootCancelStopsRunners(t *testing.T) {
	root, cancel := context.WithCancel(context.Background())
	deps := testDeps(t, patternChain(t), store.NewMemoryStore(), newRecordingScheduler())
	deps.Clock = clock.New()
	m, err := NewManager(root, deps, testSettings())
	require.NoError(t, err)
	require.NoError(t, m.Register("a", deadline.SourceEmail, NewStaticSource()))
	require.NoError(t, m.Start("a"))

	cancel()
	assert.Eventually(t, func() bool {
		st, _ := m.Status("a")
		return !st.Running
	}, 2*time.Second, 5*time.Millisecond)
}
