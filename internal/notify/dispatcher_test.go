package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/deadlined/internal/config"
	"github.com/fyrsmithlabs/deadlined/internal/deadline"
	"github.com/fyrsmithlabs/deadlined/internal/events"
	"github.com/fyrsmithlabs/deadlined/internal/store"
	"github.com/fyrsmithlabs/deadlined/internal/telemetry"
)

type sent struct {
	title, body string
}

type capture struct {
	mu   sync.Mutex
	got  []sent
	fail error
}

func (c *capture) Notify(_ context.Context, title, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, sent{title, body})
	return c.fail
}

type recordingPublisher struct {
	mu    sync.Mutex
	fired []events.ReminderFired
}

func (p *recordingPublisher) DeadlineCreated(context.Context, events.DeadlineCreated) error {
	return nil
}

func (p *recordingPublisher) ReminderFired(_ context.Context, ev events.ReminderFired) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fired = append(p.fired, ev)
	return nil
}

func seedDeadline(t *testing.T, s store.Store) deadline.Deadline {
	t.Helper()
	d := deadline.New("Submit report", time.Date(2024, 1, 20, 23, 59, 0, 0, time.UTC), deadline.SourceManual)
	require.NoError(t, s.UpsertDeadline(context.Background(), d, nil))
	return d
}

func TestNewDispatcher_Validation(t *testing.T) {
	_, err := NewDispatcher(nil, zap.NewNop())
	assert.Error(t, err)
	_, err = NewDispatcher(store.NewMemoryStore(), nil)
	assert.Error(t, err)
}

func TestDispatcher_RoutesToChannelNotifier(t *testing.T) {
	s := store.NewMemoryStore()
	d := seedDeadline(t, s)
	desktop, push := &capture{}, &capture{}

	disp, err := NewDispatcher(s, zap.NewNop(),
		WithNotifier(deadline.ChannelDesktop, desktop),
		WithNotifier(deadline.ChannelMobilePush, push),
		WithLocation(time.UTC),
	)
	require.NoError(t, err)

	require.NoError(t, disp.Dispatch(context.Background(), d.ID, "r1", deadline.ChannelDesktop))

	require.Len(t, desktop.got, 1)
	assert.Empty(t, push.got)
	assert.Equal(t, "Submit report", desktop.got[0].title)
	assert.Equal(t, "Due 2024-01-20 23:59", desktop.got[0].body)
	assert.Equal(t, 1, disp.Stats()[deadline.ChannelDesktop].Sent)
	assert.Equal(t, []deadline.Channel{deadline.ChannelDesktop, deadline.ChannelMobilePush}, disp.Channels())
}

func TestDispatcher_RendersInDisplayLocation(t *testing.T) {
	s := store.NewMemoryStore()
	d := seedDeadline(t, s)
	loc := time.FixedZone("UTC+5:30", 5*3600+1800)

	disp, err := NewDispatcher(s, zap.NewNop(), WithLocation(loc))
	require.NoError(t, err)

	_, body := disp.Render(d)
	assert.Equal(t, "Due 2024-01-21 05:29", body)
}

func TestDispatcher_MissingDeadlineIsNoop(t *testing.T) {
	n := &capture{}
	pub := &recordingPublisher{}
	disp, err := NewDispatcher(store.NewMemoryStore(), zap.NewNop(),
		WithNotifier(deadline.ChannelDesktop, n), WithPublisher(pub))
	require.NoError(t, err)

	require.NoError(t, disp.Dispatch(context.Background(), "gone", "r1", deadline.ChannelDesktop))
	assert.Empty(t, n.got)
	assert.Empty(t, pub.fired)
	assert.Empty(t, disp.Stats())
}

func TestDispatcher_FailureIsRecordedNotReturned(t *testing.T) {
	s := store.NewMemoryStore()
	d := seedDeadline(t, s)
	n := &capture{fail: errors.New("push service down")}
	pub := &recordingPublisher{}

	core, logs := observer.New(zapcore.DebugLevel)
	disp, err := NewDispatcher(s, zap.New(core),
		WithNotifier(deadline.ChannelMobilePush, n), WithPublisher(pub))
	require.NoError(t, err)

	require.NoError(t, disp.Dispatch(context.Background(), d.ID, "r1", deadline.ChannelMobilePush))

	stats := disp.Stats()[deadline.ChannelMobilePush]
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Sent)
	assert.Equal(t, "push service down", stats.LastError)
	assert.Equal(t, 1, logs.FilterMessage("notification failed").Len())

	require.Len(t, pub.fired, 1)
	assert.False(t, pub.fired[0].Delivered)
	assert.Equal(t, "push service down", pub.fired[0].Error)
	assert.Equal(t, "mobile-push", pub.fired[0].Channel)
}

func TestDispatcher_RecordsSpan(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	s := store.NewMemoryStore()
	d := seedDeadline(t, s)

	disp, err := NewDispatcher(s, zap.NewNop(),
		WithNotifier(deadline.ChannelDesktop, &capture{fail: errors.New("no display")}),
		WithTracer(tel.Tracer("test")))
	require.NoError(t, err)

	require.NoError(t, disp.Dispatch(context.Background(), d.ID, "r1", deadline.ChannelDesktop))

	tel.AssertSpanExists(t, "notify.dispatch")
	tel.AssertSpanAttribute(t, "notify.dispatch", "deadline.id", d.ID)
	tel.AssertSpanAttribute(t, "notify.dispatch", "notify.channel", "desktop")
	assert.Equal(t, "no display", tel.SpanByName("notify.dispatch").Status().Description)
}

func TestDispatcher_FallsBackToLog(t *testing.T) {
	s := store.NewMemoryStore()
	d := seedDeadline(t, s)

	core, logs := observer.New(zapcore.InfoLevel)
	disp, err := NewDispatcher(s, zap.New(core))
	require.NoError(t, err)

	require.NoError(t, disp.Dispatch(context.Background(), d.ID, "r1", deadline.ChannelChatMessage))

	entries := logs.FilterMessage("reminder").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Submit report", entries[0].ContextMap()["title"])
	assert.Equal(t, 1, disp.Stats()[deadline.ChannelChatMessage].Sent)
}

func TestDispatcher_PublishesDeliveredEvent(t *testing.T) {
	s := store.NewMemoryStore()
	d := seedDeadline(t, s)
	pub := &recordingPublisher{}

	disp, err := NewDispatcher(s, zap.NewNop(),
		WithNotifier(deadline.ChannelDesktop, Func(func(context.Context, string, string) error { return nil })),
		WithPublisher(pub))
	require.NoError(t, err)

	require.NoError(t, disp.Dispatch(context.Background(), d.ID, "r9", deadline.ChannelDesktop))
	require.Len(t, pub.fired, 1)
	assert.True(t, pub.fired[0].Delivered)
	assert.Equal(t, d.ID, pub.fired[0].DeadlineID)
	assert.Equal(t, "r9", pub.fired[0].RuleID)
}

func TestNotifiersFromConfig(t *testing.T) {
	t.Run("nothing configured", func(t *testing.T) {
		assert.Empty(t, NotifiersFromConfig(config.NotifyConfig{}, zap.NewNop()))
	})

	t.Run("all channels", func(t *testing.T) {
		got := NotifiersFromConfig(config.NotifyConfig{
			DesktopEnabled:   true,
			OneSignalAppID:   "app",
			OneSignalAPIKey:  config.Secret("key"),
			TwilioAccountSID: "AC123",
			TwilioAuthToken:  config.Secret("token"),
			TwilioTo:         "+15551234567",
		}, zap.NewNop())
		assert.IsType(t, &DesktopNotifier{}, got[deadline.ChannelDesktop])
		assert.IsType(t, &OneSignalNotifier{}, got[deadline.ChannelMobilePush])
		assert.IsType(t, &TwilioNotifier{}, got[deadline.ChannelChatMessage])
	})

	t.Run("twilio needs a recipient", func(t *testing.T) {
		got := NotifiersFromConfig(config.NotifyConfig{
			TwilioAccountSID: "AC123",
			TwilioAuthToken:  config.Secret("token"),
		}, zap.NewNop())
		assert.NotContains(t, got, deadline.ChannelChatMessage)
	})
}
