package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/deadlined/internal/deadline"
)

var now = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

func fixture(due time.Time) deadline.Deadline {
	d := deadline.New("File taxes", due, deadline.SourceManual)
	d.ID = "d1"
	return d
}

func rule(id string, offset int64, ch deadline.Channel, enabled bool) deadline.ReminderRule {
	return deadline.ReminderRule{ID: id, DeadlineID: "d1", OffsetSeconds: offset, Channel: ch, Enabled: enabled}
}

func TestFireAt(t *testing.T) {
	due := time.Date(2024, 1, 20, 23, 59, 0, 0, time.UTC)
	tests := []struct {
		name   string
		offset int64
		want   time.Time
	}{
		{"a day before", -86400, due.Add(-24 * time.Hour)},
		{"at due", 0, due},
		{"an hour after", 3600, due.Add(time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FireAt(due, tt.offset))
		})
	}
}

func TestResolve_DefaultRulesProduceFourTriggers(t *testing.T) {
	d := fixture(now.Add(10 * 24 * time.Hour))
	rules := []deadline.ReminderRule{
		rule("r1", -86400, deadline.ChannelDesktop, true),
		rule("r2", -86400, deadline.ChannelMobilePush, true),
		rule("r3", 0, deadline.ChannelDesktop, true),
		rule("r4", 0, deadline.ChannelMobilePush, true),
	}

	got := Resolver{}.Resolve(d, rules, now)
	require.Len(t, got, 4)
	assert.Equal(t, d.DueAt.Add(-24*time.Hour), got[0].FireAt)
	assert.Equal(t, d.DueAt.Add(-24*time.Hour), got[1].FireAt)
	assert.Equal(t, d.DueAt, got[2].FireAt)
	assert.Equal(t, d.DueAt, got[3].FireAt)
	assert.Equal(t, "reminder:d1:r1:desktop", got[0].ID)
}

func TestResolve_DropsPastTrigger(t *testing.T) {
	// The day-before reminder is already behind us.
	d := fixture(now.Add(12 * time.Hour))
	rules := []deadline.ReminderRule{
		rule("r1", -86400, deadline.ChannelDesktop, true),
		rule("r2", 0, deadline.ChannelDesktop, true),
	}

	got := Resolver{}.Resolve(d, rules, now)
	require.Len(t, got, 1)
	assert.Equal(t, "r2", got[0].RuleID)
}

func TestResolve_TriggerAtNowIsDropped(t *testing.T) {
	d := fixture(now)
	got := Resolver{}.Resolve(d, []deadline.ReminderRule{rule("r1", 0, deadline.ChannelDesktop, true)}, now)
	assert.Empty(t, got)
}

func TestResolve_DropsDisabledRule(t *testing.T) {
	d := fixture(now.Add(48 * time.Hour))
	rules := []deadline.ReminderRule{
		rule("r1", -3600, deadline.ChannelDesktop, false),
		rule("r2", -3600, deadline.ChannelChatMessage, true),
	}

	got := Resolver{}.Resolve(d, rules, now)
	require.Len(t, got, 1)
	assert.Equal(t, deadline.ChannelChatMessage, got[0].Channel)
}

func TestResolve_SameInstantSameChannelStaysIndependent(t *testing.T) {
	d := fixture(now.Add(48 * time.Hour))
	rules := []deadline.ReminderRule{
		rule("r1", 0, deadline.ChannelDesktop, true),
		rule("r2", 0, deadline.ChannelDesktop, true),
	}

	got := Resolver{}.Resolve(d, rules, now)
	require.Len(t, got, 2)
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestResolve_CatchUp(t *testing.T) {
	d := fixture(now.Add(-30 * time.Minute))
	rules := []deadline.ReminderRule{
		rule("recent", 0, deadline.ChannelDesktop, true),
		rule("old", -86400, deadline.ChannelDesktop, true),
	}

	r := NewResolver(MissedCatchUp, time.Hour)
	got := r.Resolve(d, rules, now)
	require.Len(t, got, 1)
	assert.Equal(t, "recent", got[0].RuleID)
	assert.Equal(t, now, got[0].FireAt)
	assert.True(t, got[0].Missed)

	assert.Empty(t, NewResolver(MissedDrop, time.Hour).Resolve(d, rules, now))
}

func TestNewResolver_Defaults(t *testing.T) {
	r := NewResolver("", 0)
	assert.Equal(t, MissedDrop, r.Policy)
	assert.Equal(t, DefaultCatchUpWindow, r.CatchUpWindow)
}
