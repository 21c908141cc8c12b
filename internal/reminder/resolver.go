// Package reminder turns a deadline and its reminder rules into the
// concrete instants at which notifications must fire.
package reminder

import (
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/deadlined/internal/deadline"
)

// MissedPolicy decides what happens to a trigger whose instant has passed.
type MissedPolicy string

const (
	// MissedDrop discards past triggers.
	MissedDrop MissedPolicy = "drop"
	// MissedCatchUp fires recently missed triggers immediately.
	MissedCatchUp MissedPolicy = "catch-up"
)

// DefaultCatchUpWindow bounds how far back MissedCatchUp reaches.
const DefaultCatchUpWindow = time.Hour

// Trigger is one scheduled notification.
type Trigger struct {
	ID         string           `json:"id"`
	DeadlineID string           `json:"deadline_id"`
	RuleID     string           `json:"rule_id"`
	Channel    deadline.Channel `json:"channel"`
	FireAt     time.Time        `json:"fire_at"`
	// Missed is set when catch-up moved FireAt forward to now.
	Missed bool `json:"missed,omitempty"`
}

// TriggerID builds the identity of the trigger for one rule on one channel.
func TriggerID(deadlineID, ruleID string, channel deadline.Channel) string {
	return fmt.Sprintf("reminder:%s:%s:%s", deadlineID, ruleID, channel)
}

// FireAt computes the trigger instant of one rule. Non-positive offsets
// count back from the due instant, positive ones forward.
func FireAt(dueAt time.Time, offsetSeconds int64) time.Time {
	if offsetSeconds <= 0 {
		return dueAt.Add(-time.Duration(-offsetSeconds) * time.Second)
	}
	return dueAt.Add(time.Duration(offsetSeconds) * time.Second)
}

// Resolver computes triggers. The zero value drops missed triggers.
type Resolver struct {
	Policy        MissedPolicy
	CatchUpWindow time.Duration
}

// NewResolver returns a Resolver, substituting defaults for empty values.
func NewResolver(policy MissedPolicy, window time.Duration) Resolver {
	if policy == "" {
		policy = MissedDrop
	}
	if window <= 0 {
		window = DefaultCatchUpWindow
	}
	return Resolver{Policy: policy, CatchUpWindow: window}
}

// Resolve returns the future triggers of d's enabled rules, ordered by
// FireAt. Rules whose instant is at or before now are dropped unless the
// catch-up policy covers them.
func (r Resolver) Resolve(d deadline.Deadline, rules []deadline.ReminderRule, now time.Time) []Trigger {
	out := make([]Trigger, 0, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		t := Trigger{
			ID:         TriggerID(d.ID, rule.ID, rule.Channel),
			DeadlineID: d.ID,
			RuleID:     rule.ID,
			Channel:    rule.Channel,
			FireAt:     FireAt(d.DueAt, rule.OffsetSeconds),
		}
		if !t.FireAt.After(now) {
			if !r.catchUp(t.FireAt, now) {
				continue
			}
			t.FireAt = now
			t.Missed = true
		}
		out = append(out, t)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

func (r Resolver) catchUp(fireAt, now time.Time) bool {
	if r.Policy != MissedCatchUp {
		return false
	}
	window := r.CatchUpWindow
	if window <= 0 {
		window = DefaultCatchUpWindow
	}
	return now.Sub(fireAt) <= window
}
