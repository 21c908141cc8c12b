// Package store persists deadlines and their reminder rules.
//
// The store is the source of truth: the reminder engine holds no state that
// cannot be rebuilt from it.
package store

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/deadlined/internal/deadline"
)

// ErrNotFound is returned when a deadline does not exist.
var ErrNotFound = errors.New("deadline not found")

// Store is the persistence contract for deadlines and rules.
type Store interface {
	// GetDeadline returns ErrNotFound when id is absent.
	GetDeadline(ctx context.Context, id string) (deadline.Deadline, error)

	// ListDeadlines returns every deadline ordered by due time.
	ListDeadlines(ctx context.Context) ([]deadline.Deadline, error)

	// UpsertDeadline inserts or replaces d. A non-nil rules slice replaces
	// the deadline's whole rule set in the same transaction; nil leaves the
	// existing rules untouched.
	UpsertDeadline(ctx context.Context, d deadline.Deadline, rules []deadline.ReminderRule) error

	// DeleteDeadline removes d and, by cascade, its rules.
	DeleteDeadline(ctx context.Context, id string) error

	// ListReminderRules returns the rules of one deadline.
	ListReminderRules(ctx context.Context, deadlineID string) ([]deadline.ReminderRule, error)

	// UpsertRule inserts or replaces one rule. Returns ErrNotFound when its
	// deadline is absent.
	UpsertRule(ctx context.Context, r deadline.ReminderRule) error

	Close() error
}

func validate(d deadline.Deadline, rules []deadline.ReminderRule) error {
	if err := d.Validate(); err != nil {
		return err
	}
	for i := range rules {
		if err := rules[i].Validate(d.ID); err != nil {
			return err
		}
	}
	return nil
}
