package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/deadlined/internal/deadline"
)

// MemoryStore is an in-process Store for tests and ephemeral runs.
type MemoryStore struct {
	mu        sync.RWMutex
	deadlines map[string]deadline.Deadline
	rules     map[string][]deadline.ReminderRule
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deadlines: make(map[string]deadline.Deadline),
		rules:     make(map[string][]deadline.ReminderRule),
	}
}

func (m *MemoryStore) GetDeadline(_ context.Context, id string) (deadline.Deadline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deadlines[id]
	if !ok {
		return deadline.Deadline{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return cloneDeadline(d), nil
}

func (m *MemoryStore) ListDeadlines(_ context.Context) ([]deadline.Deadline, error) {
	m.mu.RLock()
	out := make([]deadline.Deadline, 0, len(m.deadlines))
	for _, d := range m.deadlines {
		out = append(out, cloneDeadline(d))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueAt.Before(out[j].DueAt)
	})
	return out, nil
}

func (m *MemoryStore) UpsertDeadline(_ context.Context, d deadline.Deadline, rules []deadline.ReminderRule) error {
	if err := validate(d, rules); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadlines[d.ID] = cloneDeadline(d)
	if rules != nil {
		m.rules[d.ID] = append([]deadline.ReminderRule(nil), rules...)
	}
	return nil
}

func (m *MemoryStore) DeleteDeadline(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deadlines[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	delete(m.deadlines, id)
	delete(m.rules, id)
	return nil
}

func (m *MemoryStore) ListReminderRules(_ context.Context, deadlineID string) ([]deadline.ReminderRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]deadline.ReminderRule{}, m.rules[deadlineID]...), nil
}

func (m *MemoryStore) UpsertRule(_ context.Context, r deadline.ReminderRule) error {
	if err := r.Validate(r.DeadlineID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deadlines[r.DeadlineID]; !ok {
		return fmt.Errorf("rule %s: %w", r.ID, ErrNotFound)
	}
	rules := m.rules[r.DeadlineID]
	for i := range rules {
		if rules[i].ID == r.ID {
			rules[i] = r
			return nil
		}
	}
	m.rules[r.DeadlineID] = append(rules, r)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func cloneDeadline(d deadline.Deadline) deadline.Deadline {
	if d.Tags != nil {
		d.Tags = append([]string(nil), d.Tags...)
	}
	if d.Confidence != nil {
		c := *d.Confidence
		d.Confidence = &c
	}
	return d
}

var _ Store = (*MemoryStore)(nil)
