package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deadlined/internal/deadline"
)

var (
	// ErrAlreadyRunning is returned when starting an active runner.
	ErrAlreadyRunning = errors.New("ingestion already running")
	// ErrUnknownSource is returned for a source name that was never registered.
	ErrUnknownSource = errors.New("unknown ingestion source")
	// ErrNotPushable is returned when pushing to a source that polls on its own.
	ErrNotPushable = errors.New("source does not accept pushed messages")
)

// Manager owns one runner per named source. Runners run on the manager's
// root context, never on the caller's, so API requests that start them
// return immediately.
type Manager struct {
	root     context.Context
	deps     Deps
	settings Settings
	logger   *zap.Logger

	mu      sync.Mutex
	runners map[string]*Runner
	sources map[string]Source
}

// NewManager creates a manager. Runners stop when root is cancelled.
func NewManager(root context.Context, deps Deps, settings Settings) (*Manager, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &Manager{
		root:     root,
		deps:     deps,
		settings: settings,
		logger:   deps.Logger,
		runners:  make(map[string]*Runner),
		sources:  make(map[string]Source),
	}, nil
}

// Register adds a named source. The runner is created stopped.
func (m *Manager) Register(name string, kind deadline.Source, src Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runners[name]; ok {
		return fmt.Errorf("source %q already registered", name)
	}
	r, err := NewRunner(name, kind, src, m.deps, m.settings)
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	m.runners[name] = r
	m.sources[name] = src
	return nil
}

func (m *Manager) runner(name string) (*Runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runners[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	return r, nil
}

// Start launches the runner for name.
func (m *Manager) Start(name string) error {
	r, err := m.runner(name)
	if err != nil {
		return err
	}
	if err := r.Start(m.root); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	m.logger.Info("ingestion source started", zap.String("source", name))
	return nil
}

// Stop stops the runner for name. Stopping an idle runner is a no-op.
func (m *Manager) Stop(name string) error {
	r, err := m.runner(name)
	if err != nil {
		return err
	}
	return r.Stop()
}

// Status returns the status of one runner.
func (m *Manager) Status(name string) (Status, error) {
	r, err := m.runner(name)
	if err != nil {
		return Status{}, err
	}
	return r.Status(), nil
}

// Statuses returns every runner's status ordered by name.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	runners := make([]*Runner, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(runners))
	for _, r := range runners {
		out = append(out, r.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Push queues texts on a push source.
func (m *Manager) Push(name string, texts ...string) (int, error) {
	m.mu.Lock()
	src, ok := m.sources[name]
	m.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	ps, ok := src.(*PushSource)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotPushable, name)
	}
	return ps.Push(texts...)
}

// StartAll starts every registered runner that is not running.
func (m *Manager) StartAll() error {
	var errs []error
	for _, st := range m.Statuses() {
		if st.Running {
			continue
		}
		if err := m.Start(st.Source); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every runner and closes sources that hold resources.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	runners := make([]*Runner, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	sources := make([]Source, 0, len(m.sources))
	for _, s := range m.sources {
		sources = append(sources, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, r := range runners {
		if err := r.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range sources {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
