package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deadlined/internal/events"
)

// ErrBufferFull is returned by PushSource when the buffer is at capacity.
var ErrBufferFull = errors.New("push buffer full")

const (
	defaultPushCapacity = 1000
	defaultNATSBuffer   = 1024
	maxSnippetBytes     = 1 << 20
	// defaultSettle is how long a dropped file must go without writes
	// before it is read.
	defaultSettle = 500 * time.Millisecond
)

// Source yields raw text snippets. Duplicates across polls are expected.
type Source interface {
	Poll(ctx context.Context) ([]string, error)
}

// Requeuer is implemented by sources whose Poll consumes what it returns.
// The runner hands back snippets it could not finish so the next poll
// sees them again, ahead of newer input.
type Requeuer interface {
	Requeue(texts ...string)
}

// retryQueue holds requeued snippets for sources without their own buffer.
type retryQueue struct {
	mu    sync.Mutex
	texts []string
}

func (q *retryQueue) Requeue(texts ...string) {
	q.mu.Lock()
	q.texts = append(q.texts, texts...)
	q.mu.Unlock()
}

func (q *retryQueue) take() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.texts
	q.texts = nil
	return out
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]string, error)

func (f SourceFunc) Poll(ctx context.Context) ([]string, error) {
	return f(ctx)
}

// StaticSource returns the same snippets on every poll.
type StaticSource struct {
	snippets []string
}

// NewStaticSource returns a StaticSource.
func NewStaticSource(snippets ...string) *StaticSource {
	return &StaticSource{snippets: snippets}
}

func (s *StaticSource) Poll(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]string(nil), s.snippets...), nil
}

// PushSource buffers snippets pushed in-process, for example by the HTTP
// webhook, until the next poll drains them.
type PushSource struct {
	mu       sync.Mutex
	buf      []string
	capacity int
}

// NewPushSource returns a PushSource holding at most capacity snippets.
func NewPushSource(capacity int) *PushSource {
	if capacity <= 0 {
		capacity = defaultPushCapacity
	}
	return &PushSource{capacity: capacity}
}

// Push queues texts. Blank texts are ignored. Nothing is queued when the
// batch would overflow the buffer.
func (s *PushSource) Push(texts ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			batch = append(batch, t)
		}
	}
	if len(s.buf)+len(batch) > s.capacity {
		return 0, ErrBufferFull
	}
	s.buf = append(s.buf, batch...)
	return len(batch), nil
}

// Len returns the number of queued snippets.
func (s *PushSource) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Requeue puts texts back at the head of the buffer. Capacity is not
// enforced since the texts were already accepted once.
func (s *PushSource) Requeue(texts ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(append([]string(nil), texts...), s.buf...)
}

func (s *PushSource) Poll(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.buf
	s.buf = nil
	return out, nil
}

// NATSSource receives snippets published on deadlined.ingest.<name>.
type NATSSource struct {
	retryQueue
	sub *nats.Subscription
	ch  chan *nats.Msg
}

// NewNATSSource subscribes to the ingest subject for name.
func NewNATSSource(nc *nats.Conn, name string) (*NATSSource, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	ch := make(chan *nats.Msg, defaultNATSBuffer)
	sub, err := nc.ChanSubscribe(events.IngestSubject(name), ch)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", events.IngestSubject(name), err)
	}
	return &NATSSource{sub: sub, ch: ch}, nil
}

// Subject returns the subscribed subject.
func (s *NATSSource) Subject() string {
	return s.sub.Subject
}

// Poll drains messages received since the last poll without blocking.
func (s *NATSSource) Poll(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := s.take()
	for {
		select {
		case msg := <-s.ch:
			if text := string(msg.Data); strings.TrimSpace(text) != "" {
				out = append(out, text)
			}
		default:
			return out, nil
		}
	}
}

func (s *NATSSource) Close() error {
	return s.sub.Unsubscribe()
}

// DirSource treats each file written into a drop directory as one snippet.
// Files present when the source opens are read on the first poll; later
// files are read once they have been quiet for the settle interval, so a
// file written in chunks is seen whole.
type DirSource struct {
	retryQueue
	dir     string
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	settle  time.Duration

	mu sync.Mutex
	// pending maps a path to its last write; zero means ready now.
	pending map[string]time.Time
}

// NewDirSource creates dir when missing and starts watching it.
func NewDirSource(dir string, logger *zap.Logger) (*DirSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create drop dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	s := &DirSource{
		dir:     dir,
		watcher: watcher,
		logger:  logger,
		settle:  defaultSettle,
		pending: make(map[string]time.Time),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("read drop dir: %w", err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			s.queue(filepath.Join(dir, e.Name()), time.Time{})
		}
	}

	go s.watch()
	return s, nil
}

func (s *DirSource) watch() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				s.queue(ev.Name, time.Now())
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("drop dir watcher error", zap.String("dir", s.dir), zap.Error(err))
		}
	}
}

func (s *DirSource) queue(path string, at time.Time) {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	s.mu.Lock()
	s.pending[path] = at
	s.mu.Unlock()
}

// Poll reads every settled file changed since the last poll. Files still
// being written, or that cannot be read, are left for a later poll.
func (s *DirSource) Poll(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	s.mu.Lock()
	paths := make([]string, 0, len(s.pending))
	for p, at := range s.pending {
		if !at.IsZero() && now.Sub(at) < s.settle {
			continue
		}
		paths = append(paths, p)
		delete(s.pending, p)
	}
	s.mu.Unlock()
	sort.Strings(paths)

	out := s.take()
	var errs []error
	for _, p := range paths {
		text, err := readSnippet(p)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			errs = append(errs, err)
			s.queue(p, time.Time{})
		case strings.TrimSpace(text) != "":
			out = append(out, text)
		}
	}
	return out, errors.Join(errs...)
}

func readSnippet(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(f, maxSnippetBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func (s *DirSource) Close() error {
	return s.watcher.Close()
}
