// Package notify renders reminders and delivers them on their channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deadlined/internal/deadline"
	"github.com/fyrsmithlabs/deadlined/internal/events"
	"github.com/fyrsmithlabs/deadlined/internal/store"
)

const tracerName = "github.com/fyrsmithlabs/deadlined/internal/notify"

// BodyLayout formats the due instant in a reminder body.
const BodyLayout = "2006-01-02 15:04"

// Loader fetches the deadline a trigger refers to.
type Loader interface {
	GetDeadline(ctx context.Context, id string) (deadline.Deadline, error)
}

// ChannelStats counts deliveries on one channel.
type ChannelStats struct {
	Sent      int       `json:"sent"`
	Failed    int       `json:"failed"`
	LastError string    `json:"last_error,omitempty"`
	LastAt    time.Time `json:"last_at,omitempty"`
}

// Dispatcher delivers fired triggers. Delivery failures are recorded and
// logged but never returned.
type Dispatcher struct {
	loader    Loader
	logger    *zap.Logger
	notifiers map[deadline.Channel]Notifier
	fallback  Notifier
	location  *time.Location
	publisher events.Publisher
	tracer    trace.Tracer
	metrics   *Metrics
	now       func() time.Time

	mu    sync.Mutex
	stats map[deadline.Channel]ChannelStats
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithNotifier routes a channel to n.
func WithNotifier(ch deadline.Channel, n Notifier) Option {
	return func(d *Dispatcher) {
		if n != nil {
			d.notifiers[ch] = n
		}
	}
}

// WithNotifiers routes every channel in m.
func WithNotifiers(m map[deadline.Channel]Notifier) Option {
	return func(d *Dispatcher) {
		for ch, n := range m {
			if n != nil {
				d.notifiers[ch] = n
			}
		}
	}
}

// WithLocation sets the zone due instants are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(d *Dispatcher) {
		if loc != nil {
			d.location = loc
		}
	}
}

// WithPublisher publishes a reminder.fired event after each dispatch.
func WithPublisher(p events.Publisher) Option {
	return func(d *Dispatcher) {
		d.publisher = p
	}
}

// WithTracer sets the tracer used for dispatch spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// NewDispatcher creates a dispatcher reading deadlines from loader.
func NewDispatcher(loader Loader, logger *zap.Logger, opts ...Option) (*Dispatcher, error) {
	if loader == nil {
		return nil, fmt.Errorf("loader cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	d := &Dispatcher{
		loader:    loader,
		logger:    logger,
		notifiers: make(map[deadline.Channel]Notifier),
		fallback:  NewLogNotifier(logger),
		location:  time.Local,
		tracer:    otel.Tracer(tracerName),
		metrics:   NewMetrics(),
		now:       time.Now,
		stats:     make(map[deadline.Channel]ChannelStats),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Render builds the title and body for d.
func (d *Dispatcher) Render(dl deadline.Deadline) (title, body string) {
	return dl.Title, "Due " + dl.DueAt.In(d.location).Format(BodyLayout)
}

// Dispatch delivers the reminder for ruleID. A deadline that no longer
// exists is skipped silently; only a store failure is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, deadlineID, ruleID string, channel deadline.Channel) error {
	ctx, span := d.tracer.Start(ctx, "notify.dispatch", trace.WithAttributes(
		attribute.String("deadline.id", deadlineID),
		attribute.String("notify.channel", string(channel)),
	))
	defer span.End()

	dl, err := d.loader.GetDeadline(ctx, deadlineID)
	if errors.Is(err, store.ErrNotFound) {
		d.logger.Debug("deadline gone, skipping reminder",
			zap.String("deadline_id", deadlineID), zap.String("rule_id", ruleID))
		return nil
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("load deadline %s: %w", deadlineID, err)
	}

	title, body := d.Render(dl)
	n, ok := d.notifiers[channel]
	if !ok {
		n = d.fallback
	}

	start := time.Now()
	sendErr := n.Notify(ctx, title, body)
	d.metrics.Duration.WithLabelValues(string(channel)).Observe(time.Since(start).Seconds())
	d.record(channel, sendErr)

	fields := []zap.Field{
		zap.String("deadline_id", deadlineID),
		zap.String("rule_id", ruleID),
		zap.String("channel", string(channel)),
	}
	if sendErr != nil {
		span.SetStatus(codes.Error, sendErr.Error())
		d.logger.Warn("notification failed", append(fields, zap.Error(sendErr))...)
	} else {
		d.logger.Info("notification sent", fields...)
	}

	if d.publisher != nil {
		ev := events.ReminderFired{
			DeadlineID: deadlineID,
			RuleID:     ruleID,
			Channel:    string(channel),
			Title:      title,
			Delivered:  sendErr == nil,
			At:         d.now().UTC(),
		}
		if sendErr != nil {
			ev.Error = sendErr.Error()
		}
		if err := d.publisher.ReminderFired(ctx, ev); err != nil {
			d.logger.Warn("failed to publish reminder event", append(fields, zap.Error(err))...)
		}
	}
	return nil
}

func (d *Dispatcher) record(ch deadline.Channel, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.stats[ch]
	s.LastAt = d.now().UTC()
	if err != nil {
		s.Failed++
		s.LastError = err.Error()
		d.metrics.FailedTotal.WithLabelValues(string(ch)).Inc()
	} else {
		s.Sent++
		d.metrics.SentTotal.WithLabelValues(string(ch)).Inc()
	}
	d.stats[ch] = s
}

// Stats returns a copy of the per-channel counters.
func (d *Dispatcher) Stats() map[deadline.Channel]ChannelStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[deadline.Channel]ChannelStats, len(d.stats))
	for ch, s := range d.stats {
		out[ch] = s
	}
	return out
}

// Channels reports which channels have a dedicated notifier.
func (d *Dispatcher) Channels() []deadline.Channel {
	out := make([]deadline.Channel, 0, len(d.notifiers))
	for _, ch := range deadline.Channels {
		if _, ok := d.notifiers[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}
