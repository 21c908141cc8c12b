package extraction

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/fyrsmithlabs/deadlined/internal/extraction"

// Chain tries interpreters in order and commits to the first that does
// not fail.
type Chain struct {
	interpreters []Interpreter
	byName       map[string]Interpreter
	logger       *zap.Logger
	tracer       trace.Tracer
	metrics      *Metrics
	// forced, when set, routes Extract through ExtractWith.
	forced string
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithTracer sets the tracer used for chain spans.
func WithTracer(t trace.Tracer) ChainOption {
	return func(c *Chain) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithForcedInterpreter makes Extract use only the named interpreter.
func WithForcedInterpreter(name string) ChainOption {
	return func(c *Chain) {
		c.forced = name
	}
}

// NewChain builds a chain over interpreters in the given order.
func NewChain(logger *zap.Logger, interpreters []Interpreter, opts ...ChainOption) (*Chain, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if len(interpreters) == 0 {
		return nil, fmt.Errorf("at least one interpreter is required")
	}

	c := &Chain{
		interpreters: interpreters,
		byName:       make(map[string]Interpreter, len(interpreters)),
		logger:       logger,
		tracer:       otel.Tracer(tracerName),
		metrics:      NewMetrics(),
	}
	for _, in := range interpreters {
		if _, dup := c.byName[in.Name()]; dup {
			return nil, fmt.Errorf("duplicate interpreter %q", in.Name())
		}
		c.byName[in.Name()] = in
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.forced != "" {
		if _, ok := c.byName[c.forced]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownInterpreter, c.forced)
		}
	}
	return c, nil
}

// Names returns the interpreter names in chain order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.interpreters))
	for i, in := range c.interpreters {
		names[i] = in.Name()
	}
	return names
}

// Extract runs the chain. Interpreter failures are logged and recorded in
// Result.Attempts; the error is ErrAllInterpretersFailed only when every
// interpreter failed.
func (c *Chain) Extract(ctx context.Context, text string) (Result, error) {
	if c.forced != "" {
		return c.ExtractWith(ctx, c.forced, text)
	}
	ctx, span := c.tracer.Start(ctx, "extraction.chain",
		trace.WithAttributes(attribute.Int("text.length", len(text))))
	defer span.End()

	res := Result{Candidates: []Candidate{}}
	for _, in := range c.interpreters {
		candidates, err := c.attempt(ctx, in, text, &res)
		if err != nil {
			continue
		}
		res.Candidates = candidates
		res.Interpreter = in.Name()
		span.SetAttributes(
			attribute.String("extraction.interpreter", in.Name()),
			attribute.Int("extraction.candidates", len(candidates)),
		)
		return res, nil
	}

	span.SetStatus(codes.Error, ErrAllInterpretersFailed.Error())
	c.logger.Error("all interpreters failed", zap.Int("attempts", len(res.Attempts)))
	return res, ErrAllInterpretersFailed
}

// ExtractWith forces one interpreter. Unknown names yield
// ErrUnknownInterpreter; an interpreter missing credentials yields
// ErrNotConfigured. Any other failure is reported as
// ErrAllInterpretersFailed, as for Extract.
func (c *Chain) ExtractWith(ctx context.Context, name, text string) (Result, error) {
	in, ok := c.byName[name]
	if !ok {
		return Result{Candidates: []Candidate{}}, fmt.Errorf("%w: %q", ErrUnknownInterpreter, name)
	}

	ctx, span := c.tracer.Start(ctx, "extraction.chain",
		trace.WithAttributes(
			attribute.Int("text.length", len(text)),
			attribute.String("extraction.override", name),
		))
	defer span.End()

	res := Result{Candidates: []Candidate{}}
	candidates, err := c.attempt(ctx, in, text, &res)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if classify(err) == FailureUnavailable {
			return res, err
		}
		return res, fmt.Errorf("%w: %v", ErrAllInterpretersFailed, err)
	}
	res.Candidates = candidates
	res.Interpreter = name
	return res, nil
}

func (c *Chain) attempt(ctx context.Context, in Interpreter, text string, res *Result) ([]Candidate, error) {
	name := in.Name()
	start := time.Now()
	c.metrics.AttemptsTotal.WithLabelValues(name).Inc()

	candidates, err := in.Extract(ctx, text)
	c.metrics.Duration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		kind := classify(err)
		res.Attempts = append(res.Attempts, Attempt{Interpreter: name, Failure: kind, Error: err.Error()})
		c.metrics.FailuresTotal.WithLabelValues(name, string(kind)).Inc()
		c.logger.Warn("interpreter failed",
			zap.String("interpreter", name),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return nil, err
	}

	if candidates == nil {
		candidates = []Candidate{}
	}
	res.Attempts = append(res.Attempts, Attempt{Interpreter: name})
	c.metrics.CandidatesTotal.WithLabelValues(name).Add(float64(len(candidates)))
	c.logger.Debug("interpreter succeeded",
		zap.String("interpreter", name),
		zap.Int("candidates", len(candidates)),
		zap.Duration("duration", time.Since(start)))
	return candidates, nil
}

// Status reports each interpreter's availability in chain order without
// running an extraction.
func (c *Chain) Status(ctx context.Context) []Availability {
	out := make([]Availability, 0, len(c.interpreters))
	for _, in := range c.interpreters {
		a := in.Available(ctx)
		if a.Name == "" {
			a.Name = in.Name()
		}
		out = append(out, a)
	}
	return out
}
