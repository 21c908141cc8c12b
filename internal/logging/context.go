package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if v := stringValue(ctx, deadlineCtxKey{}); v != "" {
		fields = append(fields, zap.String("deadline.id", v))
	}
	if v := stringValue(ctx, sourceCtxKey{}); v != "" {
		fields = append(fields, zap.String("source", v))
	}
	if v := stringValue(ctx, triggerCtxKey{}); v != "" {
		fields = append(fields, zap.String("trigger.id", v))
	}
	if v := stringValue(ctx, requestCtxKey{}); v != "" {
		fields = append(fields, zap.String("request.id", v))
	}

	return fields
}

type deadlineCtxKey struct{}
type sourceCtxKey struct{}
type triggerCtxKey struct{}
type requestCtxKey struct{}

const maxIDLen = 256

// Trigger identities contain ':' separators; request ids come from clients.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_:.-]+$`)

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && idPattern.MatchString(id)
}

func stringValue(ctx context.Context, key any) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// WithDeadlineID adds a deadline id to context. Invalid ids are ignored.
func WithDeadlineID(ctx context.Context, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, deadlineCtxKey{}, id)
}

// WithSource adds an ingestion source name to context.
func WithSource(ctx context.Context, source string) context.Context {
	if !validID(source) {
		return ctx
	}
	return context.WithValue(ctx, sourceCtxKey{}, source)
}

// WithTriggerID adds a trigger identity to context.
func WithTriggerID(ctx context.Context, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, triggerCtxKey{}, id)
}

// WithRequestID adds an HTTP request id to context.
func WithRequestID(ctx context.Context, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// DeadlineIDFromContext returns the deadline id, or "".
func DeadlineIDFromContext(ctx context.Context) string {
	return stringValue(ctx, deadlineCtxKey{})
}

// SourceFromContext returns the ingestion source name, or "".
func SourceFromContext(ctx context.Context) string {
	return stringValue(ctx, sourceCtxKey{})
}

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
