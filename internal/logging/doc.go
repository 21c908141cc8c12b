// Package logging provides structured logging with OpenTelemetry integration.
//
// Logger wraps Zap with:
//   - a custom Trace level (-2, below Debug)
//   - dual output (stdout and OpenTelemetry)
//   - automatic context fields (trace_id, deadline.id, source, trigger.id)
//   - secret and phone-number redaction
//   - per-level sampling (errors never sampled)
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithSource(ctx, "chat")
//	ctx = logging.WithDeadlineID(ctx, d.ID)
//	logger.Info(ctx, "deadline created", zap.Time("due_at", d.DueAt))
//
// Long-lived components take a *zap.Logger; pass logger.Underlying().
//
// Use TestLogger for assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "reminder dispatched", zap.String("channel", "desktop"))
//	tl.AssertField(t, "reminder dispatched", "channel", "desktop")
package logging
