// Package telemetry wires OpenTelemetry tracing and metrics for deadlined.
//
// Spans cover the interpreter chain ("extraction.chain", one child per
// interpreter attempt) and reminder dispatch ("notify.dispatch"). Export is
// via OTLP over gRPC or HTTP and is disabled by default.
//
//	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Tests use NewTestTelemetry, which records spans in memory.
package telemetry
