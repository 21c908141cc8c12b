package http

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/deadlined/internal/http"

// HTTPMetrics instruments the deadlined API. Every series is labeled by
// method, route pattern and status, so the deadline CRUD routes, /extract,
// the per-source /ingestion routes and /chat each report as one endpoint
// regardless of the ids in the URL.
type HTTPMetrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	responseSize   metric.Int64Histogram
	activeRequests metric.Int64UpDownCounter
}

// NewHTTPMetrics registers the instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

// init creates the instruments. A failed instrument is logged and left nil;
// the middleware skips nil instruments rather than failing requests.
func (m *HTTPMetrics) init() {
	var err error

	m.requestsTotal, err = m.meter.Int64Counter(
		"deadlined.http.requests_total",
		metric.WithDescription("Total API requests by method, route pattern (/api/v1/deadlines/:id, /api/v1/ingestion/:source/messages, /api/v1/chat, etc.) and status code."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create requests counter", zap.Error(err))
	}

	// /extract and /chat wait on a local model, hence the 10s top bucket.
	m.requestDur, err = m.meter.Float64Histogram(
		"deadlined.http.request_duration_seconds",
		metric.WithDescription("API request duration in seconds by method, route pattern and status. Extraction and chat routes include model latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.responseSize, err = m.meter.Int64Histogram(
		"deadlined.http.response_size_bytes",
		metric.WithDescription("API response body size in bytes by method, route pattern and status. Unpaged deadline listings dominate the upper buckets."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 5000, 10000, 50000, 100000, 500000),
	)
	if err != nil {
		m.logger.Warn("failed to create response size histogram", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"deadlined.http.active_requests",
		metric.WithDescription("API requests currently in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active requests gauge", zap.Error(err))
	}
}

// MetricsMiddleware records count, latency and size for every request
// under its matched route pattern.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			if m.activeRequests != nil {
				m.activeRequests.Add(req.Context(), 1)
			}

			err := next(c)

			ctx := req.Context()
			opt := metric.WithAttributes(
				attribute.String("method", req.Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", c.Response().Status),
			)

			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, opt)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), opt)
			}
			if m.responseSize != nil {
				m.responseSize.Record(ctx, c.Response().Size, opt)
			}
			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, -1)
			}

			return err
		}
	}
}

// normalizePath returns the matched route pattern. Echo already reports
// parameterized routes as patterns (/api/v1/deadlines/:id,
// /api/v1/ingestion/:source/status); unmatched requests have an empty
// path and share one label.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
