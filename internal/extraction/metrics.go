package extraction

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the extractor chain.
type Metrics struct {
	AttemptsTotal   *prometheus.CounterVec
	FailuresTotal   *prometheus.CounterVec
	CandidatesTotal *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
}

// NewMetrics registers the chain metrics once per process.
//
// Metrics:
//   - extraction_attempts_total{interpreter}
//   - extraction_failures_total{interpreter,kind}
//   - extraction_candidates_total{interpreter}
//   - extraction_duration_seconds{interpreter}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			AttemptsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "extraction_attempts_total",
					Help: "Total number of interpreter attempts",
				},
				[]string{"interpreter"},
			),
			FailuresTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "extraction_failures_total",
					Help: "Total number of failed interpreter attempts",
				},
				[]string{"interpreter", "kind"},
			),
			CandidatesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "extraction_candidates_total",
					Help: "Total number of candidates produced",
				},
				[]string{"interpreter"},
			),
			Duration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "extraction_duration_seconds",
					Help:    "Duration of interpreter attempts in seconds",
					Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
				},
				[]string{"interpreter"},
			),
		}
	})
	return globalMetrics
}
