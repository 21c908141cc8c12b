package notify

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for notification delivery.
type Metrics struct {
	SentTotal   *prometheus.CounterVec
	FailedTotal *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
}

// NewMetrics registers the delivery metrics once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			SentTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "notify_sent_total",
					Help: "Total number of delivered notifications",
				},
				[]string{"channel"},
			),
			FailedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "notify_failed_total",
					Help: "Total number of failed notification deliveries",
				},
				[]string{"channel"},
			),
			Duration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "notify_duration_seconds",
					Help:    "Notification delivery duration in seconds",
					Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
				},
				[]string{"channel"},
			),
		}
	})
	return globalMetrics
}
