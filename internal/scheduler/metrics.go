package scheduler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the reminder engine.
type Metrics struct {
	Scheduled        prometheus.Gauge
	FiredTotal       *prometheus.CounterVec
	DroppedTotal     *prometheus.CounterVec
	CancelledTotal   prometheus.Counter
	DispatchDuration *prometheus.HistogramVec
	ReconcilesTotal  *prometheus.CounterVec
}

// NewMetrics registers the engine metrics once per process.
//
// Metrics:
//   - scheduler_triggers_scheduled
//   - scheduler_triggers_fired_total{channel}
//   - scheduler_triggers_dropped_total{reason}
//   - scheduler_triggers_cancelled_total
//   - scheduler_dispatch_duration_seconds{channel}
//   - scheduler_reconciles_total{result}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			Scheduled: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "scheduler_triggers_scheduled",
				Help: "Number of triggers waiting to fire",
			}),
			FiredTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "scheduler_triggers_fired_total",
					Help: "Total number of triggers fired",
				},
				[]string{"channel"},
			),
			DroppedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "scheduler_triggers_dropped_total",
					Help: "Total number of triggers dropped at insertion",
				},
				[]string{"reason"},
			),
			CancelledTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "scheduler_triggers_cancelled_total",
				Help: "Total number of scheduled triggers cancelled",
			}),
			DispatchDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "scheduler_dispatch_duration_seconds",
					Help:    "Duration of trigger dispatch in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"channel"},
			),
			ReconcilesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "scheduler_reconciles_total",
					Help: "Total number of store reconciliations",
				},
				[]string{"result"},
			),
		}
	})
	return globalMetrics
}
