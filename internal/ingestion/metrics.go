package ingestion

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for ingestion runners.
type Metrics struct {
	PollsTotal      *prometheus.CounterVec
	PollErrorsTotal *prometheus.CounterVec
	SnippetsTotal   *prometheus.CounterVec
	DuplicatesTotal *prometheus.CounterVec
	CreatedTotal    *prometheus.CounterVec
	RollbacksTotal  *prometheus.CounterVec
	RequeuedTotal   *prometheus.CounterVec
}

// NewMetrics registers the ingestion metrics once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		counter := func(name, help string) *prometheus.CounterVec {
			return promauto.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{"source"})
		}
		globalMetrics = &Metrics{
			PollsTotal:      counter("ingestion_polls_total", "Total number of source polls"),
			PollErrorsTotal: counter("ingestion_poll_errors_total", "Total number of failed source polls"),
			SnippetsTotal:   counter("ingestion_snippets_total", "Total number of snippets received"),
			DuplicatesTotal: counter("ingestion_duplicates_total", "Total number of snippets skipped as duplicates"),
			CreatedTotal:    counter("ingestion_deadlines_created_total", "Total number of deadlines created from snippets"),
			RollbacksTotal:  counter("ingestion_rollbacks_total", "Total number of snippet units rolled back"),
			RequeuedTotal:   counter("ingestion_requeued_total", "Total number of snippets handed back to their source on stop"),
		}
	})
	return globalMetrics
}
