package daemon

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the daemon's operational Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	reconcileRuns     *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	reconcileChanges  *prometheus.CounterVec
	reconcileErrors   *prometheus.CounterVec
	requestsSubmitted *prometheus.CounterVec
}

// NewMetrics creates the daemon metric set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		reconcileRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ohjaamo_reconcile_runs_total",
			Help: "Number of reconciliation runs per scope",
		}, []string{"scope"}),
		reconcileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ohjaamo_reconcile_duration_seconds",
			Help:    "Duration of full-scope reconciliation runs",
			Buckets: prometheus.DefBuckets,
		}),
		reconcileChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ohjaamo_reconcile_changes_total",
			Help: "Records created, updated or deleted by reconciliation",
		}, []string{"scope", "change"}),
		reconcileErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ohjaamo_reconcile_errors_total",
			Help: "Reconciliation runs that ended with an error",
		}, []string{"scope"}),
		requestsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ohjaamo_requests_submitted_total",
			Help: "Requests handed to the executor",
		}, []string{"category"}),
	}
}

// Registry exposes the underlying registry for the metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordReconcile records one reconciliation run.
func (m *Metrics) RecordReconcile(scopeID string, d time.Duration, created, updated, deleted int, err error) {
	m.reconcileRuns.WithLabelValues(scopeID).Inc()
	m.reconcileDuration.Observe(d.Seconds())
	m.reconcileChanges.WithLabelValues(scopeID, "created").Add(float64(created))
	m.reconcileChanges.WithLabelValues(scopeID, "updated").Add(float64(updated))
	m.reconcileChanges.WithLabelValues(scopeID, "deleted").Add(float64(deleted))
	if err != nil {
		m.reconcileErrors.WithLabelValues(scopeID).Inc()
	}
}

// RecordRequestSubmitted records a request entering the executor queue.
func (m *Metrics) RecordRequestSubmitted(category string) {
	m.requestsSubmitted.WithLabelValues(category).Inc()
}
