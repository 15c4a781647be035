// Package metrics exposes Prometheus instrumentation for task processing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the agent's collectors. A nil *Metrics is a valid no-op
// recorder so tests and trimmed-down deployments need no registry.
type Metrics struct {
	registry *prometheus.Registry

	tasksTotal   *prometheus.CounterVec
	retriesTotal *prometheus.CounterVec
	poolInFlight *prometheus.GaugeVec
	taskSeconds  *prometheus.HistogramVec
}

// New registers the agent collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskexec_tasks_total",
			Help: "Tasks reaching a terminal outcome.",
		}, []string{"resource_type", "operation", "outcome"}),
		retriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskexec_task_retries_total",
			Help: "Re-attempts after transient failures.",
		}, []string{"resource_type"}),
		poolInFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "taskexec_pool_in_flight",
			Help: "Tasks currently executing per worker pool.",
		}, []string{"pool"}),
		taskSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskexec_task_duration_seconds",
			Help:    "Wall time from pickup to terminal outcome.",
			Buckets: prometheus.ExponentialBuckets(0.1, 3, 8),
		}, []string{"resource_type", "operation"}),
	}
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TaskFinished records a terminal outcome and its duration.
func (m *Metrics) TaskFinished(resourceType, operation string, success bool, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "done"
	}
	m.tasksTotal.WithLabelValues(resourceType, operation, outcome).Inc()
	m.taskSeconds.WithLabelValues(resourceType, operation).Observe(took.Seconds())
}

// TaskRetried records one re-attempt.
func (m *Metrics) TaskRetried(resourceType string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(resourceType).Inc()
}

// PoolEnter marks a task entering a pool slot.
func (m *Metrics) PoolEnter(pool string) {
	if m == nil {
		return
	}
	m.poolInFlight.WithLabelValues(pool).Inc()
}

// PoolExit marks a task leaving a pool slot.
func (m *Metrics) PoolExit(pool string) {
	if m == nil {
		return
	}
	m.poolInFlight.WithLabelValues(pool).Dec()
}
