package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	batchTotal    *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	itemsTotal    *prometheus.CounterVec
	lockConflicts *prometheus.CounterVec
	auditDegraded *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
}

// NewPipelineMetrics registers on registry, or on a private one when nil.
func NewPipelineMetrics(service string, registry *prometheus.Registry) *PipelineMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	batchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailroom",
			Subsystem: "pipeline",
			Name:      "batches_total",
			Help:      "Total batch runs by status.",
		},
		[]string{"service", "status"},
	)
	batchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailroom",
			Subsystem: "pipeline",
			Name:      "batch_duration_seconds",
			Help:      "Batch run duration in seconds by status.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"service", "status"},
	)
	itemsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailroom",
			Subsystem: "pipeline",
			Name:      "items_total",
			Help:      "Processed items by terminal lifecycle state.",
		},
		[]string{"service", "state"},
	)
	lockConflicts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailroom",
			Subsystem: "pipeline",
			Name:      "lock_conflicts_total",
			Help:      "Batch triggers rejected because a batch was already running.",
		},
		[]string{"service"},
	)
	auditDegraded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailroom",
			Subsystem: "pipeline",
			Name:      "audit_degraded_total",
			Help:      "Batches whose audit record fell back to the emergency log.",
		},
		[]string{"service"},
	)

	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mailroom",
			Subsystem: "collaborator",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per outbound operation (0 closed, 1 half-open, 2 open).",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(batchTotal, batchDuration, itemsTotal, lockConflicts, auditDegraded, breakerState)

	return &PipelineMetrics{
		registry:      registry,
		service:       service,
		batchTotal:    batchTotal,
		batchDuration: batchDuration,
		itemsTotal:    itemsTotal,
		lockConflicts: lockConflicts,
		auditDegraded: auditDegraded,
		breakerState:  breakerState,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) ObserveBatch(status string, duration time.Duration) {
	if status == "" {
		status = "unknown"
	}
	m.batchTotal.WithLabelValues(m.service, status).Inc()
	m.batchDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveItem(state domain.State) {
	m.itemsTotal.WithLabelValues(m.service, string(state)).Inc()
}

func (m *PipelineMetrics) ObserveLockConflict() {
	m.lockConflicts.WithLabelValues(m.service).Inc()
}

func (m *PipelineMetrics) ObserveAuditDegraded() {
	m.auditDegraded.WithLabelValues(m.service).Inc()
}

// ObserveBreakerState matches resilience.StateHook.
func (m *PipelineMetrics) ObserveBreakerState(operation, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(v)
}
