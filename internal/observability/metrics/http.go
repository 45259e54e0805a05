package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	approvalsTotal *prometheus.CounterVec
	approvalMoves  *prometheus.CounterVec
	mcpToolCalls   *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailroom",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailroom",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mailroom",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	approvalsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailroom",
			Subsystem: "approval",
			Name:      "submissions_total",
			Help:      "Total approval submissions by outcome.",
		},
		[]string{"service", "outcome"},
	)
	approvalMoves := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailroom",
			Subsystem: "approval",
			Name:      "moves_total",
			Help:      "Files moved by approvals, by bucket.",
		},
		[]string{"service", "bucket"},
	)
	mcpToolCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailroom",
			Subsystem: "mcp",
			Name:      "tool_calls_total",
			Help:      "Total MCP tool calls by tool and status.",
		},
		[]string{"service", "tool", "status"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		approvalsTotal,
		approvalMoves,
		mcpToolCalls,
	)

	return &HTTPServerMetrics{
		registry:        registry,
		service:         service,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
		approvalsTotal:  approvalsTotal,
		approvalMoves:   approvalMoves,
		mcpToolCalls:    mcpToolCalls,
	}
}

// Registry lets pipeline collectors share the /metrics endpoint.
func (m *HTTPServerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware counts requests by route pattern so batch ids do not explode
// label cardinality.
func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := routeLabel(r.URL.Path)
		rec := &codeRecorder{ResponseWriter: w, code: http.StatusOK}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()
		next.ServeHTTP(rec, r)

		m.requestTotal.WithLabelValues(m.service, r.Method, route, strconv.Itoa(rec.code)).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/batches/"):
		return "/v1/batches/{batch_id}"
	case strings.HasPrefix(path, "/mcp"):
		return "/mcp"
	}
	switch path {
	case "/healthz", "/process", "/approval", "/approvals/audit", "/v1/batches", "/metrics":
		return path
	}
	return "other"
}

// RecordApproval counts one POST /approval outcome and the files it moved.
func (m *HTTPServerMetrics) RecordApproval(outcome string, movedByBucket map[string]int) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.approvalsTotal.WithLabelValues(m.service, outcome).Inc()
	for bucket, n := range movedByBucket {
		if n > 0 {
			m.approvalMoves.WithLabelValues(m.service, bucket).Add(float64(n))
		}
	}
}

func (m *HTTPServerMetrics) RecordToolCall(tool, status string) {
	m.mcpToolCalls.WithLabelValues(m.service, tool, status).Inc()
}

type codeRecorder struct {
	http.ResponseWriter
	code int
}

func (w *codeRecorder) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *codeRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *codeRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
