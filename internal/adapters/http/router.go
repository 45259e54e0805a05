package httpadapter

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/navi-mailroom/internal/config"
	"github.com/kirillkom/navi-mailroom/internal/core/domain"
	"github.com/kirillkom/navi-mailroom/internal/core/ports"
	"github.com/kirillkom/navi-mailroom/internal/observability/metrics"
)

const (
	approvalTokenHeader = "X-MCP-Approval-Token"
	maxApprovalBytes    = 1 << 20
	defaultBatchList    = 20
)

type Router struct {
	cfg       config.Config
	processor ports.BatchProcessor
	approvals ports.ApprovalService
	batches   ports.BatchReader

	metrics *metrics.HTTPServerMetrics
	mcp     http.Handler
	logger  *slog.Logger
	now     func() time.Time
}

type RouterOption func(*Router)

func WithMetrics(m *metrics.HTTPServerMetrics) RouterOption {
	return func(rt *Router) { rt.metrics = m }
}

// WithMCP mounts a streamable MCP handler under /mcp.
func WithMCP(h http.Handler) RouterOption {
	return func(rt *Router) { rt.mcp = h }
}

func WithLogger(l *slog.Logger) RouterOption {
	return func(rt *Router) {
		if l != nil {
			rt.logger = l
		}
	}
}

func NewRouter(
	cfg config.Config,
	processor ports.BatchProcessor,
	approvals ports.ApprovalService,
	batches ports.BatchReader,
	opts ...RouterOption,
) *Router {
	rt := &Router{
		cfg:       cfg,
		processor: processor,
		approvals: approvals,
		batches:   batches,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /process", rt.process)
	mux.HandleFunc("POST /approval", rt.approval)
	mux.HandleFunc("GET /approvals/audit", rt.approvalAudit)
	mux.HandleFunc("GET /v1/batches", rt.listBatches)
	mux.HandleFunc("GET /v1/batches/{batch_id}", rt.getBatch)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	if rt.mcp != nil {
		mux.Handle("/mcp", rt.mcp)
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIInFlightWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	return rt.observe(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type processResponse struct {
	Status    string        `json:"status"`
	Batch     *domain.Batch `json:"batch,omitempty"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

func (rt *Router) process(w http.ResponseWriter, r *http.Request) {
	var modeParam *string
	if err := runtime.BindQueryParameter("form", true, false, "mode", r.URL.Query(), &modeParam); err != nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "bind mode", err))
		return
	}
	raw := ""
	if modeParam != nil {
		raw = *modeParam
	}
	mode, err := domain.ParseMode(raw)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if rt.processor == nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrNotConfigured, "process", errors.New("pipeline is not wired")))
		return
	}

	batch, err := rt.processor.Run(r.Context(), mode)
	now := rt.now().UTC()
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, processResponse{Status: "ok", Batch: batch, Timestamp: now})
	case domain.IsKind(err, domain.ErrBatchInProgress):
		writeJSON(w, http.StatusConflict, processResponse{Status: "conflict", Message: "Process already running", Timestamp: now})
	default:
		requestLogger(r.Context(), rt.logger).Error("process_failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, processResponse{Status: "error", Error: err.Error(), Timestamp: now})
	}
}

type approvalErrorResponse struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func (rt *Router) approval(w http.ResponseWriter, r *http.Request) {
	token := rt.cfg.MCPApprovalToken
	if token == "" {
		rt.recordApproval("not_configured", nil)
		writeJSON(w, http.StatusServiceUnavailable, approvalErrorResponse{Error: "Approval endpoint disabled: MCP_APPROVAL_TOKEN not configured"})
		return
	}
	provided := r.Header.Get(approvalTokenHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
		rt.recordApproval("forbidden", nil)
		writeJSON(w, http.StatusForbidden, approvalErrorResponse{Error: "Forbidden"})
		return
	}
	if rt.approvals == nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrNotConfigured, "approval", errors.New("approval service is not wired")))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxApprovalBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, approvalErrorResponse{Error: "Invalid JSON payload", Details: []string{err.Error()}})
		return
	}
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		rt.recordApproval("invalid", nil)
		writeJSON(w, http.StatusBadRequest, approvalErrorResponse{Error: "Invalid JSON payload", Details: []string{err.Error()}})
		return
	}
	if details := validateApprovalPayload(raw); len(details) > 0 {
		rt.recordApproval("invalid", nil)
		writeJSON(w, http.StatusBadRequest, approvalErrorResponse{Error: "Invalid payload", Details: details})
		return
	}
	var req domain.ApprovalRequest
	if err := json.Unmarshal(body, &req); err != nil {
		rt.recordApproval("invalid", nil)
		writeJSON(w, http.StatusBadRequest, approvalErrorResponse{Error: "Invalid payload", Details: []string{err.Error()}})
		return
	}

	result, err := rt.approvals.Submit(r.Context(), req)
	if err != nil {
		rt.recordApproval("error", nil)
		rt.writeError(w, r, err)
		return
	}
	rt.recordApproval("ok", map[string]int{
		domain.BucketProcessed: result.MovedProcessed,
		domain.BucketEscalated: result.MovedEscalated,
		domain.BucketRejected:  result.MovedRejected,
	})
	writeJSON(w, http.StatusCreated, result)
}

func (rt *Router) recordApproval(outcome string, moved map[string]int) {
	if rt.metrics != nil {
		rt.metrics.RecordApproval(outcome, moved)
	}
}

func (rt *Router) approvalAudit(w http.ResponseWriter, r *http.Request) {
	if rt.approvals == nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrNotConfigured, "approval audit", errors.New("approval service is not wired")))
		return
	}
	data, err := rt.approvals.AuditLog(r.Context())
	if domain.IsKind(err, domain.ErrNotFound) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "No audit log yet\n")
		return
	}
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (rt *Router) listBatches(w http.ResponseWriter, r *http.Request) {
	if rt.batches == nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrNotConfigured, "list batches", errors.New("batch archive is not configured")))
		return
	}
	limit := defaultBatchList
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "list batches", errors.New("limit must be a positive integer")))
			return
		}
		limit = n
	}
	batches, err := rt.batches.ListBatches(r.Context(), limit)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (rt *Router) getBatch(w http.ResponseWriter, r *http.Request) {
	if rt.batches == nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrNotConfigured, "get batch", errors.New("batch archive is not configured")))
		return
	}
	var batchID string
	err := runtime.BindStyledParameterWithOptions("simple", "batch_id", r.PathValue("batch_id"), &batchID, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "bind batch_id", err))
		return
	}
	batch, err := rt.batches.GetBatch(r.Context(), batchID)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		requestLogger(r.Context(), rt.logger).Error("request_failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"status": "error", "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
