package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/navi-mailroom/internal/config"
	"github.com/kirillkom/navi-mailroom/internal/core/domain"
	"github.com/kirillkom/navi-mailroom/internal/observability/metrics"
)

var testTime = time.Date(2026, 5, 6, 9, 30, 0, 0, time.UTC)

type fakeProcessor struct {
	batch   *domain.Batch
	err     error
	gotMode domain.Mode
}

func (f *fakeProcessor) Run(_ context.Context, mode domain.Mode) (*domain.Batch, error) {
	f.gotMode = mode
	return f.batch, f.err
}

type fakeApprovals struct {
	result   *domain.ApprovalResult
	err      error
	audit    []byte
	auditErr error
	got      *domain.ApprovalRequest
}

func (f *fakeApprovals) Submit(_ context.Context, req domain.ApprovalRequest) (*domain.ApprovalResult, error) {
	f.got = &req
	return f.result, f.err
}

func (f *fakeApprovals) AuditLog(context.Context) ([]byte, error) {
	return f.audit, f.auditErr
}

type fakeBatches struct {
	batch *domain.Batch
	err   error
}

func (f fakeBatches) GetBatch(_ context.Context, id string) (*domain.Batch, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.batch, nil
}

func (f fakeBatches) ListBatches(context.Context, int) ([]domain.BatchSummary, error) {
	return []domain.BatchSummary{{ID: f.batch.ID, Mode: f.batch.Mode}}, f.err
}

func newTestHandler(cfg config.Config) http.Handler {
	batch := domain.NewBatch("01JTEST", domain.ModeDefault, testTime)
	return NewRouter(cfg, &fakeProcessor{batch: batch}, &fakeApprovals{}, fakeBatches{batch: batch}).Handler()
}

func serve(t *testing.T, handler http.Handler, method, target string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", res.Body.String(), err)
	}
	return out
}

func TestProcessReturnsBatch(t *testing.T) {
	proc := &fakeProcessor{batch: domain.NewBatch("01JTEST", domain.ModeKB, testTime)}
	handler := NewRouter(config.Config{}, proc, nil, nil).Handler()

	res := serve(t, handler, http.MethodPost, "/process?mode=kb", nil, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	body := decodeBody(t, res)
	if body["status"] != "ok" || proc.gotMode != domain.ModeKB {
		t.Fatalf("body = %v mode = %s", body, proc.gotMode)
	}
	batch, _ := body["batch"].(map[string]any)
	if batch["batch_id"] != "01JTEST" {
		t.Fatalf("batch = %v", batch)
	}
}

func TestProcessStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		target string
		code   int
		status string
	}{
		{"conflict", domain.WrapError(domain.ErrBatchInProgress, "acquire", errors.New("held by pid 12")), "/process", http.StatusConflict, "conflict"},
		{"failure", errors.New("inbox unreadable"), "/process", http.StatusInternalServerError, "error"},
		{"bad mode", nil, "/process?mode=FAST", http.StatusBadRequest, "error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewRouter(config.Config{}, &fakeProcessor{err: tc.err}, nil, nil).Handler()
			res := serve(t, handler, http.MethodPost, tc.target, nil, nil)
			if res.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, res.Code)
			}
			if body := decodeBody(t, res); body["status"] != tc.status {
				t.Fatalf("body = %v", body)
			}
		})
	}
}

func TestProcessRejectsGet(t *testing.T) {
	res := serve(t, newTestHandler(config.Config{}), http.MethodGet, "/process", nil, nil)
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func approvalBody(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func validApproval() map[string]any {
	return map[string]any{
		"reviewer":    "Jane Doe",
		"snapshot_id": "snap-42",
		"items": []any{
			map[string]any{"filename": "memo.pdf", "decision": map[string]any{"dept": "CFO", "sensitivity": "normal"}},
		},
	}
}

func TestApprovalTokenGate(t *testing.T) {
	approvals := &fakeApprovals{result: &domain.ApprovalResult{OK: true}}
	body := approvalBody(t, validApproval())

	disabled := NewRouter(config.Config{}, nil, approvals, nil).Handler()
	if res := serve(t, disabled, http.MethodPost, "/approval", body, nil); res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without token, got %d", res.Code)
	}

	enabled := NewRouter(config.Config{MCPApprovalToken: "s3cret"}, nil, approvals, nil).Handler()
	for _, header := range []map[string]string{nil, {approvalTokenHeader: "wrong"}} {
		if res := serve(t, enabled, http.MethodPost, "/approval", body, header); res.Code != http.StatusForbidden {
			t.Fatalf("expected 403 for %v, got %d", header, res.Code)
		}
	}
	if approvals.got != nil {
		t.Fatal("service called without a valid token")
	}
}

func TestApprovalValidation(t *testing.T) {
	approvals := &fakeApprovals{result: &domain.ApprovalResult{OK: true}}
	handler := NewRouter(config.Config{MCPApprovalToken: "s3cret"}, nil, approvals, nil).Handler()
	header := map[string]string{approvalTokenHeader: "s3cret"}

	res := serve(t, handler, http.MethodPost, "/approval", []byte("{not json"), header)
	if res.Code != http.StatusBadRequest || decodeBody(t, res)["error"] != "Invalid JSON payload" {
		t.Fatalf("bad json: %d %s", res.Code, res.Body.String())
	}

	noItems := validApproval()
	noItems["items"] = []any{}
	noItems["snapshot_id"] = "../etc"
	res = serve(t, handler, http.MethodPost, "/approval", approvalBody(t, noItems), header)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	body := decodeBody(t, res)
	details, _ := body["details"].([]any)
	if body["error"] != "Invalid payload" || len(details) < 2 {
		t.Fatalf("body = %v", body)
	}
	if approvals.got != nil {
		t.Fatal("service called with invalid payload")
	}
}

func TestApprovalCreated(t *testing.T) {
	approvals := &fakeApprovals{result: &domain.ApprovalResult{OK: true, File: "approvals/2026-05-07/x.approval.json", MovedProcessed: 1}}
	registry := metrics.NewHTTPServerMetrics("api")
	handler := NewRouter(config.Config{MCPApprovalToken: "s3cret"}, nil, approvals, nil, WithMetrics(registry)).Handler()

	res := serve(t, handler, http.MethodPost, "/approval", approvalBody(t, validApproval()), map[string]string{approvalTokenHeader: "s3cret"})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if body := decodeBody(t, res); body["ok"] != true || body["moved_processed"] != float64(1) {
		t.Fatalf("body = %v", body)
	}
	if approvals.got == nil || approvals.got.Items[0].Decision.Dept != "CFO" {
		t.Fatalf("request = %+v", approvals.got)
	}

	scrape := serve(t, handler, http.MethodGet, "/metrics", nil, nil)
	if !strings.Contains(scrape.Body.String(), `mailroom_approval_submissions_total{outcome="ok",service="api"} 1`) {
		t.Fatalf("approval metric missing:\n%s", scrape.Body.String())
	}
}

func TestApprovalServiceErrorsMapToStatus(t *testing.T) {
	approvals := &fakeApprovals{err: domain.WrapError(domain.ErrBatchInProgress, "approval", errors.New("batch running"))}
	handler := NewRouter(config.Config{MCPApprovalToken: "s3cret"}, nil, approvals, nil).Handler()
	res := serve(t, handler, http.MethodPost, "/approval", approvalBody(t, validApproval()), map[string]string{approvalTokenHeader: "s3cret"})
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestApprovalAudit(t *testing.T) {
	missing := NewRouter(config.Config{}, nil, &fakeApprovals{auditErr: domain.WrapError(domain.ErrNotFound, "audit", errors.New("no file"))}, nil).Handler()
	if res := serve(t, missing, http.MethodGet, "/approvals/audit", nil, nil); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}

	present := NewRouter(config.Config{}, nil, &fakeApprovals{audit: []byte("line one\n")}, nil).Handler()
	res := serve(t, present, http.MethodGet, "/approvals/audit", nil, nil)
	if res.Code != http.StatusOK || res.Body.String() != "line one\n" {
		t.Fatalf("audit = %d %q", res.Code, res.Body.String())
	}
	if !strings.HasPrefix(res.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("content type = %s", res.Header().Get("Content-Type"))
	}
}

func TestGetBatchReturns404ForNotFound(t *testing.T) {
	handler := NewRouter(config.Config{}, nil, nil, fakeBatches{
		err: domain.WrapError(domain.ErrNotFound, "get batch", errors.New("id=missing")),
	}).Handler()

	res := serve(t, handler, http.MethodGet, "/v1/batches/missing", nil, nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestBatchesWithoutArchiveReturn503(t *testing.T) {
	handler := NewRouter(config.Config{}, nil, nil, nil).Handler()
	res := serve(t, handler, http.MethodGet, "/v1/batches", nil, nil)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestListBatchesRejectsBadLimit(t *testing.T) {
	res := serve(t, newTestHandler(config.Config{}), http.MethodGet, "/v1/batches?limit=zero", nil, nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	res = serve(t, newTestHandler(config.Config{}), http.MethodGet, "/v1/batches?limit=5", nil, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestRequestIDIsEchoedAndLogged(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	batch := domain.NewBatch("01JTEST", domain.ModeDefault, testTime)
	handler := NewRouter(config.Config{}, &fakeProcessor{batch: batch}, &fakeApprovals{}, fakeBatches{batch: batch}, WithLogger(logger)).Handler()

	res := serve(t, handler, http.MethodGet, "/healthz", nil, map[string]string{requestIDHeader: "req-1"})
	if res.Header().Get(requestIDHeader) != "req-1" {
		t.Fatalf("request id = %q", res.Header().Get(requestIDHeader))
	}
	if !strings.Contains(logs.String(), `"request_id":"req-1"`) || !strings.Contains(logs.String(), `"msg":"http_request"`) {
		t.Fatalf("access log = %s", logs.String())
	}

	res = serve(t, handler, http.MethodGet, "/healthz", nil, map[string]string{requestIDHeader: "bad id with spaces"})
	if got := res.Header().Get(requestIDHeader); got == "" || strings.Contains(got, " ") {
		t.Fatalf("unsafe request id echoed: %q", got)
	}
}
