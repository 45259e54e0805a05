package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
	"github.com/kirillkom/navi-mailroom/internal/core/ports"
	"github.com/kirillkom/navi-mailroom/internal/core/routing"
)

const (
	ToolProcessInbox = "process_inbox"
	ToolDecideRoute  = "decide_route"
)

type ToolMetrics interface {
	RecordToolCall(tool, status string)
}

type Options struct {
	Version  string
	Detector ports.EntityDetector
	Metrics  ToolMetrics
	Logger   *slog.Logger
}

// Server exposes the mail room as MCP tools.
type Server struct {
	processor ports.BatchProcessor
	routing   routing.Config
	detector  ports.EntityDetector
	metrics   ToolMetrics
	logger    *slog.Logger
	mcp       *server.MCPServer
}

func New(processor ports.BatchProcessor, cfg routing.Config, options Options) *Server {
	version := options.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		processor: processor,
		routing:   cfg,
		detector:  options.Detector,
		metrics:   options.Metrics,
		logger:    options.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.mcp = server.NewMCPServer("navi-mailroom", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.mcp.AddTool(mcp.NewTool(ToolProcessInbox,
		mcp.WithDescription("Run one mail room batch over the inbox and return the batch summary."),
		mcp.WithString("mode",
			mcp.Description("DEFAULT routes automatically; KB holds every item for knowledge-base review."),
			mcp.Enum(string(domain.ModeDefault), string(domain.ModeKB)),
		),
	), s.instrument(ToolProcessInbox, s.handleProcessInbox))
	s.mcp.AddTool(mcp.NewTool(ToolDecideRoute,
		mcp.WithDescription("Preview the routing decision for a document without moving anything."),
		mcp.WithString("filename", mcp.Required(), mcp.Description("Document file name.")),
		mcp.WithString("text", mcp.Description("Extracted text snippet.")),
		mcp.WithArray("entities",
			mcp.Description("Detected entities as {entity, confidence}. Detected from text when omitted."),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"entity":     map[string]any{"type": "string"},
					"confidence": map[string]any{"type": "number"},
				},
			}),
		),
		mcp.WithString("doc_type", mcp.Description("AI document type, if known.")),
		mcp.WithString("department", mcp.Description("AI department, if known.")),
		mcp.WithNumber("ai_confidence", mcp.Description("AI confidence, 0-1 or 0-100.")),
	), s.instrument(ToolDecideRoute, s.handleDecideRoute))
	return s
}

func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp, server.WithStateLess(true))
}

func (s *Server) instrument(tool string, next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := next(ctx, req)
		status := "ok"
		switch {
		case err != nil:
			status = "error"
		case res != nil && res.IsError:
			status = "tool_error"
		}
		if s.metrics != nil {
			s.metrics.RecordToolCall(tool, status)
		}
		s.logger.Info("mcp_tool_call", "tool", tool, "status", status)
		return res, err
	}
}

type processSummary struct {
	Status   string             `json:"status"`
	BatchID  string             `json:"batch_id,omitempty"`
	Mode     domain.Mode        `json:"mode,omitempty"`
	Counts   domain.BatchCounts `json:"counts"`
	BatchLog *string            `json:"batch_log"`
	Items    []itemSummary      `json:"items,omitempty"`
}

type itemSummary struct {
	Filename    string       `json:"filename"`
	State       domain.State `json:"state"`
	Route       string       `json:"route,omitempty"`
	Destination string       `json:"destination,omitempty"`
	Error       string       `json:"error,omitempty"`
}

func (s *Server) handleProcessInbox(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode, err := domain.ParseMode(req.GetString("mode", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	batch, err := s.processor.Run(ctx, mode)
	if domain.IsKind(err, domain.ErrBatchInProgress) {
		return jsonResult(processSummary{Status: "conflict"})
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("process inbox: %v", err)), nil
	}

	out := processSummary{
		Status:   "ok",
		BatchID:  batch.ID,
		Mode:     batch.Mode,
		Counts:   batch.Counts,
		BatchLog: batch.BatchLog,
		Items:    make([]itemSummary, 0, len(batch.Items)),
	}
	for _, it := range batch.Items {
		row := itemSummary{Filename: it.Filename, State: it.State, Destination: it.Destination, Error: it.Error}
		if it.Decision != nil {
			row.Route = it.Decision.Route
		}
		out.Items = append(out.Items, row)
	}
	return jsonResult(out)
}

type routePreview struct {
	Decision domain.Decision          `json:"decision"`
	Target   routing.RouteTarget      `json:"target"`
	Entities []domain.EntityCandidate `json:"entities"`
}

func (s *Server) handleDecideRoute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filename, err := req.RequireString("filename")
	if err != nil || strings.TrimSpace(filename) == "" {
		return mcp.NewToolResultError("filename is required"), nil
	}
	text := req.GetString("text", "")

	entities, err := parseEntities(req.GetArguments()["entities"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if entities == nil && s.detector != nil {
		entities = s.detector.Detect(ctx, filename, text)
	}

	in := routing.Input{Filename: filename, Text: text, Entities: entities}
	docType, dept := req.GetString("doc_type", ""), req.GetString("department", "")
	if docType != "" || dept != "" {
		in.AI = &domain.AIClassification{
			DocType:    docType,
			Department: dept,
			Confidence: domain.NormalizeConfidence(req.GetFloat("ai_confidence", 0)),
		}
	}
	decision := routing.Decide(in, s.routing)
	return jsonResult(routePreview{
		Decision: decision,
		Target:   s.routing.PathsForRoute(decision.Route),
		Entities: entities,
	})
}

func parseEntities(raw any) ([]domain.EntityCandidate, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("entities must be an array")
	}
	out := make([]domain.EntityCandidate, 0, len(list))
	for i, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("entities[%d] must be an object", i)
		}
		name, _ := obj["entity"].(string)
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("entities[%d].entity is required", i)
		}
		conf, _ := obj["confidence"].(float64)
		out = append(out, domain.EntityCandidate{Entity: name, Confidence: domain.ConfidenceFraction(conf)})
	}
	return out, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
