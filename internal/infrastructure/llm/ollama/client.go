package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/resilience"
)

type Options struct {
	Timeout  time.Duration
	Executor *resilience.Executor
}

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, model string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.Executor,
	}
}

// Classifier asks the local model which department owns a document.
type Classifier struct {
	client *Client
}

func NewClassifier(client *Client) *Classifier {
	return &Classifier{client: client}
}

type classificationResponse struct {
	DocType    string  `json:"doc_type"`
	Department string  `json:"department"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (c *Classifier) Classify(ctx context.Context, filename, snippet string) (*domain.AIClassification, error) {
	respText, err := c.client.generateJSON(ctx, buildClassificationPrompt(filename, snippet))
	if err != nil {
		return nil, err
	}

	var raw classificationResponse
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &raw); err != nil {
		return nil, fmt.Errorf("parse classification json: %w", err)
	}
	return &domain.AIClassification{
		DocType:    strings.ToLower(strings.TrimSpace(raw.DocType)),
		Department: NormalizeDepartment(raw.Department, filename+" "+snippet),
		Confidence: domain.NormalizeConfidence(raw.Confidence),
		Reasoning:  strings.TrimSpace(raw.Reasoning),
	}, nil
}

const generateOp = "ollama.generate"

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format"`
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	in := generateRequest{Model: c.model, Prompt: prompt, Format: "json"}
	var out struct {
		Response string `json:"response"`
	}
	call := func(ctx context.Context) error {
		return c.post(ctx, "/api/generate", in, &out)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Do(ctx, generateOp, call, classify)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", resilience.AsTemporary(generateOp, err, classify)
	}
	return strings.TrimSpace(out.Response), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
