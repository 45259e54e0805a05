package nats

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/resilience"
	"github.com/nats-io/nats.go"
)

type Queue struct {
	conn           *nats.Conn
	batchSubject   string
	processSubject string
	executor       *resilience.Executor
	logger         *slog.Logger
}

type Subjects struct {
	BatchCompleted  string
	ProcessRequests string
}

func New(url string, subjects Subjects) (*Queue, error) {
	return NewWithOptions(url, subjects, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	Executor             *resilience.Executor
	Logger               *slog.Logger
}

func NewWithOptions(url string, subjects Subjects, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if subjects.BatchCompleted == "" {
		subjects.BatchCompleted = "mailroom.batch.completed"
	}
	if subjects.ProcessRequests == "" {
		subjects.ProcessRequests = "mailroom.process.requested"
	}

	conn, err := nats.Connect(
		url,
		nats.Name("navi-mailroom"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:           conn,
		batchSubject:   subjects.BatchCompleted,
		processSubject: subjects.ProcessRequests,
		executor:       options.Executor,
		logger:         logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishBatchCompleted(ctx context.Context, event domain.BatchEvent) error {
	return q.publishJSON(ctx, q.batchSubject, event)
}

// PublishProcessRequest asks whichever worker is listening to run a batch.
func (q *Queue) PublishProcessRequest(ctx context.Context, req domain.ProcessRequest) error {
	return q.publishJSON(ctx, q.processSubject, req)
}

func (q *Queue) publishJSON(ctx context.Context, subject string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Do(ctx, publishOp, call, classify)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return resilience.AsTemporary(publishOp, err, classify)
	}
	return nil
}

// SubscribeProcessRequests runs handler for each request on a queue group
// until ctx is cancelled, then drains.
func (q *Queue) SubscribeProcessRequests(ctx context.Context, handler func(context.Context, domain.ProcessRequest) error) error {
	sub, err := q.conn.QueueSubscribe(q.processSubject, "mailroom-workers", func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		req, err := DecodeProcessRequest(msg.Data)
		if err != nil {
			q.logger.Warn("process_request_malformed", "subject", msg.Subject, "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, req); err != nil {
			q.logger.Error("process_request_failed", "mode", req.Mode, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// DecodeProcessRequest accepts a JSON request or a bare mode string.
func DecodeProcessRequest(data []byte) (domain.ProcessRequest, error) {
	trimmed := bytes.TrimSpace(data)
	var req domain.ProcessRequest
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &req); err != nil {
			return domain.ProcessRequest{}, fmt.Errorf("decode process request: %w", err)
		}
	} else {
		req.Mode = domain.Mode(trimmed)
	}
	mode, err := domain.ParseMode(string(req.Mode))
	if err != nil {
		return domain.ProcessRequest{}, err
	}
	req.Mode = mode
	return req, nil
}
