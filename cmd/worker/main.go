package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/navi-mailroom/internal/bootstrap"
	"github.com/kirillkom/navi-mailroom/internal/config"
	"github.com/kirillkom/navi-mailroom/internal/core/domain"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/lock"
	"github.com/kirillkom/navi-mailroom/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stdout, "mailroom-worker", cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if cfg.NATSURL == "" {
		logger.Error("worker_not_configured", "error", "NATS_URL is required")
		os.Exit(1)
	}
	guard, err := lock.AcquirePID(lock.PIDPath(cfg.NaviRoot, "worker"))
	if err != nil {
		logger.Error("pid_guard_failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = guard.Release() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "worker", logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           app.HTTPMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSProcessSubject)
	err = app.Queue.SubscribeProcessRequests(ctx, func(handlerCtx context.Context, req domain.ProcessRequest) error {
		batch, err := app.Pipeline.Run(handlerCtx, req.Mode)
		if domain.IsKind(err, domain.ErrBatchInProgress) {
			logger.Info("process_request_skipped", "mode", req.Mode, "requested_by", req.RequestedBy, "reason", "batch in progress")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("process_request_done", "batch_id", batch.ID, "items", len(batch.Items), "requested_by", req.RequestedBy)
		return nil
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
