package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/navi-mailroom/internal/adapters/http"
	"github.com/kirillkom/navi-mailroom/internal/bootstrap"
	"github.com/kirillkom/navi-mailroom/internal/config"
	"github.com/kirillkom/navi-mailroom/internal/core/domain"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/lock"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/watcher"
	"github.com/kirillkom/navi-mailroom/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stdout, "mailroom-api", cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	guard, err := lock.AcquirePID(lock.PIDPath(cfg.NaviRoot, "api"))
	if err != nil {
		logger.Error("pid_guard_failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = guard.Release() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "api", logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	clearStaleLock(app, logger)

	opts := []httpadapter.RouterOption{
		httpadapter.WithMetrics(app.HTTPMetrics),
		httpadapter.WithLogger(logger),
	}
	if app.MCP != nil {
		opts = append(opts, httpadapter.WithMCP(app.MCP.Handler()))
	}
	router := httpadapter.NewRouter(cfg, app.Pipeline, app.Approvals, app.Batches, opts...).Handler()
	server := &http.Server{
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		logger.Error("api_listen_failed", "port", cfg.APIPort, "error", err)
		os.Exit(1)
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "navi_root", app.Storage.Root(), "inbox", cfg.InboxDir)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	watchDone := make(chan struct{})
	if cfg.WatchEnabled {
		w := watcher.New(cfg.InboxDir, app.Inbox, func(ctx context.Context) error {
			_, err := app.Pipeline.Run(ctx, domain.ModeDefault)
			return err
		}, cfg.WatchDebounce, logger)
		go func() {
			defer close(watchDone)
			if err := w.Run(ctx); err != nil {
				logger.Error("inbox_watcher_failed", "error", err)
			}
		}()
	} else {
		close(watchDone)
	}

	<-ctx.Done()
	logger.Info("api_shutting_down", "grace", cfg.ShutdownGrace.String())

	forced := time.AfterFunc(cfg.ShutdownGrace+time.Second, func() {
		logger.Error("api_forced_exit", "reason", "shutdown grace exceeded")
		os.Exit(1)
	})
	defer forced.Stop()

	<-watchDone
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}

// clearStaleLock removes a batch lock left by a crashed process.
func clearStaleLock(app *bootstrap.App, logger *slog.Logger) {
	st, err := lock.InspectStale(app.Lock.Path())
	if err != nil {
		logger.Warn("batch_lock_inspect_failed", "error", err)
		return
	}
	if !st.Exists || st.Held {
		return
	}
	if _, err := lock.ClearStale(app.Lock.Path(), false); err != nil {
		logger.Warn("batch_lock_clear_failed", "error", err)
		return
	}
	logger.Info("batch_lock_cleared", "pid", st.Info.PID, "acquired_at", st.Info.AcquiredAt)
}
