package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	mcpadapter "github.com/kirillkom/navi-mailroom/internal/adapters/mcp"
	"github.com/kirillkom/navi-mailroom/internal/config"
	"github.com/kirillkom/navi-mailroom/internal/core/ports"
	"github.com/kirillkom/navi-mailroom/internal/core/routing"
	"github.com/kirillkom/navi-mailroom/internal/core/usecase"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/auditlog"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/delivery"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/extractor/document"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/hashing"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/lineage/neo4j"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/lock"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/queue/nats"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/registry/jsonl"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/resilience"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/navi-mailroom/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Routing routing.Config
	Logger  *slog.Logger

	Storage *localfs.Storage
	Inbox   *localfs.Inbox
	Tree    *localfs.Tree
	Lock    *lock.BatchLock

	Pipeline  *usecase.Pipeline
	Approvals *usecase.ApprovalService
	Decisions *usecase.DecisionApplier
	Backfill  *usecase.Backfill

	// Optional collaborators; nil when not configured.
	Batches ports.BatchReader
	Queue   *nats.Queue

	HTTPMetrics *metrics.HTTPServerMetrics
	MCP         *mcpadapter.Server

	closeFns []func()
}

// New wires the mail room for one process role ("api", "worker", "cli").
// Postgres, NATS, Ollama and Neo4j are only connected when configured.
func New(ctx context.Context, cfg config.Config, role string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	routingCfg, err := config.LoadRoutingConfig(cfg.RoutingConfigPath)
	if err != nil {
		return nil, err
	}

	storage, err := localfs.New(cfg.NaviRoot)
	if err != nil {
		return nil, fmt.Errorf("init navi root: %w", err)
	}
	if err := os.MkdirAll(cfg.InboxDir, 0o755); err != nil {
		return nil, fmt.Errorf("init inbox: %w", err)
	}

	app := &App{
		Config:      cfg,
		Routing:     routingCfg,
		Logger:      logger,
		Storage:     storage,
		Inbox:       localfs.NewInbox(cfg.InboxDir),
		Tree:        localfs.NewTree(storage, cfg.InboxDir),
		Lock:        lock.NewBatchLock(storage.Path("process.lock"), role+":"+strconv.Itoa(os.Getpid())),
		HTTPMetrics: metrics.NewHTTPServerMetrics(role),
	}
	sidecars := localfs.NewSidecarStore()
	detector := routing.NewSignalDetector(routingCfg)
	deduper := usecase.NewDeduper(hashing.NewSHA256(), jsonl.New(cfg.SeenRegistryPath), routingCfg.Dedup, storage.Rel)

	deps := usecase.PipelineDeps{
		Inbox:     app.Inbox,
		Sidecars:  sidecars,
		Extractor: document.NewExtractor(0),
		Detector:  detector,
		Deduper:   deduper,
		Applier: delivery.NewApplier(storage, delivery.Options{
			DisablePackages: cfg.DisablePackages,
			Logger:          logger,
		}),
		Audit: auditlog.New(storage, auditlog.Options{Timeout: cfg.BatchLogTimeout}),
		Lock:  app.Lock,
	}

	policy := resilience.DefaultPolicy()
	policy.Attempts = cfg.RetryAttempts
	policy.Breaker = cfg.BreakerEnabled
	pipelineMetrics := metrics.NewPipelineMetrics(role, app.HTTPMetrics.Registry())
	newExecutor := func() *resilience.Executor {
		return resilience.NewExecutor(policy,
			resilience.WithLogger(logger),
			resilience.WithStateHook(pipelineMetrics.ObserveBreakerState),
		)
	}
	deps.Metrics = pipelineMetrics

	if cfg.OllamaURL != "" {
		client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, ollama.Options{
			Timeout:  cfg.AITimeout,
			Executor: newExecutor(),
		})
		deps.Classifier = ollama.NewClassifier(client)
	}

	if cfg.PostgresDSN != "" {
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		repo := postgres.NewBatchRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			app.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		deps.Archive = repo
		app.Batches = repo
		app.closeFns = append(app.closeFns, func() { _ = db.Close() })
	}

	if cfg.NATSURL != "" {
		queue, err := nats.NewWithOptions(cfg.NATSURL, nats.Subjects{
			BatchCompleted:  cfg.NATSBatchSubject,
			ProcessRequests: cfg.NATSProcessSubject,
		}, nats.Options{Executor: newExecutor(), Logger: logger})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		deps.Events = queue
		app.Queue = queue
		app.closeFns = append(app.closeFns, queue.Close)
	}

	if cfg.Neo4jURI != "" {
		recorder, err := neo4j.New(ctx, neo4j.Config{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init lineage graph: %w", err)
		}
		deps.Lineage = recorder
		app.closeFns = append(app.closeFns, func() { _ = recorder.Close(context.Background()) })
	}

	app.Pipeline = usecase.NewPipeline(deps, usecase.PipelineOptions{
		Routing:   routingCfg,
		AITimeout: cfg.AITimeout,
		Logger:    logger,
		Rel:       storage.Rel,
	})
	app.Approvals = usecase.NewApprovalService(
		localfs.NewApprovalStore(storage, cfg.InboxDir),
		sidecars,
		app.Lock,
		usecase.ApprovalOptions{Logger: logger, Rel: storage.Rel},
	)
	app.Decisions = usecase.NewDecisionApplier(app.Tree, sidecars, app.Lock, routingCfg, logger, storage.Rel)
	app.Backfill = usecase.NewBackfill(deduper, logger)
	if cfg.MCPEnabled {
		app.MCP = mcpadapter.New(app.Pipeline, routingCfg, mcpadapter.Options{
			Detector: detector,
			Metrics:  app.HTTPMetrics,
			Logger:   logger,
		})
	}
	return app, nil
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}
