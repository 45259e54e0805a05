package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kirillkom/navi-mailroom/internal/bootstrap"
	"github.com/kirillkom/navi-mailroom/internal/config"
	"github.com/kirillkom/navi-mailroom/internal/core/domain"
	"github.com/kirillkom/navi-mailroom/internal/core/routing"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/extractor/document"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/lock"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/queue/nats"
	"github.com/kirillkom/navi-mailroom/internal/observability/logging"
)

const usage = `usage: mailroomctl <command> [flags]

commands:
  run              run one batch over the inbox
  decide           preview the routing decision for one file
  clear-lock       remove a stale batch lock
  backfill-seen    seed the seen-file registry from documents on disk
  apply-decisions  apply a reviewer decisions file
  request          ask a worker to run a batch over NATS
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cfg := config.Load()
	logger := logging.New(stderr, "mailroomctl", "warn", "text")

	var err error
	switch args[0] {
	case "run":
		err = runBatch(ctx, cfg, logger, args[1:], stdout)
	case "decide":
		err = decide(ctx, cfg, args[1:], stdout)
	case "clear-lock":
		err = clearLock(cfg, args[1:], stdout)
	case "backfill-seen":
		err = backfillSeen(ctx, cfg, logger, args[1:], stdout)
	case "apply-decisions":
		err = applyDecisions(ctx, cfg, logger, args[1:], stdout)
	case "request":
		err = requestBatch(ctx, cfg, args[1:], stdout)
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
	if err == nil {
		return 0
	}
	if errors.Is(err, flag.ErrHelp) {
		return 2
	}
	fmt.Fprintf(stderr, "mailroomctl %s: %v\n", args[0], err)
	if domain.IsKind(err, domain.ErrBatchInProgress) {
		return 3
	}
	return 1
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runBatch(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	modeFlag := fs.String("mode", "DEFAULT", "batch mode: DEFAULT or KB")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mode, err := domain.ParseMode(*modeFlag)
	if err != nil {
		return err
	}

	app, err := bootstrap.New(ctx, cfg, "cli", logger)
	if err != nil {
		return err
	}
	defer app.Close()

	batch, err := app.Pipeline.Run(ctx, mode)
	if err != nil {
		return err
	}
	return printJSON(stdout, batch)
}

func decide(ctx context.Context, cfg config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("decide", flag.ContinueOnError)
	file := fs.String("file", "", "document to classify (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("%w: -file is required", domain.ErrInvalidInput)
	}
	if _, err := os.Stat(*file); err != nil {
		return err
	}

	routingCfg, err := config.LoadRoutingConfig(cfg.RoutingConfigPath)
	if err != nil {
		return err
	}
	text, err := document.NewExtractor(0).Extract(ctx, *file)
	if err != nil {
		return err
	}
	filename := filepath.Base(*file)
	entities := routing.NewSignalDetector(routingCfg).Detect(ctx, filename, text)
	decision := routing.Decide(routing.Input{Filename: filename, Text: text, Entities: entities}, routingCfg)

	return printJSON(stdout, map[string]any{
		"filename": filename,
		"entities": entities,
		"decision": decision,
		"target":   routingCfg.PathsForRoute(decision.Route),
	})
}

func clearLock(cfg config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("clear-lock", flag.ContinueOnError)
	force := fs.Bool("force", false, "clear the holder record even if a live process holds the lock")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := filepath.Join(cfg.NaviRoot, "process.lock")
	st, err := lock.InspectStale(path)
	if err != nil {
		return err
	}
	if !st.Exists {
		fmt.Fprintln(stdout, "no lock file")
		return nil
	}
	cleared, err := lock.ClearStale(path, *force)
	if err != nil {
		return err
	}
	switch {
	case !cleared:
	case st.Info != nil:
		fmt.Fprintf(stdout, "cleared %s (pid %d, acquired %s)\n", path, st.Info.PID, st.Info.AcquiredAt.Format(time.RFC3339))
	default:
		fmt.Fprintf(stdout, "cleared %s\n", path)
	}
	return nil
}

func backfillSeen(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("backfill-seen", flag.ContinueOnError)
	limit := fs.Int("limit", 0, "maximum files to hash (0 = all)")
	dryRun := fs.Bool("dry-run", false, "report without writing the registry")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := bootstrap.New(ctx, cfg, "cli", logger)
	if err != nil {
		return err
	}
	defer app.Close()

	roots := fs.Args()
	if len(roots) == 0 {
		roots = []string{app.Storage.Rel(cfg.InboxDir), "sorted"}
	}
	paths, err := app.Tree.Files(ctx, roots...)
	if err != nil {
		return err
	}
	report, err := app.Backfill.Run(ctx, paths, *limit, *dryRun)
	if err != nil {
		return err
	}
	return printJSON(stdout, report)
}

func applyDecisions(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("apply-decisions", flag.ContinueOnError)
	file := fs.String("file", "", "review decisions JSON (required)")
	apply := fs.Bool("apply", false, "move files instead of printing the plan")
	force := fs.Bool("force", false, "confirm -apply")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("%w: -file is required", domain.ErrInvalidInput)
	}
	raw, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	var decisions domain.ReviewDecisions
	if err := json.Unmarshal(raw, &decisions); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrInvalidInput, *file, err)
	}

	app, err := bootstrap.New(ctx, cfg, "cli", logger)
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.Decisions.Apply(ctx, decisions, *apply, *force)
	if err != nil {
		return err
	}
	return printJSON(stdout, report)
}

func requestBatch(ctx context.Context, cfg config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("request", flag.ContinueOnError)
	modeFlag := fs.String("mode", "DEFAULT", "batch mode: DEFAULT or KB")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mode, err := domain.ParseMode(*modeFlag)
	if err != nil {
		return err
	}
	if cfg.NATSURL == "" {
		return domain.WrapError(domain.ErrNotConfigured, "request batch", errors.New("NATS_URL is not set"))
	}
	queue, err := nats.New(cfg.NATSURL, nats.Subjects{
		BatchCompleted:  cfg.NATSBatchSubject,
		ProcessRequests: cfg.NATSProcessSubject,
	})
	if err != nil {
		return err
	}
	defer queue.Close()

	host, _ := os.Hostname()
	req := domain.ProcessRequest{Mode: mode, RequestedBy: "mailroomctl@" + host, RequestedAt: time.Now().UTC()}
	if err := queue.PublishProcessRequest(ctx, req); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "requested %s batch on %s\n", mode, cfg.NATSProcessSubject)
	return nil
}
