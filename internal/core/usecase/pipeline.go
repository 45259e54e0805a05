package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
	"github.com/kirillkom/navi-mailroom/internal/core/ports"
	"github.com/kirillkom/navi-mailroom/internal/core/routing"
)

const (
	largeArchiveBytes = 10 << 20
	maxSummaryRunes   = 240
	defaultAITimeout  = 8 * time.Second
)

var executableExts = map[string]bool{
	".exe": true, ".bat": true, ".cmd": true, ".com": true, ".scr": true, ".pif": true, ".msi": true, ".ps1": true,
}

var archiveExts = map[string]bool{
	".zip": true, ".rar": true, ".7z": true, ".tar": true, ".gz": true,
}

type PipelineDeps struct {
	Inbox      ports.InboxLister
	Sidecars   ports.SidecarStore
	Extractor  ports.TextExtractor
	Classifier ports.DocumentClassifier
	Detector   ports.EntityDetector
	Deduper    *Deduper
	Applier    ports.DeliveryApplier
	Audit      ports.BatchAuditLogger
	Lock       ports.BatchLock

	// Optional side channels; nil disables them.
	Events  ports.EventPublisher
	Archive ports.BatchArchive
	Lineage ports.LineageRecorder
	Metrics ports.PipelineMetrics
}

type PipelineOptions struct {
	Routing   routing.Config
	AITimeout time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
	// Rel renders absolute paths relative to the navi root for records.
	Rel func(string) string
}

// Pipeline runs one batch over the inbox at a time.
type Pipeline struct {
	deps PipelineDeps
	cfg  routing.Config

	aiTimeout time.Duration
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	rel       func(string) string
}

func NewPipeline(deps PipelineDeps, options PipelineOptions) *Pipeline {
	p := &Pipeline{
		deps:      deps,
		cfg:       options.Routing,
		aiTimeout: options.AITimeout,
		logger:    options.Logger,
		now:       options.Now,
		newID:     options.NewID,
		rel:       options.Rel,
	}
	if p.aiTimeout <= 0 {
		p.aiTimeout = defaultAITimeout
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newID == nil {
		p.newID = NewBatchIDGenerator(p.now)
	}
	if p.rel == nil {
		p.rel = func(path string) string { return path }
	}
	return p
}

// NewBatchIDGenerator returns a monotonic ULID source.
func NewBatchIDGenerator(now func() time.Time) func() string {
	var mu sync.Mutex
	entropy := ulid.Monotonic(rand.Reader, 0)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return ulid.MustNew(ulid.Timestamp(now()), entropy).String()
	}
}

func (p *Pipeline) Run(ctx context.Context, mode domain.Mode) (*domain.Batch, error) {
	start := p.now()
	release, err := p.deps.Lock.TryAcquire()
	if err != nil {
		if domain.IsKind(err, domain.ErrBatchInProgress) && p.deps.Metrics != nil {
			p.deps.Metrics.ObserveLockConflict()
		}
		return nil, err
	}
	defer release()

	batch := domain.NewBatch(p.newID(), mode, start)
	logger := p.logger.With("batch_id", batch.ID, "mode", string(mode))

	files, err := p.deps.Inbox.List(ctx)
	if err != nil {
		p.observeBatch("error", start)
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	logger.Info("batch_started", "files", len(files))

	for _, f := range files {
		it := p.processItem(ctx, batch, f, logger)
		batch.Items = append(batch.Items, it)
		if p.deps.Metrics != nil {
			p.deps.Metrics.ObserveItem(it.State)
		}
	}

	batch.Tally()
	batch.DurationMS = p.now().Sub(start).Milliseconds()

	outcome := p.writeAudit(ctx, batch, logger)
	if outcome.LogPath != "" {
		rel := p.rel(outcome.LogPath)
		batch.BatchLog = &rel
	}
	if outcome.EmergencyPath != "" {
		batch.EmergencyLog = p.rel(outcome.EmergencyPath)
	}

	p.publish(ctx, batch, outcome.Degraded, logger)

	status := "ok"
	if outcome.Degraded {
		status = "degraded"
	}
	p.observeBatch(status, start)
	logger.Info("batch_completed",
		"total", batch.Counts.Total,
		"auto_routed", batch.Counts.AutoRouted,
		"review_required", batch.Counts.ReviewRequired,
		"errors", batch.Counts.Errors,
		"duration_ms", batch.DurationMS,
		"degraded", outcome.Degraded,
	)
	return batch, nil
}

func (p *Pipeline) observeBatch(status string, start time.Time) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveBatch(status, p.now().Sub(start))
	}
}

// processItem never fails the batch; problems end up on the item.
func (p *Pipeline) processItem(ctx context.Context, batch *domain.Batch, f domain.InboxFile, logger *slog.Logger) *domain.Item {
	it := domain.NewItem(f.Path, f.ModifiedAt, f.Size)
	it.SidecarPath = f.Path + domain.SidecarSuffix
	logger = logger.With("file", it.Filename)

	if err := p.handleItem(ctx, batch, it, logger); err != nil {
		it.Error = err.Error()
		logger.Error("item_failed", "state", string(it.State), "error", err)
	}
	return it
}

func (p *Pipeline) handleItem(ctx context.Context, batch *domain.Batch, it *domain.Item, logger *slog.Logger) error {
	sc := p.readSidecar(ctx, it, logger)
	p.analyze(ctx, it, sc, logger)
	if err := it.Advance(domain.StateAnalyzed); err != nil {
		return err
	}

	if it.RiskFlags.Has(domain.RiskExecutable) {
		return p.quarantine(ctx, batch, it, logger)
	}

	var dedup DedupResult
	if p.deps.Deduper != nil {
		res, err := p.deps.Deduper.Check(ctx, it.SourcePath)
		if err != nil {
			logger.Warn("dedup_check_failed", "error", err)
		}
		dedup = res
		if p.deps.Deduper.ApplyPolicy(it, res) {
			return p.skipDuplicate(ctx, batch, it, dedup, logger)
		}
	}

	decision := routing.Decide(routing.Input{
		Filename: it.Filename,
		Text:     it.Snippet,
		Entities: it.Entities,
		AI:       it.AI,
	}, p.cfg)
	if batch.Mode == domain.ModeKB {
		decision = kbDecision(decision)
	}
	if decision.Entity == "" {
		it.RiskFlags.Add(domain.RiskUnclearOwnership)
	}
	if err := it.AttachDecision(decision); err != nil {
		return err
	}

	next := domain.StateReviewRequired
	switch {
	case batch.Mode == domain.ModeKB:
		next = domain.StateKBReviewRequired
	case decision.AutoRoute:
		next = domain.StateAutoRouted
	}
	if err := it.Advance(next); err != nil {
		return err
	}
	p.ensureSummary(it)
	if err := it.CheckReviewSummary(); err != nil {
		return err
	}
	p.writeSidecar(ctx, it, logger)

	if next == domain.StateAutoRouted {
		return p.deliver(ctx, batch, it, logger)
	}
	return p.hold(ctx, batch, it, domain.RouteReviewRequired, logger)
}

func (p *Pipeline) readSidecar(ctx context.Context, it *domain.Item, logger *slog.Logger) *domain.Sidecar {
	sc, err := p.deps.Sidecars.Read(ctx, it.SourcePath)
	if err != nil {
		logger.Warn("sidecar_read_failed", "error", err)
		return nil
	}
	return sc
}

// analyze gathers text, entities, risk flags and the AI hint. Every signal
// is optional.
func (p *Pipeline) analyze(ctx context.Context, it *domain.Item, sc *domain.Sidecar, logger *slog.Logger) {
	ext := it.Ext()
	if executableExts[ext] {
		it.RiskFlags.Add(domain.RiskExecutable)
	}
	if archiveExts[ext] && it.Size > largeArchiveBytes {
		it.RiskFlags.Add(domain.RiskLargeArchive)
	}

	if sc != nil {
		it.Snippet = sc.Snippet
		it.Entities = sc.DetectedEntities
		it.Summary = strings.TrimSpace(sc.Summary)
		it.AI = sc.AIClassification
	}
	if it.RiskFlags.Has(domain.RiskExecutable) {
		return
	}

	if it.Snippet == "" && p.deps.Extractor != nil {
		text, err := p.deps.Extractor.Extract(ctx, it.SourcePath)
		if err != nil {
			logger.Warn("extract_failed", "error", err)
		}
		it.Snippet = text
	}
	if len(it.Entities) == 0 && p.deps.Detector != nil {
		it.Entities = p.deps.Detector.Detect(ctx, it.Filename, it.Snippet)
	}
	if it.AI == nil && p.deps.Classifier != nil {
		it.AI = p.classify(ctx, it, logger)
	}
}

func (p *Pipeline) classify(ctx context.Context, it *domain.Item, logger *slog.Logger) *domain.AIClassification {
	aiCtx, cancel := context.WithTimeout(ctx, p.aiTimeout)
	defer cancel()
	ai, err := p.deps.Classifier.Classify(aiCtx, it.Filename, it.Snippet)
	if err != nil {
		logger.Warn("ai_classification_unavailable", "error", err)
		return nil
	}
	return ai
}

func kbDecision(d domain.Decision) domain.Decision {
	proposed := d.Route
	d.Reasons = append(d.Reasons, fmt.Sprintf("KB mode: rule %s proposed %s", d.RuleID, proposed))
	d.AutoRoute = false
	d.RuleID = routing.RuleKBReview
	d.RuleReason = "knowledge-base intake requires human review"
	return d
}

func (p *Pipeline) quarantine(ctx context.Context, batch *domain.Batch, it *domain.Item, logger *slog.Logger) error {
	if err := it.AttachDecision(domain.Decision{
		Route:      domain.RouteQuarantined,
		RuleID:     routing.RuleQuarantined,
		RuleReason: "executable file type",
		Reasons:    []string{fmt.Sprintf("extension %s is never delivered", it.Ext())},
	}); err != nil {
		return err
	}
	if err := it.Advance(domain.StateQuarantined); err != nil {
		return err
	}
	it.Summary = fmt.Sprintf("Executable file %s quarantined without analysis.", it.Filename)
	p.writeSidecar(ctx, it, logger)
	return p.hold(ctx, batch, it, domain.RouteQuarantined, logger)
}

func (p *Pipeline) skipDuplicate(ctx context.Context, batch *domain.Batch, it *domain.Item, res DedupResult, logger *slog.Logger) error {
	if err := it.AttachDecision(duplicateDecision(res)); err != nil {
		return err
	}
	if err := it.Advance(domain.StateArchived); err != nil {
		return err
	}
	p.ensureSummary(it)
	p.writeSidecar(ctx, it, logger)
	return p.hold(ctx, batch, it, domain.RouteDuplicateSkipped, logger)
}

// ensureSummary falls back to the classifier reasoning, then the text, then
// a fixed sentence flagged as missing_summary.
func (p *Pipeline) ensureSummary(it *domain.Item) {
	if strings.TrimSpace(it.Summary) != "" {
		return
	}
	if it.AI != nil && strings.TrimSpace(it.AI.Reasoning) != "" {
		it.Summary = strings.TrimSpace(it.AI.Reasoning)
		return
	}
	if excerpt := excerpt(it.Snippet, maxSummaryRunes); excerpt != "" {
		it.Summary = excerpt
		return
	}
	ext := strings.TrimPrefix(it.Ext(), ".")
	if ext == "" {
		ext = "unknown"
	}
	it.Summary = fmt.Sprintf("No extractable content. File type: %s. Routed for human review.", ext)
	it.RiskFlags.Add(domain.RiskMissingSummary)
}

func excerpt(text string, limit int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if len(runes) <= limit {
		return collapsed
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}

func (p *Pipeline) writeSidecar(ctx context.Context, it *domain.Item, logger *slog.Logger) {
	if err := p.deps.Sidecars.Write(ctx, it.SourcePath, domain.SidecarFromItem(it)); err != nil {
		logger.Warn("sidecar_write_failed", "error", err)
	}
}

func (p *Pipeline) routingMeta(batch *domain.Batch, it *domain.Item) domain.RoutingMeta {
	d := it.Decision
	return domain.RoutingMeta{
		BatchID:    batch.ID,
		RuleID:     d.RuleID,
		Entity:     d.Entity,
		Function:   d.Function,
		Confidence: d.Confidence,
		Reasons:    d.Reasons,
	}
}

// deliver moves an auto-routed item into its office tree. Failure demotes
// the item to human review.
func (p *Pipeline) deliver(ctx context.Context, batch *domain.Batch, it *domain.Item, logger *slog.Logger) error {
	target := p.cfg.PathsForRoute(it.Decision.Route)
	meta := p.routingMeta(batch, it)
	meta.RoutedTo = target.StorageRel
	meta.Office = target.Office

	res, err := p.deps.Applier.Apply(ctx, domain.DeliveryRequest{
		SourcePath:  it.SourcePath,
		SidecarPath: it.SidecarPath,
		Route:       it.Decision.Route,
		Meta:        meta,
		Checksum:    it.Hash,
	})
	if err != nil {
		logger.Warn("delivery_failed", "route", it.Decision.Route, "error", err)
		if advErr := it.Advance(domain.StateReviewRequired); advErr != nil {
			return errors.Join(err, advErr)
		}
		it.FailureReason = err.Error()
		p.ensureSummary(it)
		// A move that landed before the meta write failed still has its
		// sidecar next to the file; the item itself reports no destination.
		if res.Applied {
			p.finalizeSidecar(ctx, res.Destination, it, logger)
		} else {
			p.writeSidecar(ctx, it, logger)
		}
		return nil
	}

	if err := it.Advance(domain.StateMoved); err != nil {
		return err
	}
	it.Destination = p.rel(res.Destination)
	p.finalizeSidecar(ctx, res.Destination, it, logger)
	logger.Info("item_delivered", "route", it.Decision.Route, "rule_id", it.Decision.RuleID, "destination", it.Destination)
	return nil
}

// hold parks an item under a HOLDING area without changing its state.
func (p *Pipeline) hold(ctx context.Context, batch *domain.Batch, it *domain.Item, route string, logger *slog.Logger) error {
	res, err := p.deps.Applier.Apply(ctx, domain.DeliveryRequest{
		SourcePath:  it.SourcePath,
		SidecarPath: it.SidecarPath,
		Route:       route,
		Meta:        p.routingMeta(batch, it),
		Checksum:    it.Hash,
	})
	if err != nil {
		if it.FailureReason == "" {
			it.FailureReason = err.Error()
		}
		logger.Warn("hold_failed", "route", route, "error", err)
		p.writeSidecar(ctx, it, logger)
		return nil
	}
	it.Destination = p.rel(res.Destination)
	p.finalizeSidecar(ctx, res.Destination, it, logger)
	return nil
}

// finalizeSidecar stamps the final state onto the relocated sidecar while
// keeping what the applier recorded.
func (p *Pipeline) finalizeSidecar(ctx context.Context, filePath string, it *domain.Item, logger *slog.Logger) {
	sc, err := p.deps.Sidecars.Read(ctx, filePath)
	if err != nil || sc == nil {
		if err != nil {
			logger.Warn("sidecar_read_failed", "path", filePath, "error", err)
		}
		return
	}
	sc.State = it.State
	sc.Summary = it.Summary
	sc.RiskFlags = it.RiskFlags
	sc.Routing.FailureReason = it.FailureReason
	if err := p.deps.Sidecars.Write(ctx, filePath, *sc); err != nil {
		logger.Warn("sidecar_write_failed", "path", filePath, "error", err)
	}
}

func (p *Pipeline) writeAudit(ctx context.Context, batch *domain.Batch, logger *slog.Logger) domain.AuditOutcome {
	stats := batch.Stats(p.now())
	path, err := p.deps.Audit.LogBatch(ctx, stats)
	if err == nil {
		return domain.AuditOutcome{LogPath: path}
	}

	logger.Error("batch_log_failed", "error", err)
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveAuditDegraded()
	}
	outcome := domain.AuditOutcome{Degraded: true, Err: err}
	emergency, emErr := p.deps.Audit.WriteEmergency(ctx, stats, err)
	if emErr != nil {
		logger.Error("emergency_log_failed", "error", emErr)
		outcome.Err = errors.Join(err, emErr)
		return outcome
	}
	outcome.EmergencyPath = emergency
	logger.Warn("batch_log_degraded", "emergency_log", emergency)
	return outcome
}

// publish fans the finished batch out to optional sinks. Their failures are
// logged and never change the batch result.
func (p *Pipeline) publish(ctx context.Context, batch *domain.Batch, degraded bool, logger *slog.Logger) {
	if p.deps.Events != nil {
		event := domain.BatchEvent{
			BatchID:     batch.ID,
			Mode:        batch.Mode,
			Counts:      batch.Counts,
			BatchLog:    batch.BatchLog,
			Degraded:    degraded,
			CompletedAt: p.now().UTC(),
		}
		if err := p.deps.Events.PublishBatchCompleted(ctx, event); err != nil {
			logger.Warn("batch_event_publish_failed", "error", err)
		}
	}
	if p.deps.Archive != nil {
		if err := p.deps.Archive.SaveBatch(ctx, batch); err != nil {
			logger.Warn("batch_archive_failed", "error", err)
		}
	}
	if p.deps.Lineage != nil {
		if err := p.deps.Lineage.RecordBatch(ctx, batch); err != nil {
			logger.Warn("batch_lineage_failed", "error", err)
		}
	}
}
