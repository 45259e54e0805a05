package usecase

import (
	"context"
	"log/slog"
)

type BackfillReport struct {
	Scanned int      `json:"scanned"`
	Added   int      `json:"added"`
	Failed  int      `json:"failed"`
	Pending []string `json:"pending,omitempty"`
}

// Backfill seeds the seen registry from documents already on disk so they
// are recognised as duplicates if they reappear in the inbox.
type Backfill struct {
	deduper *Deduper
	logger  *slog.Logger
}

func NewBackfill(deduper *Deduper, logger *slog.Logger) *Backfill {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backfill{deduper: deduper, logger: logger}
}

// Run hashes up to limit paths (0 means all). A dry run lists the paths
// that would be added without touching the registry.
func (b *Backfill) Run(ctx context.Context, paths []string, limit int, dryRun bool) (BackfillReport, error) {
	var report BackfillReport
	pending := map[string]bool{}
	for _, path := range paths {
		if limit > 0 && report.Scanned >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		hash, err := b.deduper.hasher.HashFile(ctx, path)
		if err != nil {
			report.Failed++
			b.logger.Warn("backfill_hash_failed", "path", path, "error", err)
			continue
		}
		seen, err := b.deduper.registry.Lookup(ctx, hash)
		if err != nil {
			return report, err
		}
		if seen != nil || pending[hash] {
			continue
		}
		if dryRun {
			pending[hash] = true
			report.Pending = append(report.Pending, b.deduper.rel(path))
			report.Added++
			continue
		}
		if err := b.deduper.record(ctx, hash, path); err != nil {
			return report, err
		}
		report.Added++
	}
	b.logger.Info("backfill_completed", "scanned", report.Scanned, "added", report.Added, "failed", report.Failed, "dry_run", dryRun)
	return report, nil
}
