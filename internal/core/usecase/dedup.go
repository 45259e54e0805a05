package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
	"github.com/kirillkom/navi-mailroom/internal/core/ports"
	"github.com/kirillkom/navi-mailroom/internal/core/routing"
)

const ReasonDuplicateDetected = "DUPLICATE_DETECTED"

type DedupResult struct {
	Hash      string
	Duplicate bool
	// FirstSeen is the registry entry that claimed the hash first.
	FirstSeen *domain.SeenEntry
}

// Deduper hashes files and consults the append-only seen registry.
type Deduper struct {
	hasher   ports.ContentHasher
	registry ports.SeenRegistry
	cfg      routing.DedupConfig
	rel      func(string) string
	now      func() time.Time
}

func NewDeduper(hasher ports.ContentHasher, registry ports.SeenRegistry, cfg routing.DedupConfig, rel func(string) string) *Deduper {
	if rel == nil {
		rel = func(p string) string { return p }
	}
	return &Deduper{hasher: hasher, registry: registry, cfg: cfg, rel: rel, now: time.Now}
}

func (d *Deduper) Enabled() bool {
	return d != nil && d.registry != nil && d.cfg.IsEnabled()
}

func (d *Deduper) Policy() string {
	return d.cfg.Policy
}

// Check hashes path and records it when the hash is new. A hash already in
// the registry is reported as a duplicate and never re-recorded, unless the
// entry points at path itself: a file left in the inbox by a failed delivery
// is not a copy of itself.
func (d *Deduper) Check(ctx context.Context, path string) (DedupResult, error) {
	hash, err := d.hasher.HashFile(ctx, path)
	if err != nil {
		return DedupResult{}, fmt.Errorf("hash file: %w", err)
	}
	if !d.Enabled() {
		return DedupResult{Hash: hash}, nil
	}

	entry, err := d.registry.Lookup(ctx, hash)
	if err != nil {
		return DedupResult{Hash: hash}, fmt.Errorf("lookup seen registry: %w", err)
	}
	if entry != nil {
		if entry.Path == d.rel(path) {
			return DedupResult{Hash: hash}, nil
		}
		return DedupResult{Hash: hash, Duplicate: true, FirstSeen: entry}, nil
	}

	if err := d.record(ctx, hash, path); err != nil {
		return DedupResult{Hash: hash}, err
	}
	return DedupResult{Hash: hash}, nil
}

func (d *Deduper) record(ctx context.Context, hash, path string) error {
	if err := d.registry.Append(ctx, domain.SeenEntry{
		Hash:      hash,
		Path:      d.rel(path),
		Filename:  filepath.Base(path),
		FirstSeen: d.now().UTC(),
	}); err != nil {
		return fmt.Errorf("append seen registry: %w", err)
	}
	return nil
}

// ApplyPolicy records a duplicate on the item and reports whether routing
// must be replaced by the skip sentinel.
func (d *Deduper) ApplyPolicy(it *domain.Item, res DedupResult) (skip bool) {
	it.Hash = res.Hash
	if !res.Duplicate {
		return false
	}
	it.DuplicateOf = res.FirstSeen
	it.RiskFlags.Add(domain.RiskDuplicate)
	switch d.cfg.Policy {
	case routing.DedupPolicySkip:
		return true
	case routing.DedupPolicyTag:
		it.ReasonCode = ReasonDuplicateDetected
	}
	return false
}

func duplicateDecision(res DedupResult) domain.Decision {
	reason := "content hash already seen"
	if res.FirstSeen != nil {
		reason = fmt.Sprintf("content matches %s first seen %s", res.FirstSeen.Filename, res.FirstSeen.FirstSeen.Format(time.RFC3339))
	}
	return domain.Decision{
		Route:      domain.RouteDuplicateSkipped,
		RuleID:     routing.RuleDuplicateSkipped,
		RuleReason: "duplicate content",
		Reasons:    []string{reason},
	}
}
