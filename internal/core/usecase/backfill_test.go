package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/navi-mailroom/internal/core/routing"
)

func TestBackfillSeedsRegistry(t *testing.T) {
	reg := &memRegistry{}
	hasher := fakeHasher{hashes: map[string]string{
		"/navi/sorted/a.pdf": "h1",
		"/navi/sorted/b.pdf": "h2",
		"/navi/inbox/c.pdf":  "h1",
	}}
	b := NewBackfill(NewDeduper(hasher, reg, routing.DedupConfig{}, nil), nil)

	report, err := b.Run(context.Background(), []string{"/navi/sorted/a.pdf", "/navi/sorted/b.pdf", "/navi/inbox/c.pdf"}, 0, false)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Scanned != 3 || report.Added != 2 || len(reg.entries) != 2 {
		t.Fatalf("report = %+v entries = %v", report, reg.entries)
	}
	if reg.entries[0].Filename != "a.pdf" {
		t.Fatalf("first entry = %+v", reg.entries[0])
	}
}

func TestBackfillDryRunAndLimit(t *testing.T) {
	reg := &memRegistry{}
	hasher := fakeHasher{hashes: map[string]string{"a": "h1", "b": "h1", "c": "h3"}}
	b := NewBackfill(NewDeduper(hasher, reg, routing.DedupConfig{}, nil), nil)

	report, err := b.Run(context.Background(), []string{"a", "b", "c"}, 2, true)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Scanned != 2 || report.Added != 1 || len(report.Pending) != 1 || len(reg.entries) != 0 {
		t.Fatalf("report = %+v entries = %v", report, reg.entries)
	}
}

func TestBackfillCountsHashFailures(t *testing.T) {
	b := NewBackfill(NewDeduper(fakeHasher{err: errors.New("denied")}, &memRegistry{}, routing.DedupConfig{}, nil), nil)
	report, err := b.Run(context.Background(), []string{"a", "b"}, 0, false)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Failed != 2 || report.Added != 0 {
		t.Fatalf("report = %+v", report)
	}
}
