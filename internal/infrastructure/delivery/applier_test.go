package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/storage/localfs"
)

var fixedNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func newTestApplier(t *testing.T, disablePackages bool) (*Applier, *localfs.Storage) {
	t.Helper()
	storage, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New() error = %v", err)
	}
	return NewApplier(storage, Options{
		DisablePackages: disablePackages,
		Now:             func() time.Time { return fixedNow },
	}), storage
}

func writeInboxFile(t *testing.T, storage *localfs.Storage, name, body string, withSidecar bool) string {
	t.Helper()
	path := storage.Path("inbox", name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if withSidecar {
		if err := localfs.WriteJSONAtomic(localfs.SidecarPath(path), domain.Sidecar{Filename: name, Route: "DDM.Finance"}); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestResolveDestinationPatterns(t *testing.T) {
	applier, storage := newTestApplier(t, true)
	cases := []struct {
		route string
		meta  domain.RoutingMeta
		want  string
	}{
		{"DDM.Finance", domain.RoutingMeta{RoutedTo: "sorted/DDM/Finance/INBOX"}, "sorted/DDM/Finance/INBOX"},
		{"ops.agent7", domain.RoutingMeta{}, "agents/agent7/inbox"},
		{domain.RouteDuplicateSkipped, domain.RoutingMeta{BatchID: "b1"}, "HOLDING/duplicates/b1"},
		{domain.RouteReviewRequired, domain.RoutingMeta{}, "HOLDING/review/unknown"},
		{domain.RouteQuarantined, domain.RoutingMeta{BatchID: "b2"}, "HOLDING/quarantine/b2"},
		{"mail_room.rejected", domain.RoutingMeta{}, "rejected/2026-03-04"},
		{"misc", domain.RoutingMeta{}, "processed/2026-03-04"},
	}
	for _, tc := range cases {
		got, err := applier.ResolveDestination(tc.route, tc.meta)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.route, err)
		}
		if storage.Rel(got) != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.route, storage.Rel(got), tc.want)
		}
	}

	if _, err := applier.ResolveDestination("x", domain.RoutingMeta{RoutedTo: "../../etc"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected escape to be rejected, got %v", err)
	}
}

func TestApplyMovesFileSidecarAndWritesMeta(t *testing.T) {
	applier, storage := newTestApplier(t, true)
	src := writeInboxFile(t, storage, "invoice_ddm.txt", "Account No: 1234567", true)

	res, err := applier.Apply(context.Background(), domain.DeliveryRequest{
		SourcePath:  src,
		SidecarPath: localfs.SidecarPath(src),
		Route:       "DDM.Finance",
		Meta:        domain.RoutingMeta{RoutedTo: "sorted/DDM/Finance/INBOX", BatchID: "b1", Confidence: 90},
		Checksum:    "abc",
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !res.Applied || storage.Rel(res.Destination) != "sorted/DDM/Finance/INBOX/invoice_ddm.txt" {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source must be moved")
	}

	var meta domain.DeliveryMeta
	if err := localfs.ReadJSON(res.MetaPath, &meta); err != nil {
		t.Fatalf("read meta: %v", err)
	}
	if meta.RoutedFrom != "inbox/invoice_ddm.txt" || meta.RoutedTo != "sorted/DDM/Finance/INBOX" || meta.Checksum != "abc" {
		t.Fatalf("unexpected meta %+v", meta)
	}
	if !meta.AppliedAt.Equal(fixedNow) {
		t.Fatalf("unexpected appliedAt %v", meta.AppliedAt)
	}

	var sc domain.Sidecar
	if err := localfs.ReadJSON(res.SidecarPath, &sc); err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	if sc.Routing.Destination != "sorted/DDM/Finance/INBOX" || sc.Routing.AppliedAt == nil {
		t.Fatalf("sidecar not stamped: %+v", sc.Routing)
	}
}

func TestApplyRetryFailsCleanly(t *testing.T) {
	applier, storage := newTestApplier(t, true)
	src := writeInboxFile(t, storage, "a.txt", "x", false)
	req := domain.DeliveryRequest{SourcePath: src, Route: "misc"}

	first, err := applier.Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("first Apply() error = %v", err)
	}
	if _, err := applier.Apply(context.Background(), req); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("retry must fail with ErrNotFound, got %v", err)
	}

	raw, err := os.ReadFile(first.MetaPath)
	if err != nil {
		t.Fatalf("meta must remain: %v", err)
	}
	if !json.Valid(raw) {
		t.Fatalf("meta must be valid json, got %s", raw)
	}
	entries, _ := os.ReadDir(filepath.Dir(first.MetaPath))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("leftover temp file %s", e.Name())
		}
	}
}

func TestApplyAssemblesOfficePackage(t *testing.T) {
	applier, storage := newTestApplier(t, false)
	src := writeInboxFile(t, storage, "invoice_ddm.txt", "body", true)

	res, err := applier.Apply(context.Background(), domain.DeliveryRequest{
		SourcePath:  src,
		SidecarPath: localfs.SidecarPath(src),
		Route:       "DDM.Finance",
		Meta:        domain.RoutingMeta{RoutedTo: "sorted/DDM/Finance/INBOX", Office: "DDM", BatchID: "B1"},
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Package == nil || res.Package.PackageName != "package_2026-03-04_B1" {
		t.Fatalf("expected package ref, got %+v", res)
	}
	wantDir := "offices/DDM/inbox/package_2026-03-04_B1"
	if storage.Rel(filepath.Dir(res.Destination)) != wantDir {
		t.Fatalf("unexpected package destination %s", storage.Rel(res.Destination))
	}
	if _, err := os.Stat(storage.Path("sorted", "DDM", "Finance", "INBOX", "invoice_ddm.txt")); !os.IsNotExist(err) {
		t.Fatalf("standalone copy must be removed")
	}

	m, err := ReadManifest(storage.Path(filepath.FromSlash(wantDir)))
	if err != nil {
		t.Fatalf("ReadManifest() error = %v", err)
	}
	if len(m.Entries) != 1 || m.Entries[0].Filename != "invoice_ddm.txt" || m.Office != "DDM" {
		t.Fatalf("unexpected manifest %+v", m)
	}

	var sc domain.Sidecar
	if err := localfs.ReadJSON(res.SidecarPath, &sc); err != nil || sc.Package == nil || sc.Package.BatchID != "B1" {
		t.Fatalf("sidecar missing package ref: %+v err=%v", sc, err)
	}
	var meta domain.DeliveryMeta
	if err := localfs.ReadJSON(res.MetaPath, &meta); err != nil || meta.Package == nil {
		t.Fatalf("meta missing package provenance: %+v err=%v", meta, err)
	}
}

func TestApplyPackageFailureKeepsDelivery(t *testing.T) {
	applier, storage := newTestApplier(t, false)
	if err := os.WriteFile(storage.Path("offices"), []byte("not a dir"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := writeInboxFile(t, storage, "a.txt", "body", false)

	res, err := applier.Apply(context.Background(), domain.DeliveryRequest{
		SourcePath: src,
		Route:      "DDM.Finance",
		Meta:       domain.RoutingMeta{RoutedTo: "sorted/DDM/Finance/INBOX", Office: "DDM", BatchID: "B1"},
	})
	if err != nil {
		t.Fatalf("package failure must not fail delivery: %v", err)
	}
	if !res.Applied || res.PackageErr == "" || res.Package != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if storage.Rel(res.Destination) != "sorted/DDM/Finance/INBOX/a.txt" {
		t.Fatalf("expected pre-package destination, got %s", storage.Rel(res.Destination))
	}
}

func TestApplyPackageCleanupFailureKeepsPackedResult(t *testing.T) {
	storage, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New() error = %v", err)
	}
	var logs bytes.Buffer
	applier := NewApplier(storage, Options{
		Now:    func() time.Time { return fixedNow },
		Logger: slog.New(slog.NewJSONHandler(&logs, nil)),
	})
	standalone := storage.Path("sorted", "DDM", "Finance", "INBOX", "invoice_ddm.txt")
	applier.packager.remove = func(path string) error {
		if path == standalone {
			return errors.New("device busy")
		}
		return os.Remove(path)
	}
	src := writeInboxFile(t, storage, "invoice_ddm.txt", "body", true)

	res, err := applier.Apply(context.Background(), domain.DeliveryRequest{
		SourcePath:  src,
		SidecarPath: localfs.SidecarPath(src),
		Route:       "DDM.Finance",
		Meta:        domain.RoutingMeta{RoutedTo: "sorted/DDM/Finance/INBOX", Office: "DDM", BatchID: "B1"},
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Package == nil || res.PackageErr != "" {
		t.Fatalf("expected packed result, got %+v", res)
	}
	if storage.Rel(filepath.Dir(res.Destination)) != "offices/DDM/inbox/package_2026-03-04_B1" {
		t.Fatalf("destination = %s", storage.Rel(res.Destination))
	}
	if _, err := os.Stat(res.Destination); err != nil {
		t.Fatalf("packed copy missing: %v", err)
	}
	if _, err := os.Stat(standalone + domain.MetaSuffix); !os.IsNotExist(err) {
		t.Fatal("removable standalone copies must still be cleaned up")
	}
	if !strings.Contains(logs.String(), "package_cleanup_failed") {
		t.Fatalf("cleanup failure not logged: %s", logs.String())
	}
}

func TestApplySkipsPackagesForNonOfficeKeys(t *testing.T) {
	applier, storage := newTestApplier(t, false)
	src := writeInboxFile(t, storage, "a.txt", "body", false)
	res, err := applier.Apply(context.Background(), domain.DeliveryRequest{
		SourcePath: src,
		Route:      "Acme.Ops",
		Meta:       domain.RoutingMeta{RoutedTo: "sorted/Acme/Ops/INBOX", Office: "acme-office"},
	})
	if err != nil || res.Package != nil {
		t.Fatalf("expected plain delivery, got %+v err=%v", res, err)
	}
}
