package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/storage/localfs"
)

const manifestName = "manifest.json"

type ManifestEntry struct {
	Filename   string    `json:"filename"`
	Route      string    `json:"route"`
	AppliedAt  time.Time `json:"applied_at"`
	Sidecar    string    `json:"sidecar,omitempty"`
	Meta       string    `json:"meta"`
	PackagedAt time.Time `json:"packaged_at"`
}

type Manifest struct {
	Package   string          `json:"package"`
	Office    string          `json:"office"`
	BatchID   string          `json:"batch_id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Entries   []ManifestEntry `json:"entries"`
}

type Packed struct {
	Ref         domain.PackageRef
	Dir         string
	FilePath    string
	SidecarPath string
	MetaPath    string
}

// Packager assembles dated per-office batch packages inside office inboxes.
type Packager struct {
	storage *localfs.Storage
	now     func() time.Time
	logger  *slog.Logger
	remove  func(string) error
}

func NewPackager(storage *localfs.Storage, now func() time.Time, logger *slog.Logger) *Packager {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Packager{storage: storage, now: now, logger: logger, remove: os.Remove}
}

func PackageName(day time.Time, batchID string) string {
	if batchID == "" {
		batchID = "adhoc"
	}
	return fmt.Sprintf("package_%s_%s", day.UTC().Format("2006-01-02"), batchID)
}

// Add copies a delivered file with its sidecar and meta into the office
// package, then removes the standalone copies. Once the manifest lists the
// entry the packed copy is authoritative; a standalone copy that cannot be
// removed is logged and left behind.
func (p *Packager) Add(ctx context.Context, office, batchID, route, delivered string) (Packed, error) {
	if err := ctx.Err(); err != nil {
		return Packed{}, err
	}
	now := p.now().UTC()
	name := PackageName(now, batchID)
	dir := p.storage.Path("offices", office, "inbox", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Packed{}, fmt.Errorf("create package dir: %w", err)
	}

	ref := domain.PackageRef{BatchID: batchID, PackageName: name, RoutedAt: now}
	base := filepath.Base(delivered)
	out := Packed{
		Ref:      ref,
		Dir:      dir,
		FilePath: localfs.UniquePath(dir, base),
	}
	out.MetaPath = out.FilePath + domain.MetaSuffix

	created := []string{}
	cleanup := func() {
		for _, path := range created {
			os.Remove(path)
		}
	}

	if err := localfs.CopyFile(delivered, out.FilePath); err != nil {
		return Packed{}, err
	}
	created = append(created, out.FilePath)

	srcSidecar := localfs.SidecarPath(delivered)
	var sc domain.Sidecar
	switch err := localfs.ReadJSON(srcSidecar, &sc); {
	case err == nil:
		sc.Package = &ref
		sc.Routing.Destination = p.storage.Rel(dir)
		out.SidecarPath = localfs.SidecarPath(out.FilePath)
		if err := localfs.WriteJSONAtomic(out.SidecarPath, sc); err != nil {
			cleanup()
			return Packed{}, err
		}
		created = append(created, out.SidecarPath)
	case !errors.Is(err, os.ErrNotExist):
		cleanup()
		return Packed{}, err
	}

	var meta domain.DeliveryMeta
	if err := localfs.ReadJSON(delivered+domain.MetaSuffix, &meta); err != nil {
		cleanup()
		return Packed{}, fmt.Errorf("read delivery meta: %w", err)
	}
	meta.Package = &ref
	meta.RoutedTo = p.storage.Rel(dir)
	meta.Filename = filepath.Base(out.FilePath)
	if err := localfs.WriteJSONAtomic(out.MetaPath, meta); err != nil {
		cleanup()
		return Packed{}, err
	}
	created = append(created, out.MetaPath)

	entry := ManifestEntry{
		Filename:   filepath.Base(out.FilePath),
		Route:      route,
		AppliedAt:  meta.AppliedAt,
		Meta:       filepath.Base(out.MetaPath),
		PackagedAt: now,
	}
	if out.SidecarPath != "" {
		entry.Sidecar = filepath.Base(out.SidecarPath)
	}
	if err := p.appendManifest(dir, name, office, batchID, now, entry); err != nil {
		cleanup()
		return Packed{}, err
	}

	for _, standalone := range []string{delivered, srcSidecar, delivered + domain.MetaSuffix} {
		if err := p.remove(standalone); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("package_cleanup_failed", "office", office, "path", p.storage.Rel(standalone), "error", err)
		}
	}
	return out, nil
}

func (p *Packager) appendManifest(dir, name, office, batchID string, now time.Time, entry ManifestEntry) error {
	path := filepath.Join(dir, manifestName)
	var m Manifest
	err := localfs.ReadJSON(path, &m)
	switch {
	case errors.Is(err, os.ErrNotExist):
		m = Manifest{Package: name, Office: office, BatchID: batchID, CreatedAt: now}
		readme := fmt.Sprintf("# %s\n\nOffice: %s\nBatch: %s\nCreated: %s\n\nSee manifest.json for the delivered documents.\n",
			name, office, batchID, now.Format(time.RFC3339))
		if err := localfs.WriteFileAtomic(filepath.Join(dir, "README.md"), []byte(readme)); err != nil {
			return err
		}
	case err != nil:
		return err
	}
	m.Entries = append(m.Entries, entry)
	m.UpdatedAt = now
	return localfs.WriteJSONAtomic(path, m)
}

// ReadManifest loads a package manifest.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	err := localfs.ReadJSON(filepath.Join(dir, manifestName), &m)
	return m, err
}
