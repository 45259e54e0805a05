package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
	"github.com/kirillkom/navi-mailroom/internal/core/routing"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/storage/localfs"
)

var agentRoute = regexp.MustCompile(`(?i)agent(\d+)`)

type Options struct {
	// DisablePackages turns off office package assembly.
	DisablePackages bool
	Now             func() time.Time
	Logger          *slog.Logger
}

// Applier moves an item plus its sidecar into the destination tree and
// records a delivery meta file next to it.
type Applier struct {
	storage  *localfs.Storage
	packager *Packager
	now      func() time.Time
	logger   *slog.Logger
}

func NewApplier(storage *localfs.Storage, options Options) *Applier {
	now := options.Now
	if now == nil {
		now = time.Now
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Applier{storage: storage, now: now, logger: logger}
	if !options.DisablePackages {
		a.packager = NewPackager(storage, now, logger)
	}
	return a
}

// ResolveDestination picks the destination directory for a route.
// An explicit routedTo wins over the pattern rules.
func (a *Applier) ResolveDestination(route string, meta domain.RoutingMeta) (string, error) {
	batch := meta.BatchID
	if batch == "" {
		batch = "unknown"
	}

	if rel := strings.TrimSpace(meta.RoutedTo); rel != "" {
		dir := filepath.Clean(a.storage.Path(filepath.FromSlash(rel)))
		if dir != a.storage.Root() && !strings.HasPrefix(dir, a.storage.Root()+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: routedTo %q escapes the navi root", domain.ErrInvalidInput, rel)
		}
		return dir, nil
	}

	switch {
	case agentRoute.MatchString(route):
		n := agentRoute.FindStringSubmatch(route)[1]
		return a.storage.Path("agents", "agent"+n, "inbox"), nil
	case strings.HasPrefix(route, "mail_room.duplicate"):
		return a.storage.Path("HOLDING", "duplicates", batch), nil
	case strings.Contains(route, "quarantine"):
		return a.storage.Path("HOLDING", "quarantine", batch), nil
	case strings.Contains(route, "review_required"):
		return a.storage.Path("HOLDING", "review", batch), nil
	case strings.Contains(route, "rejected"):
		if meta.BatchID == "" {
			return a.storage.Path("rejected", a.now().UTC().Format("2006-01-02")), nil
		}
		return a.storage.Path("rejected", batch), nil
	default:
		return a.storage.Path("processed", a.now().UTC().Format("2006-01-02")), nil
	}
}

func (a *Applier) Apply(ctx context.Context, req domain.DeliveryRequest) (domain.DeliveryResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.DeliveryResult{}, err
	}
	if _, err := os.Stat(req.SourcePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.DeliveryResult{}, domain.WrapError(domain.ErrNotFound, "apply route", err)
		}
		return domain.DeliveryResult{}, fmt.Errorf("stat source: %w", err)
	}

	destDir, err := a.ResolveDestination(req.Route, req.Meta)
	if err != nil {
		return domain.DeliveryResult{}, err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("create destination: %w", err)
	}

	dest := localfs.UniquePath(destDir, filepath.Base(req.SourcePath))
	if err := localfs.MoveFile(req.SourcePath, dest); err != nil {
		return domain.DeliveryResult{}, err
	}

	appliedAt := a.now().UTC()
	res := domain.DeliveryResult{
		Applied:     true,
		Destination: dest,
		MetaPath:    dest + domain.MetaSuffix,
	}

	if req.SidecarPath != "" {
		if _, err := os.Stat(req.SidecarPath); err == nil {
			sidecarDest := localfs.SidecarPath(dest)
			if err := localfs.MoveFile(req.SidecarPath, sidecarDest); err != nil {
				a.logger.Warn("sidecar_move_failed", "file", dest, "error", err)
			} else {
				res.SidecarPath = sidecarDest
				a.stampSidecar(sidecarDest, destDir, appliedAt)
			}
		}
	}

	meta := domain.DeliveryMeta{
		Filename:    filepath.Base(dest),
		RoutedFrom:  a.storage.Rel(req.SourcePath),
		RoutedTo:    a.storage.Rel(destDir),
		AppliedAt:   appliedAt,
		Route:       req.Route,
		RoutingMeta: req.Meta,
		Checksum:    req.Checksum,
	}
	if err := localfs.WriteJSONAtomic(res.MetaPath, meta); err != nil {
		return res, fmt.Errorf("write delivery meta: %w", err)
	}

	if a.packager != nil && routing.IsOfficeKey(req.Meta.Office) {
		packed, err := a.packager.Add(ctx, req.Meta.Office, req.Meta.BatchID, req.Route, dest)
		if err != nil {
			a.logger.Warn("package_assembly_failed", "office", req.Meta.Office, "file", dest, "error", err)
			res.PackageErr = err.Error()
			return res, nil
		}
		res.Destination = packed.FilePath
		res.SidecarPath = packed.SidecarPath
		res.MetaPath = packed.MetaPath
		res.Package = &packed.Ref
	}
	return res, nil
}

func (a *Applier) stampSidecar(path, destDir string, appliedAt time.Time) {
	var sc domain.Sidecar
	if err := localfs.ReadJSON(path, &sc); err != nil {
		a.logger.Warn("sidecar_read_failed", "path", path, "error", err)
		return
	}
	sc.Routing.Destination = a.storage.Rel(destDir)
	sc.Routing.AppliedAt = &appliedAt
	if err := localfs.WriteJSONAtomic(path, sc); err != nil {
		a.logger.Warn("sidecar_write_failed", "path", path, "error", err)
	}
}
