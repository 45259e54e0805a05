package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
	"github.com/kirillkom/navi-mailroom/internal/core/ports"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9]`)

type ApprovalOptions struct {
	Logger *slog.Logger
	Now    func() time.Time
	Rel    func(string) string
}

// ApprovalService records a reviewer's decisions and enforces them on disk.
// It shares the batch lock so approvals never race a running batch.
type ApprovalService struct {
	store    ports.ApprovalStore
	sidecars ports.SidecarStore
	lock     ports.BatchLock
	logger   *slog.Logger
	now      func() time.Time
	rel      func(string) string
}

func NewApprovalService(store ports.ApprovalStore, sidecars ports.SidecarStore, lock ports.BatchLock, options ApprovalOptions) *ApprovalService {
	s := &ApprovalService{
		store:    store,
		sidecars: sidecars,
		lock:     lock,
		logger:   options.Logger,
		now:      options.Now,
		rel:      options.Rel,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.rel == nil {
		s.rel = func(p string) string { return p }
	}
	return s
}

func validateApproval(req domain.ApprovalRequest) error {
	if strings.TrimSpace(req.Reviewer) == "" {
		return fmt.Errorf("%w: reviewer is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(req.SnapshotID) == "" || filepath.Base(req.SnapshotID) != req.SnapshotID {
		return fmt.Errorf("%w: snapshot_id %q is not a plain name", domain.ErrInvalidInput, req.SnapshotID)
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: items must not be empty", domain.ErrInvalidInput)
	}
	for i, item := range req.Items {
		dept := item.Decision.Dept
		if strings.TrimSpace(dept) == "" || filepath.Base(dept) != dept || dept == ".." {
			return fmt.Errorf("%w: items[%d].decision.dept %q is not a plain name", domain.ErrInvalidInput, i, dept)
		}
	}
	return nil
}

func (s *ApprovalService) Submit(ctx context.Context, req domain.ApprovalRequest) (*domain.ApprovalResult, error) {
	if err := validateApproval(req); err != nil {
		return nil, err
	}
	release, err := s.lock.TryAcquire()
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now().UTC()
	name := fmt.Sprintf("%s.%s.%d.approval.json", req.SnapshotID, unsafeNameChars.ReplaceAllString(req.Reviewer, "_"), now.UnixMilli())
	path, err := s.store.SaveApproval(ctx, now, name, req)
	if err != nil {
		return nil, err
	}
	line := fmt.Sprintf("[%s] %s routed %d items → %s\n", now.Format("2006-01-02T15:04:05Z"), req.Reviewer, len(req.Items), name)
	if err := s.store.AppendAudit(ctx, line); err != nil {
		return nil, err
	}

	result := &domain.ApprovalResult{OK: true, File: s.rel(path), MoveResults: make([]domain.MoveResult, 0, len(req.Items))}
	for _, item := range req.Items {
		mr := s.enforce(ctx, req.Reviewer, item, now)
		switch mr.Status {
		case domain.MoveStatusMoved:
			switch mr.Bucket {
			case domain.BucketProcessed:
				result.MovedProcessed++
			case domain.BucketEscalated:
				result.MovedEscalated++
			case domain.BucketRejected:
				result.MovedRejected++
			}
		case domain.MoveStatusMissing:
			result.MissingCount++
		case domain.MoveStatusError:
			result.ErrorCount++
		}
		result.MoveResults = append(result.MoveResults, mr)
	}

	s.logger.Info("approval_applied",
		"reviewer", req.Reviewer,
		"snapshot_id", req.SnapshotID,
		"file", result.File,
		"processed", result.MovedProcessed,
		"escalated", result.MovedEscalated,
		"rejected", result.MovedRejected,
		"missing", result.MissingCount,
		"errors", result.ErrorCount,
	)
	return result, nil
}

func (s *ApprovalService) enforce(ctx context.Context, reviewer string, item domain.ApprovalItem, now time.Time) domain.MoveResult {
	mr := domain.MoveResult{Filename: item.Filename}
	if strings.HasPrefix(item.Filename, ".") {
		mr.Status = domain.MoveStatusSkipped
		mr.Error = "dotfile"
		return mr
	}
	if item.Filename == "" || filepath.Base(item.Filename) != item.Filename {
		mr.Status = domain.MoveStatusError
		mr.Error = "unsafe filename"
		return mr
	}

	src, err := s.store.Locate(ctx, item.Filename)
	if err != nil {
		mr.Status = domain.MoveStatusError
		mr.Error = err.Error()
		return mr
	}
	if src == "" {
		mr.Status = domain.MoveStatusMissing
		return mr
	}

	bucket := domain.BucketFor(item.Decision)
	final := domain.StateForBucket(bucket)
	sc, err := s.sidecars.Read(ctx, src)
	if err != nil {
		s.logger.Warn("approval_sidecar_unreadable", "file", item.Filename, "error", err)
	}
	if sc == nil {
		sc = &domain.Sidecar{Filename: item.Filename}
	}
	if _, err := humanDecide(sc.State, final); err != nil {
		mr.Status = domain.MoveStatusError
		mr.Error = err.Error()
		return mr
	}

	dest, err := s.store.MoveToBucket(ctx, src, bucket, item.Decision.Dept)
	if err != nil && dest == "" {
		mr.Status = domain.MoveStatusError
		mr.Error = err.Error()
		return mr
	}
	if err != nil {
		s.logger.Warn("approval_companion_move_failed", "file", item.Filename, "error", err)
	}

	sc.State = final
	sc.Route = item.Decision.Dept
	sc.Routing.Destination = s.rel(filepath.Dir(dest))
	sc.HumanDecision = &domain.HumanDecision{
		Reviewer:  reviewer,
		Decision:  bucket,
		Route:     item.Decision.Dept,
		Reason:    item.Notes,
		DecidedAt: now,
	}
	if err := s.sidecars.Write(ctx, dest, *sc); err != nil {
		s.logger.Warn("approval_sidecar_write_failed", "file", item.Filename, "error", err)
	}

	mr.Status = domain.MoveStatusMoved
	mr.Bucket = bucket
	mr.Destination = s.rel(dest)
	mr.State = final
	return mr
}

func (s *ApprovalService) AuditLog(ctx context.Context) ([]byte, error) {
	return s.store.ReadAudit(ctx)
}
