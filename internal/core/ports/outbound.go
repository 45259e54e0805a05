package ports

import (
	"context"
	"time"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

// InboxLister returns candidate documents sorted by name.
type InboxLister interface {
	List(ctx context.Context) ([]domain.InboxFile, error)
}

// TextExtractor returns a best-effort text snippet; unsupported formats yield "".
type TextExtractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// DocumentClassifier is the external AI signal. A nil result means no signal.
type DocumentClassifier interface {
	Classify(ctx context.Context, filename, snippet string) (*domain.AIClassification, error)
}

// EntityDetector proposes entity candidates when no sidecar supplies them.
type EntityDetector interface {
	Detect(ctx context.Context, filename, text string) []domain.EntityCandidate
}

type ContentHasher interface {
	HashFile(ctx context.Context, path string) (string, error)
}

// SeenRegistry is the append-only content-hash log.
type SeenRegistry interface {
	Lookup(ctx context.Context, hash string) (*domain.SeenEntry, error)
	Append(ctx context.Context, entry domain.SeenEntry) error
}

type SidecarStore interface {
	Read(ctx context.Context, filePath string) (*domain.Sidecar, error)
	Write(ctx context.Context, filePath string, sc domain.Sidecar) error
}

// DeliveryApplier relocates an item and its sidecar into the destination tree.
type DeliveryApplier interface {
	Apply(ctx context.Context, req domain.DeliveryRequest) (domain.DeliveryResult, error)
}

type BatchAuditLogger interface {
	LogBatch(ctx context.Context, stats domain.BatchStats) (string, error)
	WriteEmergency(ctx context.Context, stats domain.BatchStats, cause error) (string, error)
}

// BatchLock guards the single-flight batch section.
type BatchLock interface {
	TryAcquire() (release func(), err error)
}

type EventPublisher interface {
	PublishBatchCompleted(ctx context.Context, event domain.BatchEvent) error
}

type BatchArchive interface {
	SaveBatch(ctx context.Context, batch *domain.Batch) error
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
	ListBatches(ctx context.Context, limit int) ([]domain.BatchSummary, error)
}

type LineageRecorder interface {
	RecordBatch(ctx context.Context, batch *domain.Batch) error
}

type PipelineMetrics interface {
	ObserveBatch(status string, duration time.Duration)
	ObserveItem(state domain.State)
	ObserveLockConflict()
	ObserveAuditDegraded()
}

// ApprovalStore persists approval records and relocates reviewed documents.
type ApprovalStore interface {
	SaveApproval(ctx context.Context, day time.Time, name string, req domain.ApprovalRequest) (string, error)
	AppendAudit(ctx context.Context, line string) error
	ReadAudit(ctx context.Context) ([]byte, error)
	Locate(ctx context.Context, filename string) (string, error)
	MoveToBucket(ctx context.Context, src, bucket, dept string) (string, error)
}

// DocumentTree finds and relocates documents anywhere under the navi root.
type DocumentTree interface {
	Find(ctx context.Context, filename string) (string, error)
	MoveInto(ctx context.Context, src, dirRel string) (string, error)
	CopyInto(ctx context.Context, src, dirRel string) (dest string, created bool, err error)
}
