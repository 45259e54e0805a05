package ports

import (
	"context"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

// BatchProcessor is the single serialized entry point into the pipeline.
type BatchProcessor interface {
	Run(ctx context.Context, mode domain.Mode) (*domain.Batch, error)
}

// ApprovalService persists human review decisions and enforces them on disk.
type ApprovalService interface {
	Submit(ctx context.Context, req domain.ApprovalRequest) (*domain.ApprovalResult, error)
	AuditLog(ctx context.Context) ([]byte, error)
}

// BatchReader serves archived batches.
type BatchReader interface {
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
	ListBatches(ctx context.Context, limit int) ([]domain.BatchSummary, error)
}
