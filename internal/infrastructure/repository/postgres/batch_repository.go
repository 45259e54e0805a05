package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// BatchRepository archives finished batches. The filesystem batch log stays
// the source of truth; this table backs lookups over HTTP.
type BatchRepository struct {
	db *sql.DB
}

func NewBatchRepository(db *sql.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *BatchRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101701)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS mailroom_batches (
	id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	counts JSONB NOT NULL DEFAULT '{}'::jsonb,
	batch_log TEXT,
	payload JSONB NOT NULL,
	archived_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mailroom_batches_started_at ON mailroom_batches(started_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *BatchRepository) SaveBatch(ctx context.Context, batch *domain.Batch) error {
	if batch == nil || batch.ID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "save batch", errors.New("batch id is required"))
	}
	countsJSON, err := json.Marshal(batch.Counts)
	if err != nil {
		return fmt.Errorf("marshal counts: %w", err)
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO mailroom_batches (id, mode, started_at, duration_ms, counts, batch_log, payload, archived_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
	duration_ms = EXCLUDED.duration_ms,
	counts = EXCLUDED.counts,
	batch_log = EXCLUDED.batch_log,
	payload = EXCLUDED.payload,
	archived_at = EXCLUDED.archived_at
`,
		batch.ID, string(batch.Mode), batch.StartedAt, batch.DurationMS, countsJSON, batch.BatchLog, payload, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	return nil
}

func (r *BatchRepository) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT payload
FROM mailroom_batches
WHERE id = $1
`, id)

	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get batch", fmt.Errorf("batch %s", id))
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}

	var batch domain.Batch
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, fmt.Errorf("unmarshal batch: %w", err)
	}
	return &batch, nil
}

func (r *BatchRepository) ListBatches(ctx context.Context, limit int) ([]domain.BatchSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, mode, started_at, duration_ms, counts, batch_log
FROM mailroom_batches
ORDER BY started_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	out := make([]domain.BatchSummary, 0)
	for rows.Next() {
		var (
			s         domain.BatchSummary
			mode      string
			countsRaw []byte
			batchLog  sql.NullString
		)
		if err := rows.Scan(&s.ID, &mode, &s.StartedAt, &s.DurationMS, &countsRaw, &batchLog); err != nil {
			return nil, fmt.Errorf("scan batch summary: %w", err)
		}
		if err := json.Unmarshal(countsRaw, &s.Counts); err != nil {
			return nil, fmt.Errorf("unmarshal counts: %w", err)
		}
		s.Mode = domain.Mode(mode)
		if batchLog.Valid {
			v := batchLog.String
			s.BatchLog = &v
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return out, nil
}
