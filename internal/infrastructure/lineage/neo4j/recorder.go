package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

const recordBatchQuery = `
MERGE (b:Batch {id: $batch_id})
SET b.mode = $mode, b.started_at = $started_at, b.duration_ms = $duration_ms
WITH b
UNWIND $items AS it
MERGE (d:Document {id: it.id})
SET d.filename = it.filename, d.state = it.state, d.route = it.route, d.rule_id = it.rule_id
MERGE (d)-[:PROCESSED_IN]->(b)
FOREACH (_ IN CASE WHEN it.hash <> '' THEN [1] ELSE [] END |
	MERGE (c:Content {hash: it.hash})
	MERGE (d)-[:HAS_CONTENT]->(c))
FOREACH (_ IN CASE WHEN it.office <> '' THEN [1] ELSE [] END |
	MERGE (o:Office {key: it.office})
	MERGE (d)-[:DELIVERED_TO {route: it.route}]->(o))
`

type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

type execFunc func(ctx context.Context, query string, params map[string]any) error

// Recorder writes batch to document to office lineage into a graph.
type Recorder struct {
	driver neo4j.DriverWithContext
	exec   execFunc
}

func New(ctx context.Context, cfg Config) (*Recorder, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	verifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	r := &Recorder{driver: driver}
	r.exec = func(ctx context.Context, query string, params map[string]any) error {
		opts := []neo4j.ExecuteQueryConfigurationOption{}
		if cfg.Database != "" {
			opts = append(opts, neo4j.ExecuteQueryWithDatabase(cfg.Database))
		}
		_, err := neo4j.ExecuteQuery(ctx, driver, query, params, neo4j.EagerResultTransformer, opts...)
		return err
	}
	return r, nil
}

func (r *Recorder) Close(ctx context.Context) error {
	if r.driver == nil {
		return nil
	}
	return r.driver.Close(ctx)
}

func (r *Recorder) RecordBatch(ctx context.Context, batch *domain.Batch) error {
	if batch == nil || len(batch.Items) == 0 {
		return nil
	}
	if err := r.exec(ctx, recordBatchQuery, BatchParams(batch)); err != nil {
		return domain.WrapError(domain.ErrTemporary, "record batch lineage", err)
	}
	return nil
}

// BatchParams flattens a batch into query parameters. Only delivered items
// carry an office.
func BatchParams(batch *domain.Batch) map[string]any {
	items := make([]map[string]any, 0, len(batch.Items))
	for _, it := range batch.Items {
		row := map[string]any{
			"id":       it.ID,
			"filename": it.Filename,
			"state":    string(it.State),
			"hash":     it.Hash,
			"route":    "",
			"rule_id":  "",
			"office":   "",
		}
		if it.Decision != nil {
			row["route"] = it.Decision.Route
			row["rule_id"] = it.Decision.RuleID
			if it.State == domain.StateMoved {
				row["office"] = it.Decision.Entity
			}
		}
		items = append(items, row)
	}
	return map[string]any{
		"batch_id":    batch.ID,
		"mode":        string(batch.Mode),
		"started_at":  batch.StartedAt.UTC().Format(time.RFC3339Nano),
		"duration_ms": batch.DurationMS,
		"items":       items,
	}
}
