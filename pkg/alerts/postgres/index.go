package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/ranhill/speechrag/pkg/alerts"
)

// Upsert implements [alerts.Index]. Each record is inserted or, when the ID
// already exists, completely replaced. Records are written in one transaction
// so a partially seeded catalog is never visible to searches.
func (i *Index) Upsert(ctx context.Context, records []alerts.Record) error {
	if len(records) == 0 {
		return nil
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, metadata, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET
		    embedding  = EXCLUDED.embedding,
		    metadata   = EXCLUDED.metadata,
		    updated_at = now()`, i.collection)

	tx, err := i.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("alert index: begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("alert index: upsert: record with empty id")
		}
		meta := rec.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		if _, err := tx.Exec(ctx, q, rec.ID, pgvector.NewVector(rec.Vector), meta); err != nil {
			return fmt.Errorf("alert index: upsert %q: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("alert index: commit upsert: %w", err)
	}
	return nil
}

// Search implements [alerts.Index]. It finds the limit records whose
// embeddings are closest (cosine distance) to vector and converts distance to
// similarity (1 - distance) so that scores match the calibration used for the
// acceptance threshold. The threshold is also applied in SQL as an
// optimisation, but callers own the acceptance policy.
//
// Results are ordered by descending score (most similar first).
func (i *Index) Search(ctx context.Context, vector []float32, limit int, scoreThreshold float64) ([]alerts.Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("alert index: search: empty query vector")
	}
	if limit <= 0 {
		limit = 1
	}

	q := fmt.Sprintf(`
		SELECT id, metadata, 1 - (embedding <=> $1) AS score
		FROM   %s
		WHERE  1 - (embedding <=> $1) >= $2
		ORDER  BY embedding <=> $1
		LIMIT  $3`, i.collection)

	rows, err := i.pool.Query(ctx, q, pgvector.NewVector(vector), scoreThreshold, limit)
	if err != nil {
		return nil, fmt.Errorf("alert index: search: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (alerts.Match, error) {
		var m alerts.Match
		if err := row.Scan(&m.ID, &m.Metadata, &m.Score); err != nil {
			return alerts.Match{}, err
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("alert index: scan rows: %w", err)
	}
	if matches == nil {
		matches = []alerts.Match{}
	}
	return matches, nil
}
