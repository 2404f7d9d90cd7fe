package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddl returns the collection DDL with the table name and embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddl(collection string, dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
    id          TEXT         PRIMARY KEY,
    embedding   vector(%[2]d) NOT NULL,
    metadata    JSONB        NOT NULL DEFAULT '{}',
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_embedding
    ON %[1]s USING hnsw (embedding vector_cosine_ops);
`, collection, dimensions)
}

// Migrate creates or ensures the collection table, pgvector extension, and
// HNSW index exist. It is idempotent and safe to call on every start.
//
// dimensions must match the encoder model configured for the deployment
// (e.g. 1024 for the SONAR basic encoders). Changing it after the first
// migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, collection string, dimensions int) error {
	if !identRe.MatchString(collection) {
		return fmt.Errorf("postgres migrate: collection name %q is not a valid identifier", collection)
	}
	if _, err := pool.Exec(ctx, ddl(collection, dimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
