// Package postgres provides a PostgreSQL-backed implementation of the alerts
// similarity index.
//
// Alert vectors live in a single table with a pgvector HNSW index for fast
// approximate nearest-neighbour search under cosine distance. The pgvector
// extension must be available in the target database; [Migrate] installs it
// automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	idx, err := postgres.New(ctx, dsn, postgres.Config{
//	    Collection: "ranhill_alerts",
//	    Dimensions: 1024,
//	})
//	if err != nil { … }
//	defer idx.Close()
//
//	matches, err := idx.Search(ctx, vec, 1, 0.38)
package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/ranhill/speechrag/pkg/alerts"
)

// Compile-time interface check.
var _ alerts.Index = (*Index)(nil)

// identRe constrains the collection name to a safe SQL identifier. Table
// names cannot be bound as query parameters, so they are validated once at
// construction and interpolated verbatim afterwards.
var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Config holds construction parameters for an [Index].
type Config struct {
	// Collection is the table name holding the alert records
	// (e.g. "ranhill_alerts"). Must be a lowercase SQL identifier.
	Collection string

	// Dimensions is the vector dimension baked into the table's embedding
	// column. Must match the encoder model (e.g. 1024 for SONAR basic).
	Dimensions int
}

// Index is the pgvector-backed alerts similarity index. It holds a single
// [pgxpool.Pool]; all methods are safe for concurrent use.
type Index struct {
	pool       *pgxpool.Pool
	collection string
}

// New connects to the PostgreSQL database at dsn, registers pgvector types on
// every connection, and runs [Migrate] so the collection table and HNSW index
// exist. Changing Dimensions after the first migration requires a manual
// schema change.
func New(ctx context.Context, dsn string, cfg Config) (*Index, error) {
	if !identRe.MatchString(cfg.Collection) {
		return nil, fmt.Errorf("alert index: collection name %q is not a valid identifier", cfg.Collection)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("alert index: dimensions must be positive, got %d", cfg.Dimensions)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("alert index: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so vector columns can
	// be scanned into and inserted from pgvector.Vector values.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("alert index: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("alert index: ping: %w", err)
	}

	if err := Migrate(ctx, pool, cfg.Collection, cfg.Dimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("alert index: migrate: %w", err)
	}

	return &Index{pool: pool, collection: cfg.Collection}, nil
}

// Ping reports whether the database is reachable. Used by the readiness probe.
func (i *Index) Ping(ctx context.Context) error {
	return i.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (i *Index) Close() {
	i.pool.Close()
}
