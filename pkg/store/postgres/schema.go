// Package postgres provides a PostgreSQL-backed implementation of the
// Auralyze stores: the per-session result log and the pgvector exemplar
// index used by the knn classifier.
//
// Both share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn, 13)
//	if err != nil { … }
//	defer st.Close()
//
//	_ = st.WriteResult(ctx, rec)
//	neighbours, _ := st.Nearest(ctx, vec, 5)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlResults = `
CREATE TABLE IF NOT EXISTS classification_results (
    id             BIGSERIAL         PRIMARY KEY,
    session_id     TEXT              NOT NULL,
    sequence       BIGINT            NOT NULL,
    label          TEXT              NOT NULL,
    confidence     DOUBLE PRECISION  NOT NULL,
    features_used  TEXT[]            NOT NULL DEFAULT '{}',
    timestamp      TIMESTAMPTZ       NOT NULL DEFAULT now(),
    UNIQUE (session_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_classification_results_session
    ON classification_results (session_id, sequence);
`

// ddlExemplars returns the exemplar DDL with the feature dimension
// substituted. The dimension is fixed at schema creation time.
func ddlExemplars(dim int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS exemplars (
    id          TEXT         PRIMARY KEY,
    label       TEXT         NOT NULL,
    features    vector(%d)   NOT NULL,
    source      TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_exemplars_label
    ON exemplars (label);

CREATE INDEX IF NOT EXISTS idx_exemplars_features
    ON exemplars USING hnsw (features vector_cosine_ops);
`, dim)
}

// Migrate creates all required tables and extensions. It is idempotent and
// safe to call on every start. Changing dim after the first migration
// requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("postgres migrate: feature dimension must be positive, got %d", dim)
	}
	for _, stmt := range []string{ddlExemplars(dim), ddlResults} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
