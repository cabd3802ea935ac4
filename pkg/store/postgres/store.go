package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/auralyze/pkg/store"
)

var (
	_ store.ResultLog     = (*Store)(nil)
	_ store.ExemplarIndex = (*Store)(nil)
)

// Store is the PostgreSQL-backed result log and exemplar index.
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	dim  int
}

// NewStore connects to dsn, ensures the pgvector extension exists,
// registers vector types on every pooled connection, and runs [Migrate].
//
// dim must equal the configured feature count.
func NewStore(ctx context.Context, dsn string, dim int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// The vector type must exist before AfterConnect can register it.
	if err := ensureExtension(ctx, cfg.ConnConfig); err != nil {
		return nil, err
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, dim); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool, dim: dim}, nil
}

func ensureExtension(ctx context.Context, cc *pgx.ConnConfig) error {
	conn, err := pgx.ConnectConfig(ctx, cc.Copy())
	if err != nil {
		return fmt.Errorf("postgres store: connect: %w", err)
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("postgres store: create vector extension: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Dim returns the exemplar vector dimension.
func (s *Store) Dim() int { return s.dim }

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
