package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/auralyze/pkg/store"
)

// AddExemplar implements [store.ExemplarIndex]. An exemplar with the same ID
// is replaced.
func (s *Store) AddExemplar(ctx context.Context, e store.Exemplar) error {
	if len(e.Vector) != s.dim {
		return fmt.Errorf("exemplar index: vector has %d dimensions, want %d", len(e.Vector), s.dim)
	}
	const q = `
		INSERT INTO exemplars (id, label, features, source, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
		ON CONFLICT (id) DO UPDATE SET
		    label    = EXCLUDED.label,
		    features = EXCLUDED.features,
		    source   = EXCLUDED.source`

	var created any
	if !e.CreatedAt.IsZero() {
		created = e.CreatedAt
	}
	_, err := s.pool.Exec(ctx, q, e.ID, e.Label, pgvector.NewVector(e.Vector), e.Source, created)
	if err != nil {
		return fmt.Errorf("exemplar index: add exemplar: %w", err)
	}
	return nil
}

// Nearest implements [store.ExemplarIndex] using cosine distance over the
// HNSW index. Results are ordered most similar first.
func (s *Store) Nearest(ctx context.Context, v []float32, k int) ([]store.Neighbor, error) {
	const q = `
		SELECT id, label, features, source, created_at,
		       features <=> $1 AS distance
		FROM   exemplars
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(v), k)
	if err != nil {
		return nil, fmt.Errorf("exemplar index: nearest: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Neighbor, error) {
		var (
			n   store.Neighbor
			vec pgvector.Vector
		)
		if err := row.Scan(
			&n.Exemplar.ID,
			&n.Exemplar.Label,
			&vec,
			&n.Exemplar.Source,
			&n.Exemplar.CreatedAt,
			&n.Distance,
		); err != nil {
			return store.Neighbor{}, err
		}
		n.Exemplar.Vector = vec.Slice()
		return n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("exemplar index: scan rows: %w", err)
	}
	if out == nil {
		out = []store.Neighbor{}
	}
	return out, nil
}
