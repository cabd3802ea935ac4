package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/auralyze/pkg/store"
)

// WriteResult implements [store.ResultLog]. Writing the same
// (session, sequence) twice keeps the first row.
func (s *Store) WriteResult(ctx context.Context, r store.ResultRecord) error {
	const q = `
		INSERT INTO classification_results
		    (session_id, sequence, label, confidence, features_used, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, sequence) DO NOTHING`

	featuresUsed := r.FeaturesUsed
	if featuresUsed == nil {
		featuresUsed = []string{}
	}
	_, err := s.pool.Exec(ctx, q,
		r.SessionID,
		int64(r.Sequence),
		r.Label,
		r.Confidence,
		featuresUsed,
		r.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("result log: write result: %w", err)
	}
	return nil
}

// SessionResults implements [store.ResultLog].
func (s *Store) SessionResults(ctx context.Context, sessionID string) ([]store.ResultRecord, error) {
	const q = `
		SELECT session_id, sequence, label, confidence, features_used, timestamp
		FROM   classification_results
		WHERE  session_id = $1
		ORDER  BY sequence`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("result log: session results: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.ResultRecord, error) {
		var (
			r   store.ResultRecord
			seq int64
		)
		if err := row.Scan(&r.SessionID, &seq, &r.Label, &r.Confidence, &r.FeaturesUsed, &r.Timestamp); err != nil {
			return store.ResultRecord{}, err
		}
		r.Sequence = uint64(seq)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("result log: scan rows: %w", err)
	}
	if records == nil {
		records = []store.ResultRecord{}
	}
	return records, nil
}
