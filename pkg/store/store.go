// Package store defines the persistence interfaces used by Auralyze.
//
// Two concerns are covered:
//
//   - [ResultLog] is an append-only log of classification results per
//     streaming session.
//   - [ExemplarIndex] holds labelled feature vectors and answers
//     nearest-neighbour queries for the knn classifier.
//
// The PostgreSQL implementation lives in store/postgres; an in-memory
// implementation for tests and storage-less deployments lives in store/mock.
package store

import (
	"context"
	"time"
)

// ResultRecord is one persisted classification result.
type ResultRecord struct {
	// SessionID identifies the streaming session (or file analysis run).
	SessionID string

	// Sequence is the ordinal of the window within the session.
	Sequence uint64

	// Label and Confidence are the classifier output.
	Label      string
	Confidence float64

	// Timestamp is when the result was produced.
	Timestamp time.Time

	// FeaturesUsed names the feature extractors that produced the vector.
	FeaturesUsed []string
}

// ResultLog persists classification results.
// Implementations must be safe for concurrent use.
type ResultLog interface {
	// WriteResult appends r to the log.
	WriteResult(ctx context.Context, r ResultRecord) error

	// SessionResults returns all results for sessionID ordered by sequence.
	SessionResults(ctx context.Context, sessionID string) ([]ResultRecord, error)
}

// Exemplar is a labelled reference feature vector.
type Exemplar struct {
	ID        string
	Label     string
	Vector    []float32
	Source    string
	CreatedAt time.Time
}

// Neighbor is an exemplar returned by a similarity query with its cosine
// distance to the query vector (0 = identical direction, 2 = opposite).
type Neighbor struct {
	Exemplar Exemplar
	Distance float64
}

// ExemplarIndex stores exemplars and performs nearest-neighbour search.
// Implementations must be safe for concurrent use.
type ExemplarIndex interface {
	// AddExemplar upserts e by ID.
	AddExemplar(ctx context.Context, e Exemplar) error

	// Nearest returns up to k exemplars ordered by ascending distance to v.
	Nearest(ctx context.Context, v []float32, k int) ([]Neighbor, error)
}
