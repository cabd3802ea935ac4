// Package mock provides in-memory implementations of the store interfaces.
//
// Both types record calls and support error injection, and both are fully
// functional so they can back a storage-less deployment or the knn
// classifier in tests.
package mock

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"

	"github.com/MrWong99/auralyze/pkg/store"
)

var (
	_ store.ResultLog     = (*ResultLog)(nil)
	_ store.ExemplarIndex = (*ExemplarIndex)(nil)
)

// ResultLog is an in-memory [store.ResultLog].
type ResultLog struct {
	mu      sync.Mutex
	records []store.ResultRecord

	// WriteErr, if non-nil, is returned by WriteResult and nothing is stored.
	WriteErr error

	// WriteCalls counts WriteResult invocations, including failed ones.
	WriteCalls int
}

// WriteResult stores r unless WriteErr is set.
func (l *ResultLog) WriteResult(_ context.Context, r store.ResultRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.WriteCalls++
	if l.WriteErr != nil {
		return l.WriteErr
	}
	l.records = append(l.records, r)
	return nil
}

// SessionResults returns stored records for sessionID ordered by sequence.
func (l *ResultLog) SessionResults(_ context.Context, sessionID string) ([]store.ResultRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []store.ResultRecord{}
	for _, r := range l.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b store.ResultRecord) int { return cmp.Compare(a.Sequence, b.Sequence) })
	return out, nil
}

// Len returns the number of stored records. Thread-safe.
func (l *ResultLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// ExemplarIndex is an in-memory [store.ExemplarIndex] using brute-force
// cosine distance.
type ExemplarIndex struct {
	mu        sync.Mutex
	exemplars []store.Exemplar

	// NearestErr, if non-nil, is returned by Nearest.
	NearestErr error
}

// AddExemplar upserts e by ID.
func (x *ExemplarIndex) AddExemplar(_ context.Context, e store.Exemplar) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	e.Vector = slices.Clone(e.Vector)
	for i := range x.exemplars {
		if x.exemplars[i].ID == e.ID {
			x.exemplars[i] = e
			return nil
		}
	}
	x.exemplars = append(x.exemplars, e)
	return nil
}

// Nearest returns up to k exemplars ordered by cosine distance to v.
func (x *ExemplarIndex) Nearest(_ context.Context, v []float32, k int) ([]store.Neighbor, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.NearestErr != nil {
		return nil, x.NearestErr
	}
	out := make([]store.Neighbor, 0, len(x.exemplars))
	for _, e := range x.exemplars {
		if len(e.Vector) != len(v) {
			continue
		}
		out = append(out, store.Neighbor{Exemplar: e, Distance: CosineDistance(v, e.Vector)})
	}
	slices.SortStableFunc(out, func(a, b store.Neighbor) int { return cmp.Compare(a.Distance, b.Distance) })
	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Len returns the number of stored exemplars. Thread-safe.
func (x *ExemplarIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.exemplars)
}

// CosineDistance returns 1 - cos(a, b), matching pgvector's <=> operator.
// Zero vectors are treated as maximally distant from everything.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
