// Package knn implements a k-nearest-neighbour classifier over an
// exemplar index such as the pgvector-backed store.
//
// Each of the k nearest exemplars votes for its label with weight
// 1/(1+distance). The label with the largest total weight wins; confidence
// is its share of the total weight.
package knn

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/MrWong99/auralyze/pkg/classifier"
	"github.com/MrWong99/auralyze/pkg/features"
	"github.com/MrWong99/auralyze/pkg/store"
)

// ErrNoExemplars is returned when the index yields no neighbours.
var ErrNoExemplars = errors.New("knn: no exemplars")

const defaultK = 5

var _ classifier.Classifier = (*Classifier)(nil)

// Option configures a [Classifier].
type Option func(*Classifier)

// WithK sets the number of neighbours consulted. Defaults to 5.
func WithK(k int) Option {
	return func(c *Classifier) {
		if k > 0 {
			c.k = k
		}
	}
}

// Classifier votes among nearest exemplars.
type Classifier struct {
	index store.ExemplarIndex
	k     int
}

// New returns a classifier over index.
func New(index store.ExemplarIndex, opts ...Option) (*Classifier, error) {
	if index == nil {
		return nil, errors.New("knn: index must not be nil")
	}
	c := &Classifier{index: index, k: defaultK}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Classify queries the index and returns the weighted majority label.
func (c *Classifier) Classify(ctx context.Context, v features.Vector) (classifier.Prediction, error) {
	neighbours, err := c.index.Nearest(ctx, v.Float32(), c.k)
	if err != nil {
		return classifier.Prediction{}, fmt.Errorf("knn: %w", err)
	}
	if len(neighbours) == 0 {
		return classifier.Prediction{}, ErrNoExemplars
	}

	weights := make(map[string]float64)
	var total float64
	for _, n := range neighbours {
		w := 1 / (1 + max(n.Distance, 0))
		weights[n.Exemplar.Label] += w
		total += w
	}

	// Sort labels so ties resolve the same way on every call.
	labels := make([]string, 0, len(weights))
	for l := range weights {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	best := labels[0]
	for _, l := range labels[1:] {
		if weights[l] > weights[best] {
			best = l
		}
	}
	return classifier.Prediction{
		Label:      best,
		Confidence: min(weights[best]/total, 1),
	}, nil
}

// Ping forwards to the index when it can verify connectivity.
func (c *Classifier) Ping(ctx context.Context) error {
	if p, ok := c.index.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Info implements classifier.Classifier. The index may change between
// calls, so the classifier does not claim determinism.
func (c *Classifier) Info() classifier.Info {
	return classifier.Info{Name: "knn", Deterministic: false}
}
