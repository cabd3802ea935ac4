// Package mock provides a test double for the classifier.Classifier interface.
//
// Configure the returned Prediction and error directly, or set ClassifyFunc
// for per-call behaviour (e.g., blocking until the context is cancelled to
// simulate a timeout on a specific window).
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/auralyze/pkg/classifier"
	"github.com/MrWong99/auralyze/pkg/features"
)

// Classifier is a mock implementation of classifier.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Prediction is returned by Classify when ClassifyFunc is nil.
	Prediction classifier.Prediction

	// Err, if non-nil, is returned by Classify when ClassifyFunc is nil.
	Err error

	// ClassifyFunc overrides the static fields. call is the zero-based index
	// of this invocation.
	ClassifyFunc func(ctx context.Context, call int, v features.Vector) (classifier.Prediction, error)

	// PingErr is returned by Ping.
	PingErr error

	// NonDeterministic flips the Deterministic flag reported by Info.
	NonDeterministic bool

	// Calls records every vector passed to Classify.
	Calls []features.Vector
}

// Classify records the call and returns the configured outcome.
func (c *Classifier) Classify(ctx context.Context, v features.Vector) (classifier.Prediction, error) {
	c.mu.Lock()
	call := len(c.Calls)
	c.Calls = append(c.Calls, v.Clone())
	fn := c.ClassifyFunc
	pred, err := c.Prediction, c.Err
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, call, v)
	}
	if err != nil {
		return classifier.Prediction{}, err
	}
	if pred.Label == "" {
		pred = classifier.Prediction{Label: "mock", Confidence: 1}
	}
	return pred, nil
}

// Info reports the mock's name and determinism flag.
func (c *Classifier) Info() classifier.Info {
	return classifier.Info{Name: "mock", Deterministic: !c.NonDeterministic}
}

// Ping returns PingErr.
func (c *Classifier) Ping(context.Context) error { return c.PingErr }

// CallCount returns the number of Classify invocations. Thread-safe.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = nil
}

var _ classifier.Classifier = (*Classifier)(nil)
