// Package classifier defines the Classifier interface consumed by the
// streaming core and the file analysis path.
//
// A Classifier maps a feature vector to a label and a confidence in [0, 1].
// Implementations live in sub-packages:
//
//   - stub: fixed label and confidence, for tests and smoke deployments.
//   - centroid: local nearest-centroid model loaded from a YAML file.
//   - remote: HTTP inference service.
//   - knn: nearest labelled exemplars from a vector index.
//
// Callers always bound Classify with a context deadline; implementations must
// honour ctx and return promptly once it is done.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/auralyze/pkg/features"
)

// ErrInvalidPrediction is returned when an implementation produces a label
// or confidence outside the contract.
var ErrInvalidPrediction = errors.New("classifier: invalid prediction")

// Prediction is the outcome of classifying one feature vector.
type Prediction struct {
	// Label names the predicted class. Never empty.
	Label string

	// Confidence is the model's certainty in [0, 1].
	Confidence float64
}

// Info describes a classifier implementation.
type Info struct {
	// Name identifies the implementation (e.g., "stub", "remote").
	Name string

	// Deterministic is true when identical input always yields an identical
	// prediction. Remote services report false.
	Deterministic bool
}

// Classifier is the capability the core depends on.
//
// Implementations must be safe for concurrent use: many sessions call
// Classify on the same instance.
type Classifier interface {
	// Classify returns a prediction for v. It must return a non-nil error
	// rather than an invalid Prediction.
	Classify(ctx context.Context, v features.Vector) (Prediction, error)

	// Info reports static properties of the implementation.
	Info() Info
}

// Pinger is implemented by classifiers that can verify their backing service
// is reachable. Used by readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Validate reports whether p satisfies the Classifier contract.
func Validate(p Prediction) error {
	if p.Label == "" {
		return fmt.Errorf("%w: empty label", ErrInvalidPrediction)
	}
	if math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0, 1]", ErrInvalidPrediction, p.Confidence)
	}
	return nil
}

// Checked wraps c so every prediction is passed through [Validate].
func Checked(c Classifier) Classifier {
	if _, ok := c.(checked); ok {
		return c
	}
	return checked{c}
}

type checked struct{ Classifier }

func (c checked) Classify(ctx context.Context, v features.Vector) (Prediction, error) {
	p, err := c.Classifier.Classify(ctx, v)
	if err != nil {
		return Prediction{}, err
	}
	if err := Validate(p); err != nil {
		return Prediction{}, fmt.Errorf("%s: %w", c.Info().Name, err)
	}
	return p, nil
}

// Ping forwards to the wrapped classifier when it implements [Pinger].
func (c checked) Ping(ctx context.Context) error {
	if p, ok := c.Classifier.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
