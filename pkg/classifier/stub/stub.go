// Package stub provides a fixed-output classifier for tests and smoke
// deployments. It ignores its input and always returns the same prediction.
package stub

import (
	"context"

	"github.com/MrWong99/auralyze/pkg/classifier"
	"github.com/MrWong99/auralyze/pkg/features"
)

const (
	// DefaultLabel is the label returned when none is configured.
	DefaultLabel = "ASD_Detected"

	// DefaultConfidence is the confidence returned when none is configured.
	DefaultConfidence = 0.95
)

var _ classifier.Classifier = (*Classifier)(nil)

// Option configures a [Classifier].
type Option func(*Classifier)

// WithPrediction overrides the fixed label and confidence.
func WithPrediction(label string, confidence float64) Option {
	return func(c *Classifier) {
		c.pred = classifier.Prediction{Label: label, Confidence: confidence}
	}
}

// Classifier returns a constant prediction.
type Classifier struct {
	pred classifier.Prediction
}

// New returns a stub classifier. The configured prediction is validated.
func New(opts ...Option) (*Classifier, error) {
	c := &Classifier{pred: classifier.Prediction{Label: DefaultLabel, Confidence: DefaultConfidence}}
	for _, opt := range opts {
		opt(c)
	}
	if err := classifier.Validate(c.pred); err != nil {
		return nil, err
	}
	return c, nil
}

// Classify returns the fixed prediction unless ctx is already done.
func (c *Classifier) Classify(ctx context.Context, _ features.Vector) (classifier.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return classifier.Prediction{}, err
	}
	return c.pred, nil
}

// Info implements classifier.Classifier.
func (c *Classifier) Info() classifier.Info {
	return classifier.Info{Name: "stub", Deterministic: true}
}
