// Package centroid implements a local nearest-centroid classifier.
//
// The model is a set of labelled centroids in feature space, typically the
// per-class mean of training vectors, stored as YAML:
//
//	labels:
//	  - label: ASD_Detected
//	    centroid: [-412.3, 81.0, ...]
//	  - label: Typical
//	    centroid: [-398.7, 77.2, ...]
//	temperature: 10
//
// The predicted label is the closest centroid by Euclidean distance.
// Confidence is the softmax over negative distances scaled by Temperature.
package centroid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/auralyze/pkg/classifier"
	"github.com/MrWong99/auralyze/pkg/features"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// model dimension.
var ErrDimensionMismatch = errors.New("centroid: vector dimension mismatch")

var _ classifier.Classifier = (*Classifier)(nil)

// Class is one labelled centroid.
type Class struct {
	Label    string    `yaml:"label"`
	Centroid []float64 `yaml:"centroid"`
}

// Model is the on-disk representation.
type Model struct {
	Labels []Class `yaml:"labels"`

	// Temperature divides distances before the softmax. Larger values give
	// flatter confidences. Defaults to 1.
	Temperature float64 `yaml:"temperature"`
}

// Validate checks that m has at least one class, a common dimension and
// unique, non-empty labels.
func (m *Model) Validate() error {
	if len(m.Labels) == 0 {
		return errors.New("centroid: model has no labels")
	}
	if m.Temperature < 0 {
		return fmt.Errorf("centroid: temperature %v must not be negative", m.Temperature)
	}
	dim := len(m.Labels[0].Centroid)
	seen := make(map[string]int, len(m.Labels))
	var errs []error
	for i, c := range m.Labels {
		if c.Label == "" {
			errs = append(errs, fmt.Errorf("labels[%d].label is required", i))
		} else if prev, ok := seen[c.Label]; ok {
			errs = append(errs, fmt.Errorf("labels[%d].label %q duplicates labels[%d]", i, c.Label, prev))
		} else {
			seen[c.Label] = i
		}
		if len(c.Centroid) == 0 || len(c.Centroid) != dim {
			errs = append(errs, fmt.Errorf("labels[%d].centroid has %d values, want %d", i, len(c.Centroid), dim))
		}
		for j, v := range c.Centroid {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				errs = append(errs, fmt.Errorf("labels[%d].centroid[%d] is not finite", i, j))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("centroid: invalid model: %w", err)
	}
	return nil
}

// Dim returns the feature dimension of the model.
func (m *Model) Dim() int {
	if len(m.Labels) == 0 {
		return 0
	}
	return len(m.Labels[0].Centroid)
}

// Load reads a YAML model from path.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("centroid: open %q: %w", path, err)
	}
	defer f.Close()
	m, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("centroid: parse %q: %w", path, err)
	}
	return m, nil
}

// LoadFromReader decodes and validates a YAML model from r.
func LoadFromReader(r io.Reader) (*Model, error) {
	m := &Model{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("centroid: decode yaml: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Classifier is a nearest-centroid classifier. It is immutable after
// construction and safe for concurrent use.
type Classifier struct {
	model Model
	temp  float64
}

// New validates m and returns a classifier over it.
func New(m *Model) (*Classifier, error) {
	if m == nil {
		return nil, errors.New("centroid: model must not be nil")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	temp := m.Temperature
	if temp == 0 {
		temp = 1
	}
	return &Classifier{model: *m, temp: temp}, nil
}

// Classify returns the closest centroid's label.
func (c *Classifier) Classify(ctx context.Context, v features.Vector) (classifier.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return classifier.Prediction{}, err
	}
	if len(v) != c.model.Dim() {
		return classifier.Prediction{}, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), c.model.Dim())
	}

	dists := make([]float64, len(c.model.Labels))
	best := 0
	for i, cls := range c.model.Labels {
		var sum float64
		for j, x := range cls.Centroid {
			d := v[j] - x
			sum += d * d
		}
		dists[i] = math.Sqrt(sum)
		if dists[i] < dists[best] {
			best = i
		}
	}

	// Softmax over -d/T, shifted by the minimum distance for stability.
	var denom float64
	for _, d := range dists {
		denom += math.Exp(-(d - dists[best]) / c.temp)
	}
	conf := 1 / denom
	return classifier.Prediction{
		Label:      c.model.Labels[best].Label,
		Confidence: min(max(conf, 0), 1),
	}, nil
}

// Info implements classifier.Classifier.
func (c *Classifier) Info() classifier.Info {
	return classifier.Info{Name: "centroid", Deterministic: true}
}
