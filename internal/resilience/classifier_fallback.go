package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/auralyze/pkg/classifier"
	"github.com/MrWong99/auralyze/pkg/features"
)

// ClassifierFallback implements [classifier.Classifier] with automatic
// failover across several backends. Each backend has its own circuit breaker;
// when the primary fails or its breaker is open, the next healthy fallback is
// tried.
type ClassifierFallback struct {
	group *FallbackGroup[classifier.Classifier]
}

var (
	_ classifier.Classifier = (*ClassifierFallback)(nil)
	_ classifier.Pinger     = (*ClassifierFallback)(nil)
)

// NewClassifierFallback creates a [ClassifierFallback] with primary as the
// preferred backend.
func NewClassifierFallback(primary classifier.Classifier, primaryName string, cfg FallbackConfig) *ClassifierFallback {
	return &ClassifierFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional classifier as a fallback.
func (f *ClassifierFallback) AddFallback(name string, c classifier.Classifier) {
	f.group.AddFallback(name, c)
}

// Classify returns the first successful prediction. The error of the last
// backend tried is wrapped, so a timeout stays detectable with
// errors.Is(err, context.DeadlineExceeded).
func (f *ClassifierFallback) Classify(ctx context.Context, v features.Vector) (classifier.Prediction, error) {
	return ExecuteWithResult(ctx, f.group, func(c classifier.Classifier) (classifier.Prediction, error) {
		return c.Classify(ctx, v)
	})
}

// Info reports the primary's name. The group is deterministic only when
// every backend is.
func (f *ClassifierFallback) Info() classifier.Info {
	info := classifier.Info{Name: f.group.entries[0].value.Info().Name, Deterministic: true}
	for _, e := range f.group.entries {
		if !e.value.Info().Deterministic {
			info.Deterministic = false
		}
	}
	return info
}

// Ping succeeds when at least one backend is reachable. Backends without a
// Ping method count as reachable.
func (f *ClassifierFallback) Ping(ctx context.Context) error {
	var errs []error
	for _, e := range f.group.entries {
		p, ok := e.value.(classifier.Pinger)
		if !ok {
			return nil
		}
		err := p.Ping(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// States reports the breaker state of every backend, in order.
func (f *ClassifierFallback) States() []EntryState {
	return f.group.States()
}
