package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/auralyze/pkg/classifier"
)

// ErrClassifierNotRegistered is returned by [Registry.CreateClassifier] when
// no factory has been registered under the requested name.
var ErrClassifierNotRegistered = errors.New("config: classifier not registered")

// ClassifierFactory constructs a classifier from its configuration block.
type ClassifierFactory func(ProviderEntry) (classifier.Classifier, error)

// Registry maps classifier names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	classifiers map[string]ClassifierFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{classifiers: make(map[string]ClassifierFactory)}
}

// RegisterClassifier registers a classifier factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterClassifier(name string, factory ClassifierFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifiers[name] = factory
}

// CreateClassifier instantiates a classifier using the factory registered
// under entry.Name. Returns [ErrClassifierNotRegistered] if no factory has
// been registered for that name.
func (r *Registry) CreateClassifier(entry ProviderEntry) (classifier.Classifier, error) {
	r.mu.RLock()
	factory, ok := r.classifiers[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrClassifierNotRegistered, entry.Name)
	}
	c, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create classifier %q: %w", entry.Name, err)
	}
	return c, nil
}

// Names returns the registered classifier names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.classifiers))
	for n := range r.classifiers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// OptionString returns the string option key, or def when unset.
func (e ProviderEntry) OptionString(key, def string) string {
	if v, ok := e.Options[key].(string); ok {
		return v
	}
	return def
}

// OptionInt returns the integer option key, or def when unset. YAML numbers
// decode as int or float64; both are accepted.
func (e ProviderEntry) OptionInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// OptionFloat returns the numeric option key, or def when unset.
func (e ProviderEntry) OptionFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	}
	return def
}
