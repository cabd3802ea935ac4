package app

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/auralyze/internal/config"
	"github.com/MrWong99/auralyze/internal/resilience"
	"github.com/MrWong99/auralyze/pkg/classifier"
	"github.com/MrWong99/auralyze/pkg/classifier/centroid"
	"github.com/MrWong99/auralyze/pkg/classifier/knn"
	"github.com/MrWong99/auralyze/pkg/classifier/remote"
	"github.com/MrWong99/auralyze/pkg/classifier/stub"
	"github.com/MrWong99/auralyze/pkg/store"
)

// errNoExemplarIndex is returned by the knn factory when storage is disabled.
var errNoExemplarIndex = errors.New("knn classifier requires storage.postgres_dsn")

// RegisterBuiltinClassifiers wires every classifier that ships with Auralyze
// into reg. index backs the knn classifier and may be nil when storage is
// disabled. featureCount is the vector length models must accept.
func RegisterBuiltinClassifiers(reg *config.Registry, index store.ExemplarIndex, featureCount int) {
	reg.RegisterClassifier("stub", func(entry config.ProviderEntry) (classifier.Classifier, error) {
		return stub.New(stub.WithPrediction(
			entry.OptionString("label", stub.DefaultLabel),
			entry.OptionFloat("confidence", stub.DefaultConfidence),
		))
	})

	reg.RegisterClassifier("centroid", func(entry config.ProviderEntry) (classifier.Classifier, error) {
		m, err := centroid.Load(entry.Model)
		if err != nil {
			return nil, err
		}
		if m.Dim() != featureCount {
			return nil, fmt.Errorf("centroid model %q has dimension %d, audio.feature_count is %d",
				entry.Model, m.Dim(), featureCount)
		}
		return centroid.New(m)
	})

	reg.RegisterClassifier("remote", func(entry config.ProviderEntry) (classifier.Classifier, error) {
		var opts []remote.Option
		if entry.APIKey != "" {
			opts = append(opts, remote.WithAPIKey(entry.APIKey))
		}
		if entry.Model != "" {
			opts = append(opts, remote.WithModel(entry.Model))
		}
		if d := entry.OptionString("timeout", ""); d != "" {
			timeout, err := time.ParseDuration(d)
			if err != nil {
				return nil, fmt.Errorf("remote: option timeout: %w", err)
			}
			opts = append(opts, remote.WithTimeout(timeout))
		}
		return remote.New(entry.BaseURL, opts...)
	})

	reg.RegisterClassifier("knn", func(entry config.ProviderEntry) (classifier.Classifier, error) {
		if index == nil {
			return nil, errNoExemplarIndex
		}
		return knn.New(index, knn.WithK(entry.OptionInt("k", 0)))
	})

	for _, name := range reg.Names() {
		slog.Debug("registered classifier", "name", name)
	}
}

// BuildClassifier instantiates the primary classifier and its fallbacks from
// cfg and wraps them in a failover group with one circuit breaker each.
func BuildClassifier(cfg config.ClassifierConfig, reg *config.Registry) (*resilience.ClassifierFallback, error) {
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.CircuitBreaker.MaxFailures,
			ResetTimeout: cfg.CircuitBreaker.ResetTimeout,
			HalfOpenMax:  cfg.CircuitBreaker.HalfOpenMax,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("classifier circuit changed state", "classifier", name, "from", from, "to", to)
			},
		},
	}

	var group *resilience.ClassifierFallback
	for i, entry := range cfg.Entries() {
		c, err := reg.CreateClassifier(entry)
		if err != nil {
			return nil, fmt.Errorf("create classifier %q (entry %d): %w", entry.Name, i, err)
		}
		if group == nil {
			group = resilience.NewClassifierFallback(c, entry.Name, fbCfg)
		} else {
			group.AddFallback(entry.Name, c)
		}
		slog.Info("classifier created", "name", entry.Name, "fallback", i > 0)
	}
	return group, nil
}
