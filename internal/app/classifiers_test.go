package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/auralyze/internal/config"
	"github.com/MrWong99/auralyze/internal/resilience"
	"github.com/MrWong99/auralyze/pkg/classifier/mock"
	"github.com/MrWong99/auralyze/pkg/features"
	storemock "github.com/MrWong99/auralyze/pkg/store/mock"
)

func newRegistry(t *testing.T, featureCount int) *config.Registry {
	t.Helper()
	reg := config.NewRegistry()
	RegisterBuiltinClassifiers(reg, &storemock.ExemplarIndex{}, featureCount)
	return reg
}

func TestRegisterBuiltinClassifiers_Names(t *testing.T) {
	t.Parallel()

	got := strings.Join(newRegistry(t, 13).Names(), ",")
	if got != "centroid,knn,remote,stub" {
		t.Errorf("Names() = %s", got)
	}
}

func TestStubFactory_Options(t *testing.T) {
	t.Parallel()

	c, err := newRegistry(t, 13).CreateClassifier(config.ProviderEntry{
		Name:    "stub",
		Options: map[string]any{"label": "typical", "confidence": 0.4},
	})
	if err != nil {
		t.Fatal(err)
	}
	p, err := c.Classify(context.Background(), features.Vector{1})
	if err != nil {
		t.Fatal(err)
	}
	if p.Label != "typical" || p.Confidence != 0.4 {
		t.Errorf("prediction = %+v", p)
	}
}

func TestCentroidFactory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "model.yaml")
	model := `labels:
  - label: ASD_Detected
    centroid: [1, 0, 0]
  - label: typical
    centroid: [0, 1, 0]
`
	if err := os.WriteFile(path, []byte(model), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := newRegistry(t, 3).CreateClassifier(config.ProviderEntry{Name: "centroid", Model: path})
	if err != nil {
		t.Fatalf("CreateClassifier: %v", err)
	}
	p, err := c.Classify(context.Background(), features.Vector{0.9, 0.1, 0})
	if err != nil {
		t.Fatal(err)
	}
	if p.Label != "ASD_Detected" {
		t.Errorf("label = %q", p.Label)
	}

	if _, err := newRegistry(t, 13).CreateClassifier(config.ProviderEntry{Name: "centroid", Model: path}); err == nil {
		t.Error("dimension mismatch with feature_count should fail")
	}
}

func TestRemoteFactory(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, 13)
	if _, err := reg.CreateClassifier(config.ProviderEntry{Name: "remote", BaseURL: "http://localhost:9000"}); err != nil {
		t.Errorf("valid entry: %v", err)
	}
	if _, err := reg.CreateClassifier(config.ProviderEntry{Name: "remote"}); err == nil {
		t.Error("missing base_url should fail")
	}
	bad := config.ProviderEntry{
		Name:    "remote",
		BaseURL: "http://localhost:9000",
		Options: map[string]any{"timeout": "soon"},
	}
	if _, err := reg.CreateClassifier(bad); err == nil {
		t.Error("bad timeout option should fail")
	}
}

func TestKnnFactory_NeedsIndex(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	RegisterBuiltinClassifiers(reg, nil, 13)
	if _, err := reg.CreateClassifier(config.ProviderEntry{Name: "knn"}); !errors.Is(err, errNoExemplarIndex) {
		t.Errorf("err = %v, want errNoExemplarIndex", err)
	}
	if _, err := newRegistry(t, 13).CreateClassifier(config.ProviderEntry{Name: "knn", Options: map[string]any{"k": 3}}); err != nil {
		t.Errorf("with index: %v", err)
	}
}

func TestBuildClassifier_Fallbacks(t *testing.T) {
	t.Parallel()

	cfg := config.ClassifierConfig{
		ProviderEntry: config.ProviderEntry{Name: "remote", BaseURL: "http://127.0.0.1:1"},
		Fallbacks: []config.ProviderEntry{
			{Name: "stub", Options: map[string]any{"label": "fallback"}},
		},
		CircuitBreaker: config.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute, HalfOpenMax: 1},
	}
	c, err := BuildClassifier(cfg, newRegistry(t, 13))
	if err != nil {
		t.Fatal(err)
	}
	if info := c.Info(); info.Name != "remote" || info.Deterministic {
		t.Errorf("Info() = %+v", info)
	}

	// The remote endpoint refuses connections, so the stub answers.
	p, err := c.Classify(context.Background(), features.Vector{1, 2, 3})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if p.Label != "fallback" {
		t.Errorf("label = %q, want fallback", p.Label)
	}
	if s := c.States(); s[0].State != resilience.StateOpen {
		t.Errorf("primary state = %v, want open", s[0].State)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	lv := new(slog.LevelVar)
	a, err := New(context.Background(), cfg, WithClassifier(&mock.Classifier{}), WithLevelVar(lv))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	newCfg := *cfg
	newCfg.Server.LogLevel = config.LogDebug
	newCfg.Stream.MaxConcurrentSessions = 2
	a.applyConfig(cfg, &newCfg, config.Diff(cfg, &newCfg))

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
}
