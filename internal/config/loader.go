package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/auralyze/pkg/audio"
)

// ValidClassifierNames lists the classifier implementations compiled into
// the server. Used by [Validate] to warn about unrecognised names.
var ValidClassifierNames = []string{"stub", "centroid", "remote", "knn"}

// Environment variables that override file values.
const (
	EnvListenAddr       = "AURALYZE_LISTEN_ADDR"
	EnvLogLevel         = "AURALYZE_LOG_LEVEL"
	EnvPostgresDSN      = "AURALYZE_POSTGRES_DSN"
	EnvClassifier       = "AURALYZE_CLASSIFIER"
	EnvClassifierURL    = "AURALYZE_CLASSIFIER_URL"
	EnvClassifierAPIKey = "AURALYZE_CLASSIFIER_API_KEY"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults and environment overrides applied. A .env file in
// the working directory, if present, is loaded into the environment first;
// variables already set take precedence over it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("config: ignoring unreadable .env file", "err", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Environment overrides are not applied. Useful in
// tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data, nil)
}

// lookupFunc has the signature of [os.LookupEnv].
type lookupFunc func(key string) (string, bool)

func parse(data []byte, lookup lookupFunc) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the AURALYZE_* variables reported by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvListenAddr, &cfg.Server.ListenAddr)
	set(EnvPostgresDSN, &cfg.Storage.PostgresDSN)
	set(EnvClassifier, &cfg.Classifier.Name)
	set(EnvClassifierURL, &cfg.Classifier.BaseURL)
	set(EnvClassifierAPIKey, &cfg.Classifier.APIKey)

	var level string
	set(EnvLogLevel, &level)
	if level != "" {
		cfg.Server.LogLevel = LogLevel(level)
	}
}

// ApplyDefaults fills every zero-valued field of cfg that has a default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = ":8000"
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.MaxUploadBytes == 0 {
		s.MaxUploadBytes = 50 << 20
	}

	a := &cfg.Audio
	if a.SampleRate == 0 {
		a.SampleRate = 16000
	}
	if a.SampleFormat == "" {
		a.SampleFormat = string(audio.FormatF32LE)
	}
	if a.WindowSize == 0 {
		a.WindowSize = 4096
	}
	if a.FeatureCount == 0 {
		a.FeatureCount = 13
	}
	if a.FrameSize == 0 {
		a.FrameSize = 400
	}
	if a.HopSize == 0 {
		a.HopSize = 160
	}
	if a.FFTSize == 0 {
		a.FFTSize = 512
	}
	if a.NumMels == 0 {
		a.NumMels = 40
	}
	if a.LowFreq == 0 {
		a.LowFreq = 20
	}
	if a.PreEmphasis == 0 {
		a.PreEmphasis = 0.97
	}

	st := &cfg.Stream
	if st.MaxConcurrentSessions == 0 {
		st.MaxConcurrentSessions = 64
	}
	if st.MaxBufferedBytes == 0 {
		st.MaxBufferedBytes = 8 << 20
	}
	if st.MaxChunkBytes == 0 {
		st.MaxChunkBytes = 1 << 20
	}
	if st.SessionIdleTimeout == 0 {
		st.SessionIdleTimeout = 30 * time.Second
	}
	if st.ClassifierTimeout == 0 {
		st.ClassifierTimeout = 2 * time.Second
	}
	if st.MaxConsecutiveFailures == 0 {
		st.MaxConsecutiveFailures = 3
	}
	if st.SendTimeout == 0 {
		st.SendTimeout = 5 * time.Second
	}
	if st.ReapInterval == 0 {
		st.ReapInterval = 5 * time.Second
	}
	if st.ShutdownTimeout == 0 {
		st.ShutdownTimeout = 15 * time.Second
	}

	if cfg.Classifier.Name == "" {
		cfg.Classifier.Name = "stub"
	}
	cb := &cfg.Classifier.CircuitBreaker
	if cb.MaxFailures == 0 {
		cb.MaxFailures = 5
	}
	if cb.ResetTimeout == 0 {
		cb.ResetTimeout = 30 * time.Second
	}
	if cb.HalfOpenMax == 0 {
		cb.HalfOpenMax = 1
	}

	if cfg.Storage.ResultQueueDepth == 0 {
		cfg.Storage.ResultQueueDepth = 256
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "auralyze"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must not be negative, got %d", cfg.Server.MaxUploadBytes))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	if _, err := audio.ParseSampleFormat(cfg.Audio.SampleFormat); err != nil {
		errs = append(errs, fmt.Errorf("audio.sample_format %q is invalid; valid values: f32le, s16le", cfg.Audio.SampleFormat))
	}
	if err := cfg.Audio.Features().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}

	// Stream
	st := cfg.Stream
	if st.MaxConcurrentSessions < 1 {
		errs = append(errs, fmt.Errorf("stream.max_concurrent_sessions must be at least 1, got %d", st.MaxConcurrentSessions))
	}
	if st.MaxChunkBytes < 1 {
		errs = append(errs, fmt.Errorf("stream.max_chunk_bytes must be at least 1, got %d", st.MaxChunkBytes))
	}
	if st.MaxBufferedBytes > 0 && st.MaxBufferedBytes < int64(st.MaxChunkBytes) {
		errs = append(errs, fmt.Errorf("stream.max_buffered_bytes %d is smaller than stream.max_chunk_bytes %d", st.MaxBufferedBytes, st.MaxChunkBytes))
	}
	if st.MaxConsecutiveFailures < 1 {
		errs = append(errs, fmt.Errorf("stream.max_consecutive_failures must be at least 1, got %d", st.MaxConsecutiveFailures))
	}
	for name, d := range map[string]time.Duration{
		"classifier_timeout": st.ClassifierTimeout,
		"send_timeout":       st.SendTimeout,
		"reap_interval":      st.ReapInterval,
		"shutdown_timeout":   st.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("stream.%s must be positive, got %s", name, d))
		}
	}
	if st.SessionIdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("stream.session_idle_timeout must not be negative, got %s", st.SessionIdleTimeout))
	}

	// Classifier
	for i, e := range cfg.Classifier.Entries() {
		prefix := "classifier"
		if i > 0 {
			prefix = fmt.Sprintf("classifier.fallbacks[%d]", i-1)
		}
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateClassifierName(e.Name)
		switch e.Name {
		case "remote":
			if e.BaseURL == "" {
				errs = append(errs, fmt.Errorf("%s.base_url is required for the remote classifier", prefix))
			}
		case "centroid":
			if e.Model == "" {
				errs = append(errs, fmt.Errorf("%s.model is required for the centroid classifier", prefix))
			}
		case "knn":
			if cfg.Storage.PostgresDSN == "" {
				errs = append(errs, fmt.Errorf("%s: the knn classifier requires storage.postgres_dsn", prefix))
			}
		}
	}
	cb := cfg.Classifier.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("classifier.circuit_breaker values must not be negative"))
	}

	// Storage
	if cfg.Storage.ResultQueueDepth < 0 {
		errs = append(errs, fmt.Errorf("storage.result_queue_depth must not be negative, got %d", cfg.Storage.ResultQueueDepth))
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio must be between 0 and 1, got %g", r))
	}
	if cfg.Storage.PostgresDSN == "" {
		slog.Debug("storage.postgres_dsn is empty; results will not be persisted")
	}

	return errors.Join(errs...)
}

// validateClassifierName logs a warning if name is not one of
// [ValidClassifierNames]. Third-party classifiers registered at runtime are
// still accepted.
func validateClassifierName(name string) {
	if slices.Contains(ValidClassifierNames, name) {
		return
	}
	slog.Warn("unknown classifier name, may be a typo or third-party classifier",
		"name", name,
		"known", ValidClassifierNames,
	)
}
