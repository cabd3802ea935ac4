// Package config provides the configuration schema, loader, and classifier
// registry for the Auralyze audio analysis service.
package config

import (
	"time"

	"github.com/MrWong99/auralyze/pkg/audio"
	"github.com/MrWong99/auralyze/pkg/features"
)

// LogLevel controls log verbosity for the Auralyze server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Auralyze.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Audio      AudioConfig      `yaml:"audio"`
	Stream     StreamConfig     `yaml:"stream"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Storage    StorageConfig    `yaml:"storage"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// MaxUploadBytes caps the body of a file upload.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// AllowedOrigins lists host patterns permitted to open streaming
	// connections from a browser on another origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig describes the inbound audio encoding and the feature
// extraction parameters.
type AudioConfig struct {
	// SampleRate is the analysis rate in Hz. Streams must already be at this
	// rate; uploaded files are resampled to it.
	SampleRate int `yaml:"sample_rate"`

	// SampleFormat is the encoding of streamed chunks: "f32le" or "s16le".
	SampleFormat string `yaml:"sample_format"`

	// WindowSize is the number of samples per classification window.
	WindowSize int `yaml:"window_size"`

	// FeatureCount is the number of cepstral coefficients per window.
	FeatureCount int `yaml:"feature_count"`

	FrameSize   int     `yaml:"frame_size"`
	HopSize     int     `yaml:"hop_size"`
	FFTSize     int     `yaml:"fft_size"`
	NumMels     int     `yaml:"num_mels"`
	LowFreq     float64 `yaml:"low_freq"`
	HighFreq    float64 `yaml:"high_freq"`
	PreEmphasis float64 `yaml:"pre_emphasis"`
}

// Format returns the parsed sample format. Call after [Validate].
func (a AudioConfig) Format() audio.SampleFormat {
	f, _ := audio.ParseSampleFormat(a.SampleFormat)
	return f
}

// Features converts a to an extractor configuration.
func (a AudioConfig) Features() features.Config {
	return features.Config{
		SampleRate:   a.SampleRate,
		WindowSize:   a.WindowSize,
		FeatureCount: a.FeatureCount,
		FrameSize:    a.FrameSize,
		HopSize:      a.HopSize,
		FFTSize:      a.FFTSize,
		NumMels:      a.NumMels,
		LowFreq:      a.LowFreq,
		HighFreq:     a.HighFreq,
		PreEmphasis:  a.PreEmphasis,
	}
}

// StreamConfig holds the limits of the streaming core.
type StreamConfig struct {
	// MaxConcurrentSessions caps live streaming sessions. Hot-reloadable.
	MaxConcurrentSessions int `yaml:"max_concurrent_sessions"`

	// MaxBufferedBytes caps received but unprocessed bytes across all
	// sessions.
	MaxBufferedBytes int64 `yaml:"max_buffered_bytes"`

	// MaxChunkBytes caps one inbound chunk.
	MaxChunkBytes int `yaml:"max_chunk_bytes"`

	// SessionIdleTimeout closes sessions that sent nothing for this long.
	// Hot-reloadable.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`

	// ClassifierTimeout bounds each classifier call.
	ClassifierTimeout time.Duration `yaml:"classifier_timeout"`

	// MaxConsecutiveFailures is how many recoverable classifier failures in
	// a row a session tolerates before it is faulted.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`

	// SendTimeout bounds each outbound message.
	SendTimeout time.Duration `yaml:"send_timeout"`

	// ReapInterval is how often idle sessions are checked.
	ReapInterval time.Duration `yaml:"reap_interval"`

	// ShutdownTimeout bounds draining of in-flight sessions on shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ClassifierConfig selects the primary classifier, its fallbacks, and the
// circuit breaker guarding each of them.
type ClassifierConfig struct {
	ProviderEntry `yaml:",inline"`

	// Fallbacks are tried in order when the primary fails or its circuit is
	// open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// Entries returns the primary entry followed by the fallbacks.
func (c ClassifierConfig) Entries() []ProviderEntry {
	out := make([]ProviderEntry, 0, 1+len(c.Fallbacks))
	out = append(out, c.ProviderEntry)
	return append(out, c.Fallbacks...)
}

// ProviderEntry is the configuration block of one classifier implementation.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "stub", "remote").
	Name string `yaml:"name"`

	// APIKey authenticates against a remote inference service.
	APIKey string `yaml:"api_key"`

	// BaseURL is the endpoint of a remote inference service.
	BaseURL string `yaml:"base_url"`

	// Model selects a model on a remote service, or the model file path for
	// the local centroid classifier.
	Model string `yaml:"model"`

	// Options holds implementation-specific values not covered by the
	// standard fields above (e.g., "k" for knn, "label" for stub).
	Options map[string]any `yaml:"options"`
}

// CircuitBreakerConfig configures the breaker wrapped around each classifier.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// StorageConfig configures persistence.
type StorageConfig struct {
	// PostgresDSN enables the PostgreSQL result log and exemplar index.
	// Empty disables persistence.
	PostgresDSN string `yaml:"postgres_dsn"`

	// ResultQueueDepth is the number of results buffered for asynchronous
	// persistence.
	ResultQueueDepth int `yaml:"result_queue_depth"`
}

// TelemetryConfig configures the reported service identity.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`

	// SampleRatio is the fraction of traces recorded. 0 records all.
	SampleRatio float64 `yaml:"sample_ratio"`
}
