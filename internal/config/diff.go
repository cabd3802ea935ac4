package config

import (
	"reflect"
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; every other
// change is reported through RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// LimitsChanged is set when the session cap or idle timeout changed.
	LimitsChanged      bool
	MaxSessions        int
	SessionIdleTimeout time.Duration

	// RestartRequired lists top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether d carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.LimitsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Session limits
	if old.Stream.MaxConcurrentSessions != new.Stream.MaxConcurrentSessions ||
		old.Stream.SessionIdleTimeout != new.Stream.SessionIdleTimeout {
		d.LimitsChanged = true
		d.MaxSessions = new.Stream.MaxConcurrentSessions
		d.SessionIdleTimeout = new.Stream.SessionIdleTimeout
	}

	// Everything else needs a restart. Hot-reloadable fields are masked out.
	if !onlyLogLevel(old.Server, new.Server) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	ost, nst := old.Stream, new.Stream
	ost.MaxConcurrentSessions, nst.MaxConcurrentSessions = 0, 0
	ost.SessionIdleTimeout, nst.SessionIdleTimeout = 0, 0
	if ost != nst {
		d.RestartRequired = append(d.RestartRequired, "stream")
	}
	if !classifierEqual(old.Classifier, new.Classifier) {
		d.RestartRequired = append(d.RestartRequired, "classifier")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

// onlyLogLevel reports whether a and b differ at most in their log level.
func onlyLogLevel(a, b ServerConfig) bool {
	a.LogLevel = b.LogLevel
	return serverEqual(a, b)
}

func serverEqual(a, b ServerConfig) bool {
	if a.ListenAddr != b.ListenAddr || a.LogLevel != b.LogLevel || a.MaxUploadBytes != b.MaxUploadBytes {
		return false
	}
	if (a.TLS == nil) != (b.TLS == nil) || (a.TLS != nil && *a.TLS != *b.TLS) {
		return false
	}
	return slices.Equal(a.AllowedOrigins, b.AllowedOrigins)
}

// classifierEqual compares deeply: Options may hold YAML sequences.
func classifierEqual(a, b ClassifierConfig) bool {
	return reflect.DeepEqual(a, b)
}
