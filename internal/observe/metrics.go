// Package observe provides application-wide observability primitives for
// Auralyze: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Auralyze metrics.
const meterName = "github.com/MrWong99/auralyze"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// WindowDuration tracks decode + extract + classify time per window.
	WindowDuration metric.Float64Histogram

	// ClassifierDuration tracks classifier call latency. Use with attributes:
	//   attribute.String("classifier", ...), attribute.String("status", ...)
	ClassifierDuration metric.Float64Histogram

	// --- Counters ---

	// Results counts emitted window outcomes. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	Results metric.Int64Counter

	// SessionsRejected counts session creations refused at capacity.
	SessionsRejected metric.Int64Counter

	// SessionFaults counts sessions that ended Faulted. Use with attribute:
	//   attribute.String("kind", ...)
	SessionFaults metric.Int64Counter

	// BackpressureWaits counts chunk receipts that had to wait for global
	// buffer space.
	BackpressureWaits metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live streaming sessions.
	ActiveSessions metric.Int64UpDownCounter

	// BufferedBytes tracks received but not yet processed bytes across all
	// sessions.
	BufferedBytes metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// per-window analysis latencies.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.WindowDuration, err = m.Float64Histogram("auralyze.window.duration",
		metric.WithDescription("Latency of processing one sample window end to end."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClassifierDuration, err = m.Float64Histogram("auralyze.classifier.duration",
		metric.WithDescription("Latency of classifier calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Results, err = m.Int64Counter("auralyze.results",
		metric.WithDescription("Total window outcomes emitted by status."),
	); err != nil {
		return nil, err
	}
	if met.SessionsRejected, err = m.Int64Counter("auralyze.sessions.rejected",
		metric.WithDescription("Total session creations rejected at capacity."),
	); err != nil {
		return nil, err
	}
	if met.SessionFaults, err = m.Int64Counter("auralyze.session.faults",
		metric.WithDescription("Total sessions terminated by a fault, by error kind."),
	); err != nil {
		return nil, err
	}
	if met.BackpressureWaits, err = m.Int64Counter("auralyze.backpressure.waits",
		metric.WithDescription("Total chunk receipts delayed by the global buffer cap."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("auralyze.sessions.active",
		metric.WithDescription("Number of live streaming sessions."),
	); err != nil {
		return nil, err
	}
	if met.BufferedBytes, err = m.Int64UpDownCounter("auralyze.buffer.bytes",
		metric.WithDescription("Bytes received but not yet processed across all sessions."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("auralyze.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordResult increments the outcome counter for one window.
func (m *Metrics) RecordResult(ctx context.Context, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.Results.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordClassifier records one classifier call.
func (m *Metrics) RecordClassifier(ctx context.Context, classifier, status string, d time.Duration) {
	m.ClassifierDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("classifier", classifier),
			attribute.String("status", status),
		),
	)
}

// RecordSessionFault increments the fault counter for kind.
func (m *Metrics) RecordSessionFault(ctx context.Context, kind string) {
	m.SessionFaults.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
