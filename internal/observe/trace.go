package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = meterName

// Span names.
const (
	SpanWindow = "stream.window"
	SpanFile   = "analysis.file"
)

// Span attribute keys shared by the streaming and file paths.
const (
	AttrSessionID      = attribute.Key("auralyze.session.id")
	AttrWindowSequence = attribute.Key("auralyze.window.sequence")
	AttrWindowOutcome  = attribute.Key("auralyze.window.outcome")
	AttrFileBytes      = attribute.Key("auralyze.file.bytes")
	AttrFileWindows    = attribute.Key("auralyze.file.windows")
)

func startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartWindowSpan starts the span covering one streamed window.
func StartWindowSpan(ctx context.Context, sessionID string, seq uint64) (context.Context, trace.Span) {
	return startSpan(ctx, SpanWindow,
		trace.WithAttributes(
			AttrSessionID.String(sessionID),
			AttrWindowSequence.Int64(int64(seq)),
		),
	)
}

// StartFileSpan starts the span covering a whole-file analysis of size bytes.
func StartFileSpan(ctx context.Context, size int) (context.Context, trace.Span) {
	return startSpan(ctx, SpanFile,
		trace.WithAttributes(AttrFileBytes.Int(size)),
	)
}

// EndWindowSpan records how a window ended and ends the span. A nil err marks
// a classified window; a non-nil err marks the span failed with outcome as
// its label ("error" for a per-window failure, "fault" for a terminal one).
func EndWindowSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(AttrWindowOutcome.String(outcome))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the hex trace ID carried by ctx, or "" if there is
// none. HTTP responses echo it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries a recording span, so request logs can be joined with traces.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
