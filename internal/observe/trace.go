package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the hearken tracer.
const tracerName = "github.com/MrWong99/hearken"

// Tracer returns the package-level [trace.Tracer] for hearken. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
// The trace ID doubles as the correlation identifier returned to devices.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// WithTrace returns l with the trace_id and span_id of the span in ctx. It
// returns l unchanged when ctx carries no valid span. A nil l stands for
// [slog.Default].
func WithTrace(ctx context.Context, l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	return l.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

// SessionLogger derives the logger for one device session from l: the span
// in ctx plus session_id. Log lines of a session can then be joined with the
// trace of the connection that carried it.
func SessionLogger(ctx context.Context, l *slog.Logger, sessionID string) *slog.Logger {
	return WithTrace(ctx, l).With(slog.String("session_id", sessionID))
}
