package observe

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTracer makes an SDK tracer provider with an in-memory exporter the
// global one for the duration of the test.
func installTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

var traceIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestStartSpan_ExportsNamedSpan(t *testing.T) {
	exp := installTracer(t)

	ctx, span := StartSpan(context.Background(), "ingest.recognizer.start")
	if cid := CorrelationID(ctx); !traceIDPattern.MatchString(cid) {
		t.Errorf("CorrelationID = %q, want 32 hex digits", cid)
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "ingest.recognizer.start" {
		t.Fatalf("exported spans = %v, want one ingest.recognizer.start", spans)
	}
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("without span: %q, want empty", got)
	}

	installTracer(t)
	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "ws.connection")
		cid := CorrelationID(ctx)
		span.End()
		if seen[cid] {
			t.Fatalf("correlation ID %s issued twice", cid)
		}
		seen[cid] = true
	}
}

func TestWithTrace(t *testing.T) {
	installTracer(t)
	traced, span := StartSpan(context.Background(), "ws.connection")
	defer span.End()
	sc := span.SpanContext()

	tests := []struct {
		name      string
		ctx       context.Context
		wantTrace bool
	}{
		{name: "no span", ctx: context.Background()},
		{name: "active span", ctx: traced, wantTrace: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, buf := bufferLogger()
			WithTrace(tt.ctx, l).Info("frame dropped")

			out := buf.String()
			hasTrace := strings.Contains(out, "trace_id="+sc.TraceID().String())
			hasSpan := strings.Contains(out, "span_id="+sc.SpanID().String())
			if hasTrace != tt.wantTrace || hasSpan != tt.wantTrace {
				t.Errorf("trace attrs present = %v/%v, want %v; log: %s", hasTrace, hasSpan, tt.wantTrace, out)
			}
		})
	}
}

func TestWithTrace_NilLoggerUsesDefault(t *testing.T) {
	l, buf := bufferLogger()
	prev := slog.Default()
	slog.SetDefault(l)
	t.Cleanup(func() { slog.SetDefault(prev) })

	WithTrace(context.Background(), nil).Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("default logger not used, got: %q", buf.String())
	}
}

func TestSessionLogger_JoinsSessionAndTrace(t *testing.T) {
	installTracer(t)
	ctx, span := StartSpan(context.Background(), "ws.connection")
	defer span.End()

	l, buf := bufferLogger()
	SessionLogger(ctx, l.With("component", "ingest"), "dev-42").Warn("utterance dropped")

	out := buf.String()
	for _, want := range []string{
		"component=ingest",
		"session_id=dev-42",
		"trace_id=" + CorrelationID(ctx),
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %q: %s", want, out)
		}
	}
}
