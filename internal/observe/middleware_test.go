package observe

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const incomingTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

// serveOnce sends one request through Middleware and returns the recorder and
// the correlation ID the wrapped handler saw.
func serveOnce(t *testing.T, m *Metrics, req *http.Request, status int) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var seen string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
		w.WriteHeader(status)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestMiddleware_CorrelationID(t *testing.T) {
	installTracer(t)
	m, _ := newTestMetrics(t)

	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{name: "new trace"},
		{name: "continues caller trace", traceparent: "00-" + incomingTraceID + "-00f067aa0ba902b7-01", want: incomingTraceID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/xiaozhi/v1/", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec, seen := serveOnce(t, m, req, http.StatusOK)

			if !traceIDPattern.MatchString(seen) {
				t.Fatalf("handler saw correlation ID %q", seen)
			}
			if tt.want != "" && seen != tt.want {
				t.Errorf("correlation ID = %q, want %q", seen, tt.want)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != seen {
				t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
			}
		})
	}
}

func TestMiddleware_SpanAndDuration(t *testing.T) {
	exp := installTracer(t)
	m, reader := newTestMetrics(t)

	serveOnce(t, m, httptest.NewRequest(http.MethodGet, "/healthz", nil), http.StatusNotFound)

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP GET /healthz" {
		t.Fatalf("spans = %v, want one HTTP GET /healthz", spans)
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusNotFound {
		t.Errorf("span status attribute = %d, want 404", status)
	}

	met := findMetric(collect(t, reader), "hearken.http.request.duration")
	if met == nil {
		t.Fatal("request duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("request duration data = %+v", met.Data)
	}
	path, _ := hist.DataPoints[0].Attributes.Value("path")
	method, _ := hist.DataPoints[0].Attributes.Value("method")
	if path.AsString() != "/healthz" || method.AsString() != http.MethodGet {
		t.Errorf("attributes = %v", hist.DataPoints[0].Attributes.ToSlice())
	}
}

func TestMiddleware_CompletionLog(t *testing.T) {
	installTracer(t)
	m, _ := newTestMetrics(t)

	var buf bytes.Buffer
	prev := slog.Default()
	// Info and above only, so upgraded connections stay out.
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	_, cid := serveOnce(t, m, httptest.NewRequest(http.MethodGet, "/healthz", nil), http.StatusOK)
	line := buf.String()
	if !strings.Contains(line, "request completed") || !strings.Contains(line, "trace_id="+cid) || !strings.Contains(line, "span_id=") {
		t.Errorf("completion log = %q, want message with trace_id and span_id", line)
	}

	buf.Reset()
	serveOnce(t, m, httptest.NewRequest(http.MethodGet, "/xiaozhi/v1/", nil), http.StatusSwitchingProtocols)
	if buf.Len() != 0 {
		t.Errorf("upgrade logged at info: %q", buf.String())
	}
}

func TestMiddleware_UnwrapReachesUnderlyingWriter(t *testing.T) {
	installTracer(t)
	m, _ := newTestMetrics(t)

	var inner http.ResponseWriter
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if u, ok := w.(interface{ Unwrap() http.ResponseWriter }); ok {
			inner = u.Unwrap()
		}
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/xiaozhi/v1/", nil))
	if inner != rec {
		t.Errorf("Unwrap returned %T, want the recorder", inner)
	}
}

func TestMiddleware_NoTracerStillServes(t *testing.T) {
	m, _ := newTestMetrics(t)
	rec, _ := serveOnce(t, m, httptest.NewRequest(http.MethodGet, "/healthz", nil), http.StatusOK)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
