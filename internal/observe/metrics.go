// Package observe provides application-wide observability primitives for
// hearken: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all hearken metrics.
const meterName = "github.com/MrWong99/hearken"

// ErrorKind names one category of the ingest error taxonomy. Every kind has
// its own series on the hearken.ingest.errors counter.
type ErrorKind string

const (
	KindDecode                 ErrorKind = "decode"
	KindVADInference           ErrorKind = "vad_inference"
	KindRecognizerStart        ErrorKind = "recognizer_start"
	KindRecognizerStartTimeout ErrorKind = "recognizer_start_timeout"
	KindRecognizerFeed         ErrorKind = "recognizer_feed"
	KindRecognizerEnd          ErrorKind = "recognizer_end"
	KindRecognizerEndTimeout   ErrorKind = "recognizer_end_timeout"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// RecognizerStartDuration tracks how long recognizer sessions take to open.
	RecognizerStartDuration metric.Float64Histogram

	// RecognizerEndDuration tracks the flush latency between end-of-speech and
	// the final transcript.
	RecognizerEndDuration metric.Float64Histogram

	// UtteranceDuration tracks the audio length of closed utterances,
	// including pre-roll.
	UtteranceDuration metric.Float64Histogram

	// --- Counters ---

	// IngestErrors counts ingest failures. Use with attribute:
	//   attribute.String("kind", ...)
	IngestErrors metric.Int64Counter

	// FilterDecisions counts transcript filter outcomes. Use with attributes:
	//   attribute.String("decision", "accept"|"reject"), attribute.String("reason", ...)
	FilterDecisions metric.Int64Counter

	// Utterances counts utterances that reached the recognizer end call.
	Utterances metric.Int64Counter

	// ForceEnds counts utterances closed by connection loss.
	ForceEnds metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of connected device sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveUtterances tracks the number of open recognizer sessions.
	ActiveUtterances metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// utteranceBuckets covers utterance lengths from a single word to the
// max-utterance guard.
var utteranceBuckets = []float64{
	0.5, 1, 1.5, 2, 3, 5, 8, 13, 21, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RecognizerStartDuration, err = m.Float64Histogram("hearken.recognizer.start.duration",
		metric.WithDescription("Latency of opening a streaming recognizer session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognizerEndDuration, err = m.Float64Histogram("hearken.recognizer.end.duration",
		metric.WithDescription("Latency of flushing a recognizer session into a final transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("hearken.utterance.duration",
		metric.WithDescription("Audio length of closed utterances including pre-roll."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.IngestErrors, err = m.Int64Counter("hearken.ingest.errors",
		metric.WithDescription("Total ingest errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.FilterDecisions, err = m.Int64Counter("hearken.filter.decisions",
		metric.WithDescription("Transcript filter outcomes by decision and reason."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("hearken.utterances",
		metric.WithDescription("Total utterances closed through the recognizer."),
	); err != nil {
		return nil, err
	}
	if met.ForceEnds, err = m.Int64Counter("hearken.ingest.force_end",
		metric.WithDescription("Total utterances closed by connection loss."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("hearken.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("hearken.active_sessions",
		metric.WithDescription("Number of connected device sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveUtterances, err = m.Int64UpDownCounter("hearken.active_utterances",
		metric.WithDescription("Number of open recognizer sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("hearken.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordError increments the ingest error counter for kind.
func (m *Metrics) RecordError(ctx context.Context, kind ErrorKind) {
	m.IngestErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", string(kind))),
	)
}

// RecordFilterDecision records one transcript filter outcome.
func (m *Metrics) RecordFilterDecision(ctx context.Context, accepted bool, reason string) {
	decision := "reject"
	if accepted {
		decision = "accept"
	}
	m.FilterDecisions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("decision", decision),
			attribute.String("reason", reason),
		),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}
