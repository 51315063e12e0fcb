// Package observetest provides helpers for asserting on metrics recorded
// through [observe.Metrics] in tests.
package observetest

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/hearken/internal/observe"
)

// Reader wraps a manual reader bound to a private meter provider.
type Reader struct {
	t      testing.TB
	reader *sdkmetric.ManualReader
}

// NewMetrics returns a Metrics instance backed by a ManualReader, so that tests
// do not share the global meter provider.
func NewMetrics(t testing.TB) (*observe.Metrics, *Reader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("observetest: NewMetrics: %v", err)
	}
	return m, &Reader{t: t, reader: reader}
}

// Counter returns the sum of all int64 counter data points of the named
// metric whose attributes include every attr given. Missing metrics read as 0.
func (r *Reader) Counter(name string, attrs ...attribute.KeyValue) int64 {
	r.t.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(context.Background(), &rm); err != nil {
		r.t.Fatalf("observetest: collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				r.t.Fatalf("observetest: %s is %T, not an int64 sum", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				if hasAll(dp.Attributes, attrs) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

// ErrorCount returns the number of ingest errors recorded for kind.
func (r *Reader) ErrorCount(kind observe.ErrorKind) int64 {
	r.t.Helper()
	return r.Counter("hearken.ingest.errors", attribute.String("kind", string(kind)))
}

// HistogramCount returns the number of observations recorded by the named
// float64 histogram.
func (r *Reader) HistogramCount(name string) uint64 {
	r.t.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(context.Background(), &rm); err != nil {
		r.t.Fatalf("observetest: collect: %v", err)
	}
	var total uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			h, ok := m.Data.(metricdata.Histogram[float64])
			if !ok {
				r.t.Fatalf("observetest: %s is %T, not a float64 histogram", name, m.Data)
			}
			for _, dp := range h.DataPoints {
				total += dp.Count
			}
		}
	}
	return total
}

func hasAll(set attribute.Set, attrs []attribute.KeyValue) bool {
	for _, kv := range attrs {
		v, ok := set.Value(kv.Key)
		if !ok || v != kv.Value {
			return false
		}
	}
	return true
}
