package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

// TestTelemetry records spans in memory. Services under test take
// tt.Tracer(...) through their WithTracer option.
type TestTelemetry struct {
	*Telemetry
	recorder *tracetest.SpanRecorder
}

// NewTestTelemetry returns an enabled instance with no exporters.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	rec := tracetest.NewSpanRecorder()
	return &TestTelemetry{
		Telemetry: &Telemetry{
			config:         cfg,
			logger:         zap.NewNop(),
			tracerProvider: trace.NewTracerProvider(trace.WithSpanProcessor(rec)),
		},
		recorder: rec,
	}
}

// Spans returns ended spans in completion order.
func (t *TestTelemetry) Spans() []trace.ReadOnlySpan {
	return t.recorder.Ended()
}

// SpanByName returns the last ended span called name, or nil.
func (t *TestTelemetry) SpanByName(name string) trace.ReadOnlySpan {
	spans := t.Spans()
	for i := len(spans) - 1; i >= 0; i-- {
		if spans[i].Name() == name {
			return spans[i]
		}
	}
	return nil
}

func (t *TestTelemetry) mustSpan(tb testing.TB, name string) trace.ReadOnlySpan {
	tb.Helper()
	s := t.SpanByName(name)
	if s == nil {
		var names []string
		for _, sp := range t.Spans() {
			names = append(names, sp.Name())
		}
		tb.Fatalf("span %q not recorded; have %v", name, names)
	}
	return s
}

// AssertSpanExists fails the test unless a span called name ended.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	t.mustSpan(tb, name)
}

// AssertSpanAttribute compares the attribute as its native Go type:
// string, int64, float64 or bool.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, name, key string, want any) {
	tb.Helper()
	for _, kv := range t.mustSpan(tb, name).Attributes() {
		if string(kv.Key) != key {
			continue
		}
		if got := nativeValue(kv.Value); got != want {
			tb.Errorf("span %q: %s = %v (%T), want %v (%T)", name, key, got, got, want, want)
		}
		return
	}
	tb.Errorf("span %q has no attribute %q", name, key)
}

// AssertSpanStatusError fails the test unless the span ended with an error.
func (t *TestTelemetry) AssertSpanStatusError(tb testing.TB, name string) {
	tb.Helper()
	if st := t.mustSpan(tb, name).Status(); st.Code != codes.Error {
		tb.Errorf("span %q status %v, want Error", name, st.Code)
	}
}

func nativeValue(v attribute.Value) any {
	switch v.Type() {
	case attribute.STRING:
		return v.AsString()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.BOOL:
		return v.AsBool()
	}
	return v.AsInterface()
}
