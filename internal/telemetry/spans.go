package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// ScopePrefix is prepended to per-package instrumentation scopes.
const ScopePrefix = "github.com/fyrsmithlabs/remedyd/"

// TracerOrDefault returns tr, or the global tracer for the package scope.
func TracerOrDefault(tr oteltrace.Tracer, pkg string) oteltrace.Tracer {
	if tr != nil {
		return tr
	}
	return otel.Tracer(ScopePrefix + pkg)
}

// End records err on span, if any, and ends it.
func End(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
