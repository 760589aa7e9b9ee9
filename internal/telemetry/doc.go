// Package telemetry wires OpenTelemetry tracing and metric export for remedyd.
//
// Every service operation opens a span (plan.build, dispatch.run, verify.full
// and so on) through a tracer obtained from TracerOrDefault; End records the
// returned error on the span. Spans, metrics and bridged zap logs go to an
// OTLP collector over gRPC or HTTP/protobuf.
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version),
//	    telemetry.WithLogger(logger))
//	defer tel.Shutdown(ctx)
//
// Provider failures degrade the instance to no-op providers; they never stop
// the daemon.
//
// Tests use TestTelemetry, which records spans in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	b := plan.NewBuilder(c, plan.WithTracer(tt.Tracer("test")))
//	tt.AssertSpanExists(t, "plan.build")
package telemetry
