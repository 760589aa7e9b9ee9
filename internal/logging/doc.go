// Package logging provides structured logging with OpenTelemetry integration.
//
// The package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry log bridge)
//   - Context field injection (trace_id, tenant.id, job.id, request.id)
//   - Secret redaction at the encoder (DSNs, tokens, passwords)
//   - Level-aware sampling (errors never sampled)
//
// Services in remedyd take a plain *zap.Logger; the daemon builds one here and
// hands out Underlying(). Request-scoped code logs through the context-aware
// methods so job and tenant correlation is never forgotten:
//
//	ctx = logging.WithTenantID(ctx, "acme")
//	ctx = logging.WithJobID(ctx, job.ID)
//	logger.Warn(ctx, "handler failed", zap.String("code", code))
//
// Tests use TestLogger:
//
//	tl := logging.NewTestLogger()
//	svc := plan.NewBuilder(classifier, tl.Underlying())
//	tl.AssertLogged(t, zapcore.ErrorLevel, "tally mismatch")
package logging
