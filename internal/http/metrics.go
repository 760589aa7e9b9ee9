package http

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/remedyd/internal/http"

// HTTPMetrics records request and readiness instruments. Nil instruments
// are skipped, so a meter error degrades to fewer metrics.
type HTTPMetrics struct {
	requests      metric.Int64Counter
	duration      metric.Float64Histogram
	readyFailures metric.Int64Counter
}

// NewHTTPMetrics creates instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	return newHTTPMetrics(otel.Meter(httpInstrumentationName), logger)
}

func newHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &HTTPMetrics{}
	var errs []error
	var err error

	m.requests, err = meter.Int64Counter(
		"remedyd.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status."),
		metric.WithUnit("{request}"),
	)
	errs = append(errs, err)

	m.duration, err = meter.Float64Histogram(
		"remedyd.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration by method, route and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5),
	)
	errs = append(errs, err)

	m.readyFailures, err = meter.Int64Counter(
		"remedyd.http.ready_failures_total",
		metric.WithDescription("Readiness checks that found the job store unavailable."),
		metric.WithUnit("{check}"),
	)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		logger.Warn("failed to create http instruments", zap.Error(err))
	}
	return m
}

// MetricsMiddleware records one request count and duration per request,
// keyed by the matched route rather than the raw path.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}

			opt := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", routeLabel(c.Path())),
				attribute.Int("status", status),
			)
			ctx := c.Request().Context()
			if m.requests != nil {
				m.requests.Add(ctx, 1, opt)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), opt)
			}
			return err
		}
	}
}

// ReadyFailed counts a failed readiness check.
func (m *HTTPMetrics) ReadyFailed(ctx context.Context) {
	if m.readyFailures != nil {
		m.readyFailures.Add(ctx, 1)
	}
}

// routeLabel names unmatched requests so 404 scans share one series.
func routeLabel(route string) string {
	if route == "" {
		return "unmatched"
	}
	return route
}
