package workflows

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/remedyd/internal/workflows"

var (
	activityDuration     metric.Float64Histogram
	activityErrorCounter metric.Int64Counter
	reviewSignalCounter  metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for workflows.
// This is called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	activityDuration, err = meter.Float64Histogram(
		"remedyd.workflows.activity.duration",
		metric.WithDescription("Duration of job activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity duration: %v", err))
	}

	activityErrorCounter, err = meter.Int64Counter(
		"remedyd.workflows.activity.errors",
		metric.WithDescription("Number of job activity errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity error counter: %v", err))
	}

	reviewSignalCounter, err = meter.Int64Counter(
		"remedyd.workflows.review_signals",
		metric.WithDescription("Review decisions sent to waiting job workflows"),
		metric.WithUnit("{signal}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create review signal counter: %v", err))
	}
}

func init() {
	initMetrics()
}
