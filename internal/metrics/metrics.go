// Package metrics holds the Prometheus collectors for remedyd.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the remediation engine.
type Metrics struct {
	PlansBuilt      prometheus.Counter
	TallyMismatches prometheus.Counter
	IssuesDropped   prometheus.Counter

	TaskTransitions *prometheus.CounterVec

	DispatchGroups  *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec

	VerificationDemotions prometheus.Counter
	ResolutionRate        prometheus.Histogram

	AdmissionsRejected prometheus.Counter
	JobsSwept          prometheus.Counter
	JobTransitions     *prometheus.CounterVec

	BatchAdvances *prometheus.CounterVec
}

// New creates and registers the collectors on the default registry.
//
// Registration happens once per process; later calls return the same set.
//
//   - remedy_plans_built_total
//   - remedy_tally_mismatches_total
//   - remedy_issues_dropped_total
//   - remedy_task_transitions_total{status}
//   - remedy_dispatch_groups_total{outcome}
//   - remedy_handler_duration_seconds{code}
//   - remedy_verification_demotions_total
//   - remedy_resolution_rate
//   - remedy_admissions_rejected_total
//   - remedy_jobs_swept_total
//   - remedy_job_transitions_total{state}
//   - remedy_batch_advances_total{result}
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			PlansBuilt: promauto.NewCounter(prometheus.CounterOpts{
				Name: "remedy_plans_built_total",
				Help: "Total number of remediation plans built",
			}),
			TallyMismatches: promauto.NewCounter(prometheus.CounterOpts{
				Name: "remedy_tally_mismatches_total",
				Help: "Plans whose task count did not conserve the audit tally",
			}),
			IssuesDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "remedy_issues_dropped_total",
				Help: "Malformed issues dropped at the input boundary",
			}),
			TaskTransitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "remedy_task_transitions_total",
					Help: "Task status changes by target status",
				},
				[]string{"status"},
			),
			DispatchGroups: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "remedy_dispatch_groups_total",
					Help: "Auto-remediation code groups by outcome",
				},
				[]string{"outcome"}, // "completed", "failed", "skipped"
			),
			HandlerDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "remedy_handler_duration_seconds",
					Help:    "Duration of a handler invocation in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"code"},
			),
			VerificationDemotions: promauto.NewCounter(prometheus.CounterOpts{
				Name: "remedy_verification_demotions_total",
				Help: "COMPLETED tasks demoted to FAILED by targeted verification",
			}),
			ResolutionRate: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "remedy_resolution_rate",
				Help:    "Resolution rate of full verifications, in percent",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			}),
			AdmissionsRejected: promauto.NewCounter(prometheus.CounterOpts{
				Name: "remedy_admissions_rejected_total",
				Help: "Job submissions rejected by the per-tenant cap",
			}),
			JobsSwept: promauto.NewCounter(prometheus.CounterOpts{
				Name: "remedy_jobs_swept_total",
				Help: "Stale jobs marked FAILED by the sweeper",
			}),
			JobTransitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "remedy_job_transitions_total",
					Help: "Job state changes by target state",
				},
				[]string{"state"},
			),
			BatchAdvances: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "remedy_batch_advances_total",
					Help: "Jobs advanced by a batch review decision",
				},
				[]string{"result"}, // "ok", "error"
			),
		}
	})

	return globalMetrics
}
