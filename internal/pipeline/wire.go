package pipeline

import (
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/artifact"
	"github.com/fyrsmithlabs/remedyd/internal/audit"
	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/dispatch"
	"github.com/fyrsmithlabs/remedyd/internal/events"
	"github.com/fyrsmithlabs/remedyd/internal/handlers"
	"github.com/fyrsmithlabs/remedyd/internal/jobs"
	"github.com/fyrsmithlabs/remedyd/internal/metrics"
	"github.com/fyrsmithlabs/remedyd/internal/plan"
	"github.com/fyrsmithlabs/remedyd/internal/store"
	"github.com/fyrsmithlabs/remedyd/internal/tracker"
	"github.com/fyrsmithlabs/remedyd/internal/verify"
)

// Options tune Wire.
type Options struct {
	MaxConcurrentPerTenant int
	Publisher              events.Publisher
	Logger                 *zap.Logger
	Metrics                *metrics.Metrics
}

// Wire builds every service over one store and returns the pipeline.
func Wire(st *store.Store, arts artifact.Store, aud audit.Auditor, c *classify.Classifier, reg *handlers.Registry, o Options) (*Pipeline, error) {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Publisher == nil {
		o.Publisher = events.Nop{}
	}

	tr := tracker.New(st,
		tracker.WithLogger(o.Logger.Named("tracker")),
		tracker.WithPublisher(o.Publisher),
		tracker.WithMetrics(o.Metrics))

	return New(Deps{
		Jobs: jobs.NewManager(st,
			jobs.WithMaxConcurrentPerTenant(o.MaxConcurrentPerTenant),
			jobs.WithLogger(o.Logger.Named("jobs")),
			jobs.WithPublisher(o.Publisher),
			jobs.WithMetrics(o.Metrics)),
		Plans:      st,
		Artifacts:  arts,
		Auditor:    aud,
		Classifier: c,
		Builder: plan.NewBuilder(c,
			plan.WithLogger(o.Logger.Named("plan")),
			plan.WithMetrics(o.Metrics)),
		Dispatcher: dispatch.New(st, arts, reg, c,
			dispatch.WithLogger(o.Logger.Named("dispatch")),
			dispatch.WithPublisher(o.Publisher),
			dispatch.WithMetrics(o.Metrics),
			dispatch.WithTracker(tr)),
		Verifier: verify.New(st, arts, aud, c,
			verify.WithLogger(o.Logger.Named("verify")),
			verify.WithPublisher(o.Publisher),
			verify.WithMetrics(o.Metrics),
			verify.WithTracker(tr)),
		Tracker:   tr,
		Publisher: o.Publisher,
		Logger:    o.Logger.Named("pipeline"),
	})
}
