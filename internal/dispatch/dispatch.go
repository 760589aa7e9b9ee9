// Package dispatch runs registered handlers against a job's document for
// every pending fixable task, one handler call per issue code.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/artifact"
	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/document"
	"github.com/fyrsmithlabs/remedyd/internal/events"
	"github.com/fyrsmithlabs/remedyd/internal/handlers"
	"github.com/fyrsmithlabs/remedyd/internal/metrics"
	"github.com/fyrsmithlabs/remedyd/internal/plan"
	"github.com/fyrsmithlabs/remedyd/internal/telemetry"
	"github.com/fyrsmithlabs/remedyd/internal/tracker"
)

const instrumentationName = "github.com/fyrsmithlabs/remedyd/internal/dispatch"

// ResolvedBy is stamped on tasks the dispatcher resolves.
const ResolvedBy = "auto-remediation"

// Group outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// PlanStore is the subset of the store the dispatcher needs.
type PlanStore interface {
	tracker.TaskStore
	LatestPlan(ctx context.Context, jobID string) (*plan.Plan, error)
	AppendModifications(ctx context.Context, mods []plan.Modification) error
}

// GroupResult is the outcome of one issue-code group.
type GroupResult struct {
	Code    string   `json:"code"`
	Outcome string   `json:"outcome"`
	TaskIDs []string `json:"taskIds"`
	Message string   `json:"message,omitempty"`
}

// Result summarizes one dispatch run. Counts are per task.
type Result struct {
	RunID         string              `json:"runId"`
	JobID         string              `json:"jobId"`
	Modifications []plan.Modification `json:"modifications"`
	Groups        []GroupResult       `json:"groups"`
	Completed     int                 `json:"completed"`
	Failed        int                 `json:"failed"`
	Skipped       int                 `json:"skipped"`
}

// Dispatcher runs auto-remediation. Handlers of one job run sequentially
// against one shared document; separate jobs may run in parallel.
type Dispatcher struct {
	store      PlanStore
	artifacts  artifact.Store
	registry   *handlers.Registry
	classifier *classify.Classifier
	tracker    *tracker.Tracker
	publisher  events.Publisher
	logger     *zap.Logger
	tracer     trace.Tracer
	metrics    *metrics.Metrics
	now        func() time.Time
	newID      func() string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithMetrics enables group and handler metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.publisher = p
		}
	}
}

// WithTracker sets the tracker used for task transitions. By default one
// is built over the store with the same publisher and metrics.
func WithTracker(t *tracker.Tracker) Option {
	return func(d *Dispatcher) { d.tracker = t }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a Dispatcher.
func New(store PlanStore, artifacts artifact.Store, reg *handlers.Registry, c *classify.Classifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:      store,
		artifacts:  artifacts,
		registry:   reg,
		classifier: c,
		publisher:  events.Nop{},
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(instrumentationName),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tracker == nil {
		d.tracker = tracker.New(store,
			tracker.WithLogger(d.logger),
			tracker.WithPublisher(d.publisher),
			tracker.WithMetrics(d.metrics),
			tracker.WithClock(d.now),
		)
	}
	return d
}

// Run fixes every PENDING AUTO_FIXABLE task of the job's latest plan.
// A plan with no such tasks yields an empty result and writes nothing.
func (d *Dispatcher) Run(ctx context.Context, jobID string) (*Result, error) {
	return d.run(ctx, "dispatch.run", jobID, nil, func(t plan.Task) bool {
		return t.Tier == classify.TierAutoFixable
	})
}

// RunCode fixes the PENDING tasks of one code with reviewer-supplied
// options. It serves QUICK_FIX codes; MANUAL tasks are never selected.
func (d *Dispatcher) RunCode(ctx context.Context, jobID, code string, opts handlers.Options) (*Result, error) {
	want := classify.NormalizeCode(code)
	return d.run(ctx, "dispatch.run_code", jobID, opts, func(t plan.Task) bool {
		return t.Tier != classify.TierManual && classify.NormalizeCode(t.IssueCode) == want
	})
}

type group struct {
	code  string
	tasks []plan.Task
}

type outcome struct {
	group   group
	status  plan.Status
	outcome string
	message string
}

func (d *Dispatcher) run(ctx context.Context, spanName, jobID string, opts handlers.Options, selectTask func(plan.Task) bool) (res *Result, err error) {
	ctx, span := d.tracer.Start(ctx, spanName, trace.WithAttributes(attribute.String("job.id", jobID)))
	defer func() { telemetry.End(span, err) }()

	p, err := d.store.LatestPlan(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}

	res = &Result{RunID: d.newID(), JobID: jobID}
	log := d.logger.With(zap.String("job_id", jobID), zap.String("run_id", res.RunID))

	groups := groupByCode(p.Tasks, selectTask)
	if len(groups) == 0 {
		log.Debug("no pending tasks to dispatch")
		return res, nil
	}

	data, err := d.artifacts.Get(ctx, jobID, p.FileName)
	if err != nil {
		return nil, fmt.Errorf("load artifact: %w", err)
	}
	doc, err := document.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load artifact: %w", err)
	}

	var outcomes []outcome
	for _, g := range groups {
		o, mods := d.runGroup(log, doc, g, opts, res.RunID, jobID)
		outcomes = append(outcomes, o)
		res.Modifications = append(res.Modifications, mods...)
	}

	if len(res.Modifications) > 0 {
		encoded, err := doc.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode artifact: %w", err)
		}
		if _, err := d.artifacts.Save(ctx, jobID, p.FileName, encoded); err != nil {
			return nil, fmt.Errorf("save artifact: %w", err)
		}
		if err := d.store.AppendModifications(ctx, res.Modifications); err != nil {
			return nil, fmt.Errorf("save modifications: %w", err)
		}
	}

	for _, o := range outcomes {
		gr := GroupResult{Code: o.group.code, Outcome: o.outcome, Message: o.message}
		for _, t := range o.group.tasks {
			u := tracker.Update{Status: o.status, Resolution: o.message}
			if o.status.Resolving() {
				u.ResolvedBy = ResolvedBy
			}
			if _, err := d.tracker.UpdateStatus(ctx, jobID, t.ID, u); err != nil {
				return nil, err
			}
			gr.TaskIDs = append(gr.TaskIDs, t.ID)
			switch o.status {
			case plan.StatusCompleted:
				res.Completed++
			case plan.StatusFailed:
				res.Failed++
			case plan.StatusSkipped:
				res.Skipped++
			}
		}
		res.Groups = append(res.Groups, gr)
		if d.metrics != nil {
			d.metrics.DispatchGroups.WithLabelValues(o.outcome).Inc()
		}
	}

	span.SetAttributes(
		attribute.Int("dispatch.completed", res.Completed),
		attribute.Int("dispatch.failed", res.Failed),
		attribute.Int("dispatch.skipped", res.Skipped),
	)
	log.Info("auto-remediation finished",
		zap.Int("completed", res.Completed),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int("modifications", len(res.Modifications)),
	)
	d.publisher.Publish(ctx, jobID, events.DispatchCompleted, res)
	return res, nil
}

// runGroup invokes one handler and classifies the group outcome. It never
// returns an error: failures become a FAILED outcome for the whole group.
func (d *Dispatcher) runGroup(log *zap.Logger, doc *document.Document, g group, opts handlers.Options, runID, jobID string) (outcome, []plan.Modification) {
	log = log.With(zap.String("code", g.code), zap.Int("tasks", len(g.tasks)))

	h, ok := d.registry.Resolve(g.code, d.classifier)
	if !ok {
		log.Warn("no handler registered for auto-fixable code")
		return outcome{group: g, status: plan.StatusSkipped, outcome: OutcomeSkipped,
			message: "no handler registered for " + g.code}, nil
	}

	start := time.Now()
	results, err := invoke(h, doc, opts)
	if d.metrics != nil {
		d.metrics.HandlerDuration.WithLabelValues(g.code).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.Warn("handler failed", zap.Error(err))
		return outcome{group: g, status: plan.StatusFailed, outcome: OutcomeFailed, message: err.Error()}, nil
	}

	var (
		mods    []plan.Modification
		applied []string
		notes   []string
		allNoOp = len(results) > 0
	)
	now := d.now().UTC()
	for _, r := range results {
		if r.Success {
			applied = append(applied, r.Description)
			mods = append(mods, plan.Modification{
				ID:          d.newID(),
				JobID:       jobID,
				RunID:       runID,
				IssueCode:   g.code,
				Description: r.Description,
				Before:      r.Before,
				After:       r.After,
				CreatedAt:   now,
			})
			continue
		}
		notes = append(notes, r.Description)
		if !handlers.IsNoOp(r.Description) {
			allNoOp = false
		}
	}

	switch {
	case len(applied) > 0:
		return outcome{group: g, status: plan.StatusCompleted, outcome: OutcomeCompleted,
			message: strings.Join(applied, "; ")}, mods
	case allNoOp:
		return outcome{group: g, status: plan.StatusCompleted, outcome: OutcomeCompleted,
			message: strings.Join(notes, "; ")}, nil
	default:
		msg := "handler made no change"
		if len(notes) > 0 {
			msg = strings.Join(notes, "; ")
		}
		log.Warn("handler reported no successful change", zap.String("detail", msg))
		return outcome{group: g, status: plan.StatusFailed, outcome: OutcomeFailed, message: msg}, nil
	}
}

// invoke calls h, converting a panic into an error.
func invoke(h handlers.Handler, doc *document.Document, opts handlers.Options) (results []handlers.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(doc, opts)
}

// groupByCode collects selected PENDING tasks per issue code in first-seen
// order, so groups run in plan priority order.
func groupByCode(tasks []plan.Task, selectTask func(plan.Task) bool) []group {
	var groups []group
	index := make(map[string]int)
	for _, t := range tasks {
		if t.Status != plan.StatusPending || !selectTask(t) {
			continue
		}
		key := classify.NormalizeCode(t.IssueCode)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, group{code: t.IssueCode})
		}
		groups[i].tasks = append(groups[i].tasks, t)
	}
	return groups
}
