// Package verify confirms fixes, either by reading single properties back
// from the document or by reconciling a full re-audit against the
// original issue list.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/artifact"
	"github.com/fyrsmithlabs/remedyd/internal/audit"
	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/document"
	"github.com/fyrsmithlabs/remedyd/internal/events"
	"github.com/fyrsmithlabs/remedyd/internal/metrics"
	"github.com/fyrsmithlabs/remedyd/internal/plan"
	"github.com/fyrsmithlabs/remedyd/internal/store"
	"github.com/fyrsmithlabs/remedyd/internal/telemetry"
	"github.com/fyrsmithlabs/remedyd/internal/tracker"
)

const instrumentationName = "github.com/fyrsmithlabs/remedyd/internal/verify"

// ResolvedBy is stamped on tasks demoted by a targeted check.
const ResolvedBy = "verification"

// Store is the subset of the store verification needs.
type Store interface {
	tracker.TaskStore
	LatestPlan(ctx context.Context, jobID string) (*plan.Plan, error)
	SaveComparison(ctx context.Context, rec store.ComparisonRecord) error
}

// Demotion records a COMPLETED task moved back to FAILED.
type Demotion struct {
	TaskID    string `json:"taskId"`
	IssueCode string `json:"issueCode"`
	Reason    string `json:"reason"`
}

// TargetedResult summarizes a targeted verification pass.
type TargetedResult struct {
	JobID     string     `json:"jobId"`
	Checked   int        `json:"checked"`
	Confirmed int        `json:"confirmed"`
	Demoted   []Demotion `json:"demoted"`
}

// Comparison is an archived full re-audit.
type Comparison struct {
	ID             string         `json:"id"`
	JobID          string         `json:"jobId"`
	CreatedAt      time.Time      `json:"createdAt"`
	OriginalTotal  int            `json:"originalTotal"`
	CurrentTotal   int            `json:"currentTotal"`
	Reconciliation Reconciliation `json:"reconciliation"`
}

// Verifier runs targeted and full verification.
type Verifier struct {
	store      Store
	artifacts  artifact.Store
	auditor    audit.Auditor
	classifier *classify.Classifier
	checks     Checks
	tracker    *tracker.Tracker
	publisher  events.Publisher
	logger     *zap.Logger
	tracer     trace.Tracer
	metrics    *metrics.Metrics
	now        func() time.Time
	newID      func() string
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(v *Verifier) { v.tracer = t }
}

// WithMetrics enables demotion and resolution-rate metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(v *Verifier) {
		if p != nil {
			v.publisher = p
		}
	}
}

// WithChecks replaces the targeted check table.
func WithChecks(c Checks) Option {
	return func(v *Verifier) { v.checks = c }
}

// WithTracker sets the tracker used for demotions.
func WithTracker(t *tracker.Tracker) Option {
	return func(v *Verifier) { v.tracker = t }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// New creates a Verifier.
func New(s Store, artifacts artifact.Store, auditor audit.Auditor, c *classify.Classifier, opts ...Option) *Verifier {
	v := &Verifier{
		store:      s,
		artifacts:  artifacts,
		auditor:    auditor,
		classifier: c,
		checks:     DefaultChecks(),
		publisher:  events.Nop{},
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(instrumentationName),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.tracker == nil {
		v.tracker = tracker.New(s,
			tracker.WithLogger(v.logger),
			tracker.WithPublisher(v.publisher),
			tracker.WithMetrics(v.metrics),
			tracker.WithClock(v.now),
		)
	}
	return v
}

// Targeted re-checks every COMPLETED task that has a targeted check and
// demotes the ones whose property did not hold. Tasks without a check are
// left as they are. A failed check never returns an error.
func (v *Verifier) Targeted(ctx context.Context, jobID string) (res *TargetedResult, err error) {
	ctx, span := v.tracer.Start(ctx, "verify.targeted", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer func() { telemetry.End(span, err) }()

	p, doc, err := v.load(ctx, jobID)
	if err != nil {
		return nil, err
	}

	res = &TargetedResult{JobID: jobID, Demoted: []Demotion{}}
	for _, t := range p.Tasks {
		if t.Status != plan.StatusCompleted {
			continue
		}
		check, ok := v.checks.Lookup(t.IssueCode, v.classifier)
		if !ok {
			continue
		}
		res.Checked++
		passed, reason := check(doc)
		if passed {
			res.Confirmed++
			continue
		}

		if _, err := v.tracker.UpdateStatus(ctx, jobID, t.ID, tracker.Update{
			Status:     plan.StatusFailed,
			Resolution: "verification failed: " + reason,
			ResolvedBy: ResolvedBy,
		}); err != nil {
			return nil, err
		}
		res.Demoted = append(res.Demoted, Demotion{TaskID: t.ID, IssueCode: t.IssueCode, Reason: reason})
		if v.metrics != nil {
			v.metrics.VerificationDemotions.Inc()
		}
		v.logger.Warn("verification demoted task",
			zap.String("job_id", jobID),
			zap.String("task_id", t.ID),
			zap.String("code", t.IssueCode),
			zap.String("reason", reason),
		)
	}

	span.SetAttributes(
		attribute.Int("verify.checked", res.Checked),
		attribute.Int("verify.demoted", len(res.Demoted)),
	)
	return res, nil
}

// Full re-audits the current artifact and reconciles the result against
// the plan's deduplicated issues. The comparison is archived; task rows are
// not touched.
func (v *Verifier) Full(ctx context.Context, jobID string) (cmp *Comparison, err error) {
	ctx, span := v.tracer.Start(ctx, "verify.full", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer func() { telemetry.End(span, err) }()

	p, err := v.store.LatestPlan(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	data, err := v.artifacts.Get(ctx, jobID, p.FileName)
	if err != nil {
		return nil, fmt.Errorf("load artifact: %w", err)
	}
	reaudit, err := v.auditor.Run(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("re-audit: %w", err)
	}
	// Fold cross-engine duplicates the same way the plan did, so each
	// defect is counted once on both sides.
	current, _ := plan.Deduplicate(v.classifier, reaudit)

	rec := Reconcile(p.Issues, current, v.classifier)
	cmp = &Comparison{
		ID:             v.newID(),
		JobID:          jobID,
		CreatedAt:      v.now().UTC(),
		OriginalTotal:  len(p.Issues),
		CurrentTotal:   len(current),
		Reconciliation: rec,
	}

	body, err := json.Marshal(cmp)
	if err != nil {
		return nil, fmt.Errorf("encode comparison: %w", err)
	}
	if err := v.store.SaveComparison(ctx, store.ComparisonRecord{
		ID: cmp.ID, JobID: jobID, Body: body, CreatedAt: cmp.CreatedAt,
	}); err != nil {
		return nil, fmt.Errorf("archive comparison: %w", err)
	}

	if v.metrics != nil {
		v.metrics.ResolutionRate.Observe(rec.Metrics.ResolutionRate)
	}
	span.SetAttributes(
		attribute.Int("verify.resolved", rec.Metrics.Resolved),
		attribute.Int("verify.remaining", rec.Metrics.Remaining),
		attribute.Int("verify.regressions", rec.Metrics.Regressions),
		attribute.Float64("verify.resolution_rate", rec.Metrics.ResolutionRate),
	)
	v.logger.Info("full verification complete",
		zap.String("job_id", jobID),
		zap.String("comparison_id", cmp.ID),
		zap.Int("resolved", rec.Metrics.Resolved),
		zap.Int("remaining", rec.Metrics.Remaining),
		zap.Int("regressions", rec.Metrics.Regressions),
		zap.Float64("resolution_rate", rec.Metrics.ResolutionRate),
	)
	if rec.Metrics.Regressions > 0 {
		v.logger.Warn("remediation introduced regressions",
			zap.String("job_id", jobID), zap.Int("count", rec.Metrics.Regressions))
	}
	v.publisher.Publish(ctx, jobID, events.VerificationCompleted, rec.Metrics)
	return cmp, nil
}

func (v *Verifier) load(ctx context.Context, jobID string) (*plan.Plan, *document.Document, error) {
	p, err := v.store.LatestPlan(ctx, jobID)
	if err != nil {
		return nil, nil, fmt.Errorf("load plan: %w", err)
	}
	data, err := v.artifacts.Get(ctx, jobID, p.FileName)
	if err != nil {
		return nil, nil, fmt.Errorf("load artifact: %w", err)
	}
	doc, err := document.Decode(data)
	if err != nil {
		return nil, nil, fmt.Errorf("load artifact: %w", err)
	}
	return p, doc, nil
}
