// Package plan compiles audit findings into a remediation plan.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/issue"
	"github.com/fyrsmithlabs/remedyd/internal/metrics"
)

const instrumentationName = "github.com/fyrsmithlabs/remedyd/internal/plan"

// Builder turns issue lists into plans. It performs no I/O.
type Builder struct {
	classifier *classify.Classifier
	logger     *zap.Logger
	tracer     trace.Tracer
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(b *Builder) { b.tracer = t }
}

// WithMetrics enables Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a Builder over the classifier.
func NewBuilder(c *classify.Classifier, opts ...Option) *Builder {
	b := &Builder{
		classifier: c,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(instrumentationName),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build validates raw entries and compiles them into a plan. Malformed
// entries are dropped and counted.
func (b *Builder) Build(ctx context.Context, jobID, fileName string, raws []json.RawMessage) (*Plan, error) {
	issues, dropped := issue.ParseAll(raws)
	return b.BuildFromIssues(ctx, jobID, fileName, issues, dropped)
}

// BuildFromIssues compiles already-validated issues. dropped is the number of
// entries rejected upstream and is carried on the plan for reporting.
//
// A tally mismatch is logged at error level but never fails the build.
func (b *Builder) BuildFromIssues(ctx context.Context, jobID, fileName string, issues []issue.Issue, dropped int) (*Plan, error) {
	_, span := b.tracer.Start(ctx, "plan.build")
	defer span.End()

	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("job id is required")
	}

	log := b.logger.With(zap.String("job_id", jobID))
	if dropped > 0 {
		log.Warn("dropped malformed issues", zap.Int("count", dropped))
		if b.metrics != nil {
			b.metrics.IssuesDropped.Add(float64(dropped))
		}
	}

	auditTally := AuditTally(issues, b.classifier)

	survivors, deduped := Deduplicate(b.classifier, issues)
	if deduped > 0 {
		log.Debug("deduplicated cross-engine issues", zap.Int("count", deduped))
	}

	tasks := b.buildTasks(jobID, survivors)
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Priority < tasks[j].Priority
	})

	planTally := TaskTally(tasks)
	check := ValidateConservation(auditTally, planTally, deduped)
	if !check.OK {
		log.Error("tally mismatch: plan does not conserve audit issues",
			zap.Int("audit_total", check.Audit),
			zap.Int("plan_total", check.Plan),
			zap.Int("deduplicated", check.Deduplicated),
		)
		if b.metrics != nil {
			b.metrics.TallyMismatches.Inc()
		}
	}

	now := b.now().UTC()
	p := &Plan{
		JobID:        jobID,
		FileName:     fileName,
		Tasks:        tasks,
		Tallies:      Tallies{Audit: auditTally, Plan: planTally},
		Deduplicated: deduped,
		Dropped:      dropped,
		Issues:       survivors,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	p.RecomputeStats()

	if b.metrics != nil {
		b.metrics.PlansBuilt.Inc()
	}
	span.SetAttributes(
		attribute.String("job.id", jobID),
		attribute.Int("plan.tasks", len(tasks)),
		attribute.Int("plan.deduplicated", deduped),
		attribute.Bool("plan.tally_ok", check.OK),
	)
	log.Info("plan built", zap.Int("tasks", len(tasks)), zap.Int("deduplicated", deduped))

	return p, nil
}

// Deduplicate drops an aliased issue when an issue carrying its canonical
// code exists at the same normalized location, and reports how many it
// dropped. Order of the survivors is preserved.
func Deduplicate(c *classify.Classifier, issues []issue.Issue) ([]issue.Issue, int) {
	if c == nil {
		return issues, 0
	}
	type key struct{ code, loc string }
	present := make(map[key]bool, len(issues))
	for _, i := range issues {
		present[key{classify.NormalizeCode(i.Code), i.NormalizedLocation()}] = true
	}

	out := make([]issue.Issue, 0, len(issues))
	deduped := 0
	for _, i := range issues {
		if canonical, ok := c.Canonical(i.Code); ok {
			if present[key{classify.NormalizeCode(canonical), i.NormalizedLocation()}] {
				deduped++
				continue
			}
		}
		out = append(out, i)
	}
	return out, deduped
}

func (b *Builder) buildTasks(jobID string, issues []issue.Issue) []Task {
	tasks := make([]Task, 0, len(issues))
	used := make(map[string]bool, len(issues))

	for _, i := range issues {
		loc := i.NormalizedLocation()
		id := TaskID(jobID, i.Code, loc, 0)
		for nonce := 1; used[id]; nonce++ {
			id = TaskID(jobID, i.Code, loc, nonce)
		}
		used[id] = true

		tasks = append(tasks, Task{
			ID:        id,
			IssueID:   i.ID,
			IssueCode: i.Code,
			Source:    i.Source,
			Severity:  i.Severity,
			Priority:  PriorityFor(i.Severity),
			Tier:      b.classifier.Classify(i.Code),
			Status:    StatusPending,
			Location:  loc,
		})
	}
	return tasks
}
