// Package tracker changes task status on the latest plan of a job.
package tracker

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/events"
	"github.com/fyrsmithlabs/remedyd/internal/metrics"
	"github.com/fyrsmithlabs/remedyd/internal/plan"
)

const instrumentationName = "github.com/fyrsmithlabs/remedyd/internal/tracker"

// TaskStore is the subset of the plan store the tracker needs.
type TaskStore interface {
	UpdateTask(ctx context.Context, jobID, taskID string, fn func(*plan.Task) error) (*plan.Task, plan.Stats, error)
}

// Update describes one status change.
type Update struct {
	Status     plan.Status
	Resolution string
	ResolvedBy string
}

// Result is the stored task after the change plus the job's fresh stats.
type Result struct {
	Task  plan.Task  `json:"task"`
	Stats plan.Stats `json:"stats"`
}

// Tracker applies status changes. Every transition is allowed; entering
// COMPLETED or FAILED stamps the resolution fields.
type Tracker struct {
	store     TaskStore
	publisher events.Publisher
	logger    *zap.Logger
	tracer    trace.Tracer
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(t *Tracker) {
		if p != nil {
			t.publisher = p
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tr trace.Tracer) Option {
	return func(t *Tracker) { t.tracer = tr }
}

// WithMetrics enables the transition counter.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithClock overrides time.Now for resolvedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a Tracker over store.
func New(store TaskStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:     store,
		publisher: events.Nop{},
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(instrumentationName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// UpdateStatus moves taskID of jobID to u.Status. It returns
// store.ErrPlanNotFound or store.ErrTaskNotFound unchanged.
func (t *Tracker) UpdateStatus(ctx context.Context, jobID, taskID string, u Update) (*Result, error) {
	ctx, span := t.tracer.Start(ctx, "tracker.update_status", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("task.id", taskID),
		attribute.String("task.status", string(u.Status)),
	))
	defer span.End()

	if !u.Status.Valid() {
		err := fmt.Errorf("invalid status %q", u.Status)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var previous plan.Status
	task, stats, err := t.store.UpdateTask(ctx, jobID, taskID, func(task *plan.Task) error {
		previous = task.Status
		Apply(task, u, t.now())
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("update task %s: %w", taskID, err)
	}

	if t.metrics != nil {
		t.metrics.TaskTransitions.WithLabelValues(string(u.Status)).Inc()
	}
	t.logger.Debug("task status updated",
		zap.String("job_id", jobID),
		zap.String("task_id", taskID),
		zap.String("from", string(previous)),
		zap.String("to", string(u.Status)),
	)

	res := &Result{Task: *task, Stats: stats}
	t.publisher.Publish(ctx, jobID, events.TaskUpdated, res)
	return res, nil
}

// Apply mutates task in place. COMPLETED and FAILED stamp resolution,
// resolvedBy and resolvedAt; other statuses clear them so a retried task
// does not carry a stale outcome.
func Apply(task *plan.Task, u Update, now time.Time) {
	task.Status = u.Status
	if u.Status.Resolving() {
		at := now.UTC()
		task.Resolution = u.Resolution
		task.ResolvedBy = u.ResolvedBy
		task.ResolvedAt = &at
		return
	}
	task.Resolution = u.Resolution
	task.ResolvedBy = ""
	task.ResolvedAt = nil
}
