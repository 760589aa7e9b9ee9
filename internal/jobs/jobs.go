// Package jobs owns the remediation job lifecycle: admission under the
// per-tenant concurrency cap, state transitions, and recovery of jobs left
// in an active state by a crashed process.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/events"
	"github.com/fyrsmithlabs/remedyd/internal/metrics"
	"github.com/fyrsmithlabs/remedyd/internal/store"
	"github.com/fyrsmithlabs/remedyd/internal/telemetry"
	"github.com/fyrsmithlabs/remedyd/internal/tenant"
)

const instrumentationName = "github.com/fyrsmithlabs/remedyd/internal/jobs"

var (
	// ErrTooManyConcurrentJobs is the user-facing admission rejection.
	ErrTooManyConcurrentJobs = errors.New("too many concurrent jobs")
	// ErrInvalidTransition means the state table forbids the move.
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// State is a job lifecycle state.
type State string

const (
	StateQueued         State = "QUEUED"
	StateAnalyzing      State = "ANALYZING"
	StateAwaitingReview State = "AWAITING_REVIEW"
	StateRemediating    State = "REMEDIATING"
	StateVerifying      State = "VERIFYING"
	StateCompleted      State = "COMPLETED"
	StateFailed         State = "FAILED"
)

// InFlight are the states counted against the tenant cap.
var InFlight = []State{StateQueued, StateAnalyzing, StateRemediating, StateVerifying}

// Active are the states a live worker holds a job in. Jobs stuck here are
// swept.
var Active = []State{StateAnalyzing, StateRemediating, StateVerifying}

// AWAITING_REVIEW -> ANALYZING supersedes the plan with a fresh build.
var transitions = map[State][]State{
	StateQueued:         {StateAnalyzing},
	StateAnalyzing:      {StateAwaitingReview},
	StateAwaitingReview: {StateRemediating, StateAnalyzing},
	StateRemediating:    {StateVerifying},
	StateVerifying:      {StateCompleted},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether from -> to is allowed. FAILED is reachable
// from every non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func stateStrings(states []State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// Store is the subset of the store the manager needs.
type Store interface {
	AdmitJob(ctx context.Context, job *store.JobRecord, inflight []string, limit int) error
	GetJob(ctx context.Context, id string) (*store.JobRecord, error)
	UpdateJob(ctx context.Context, id string, fn func(*store.JobRecord) error) (*store.JobRecord, error)
	ListJobs(ctx context.Context, states ...string) ([]store.JobRecord, error)
	ListStale(ctx context.Context, states []string, before time.Time) ([]store.JobRecord, error)
}

// Transition is the payload of a job.transitioned event.
type Transition struct {
	JobID string `json:"jobId"`
	From  State  `json:"from"`
	To    State  `json:"to"`
	Error string `json:"error,omitempty"`
}

// Manager admits and transitions jobs.
type Manager struct {
	store        Store
	maxPerTenant int
	publisher    events.Publisher
	logger       *zap.Logger
	tracer       trace.Tracer
	metrics      *metrics.Metrics
	now          func() time.Time
	newID        func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxConcurrentPerTenant sets the in-flight cap. Zero disables it.
func WithMaxConcurrentPerTenant(n int) Option {
	return func(m *Manager) { m.maxPerTenant = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.publisher = p
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithMetrics enables admission and transition metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager.
func NewManager(s Store, opts ...Option) *Manager {
	m := &Manager{
		store:     s,
		publisher: events.Nop{},
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(instrumentationName),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Admit creates a QUEUED job for tenantID unless the tenant is at its cap,
// in which case it returns ErrTooManyConcurrentJobs. The count and insert
// are one transaction.
func (m *Manager) Admit(ctx context.Context, tenantID, fileName string) (job *store.JobRecord, err error) {
	ctx, span := m.tracer.Start(ctx, "jobs.admit", trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer func() { telemetry.End(span, err) }()

	if err := tenant.Validate(tenantID); err != nil {
		return nil, err
	}
	if fileName == "" {
		return nil, fmt.Errorf("file name is required")
	}

	job = &store.JobRecord{
		ID:        m.newID(),
		TenantID:  tenantID,
		FileName:  fileName,
		State:     string(StateQueued),
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.AdmitJob(ctx, job, stateStrings(InFlight), m.maxPerTenant); err != nil {
		if errors.Is(err, store.ErrAtCapacity) {
			if m.metrics != nil {
				m.metrics.AdmissionsRejected.Inc()
			}
			m.logger.Info("job admission rejected",
				zap.String("tenant_id", tenantID),
				zap.Int("limit", m.maxPerTenant))
			return nil, fmt.Errorf("%w: tenant %s has %d jobs in flight", ErrTooManyConcurrentJobs, tenantID, m.maxPerTenant)
		}
		return nil, fmt.Errorf("admit job: %w", err)
	}

	span.SetAttributes(attribute.String("job.id", job.ID))
	m.logger.Info("job admitted",
		zap.String("job_id", job.ID),
		zap.String("tenant_id", tenantID),
		zap.String("file_name", fileName))
	return job, nil
}

// Get reads a job.
func (m *Manager) Get(ctx context.Context, id string) (*store.JobRecord, error) {
	return m.store.GetJob(ctx, id)
}

// List returns jobs in any of states, or all jobs.
func (m *Manager) List(ctx context.Context, states ...State) ([]store.JobRecord, error) {
	return m.store.ListJobs(ctx, stateStrings(states)...)
}

// Transition moves a job to state to. It returns ErrInvalidTransition when
// the table forbids the move from the job's current state.
func (m *Manager) Transition(ctx context.Context, id string, to State) (*store.JobRecord, error) {
	return m.transition(ctx, id, to, "", nil)
}

// Fail moves a job to FAILED with cause as its error message.
func (m *Manager) Fail(ctx context.Context, id string, cause error) (*store.JobRecord, error) {
	msg := "failed"
	if cause != nil {
		msg = cause.Error()
	}
	return m.transition(ctx, id, StateFailed, msg, nil)
}

// transition applies the move inside the store's optimistic update. guard,
// if set, runs against the fresh row first and may veto with an error.
func (m *Manager) transition(ctx context.Context, id string, to State, errMsg string, guard func(*store.JobRecord) error) (*store.JobRecord, error) {
	var from State
	job, err := m.store.UpdateJob(ctx, id, func(j *store.JobRecord) error {
		if guard != nil {
			if err := guard(j); err != nil {
				return err
			}
		}
		from = State(j.State)
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		j.State = string(to)
		j.Error = errMsg
		return nil
	})
	if err != nil {
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.JobTransitions.WithLabelValues(string(to)).Inc()
	}
	m.logger.Info("job transitioned",
		zap.String("job_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	m.publisher.Publish(ctx, id, events.JobTransitioned, Transition{JobID: id, From: from, To: to, Error: errMsg})
	return job, nil
}
