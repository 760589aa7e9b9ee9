// Package batch groups the pending tasks of every job parked at the review
// gate into per-code clusters and fans bulk decisions back to those jobs.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/issue"
	"github.com/fyrsmithlabs/remedyd/internal/jobs"
	"github.com/fyrsmithlabs/remedyd/internal/metrics"
	"github.com/fyrsmithlabs/remedyd/internal/plan"
	"github.com/fyrsmithlabs/remedyd/internal/review"
	"github.com/fyrsmithlabs/remedyd/internal/store"
	"github.com/fyrsmithlabs/remedyd/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/remedyd/internal/batch"

const (
	defaultMaxExamples = 3
	defaultParallelism = 4
)

// Store is what the aggregator reads.
type Store interface {
	ListJobs(ctx context.Context, states ...string) ([]store.JobRecord, error)
	LatestPlan(ctx context.Context, jobID string) (*plan.Plan, error)
}

// JobAdvancer moves one job past the review gate with decisions.
type JobAdvancer interface {
	Advance(ctx context.Context, jobID string, decisions review.Decisions) error
}

// Example is one representative task of a cluster.
type Example struct {
	JobID    string         `json:"jobId"`
	TaskID   string         `json:"taskId"`
	Code     string         `json:"code"`
	Location string         `json:"location,omitempty"`
	Severity issue.Severity `json:"severity"`
}

// Cluster is every pending task of one canonical code across jobs.
type Cluster struct {
	Code     string         `json:"code"`
	Tier     classify.Tier  `json:"tier"`
	Total    int            `json:"total"`
	Jobs     map[string]int `json:"jobs"`
	Examples []Example      `json:"examples"`
}

// DecideResult reports which jobs a bulk decision advanced.
type DecideResult struct {
	Advanced []string          `json:"advanced"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// Aggregator builds clusters and applies bulk decisions.
type Aggregator struct {
	store       Store
	classifier  *classify.Classifier
	advancer    JobAdvancer
	logger      *zap.Logger
	tracer      trace.Tracer
	metrics     *metrics.Metrics
	maxExamples int
	parallelism int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(a *Aggregator) { a.tracer = t }
}

// WithMetrics enables the advance counter.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithMaxExamples caps the examples kept per cluster.
func WithMaxExamples(n int) Option {
	return func(a *Aggregator) {
		if n >= 0 {
			a.maxExamples = n
		}
	}
}

// WithParallelism bounds how many jobs Decide advances at once.
func WithParallelism(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.parallelism = n
		}
	}
}

// New creates an Aggregator.
func New(s Store, c *classify.Classifier, adv JobAdvancer, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:       s,
		classifier:  c,
		advancer:    adv,
		logger:      zap.NewNop(),
		tracer:      otel.Tracer(instrumentationName),
		maxExamples: defaultMaxExamples,
		parallelism: defaultParallelism,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) key(code string) string {
	return classify.NormalizeCode(a.classifier.CanonicalOrSelf(code))
}

// Clusters groups the PENDING tasks of every job awaiting review. Clusters
// are ordered by total descending then code; examples follow job ID then
// plan order.
func (a *Aggregator) Clusters(ctx context.Context) (out []Cluster, err error) {
	ctx, span := a.tracer.Start(ctx, "batch.cluster")
	defer func() { telemetry.End(span, err) }()

	out, _, err = a.clusters(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("batch.clusters", len(out)))
	return out, nil
}

// clusters also returns, per job, the cluster keys it contributed to.
func (a *Aggregator) clusters(ctx context.Context) ([]Cluster, map[string]map[string]bool, error) {
	parked, err := a.store.ListJobs(ctx, string(jobs.StateAwaitingReview))
	if err != nil {
		return nil, nil, fmt.Errorf("list jobs: %w", err)
	}
	sort.Slice(parked, func(i, j int) bool { return parked[i].ID < parked[j].ID })

	byKey := make(map[string]*Cluster)
	membership := make(map[string]map[string]bool, len(parked))
	for _, job := range parked {
		p, err := a.store.LatestPlan(ctx, job.ID)
		if err != nil {
			if errors.Is(err, store.ErrPlanNotFound) {
				continue
			}
			return nil, nil, fmt.Errorf("load plan for %s: %w", job.ID, err)
		}
		for _, t := range p.Tasks {
			if t.Status != plan.StatusPending {
				continue
			}
			k := a.key(t.IssueCode)
			cl, ok := byKey[k]
			if !ok {
				cl = &Cluster{
					Code: a.classifier.CanonicalOrSelf(t.IssueCode),
					Tier: a.classifier.Classify(t.IssueCode),
					Jobs: make(map[string]int),
				}
				byKey[k] = cl
			}
			cl.Total++
			cl.Jobs[job.ID]++
			if len(cl.Examples) < a.maxExamples {
				cl.Examples = append(cl.Examples, Example{
					JobID:    job.ID,
					TaskID:   t.ID,
					Code:     t.IssueCode,
					Location: t.Location,
					Severity: t.Severity,
				})
			}
			if membership[job.ID] == nil {
				membership[job.ID] = make(map[string]bool)
			}
			membership[job.ID][k] = true
		}
	}

	out := make([]Cluster, 0, len(byKey))
	for _, cl := range byKey {
		out = append(out, *cl)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Code < out[j].Code
	})
	return out, membership, nil
}

// Decide advances every job holding a pending task of a decided code, each
// with the decisions that apply to it. Jobs advance in parallel and one
// job's failure does not stop the others; failures are returned per job.
func (a *Aggregator) Decide(ctx context.Context, decisions review.Decisions) (res *DecideResult, err error) {
	ctx, span := a.tracer.Start(ctx, "batch.decide",
		trace.WithAttributes(attribute.Int("batch.decisions", len(decisions))))
	defer func() { telemetry.End(span, err) }()

	_, membership, err := a.clusters(ctx)
	if err != nil {
		return nil, err
	}

	perJob := make(map[string]review.Decisions)
	for jobID, keys := range membership {
		for k := range keys {
			d, ok := decisions.For(k, a.classifier)
			if !ok {
				continue
			}
			if perJob[jobID] == nil {
				perJob[jobID] = review.Decisions{}
			}
			perJob[jobID].Set(k, d)
		}
	}

	ids := make([]string, 0, len(perJob))
	for id := range perJob {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	res = &DecideResult{Advanced: []string{}, Errors: map[string]string{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.parallelism)
	for _, id := range ids {
		g.Go(func() error {
			advErr := a.advancer.Advance(gctx, id, perJob[id])

			mu.Lock()
			defer mu.Unlock()
			if advErr != nil {
				res.Errors[id] = advErr.Error()
				a.logger.Warn("batch advance failed", zap.String("job_id", id), zap.Error(advErr))
				a.count("error")
				return nil
			}
			res.Advanced = append(res.Advanced, id)
			a.count("ok")
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(res.Advanced)
	span.SetAttributes(
		attribute.Int("batch.advanced", len(res.Advanced)),
		attribute.Int("batch.failed", len(res.Errors)))
	a.logger.Info("batch decision applied",
		zap.Int("advanced", len(res.Advanced)),
		zap.Int("failed", len(res.Errors)))
	return res, nil
}

func (a *Aggregator) count(result string) {
	if a.metrics != nil {
		a.metrics.BatchAdvances.WithLabelValues(result).Inc()
	}
}
