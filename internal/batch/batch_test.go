package batch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/issue"
	"github.com/fyrsmithlabs/remedyd/internal/plan"
	"github.com/fyrsmithlabs/remedyd/internal/review"
	"github.com/fyrsmithlabs/remedyd/internal/store"
	"github.com/fyrsmithlabs/remedyd/internal/telemetry"
)

type fakeStore struct {
	jobs  []store.JobRecord
	plans map[string]*plan.Plan
}

func (f *fakeStore) ListJobs(_ context.Context, states ...string) ([]store.JobRecord, error) {
	var out []store.JobRecord
	for _, j := range f.jobs {
		for _, s := range states {
			if j.State == s {
				out = append(out, j)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) LatestPlan(_ context.Context, jobID string) (*plan.Plan, error) {
	p, ok := f.plans[jobID]
	if !ok {
		return nil, store.ErrPlanNotFound
	}
	return p, nil
}

type recordingAdvancer struct {
	mu    sync.Mutex
	calls map[string]review.Decisions
	fail  map[string]error
}

func (r *recordingAdvancer) Advance(_ context.Context, jobID string, ds review.Decisions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]review.Decisions{}
	}
	r.calls[jobID] = ds
	return r.fail[jobID]
}

func task(id, code, loc string, status plan.Status) plan.Task {
	return plan.Task{ID: id, IssueCode: code, Location: loc, Severity: issue.SeveritySerious, Status: status}
}

func fixture() *fakeStore {
	return &fakeStore{
		jobs: []store.JobRecord{
			{ID: "job-b", State: "AWAITING_REVIEW"},
			{ID: "job-a", State: "AWAITING_REVIEW"},
			{ID: "job-c", State: "REMEDIATING"},
			{ID: "job-d", State: "AWAITING_REVIEW"},
		},
		plans: map[string]*plan.Plan{
			"job-a": {JobID: "job-a", Tasks: []plan.Task{
				task("a1", "EPUB-IMG-001", "ch1.xhtml#i1", plan.StatusPending),
				task("a2", "EPUB-IMG-001", "ch1.xhtml#i2", plan.StatusPending),
				task("a3", "color-contrast", "ch2.xhtml", plan.StatusPending),
				task("a4", "EPUB-NAV-001", "nav.xhtml", plan.StatusCompleted),
			}},
			"job-b": {JobID: "job-b", Tasks: []plan.Task{
				task("b1", "image-alt", "ch3.xhtml#x", plan.StatusPending),
				task("b2", "EPUB-NAV-001", "nav.xhtml", plan.StatusPending),
			}},
			"job-c": {JobID: "job-c", Tasks: []plan.Task{
				task("c1", "EPUB-IMG-001", "ch1.xhtml#i1", plan.StatusPending),
			}},
		},
	}
}

func newAggregator(t *testing.T, s Store, adv JobAdvancer, opts ...Option) *Aggregator {
	t.Helper()
	c, err := classify.Default()
	require.NoError(t, err)
	return New(s, c, adv, opts...)
}

func TestClusters(t *testing.T) {
	tt := telemetry.NewTestTelemetry()

	a := newAggregator(t, fixture(), &recordingAdvancer{},
		WithMaxExamples(2), WithTracer(tt.Tracer("batch")))

	clusters, err := a.Clusters(context.Background())
	require.NoError(t, err)
	require.Len(t, clusters, 3)

	img := clusters[0]
	assert.Equal(t, "EPUB-IMG-001", img.Code)
	assert.Equal(t, classify.TierQuickFix, img.Tier)
	assert.Equal(t, 3, img.Total)
	assert.Equal(t, map[string]int{"job-a": 2, "job-b": 1}, img.Jobs)
	require.Len(t, img.Examples, 2)
	assert.Equal(t, "a1", img.Examples[0].TaskID)
	assert.Equal(t, "a2", img.Examples[1].TaskID)

	// Ties on total sort by code.
	assert.Equal(t, "EPUB-NAV-001", clusters[1].Code)
	assert.Equal(t, map[string]int{"job-b": 1}, clusters[1].Jobs)
	assert.Equal(t, "color-contrast", clusters[2].Code)
	assert.Equal(t, classify.TierManual, clusters[2].Tier)

	tt.AssertSpanExists(t, "batch.cluster")
}

func TestDecide_FansOutPerJob(t *testing.T) {
	adv := &recordingAdvancer{}
	a := newAggregator(t, fixture(), adv)

	ds := review.Decisions{}
	ds.Set("EPUB-IMG-001", review.Skip)

	res, err := a.Decide(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-a", "job-b"}, res.Advanced)
	assert.Empty(t, res.Errors)

	require.Len(t, adv.calls, 2)
	assert.Equal(t, review.Decisions{"epub-img-001": review.Skip}, adv.calls["job-a"])
	assert.Equal(t, review.Decisions{"epub-img-001": review.Skip}, adv.calls["job-b"])
	assert.NotContains(t, adv.calls, "job-c")
}

func TestDecide_CollectsPerJobErrors(t *testing.T) {
	adv := &recordingAdvancer{fail: map[string]error{"job-a": errors.New("store offline")}}
	a := newAggregator(t, fixture(), adv, WithParallelism(1))

	ds := review.Decisions{}
	ds.Set("EPUB-IMG-001", review.Approve)
	ds.Set("EPUB-NAV-001", review.Defer)

	res, err := a.Decide(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-b"}, res.Advanced)
	assert.Equal(t, map[string]string{"job-a": "store offline"}, res.Errors)
	assert.Equal(t, review.Decisions{"epub-img-001": review.Approve, "epub-nav-001": review.Defer}, adv.calls["job-b"])
}

func TestDecide_NoMatchingJobs(t *testing.T) {
	adv := &recordingAdvancer{}
	a := newAggregator(t, fixture(), adv)

	ds := review.Decisions{}
	ds.Set("PDF-TAGS-001", review.Skip)

	res, err := a.Decide(context.Background(), ds)
	require.NoError(t, err)
	assert.Empty(t, res.Advanced)
	assert.Empty(t, adv.calls)
}
