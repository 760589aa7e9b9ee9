package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/remedyd/internal/artifact"
	"github.com/fyrsmithlabs/remedyd/internal/audit"
	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/document"
	"github.com/fyrsmithlabs/remedyd/internal/handlers"
	"github.com/fyrsmithlabs/remedyd/internal/issue"
	"github.com/fyrsmithlabs/remedyd/internal/jobs"
	"github.com/fyrsmithlabs/remedyd/internal/plan"
	"github.com/fyrsmithlabs/remedyd/internal/review"
	"github.com/fyrsmithlabs/remedyd/internal/store"
	"github.com/fyrsmithlabs/remedyd/internal/store/storetest"
)

const book = `{
  "format": "epub",
  "contents": [
    {"path": "ch1.xhtml", "images": [{"id": "img1"}]},
    {"path": "ch2.xhtml"}
  ]
}`

func newPipeline(t *testing.T, aud audit.Auditor) (*Pipeline, *store.Store) {
	t.Helper()
	st := storetest.Open(t)
	fs, err := artifact.NewFS(t.TempDir())
	require.NoError(t, err)
	c, err := classify.Default()
	require.NoError(t, err)
	if aud == nil {
		aud = audit.NewDocumentAuditor(nil)
	}
	p, err := Wire(st, fs, aud, c, handlers.NewDefaultRegistry("en"), Options{MaxConcurrentPerTenant: 2})
	require.NoError(t, err)
	return p, st
}

func TestPipeline_EndToEnd(t *testing.T) {
	p, st := newPipeline(t, nil)
	ctx := context.Background()

	job, err := p.Submit(ctx, "acme", "book.json", []byte(book))
	require.NoError(t, err)

	pl, err := p.Analyze(ctx, job.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, pl.TotalIssues(), pl.Stats.ByStatus[plan.StatusPending])

	got, err := p.Jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(jobs.StateAwaitingReview), got.State)

	ds := review.Decisions{}
	ds.Set("EPUB-NAV-001", review.Skip)
	ds.Set("EPUB-IMG-001", review.Defer)
	rr, err := p.ApplyReview(ctx, job.ID, ds)
	require.NoError(t, err)
	assert.Equal(t, 1, rr.Skipped)
	assert.Equal(t, 1, rr.Deferred)

	dres, err := p.Remediate(ctx, job.ID)
	require.NoError(t, err)
	assert.Positive(t, dres.Completed)
	assert.Zero(t, dres.Failed)

	vres, err := p.Verify(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, vres.Targeted.Demoted)
	m := vres.Comparison.Reconciliation.Metrics
	assert.Equal(t, dres.Completed, m.Resolved)
	assert.Empty(t, vres.Comparison.Reconciliation.Regressions)

	got, err = p.Jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(jobs.StateCompleted), got.State)

	latest, err := st.LatestPlan(ctx, job.ID)
	require.NoError(t, err)
	for _, task := range latest.Tasks {
		if task.IssueCode == "EPUB-NAV-001" {
			assert.Equal(t, plan.StatusSkipped, task.Status)
			assert.Equal(t, review.SkipResolution, task.Resolution)
		}
		if task.IssueCode == "EPUB-IMG-001" {
			assert.Equal(t, plan.StatusInProgress, task.Status)
			assert.Equal(t, review.DeferResolution, task.Resolution)
		}
	}
}

func TestPipeline_DeferKeepsAutoFixableFromDispatcher(t *testing.T) {
	p, st := newPipeline(t, nil)
	ctx := context.Background()

	job, err := p.Submit(ctx, "acme", "book.json", []byte(book))
	require.NoError(t, err)
	_, err = p.Analyze(ctx, job.ID, nil)
	require.NoError(t, err)

	ds := review.Decisions{}
	ds.Set("EPUB-META-001", review.Defer)
	rr, err := p.ApplyReview(ctx, job.ID, ds)
	require.NoError(t, err)
	assert.Equal(t, 1, rr.Deferred)

	dres, err := p.Remediate(ctx, job.ID)
	require.NoError(t, err)
	assert.Positive(t, dres.Completed)

	latest, err := st.LatestPlan(ctx, job.ID)
	require.NoError(t, err)
	var found bool
	for _, task := range latest.Tasks {
		if task.IssueCode != "EPUB-META-001" {
			continue
		}
		found = true
		assert.Equal(t, plan.StatusInProgress, task.Status)
		assert.Equal(t, review.DeferResolution, task.Resolution)
		assert.Empty(t, task.ResolvedBy)
	}
	require.True(t, found, "EPUB-META-001 task missing from plan")

	for _, m := range dres.Modifications {
		assert.NotEqual(t, "EPUB-META-001", m.IssueCode)
	}

	data, err := p.Artifacts.Get(ctx, job.ID, job.FileName)
	require.NoError(t, err)
	doc, err := document.Decode(data)
	require.NoError(t, err)
	assert.Empty(t, doc.Language)
}

func TestPipeline_AnalyzeSuppliedIssues(t *testing.T) {
	p, _ := newPipeline(t, nil)
	ctx := context.Background()

	job, err := p.Submit(ctx, "acme", "book.json", []byte(book))
	require.NoError(t, err)

	raws := []json.RawMessage{
		json.RawMessage(`{"code":"EPUB-META-001","source":"epubcheck","severity":"serious","location":"OEBPS/content.opf(3,1)"}`),
		json.RawMessage(`{"code":"epub-lang","source":"ace","severity":"serious","location":"content.opf"}`),
		json.RawMessage(`"not an object"`),
		json.RawMessage(`{"code":"color-contrast","source":"ace","severity":"minor","location":"ch1.xhtml#p2"}`),
	}
	pl, err := p.Analyze(ctx, job.ID, raws)
	require.NoError(t, err)

	assert.Equal(t, 1, pl.Dropped)
	assert.Equal(t, 1, pl.Deduplicated)
	assert.Len(t, pl.Tasks, 2)
	assert.Equal(t, pl.Tallies.Audit.GrandTotal, pl.Tallies.Plan.GrandTotal+pl.Deduplicated)
}

func TestPipeline_VerifyCountsDeduplicatedAliasOnce(t *testing.T) {
	p, st := newPipeline(t, nil)
	ctx := context.Background()

	job, err := p.Submit(ctx, "acme", "book.json", []byte(book))
	require.NoError(t, err)

	raws := []json.RawMessage{
		json.RawMessage(`{"code":"EPUB-META-001","source":"builtin","severity":"serious","location":"content.opf"}`),
		json.RawMessage(`{"code":"epub-lang","source":"ace","severity":"serious","location":"content.opf"}`),
	}
	pl, err := p.Analyze(ctx, job.ID, raws)
	require.NoError(t, err)
	assert.Equal(t, 1, pl.Deduplicated)

	stored, err := st.LatestPlan(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, stored.Issues, 1)
	assert.Equal(t, "EPUB-META-001", stored.Issues[0].Code)

	ds := review.Decisions{}
	ds.Set("EPUB-META-001", review.Skip)
	_, err = p.ApplyReview(ctx, job.ID, ds)
	require.NoError(t, err)

	dres, err := p.Remediate(ctx, job.ID)
	require.NoError(t, err)
	assert.Zero(t, dres.Completed)

	vres, err := p.Verify(ctx, job.ID)
	require.NoError(t, err)
	m := vres.Comparison.Reconciliation.Metrics
	assert.Zero(t, m.Resolved)
	assert.Equal(t, 1, m.Remaining)
	assert.Zero(t, m.ResolutionRate)
	require.Len(t, vres.Comparison.Reconciliation.Remaining, 1)
	assert.Equal(t, "EPUB-META-001", vres.Comparison.Reconciliation.Remaining[0].Code)
}

type failingAuditor struct{}

func (failingAuditor) Run(context.Context, []byte) ([]issue.Issue, error) {
	return nil, errors.New("engine unavailable")
}

func TestPipeline_FailedStepFailsJob(t *testing.T) {
	p, _ := newPipeline(t, failingAuditor{})
	ctx := context.Background()

	job, err := p.Submit(ctx, "acme", "book.json", []byte(book))
	require.NoError(t, err)

	_, err = p.Analyze(ctx, job.ID, nil)
	require.Error(t, err)

	got, err := p.Jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(jobs.StateFailed), got.State)
	assert.Contains(t, got.Error, "engine unavailable")
}

func TestPipeline_SubmitRejectsInvalidArtifactAndCap(t *testing.T) {
	p, _ := newPipeline(t, nil)
	ctx := context.Background()

	_, err := p.Submit(ctx, "acme", "book.json", []byte("PK"))
	require.Error(t, err)

	for i := 0; i < 2; i++ {
		_, err := p.Submit(ctx, "acme", "book.json", []byte(book))
		require.NoError(t, err)
	}
	_, err = p.Submit(ctx, "acme", "book.json", []byte(book))
	require.ErrorIs(t, err, jobs.ErrTooManyConcurrentJobs)
}

func TestPipeline_ApplyReviewRequiresGate(t *testing.T) {
	p, _ := newPipeline(t, nil)
	ctx := context.Background()

	job, err := p.Submit(ctx, "acme", "book.json", []byte(book))
	require.NoError(t, err)
	_, err = p.ApplyReview(ctx, job.ID, review.Decisions{})
	require.ErrorIs(t, err, jobs.ErrInvalidTransition)
}

func TestPipeline_Advance(t *testing.T) {
	p, _ := newPipeline(t, nil)
	ctx := context.Background()

	job, err := p.Submit(ctx, "acme", "book.json", []byte(book))
	require.NoError(t, err)
	_, err = p.Analyze(ctx, job.ID, nil)
	require.NoError(t, err)

	require.NoError(t, p.Advance(ctx, job.ID, review.Decisions{}))
	got, err := p.Jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(jobs.StateCompleted), got.State)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}
