package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/events"
	"github.com/fyrsmithlabs/remedyd/internal/issue"
	"github.com/fyrsmithlabs/remedyd/internal/plan"
	"github.com/fyrsmithlabs/remedyd/internal/store"
	"github.com/fyrsmithlabs/remedyd/internal/store/storetest"
	"github.com/fyrsmithlabs/remedyd/internal/telemetry"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Kind
}

func (r *recordingPublisher) Publish(_ context.Context, _ string, kind events.Kind, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
}

func testPlan(jobID string, n int) *plan.Plan {
	p := &plan.Plan{JobID: jobID, FileName: "book.epub"}
	for i := 0; i < n; i++ {
		p.Tasks = append(p.Tasks, plan.Task{
			ID:        plan.TaskID(jobID, "EPUB-META-001", "content.opf", i),
			IssueCode: "EPUB-META-001",
			Source:    issue.SourceEPUBCheck,
			Severity:  issue.SeveritySerious,
			Priority:  plan.PriorityHigh,
			Tier:      classify.TierAutoFixable,
			Status:    plan.StatusPending,
			Location:  "content.opf",
		})
	}
	p.RecomputeStats()
	return p
}

func TestUpdateStatus_CompletedStampsResolution(t *testing.T) {
	p := testPlan("job-1", 2)
	s := storetest.WithPlan(t, p)
	pub := &recordingPublisher{}
	tt := telemetry.NewTestTelemetry()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tr := New(s, WithPublisher(pub), WithTracer(tt.Tracer("tracker")), WithClock(func() time.Time { return fixed }))
	res, err := tr.UpdateStatus(context.Background(), "job-1", p.Tasks[0].ID, Update{
		Status:     plan.StatusCompleted,
		Resolution: "language set to en",
		ResolvedBy: "auto",
	})
	require.NoError(t, err)

	assert.Equal(t, plan.StatusCompleted, res.Task.Status)
	assert.Equal(t, "language set to en", res.Task.Resolution)
	assert.Equal(t, "auto", res.Task.ResolvedBy)
	require.NotNil(t, res.Task.ResolvedAt)
	assert.True(t, fixed.Equal(*res.Task.ResolvedAt))

	assert.Equal(t, 1, res.Stats.ByStatus[plan.StatusCompleted])
	assert.Equal(t, 1, res.Stats.ByStatus[plan.StatusPending])
	assert.Equal(t, 2, res.Stats.Total)

	assert.Equal(t, []events.Kind{events.TaskUpdated}, pub.events)
	tt.AssertSpanExists(t, "tracker.update_status")
	tt.AssertSpanAttribute(t, "tracker.update_status", "task.status", "COMPLETED")
}

func TestUpdateStatus_AnyTransitionAllowed(t *testing.T) {
	p := testPlan("job-1", 1)
	s := storetest.WithPlan(t, p)
	tr := New(s)
	ctx := context.Background()
	id := p.Tasks[0].ID

	for _, st := range []plan.Status{
		plan.StatusCompleted, plan.StatusPending, plan.StatusFailed,
		plan.StatusInProgress, plan.StatusSkipped, plan.StatusPending,
	} {
		res, err := tr.UpdateStatus(ctx, "job-1", id, Update{Status: st})
		require.NoError(t, err, "transition to %s", st)
		assert.Equal(t, st, res.Task.Status)
		if st.Resolving() {
			assert.NotNil(t, res.Task.ResolvedAt)
		} else {
			assert.Nil(t, res.Task.ResolvedAt)
		}
	}
}

func TestUpdateStatus_Errors(t *testing.T) {
	s := storetest.Open(t)
	tt := telemetry.NewTestTelemetry()
	tr := New(s, WithTracer(tt.Tracer("tracker")))
	ctx := context.Background()

	_, err := tr.UpdateStatus(ctx, "missing", "rt-x", Update{Status: plan.StatusCompleted})
	require.ErrorIs(t, err, store.ErrPlanNotFound)
	tt.AssertSpanStatusError(t, "tracker.update_status")

	require.NoError(t, s.CreatePlan(ctx, testPlan("job-1", 1)))
	_, err = tr.UpdateStatus(ctx, "job-1", "rt-nope", Update{Status: plan.StatusCompleted})
	require.ErrorIs(t, err, store.ErrTaskNotFound)

	_, err = tr.UpdateStatus(ctx, "job-1", "rt-nope", Update{Status: "DONE"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid status")
}

func TestUpdateStatus_ConcurrentUpdatesAreNotLost(t *testing.T) {
	p := testPlan("job-1", 8)
	s := storetest.WithPlan(t, p)
	tr := New(s)

	var wg sync.WaitGroup
	for _, task := range p.Tasks {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := tr.UpdateStatus(context.Background(), "job-1", id, Update{Status: plan.StatusCompleted})
			assert.NoError(t, err)
		}(task.ID)
	}
	wg.Wait()

	latest, err := s.LatestPlan(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 8, latest.Stats.ByStatus[plan.StatusCompleted])
	assert.Equal(t, 0, latest.Stats.ByStatus[plan.StatusPending])
}

func TestApply_NonResolvingClearsStamp(t *testing.T) {
	now := time.Now()
	task := &plan.Task{Status: plan.StatusFailed, Resolution: "boom", ResolvedBy: "auto", ResolvedAt: &now}
	Apply(task, Update{Status: plan.StatusSkipped, Resolution: "no handler"}, now)

	assert.Equal(t, plan.StatusSkipped, task.Status)
	assert.Equal(t, "no handler", task.Resolution)
	assert.Empty(t, task.ResolvedBy)
	assert.Nil(t, task.ResolvedAt)
}
