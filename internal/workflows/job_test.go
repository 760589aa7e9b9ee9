package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/remedyd/internal/artifact"
	"github.com/fyrsmithlabs/remedyd/internal/audit"
	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/handlers"
	"github.com/fyrsmithlabs/remedyd/internal/jobs"
	"github.com/fyrsmithlabs/remedyd/internal/pipeline"
	"github.com/fyrsmithlabs/remedyd/internal/review"
	"github.com/fyrsmithlabs/remedyd/internal/store/storetest"
)

func decisions(pairs ...string) review.Decisions {
	ds, err := review.Parse(pairs)
	if err != nil {
		panic(err)
	}
	return ds
}

// TestJobWorkflow tests the workflow with mocked activities.
func TestJobWorkflow(t *testing.T) {
	var a *Activities

	t.Run("runs every phase after the review signal", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(JobWorkflow)
		env.RegisterActivity(&Activities{})

		env.OnActivity(a.AnalyzeActivity, mock.Anything, AnalyzeInput{JobID: "job-1"}).
			Return(&AnalyzeOutput{Tasks: 7, Dropped: 1}, nil)
		env.OnActivity(a.ApplyReviewActivity, mock.Anything, ReviewInput{
			JobID:     "job-1",
			Decisions: decisions("EPUB-NAV-001=SKIP"),
		}).Return(&ReviewOutput{Skipped: 1}, nil)
		env.OnActivity(a.RemediateActivity, mock.Anything, "job-1").
			Return(&RemediateOutput{Completed: 5}, nil)
		env.OnActivity(a.VerifyActivity, mock.Anything, "job-1").
			Return(&VerifyOutput{ResolutionRate: 0.75}, nil)

		env.RegisterDelayedCallback(func() {
			env.SignalWorkflow(SignalReviewDecision, ReviewSignal{Decisions: decisions("EPUB-NAV-001=SKIP")})
		}, time.Hour)

		env.ExecuteWorkflow(JobWorkflow, JobInput{JobID: "job-1"})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result JobResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, 7, result.Tasks)
		assert.Equal(t, 1, result.Dropped)
		assert.Equal(t, 1, result.Skipped)
		assert.Equal(t, 5, result.Completed)
		assert.InDelta(t, 0.75, result.ResolutionRate, 1e-9)
		assert.False(t, result.ReviewTimedOut)
		env.AssertExpectations(t)
	})

	t.Run("leaves the job at the gate when review times out", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(JobWorkflow)
		env.RegisterActivity(&Activities{})

		env.OnActivity(a.AnalyzeActivity, mock.Anything, mock.Anything).
			Return(&AnalyzeOutput{Tasks: 2}, nil)

		env.ExecuteWorkflow(JobWorkflow, JobInput{JobID: "job-2", ReviewTimeout: 24 * time.Hour})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result JobResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.True(t, result.ReviewTimedOut)
		assert.Zero(t, result.Completed)
	})

	t.Run("fails when analysis fails", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(JobWorkflow)
		env.RegisterActivity(&Activities{})

		env.OnActivity(a.AnalyzeActivity, mock.Anything, mock.Anything).
			Return(nil, errors.New("audit engine unavailable"))

		env.ExecuteWorkflow(JobWorkflow, JobInput{JobID: "job-3"})

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to analyze job")
		var appErr *temporal.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, ErrTypeStepFailed, appErr.Type())
		assert.True(t, appErr.NonRetryable())
	})

	t.Run("rejects missing job id", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(JobWorkflow)

		env.ExecuteWorkflow(JobWorkflow, JobInput{})

		require.True(t, env.IsWorkflowCompleted())
		require.Error(t, env.GetWorkflowError())
	})
}

const book = `{"format":"epub","contents":[{"path":"ch1.xhtml"},{"path":"ch2.xhtml"}]}`

// TestJobWorkflow_Pipeline runs the workflow against a real pipeline.
func TestJobWorkflow_Pipeline(t *testing.T) {
	st := storetest.Open(t)
	fs, err := artifact.NewFS(t.TempDir())
	require.NoError(t, err)
	c, err := classify.Default()
	require.NoError(t, err)
	p, err := pipeline.Wire(st, fs, audit.NewDocumentAuditor(nil), c, handlers.NewDefaultRegistry("en"), pipeline.Options{})
	require.NoError(t, err)

	ctx := context.Background()
	job, err := p.Submit(ctx, "acme", "book.json", []byte(book))
	require.NoError(t, err)

	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(JobWorkflow)
	env.RegisterActivity(&Activities{Runner: p})

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalReviewDecision, ReviewSignal{Decisions: decisions("EPUB-NAV-001=SKIP")})
	}, time.Minute)

	env.ExecuteWorkflow(JobWorkflow, JobInput{JobID: job.ID})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result JobResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 1, result.Skipped)
	assert.Positive(t, result.Completed)
	assert.Zero(t, result.Regressions)

	got, err := p.Jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(jobs.StateCompleted), got.State)
}

func TestSignaler(t *testing.T) {
	ctx := context.Background()

	t.Run("advance signals the job workflow", func(t *testing.T) {
		c := &mocks.Client{}
		ds := decisions("EPUB-IMG-001=DEFER")
		c.On("SignalWorkflow", mock.Anything, "remedy-job-job-9", "", SignalReviewDecision, ReviewSignal{Decisions: ds}).
			Return(nil)

		s := NewSignaler(c, "", 0, nil)
		require.NoError(t, s.Advance(ctx, "job-9", ds))
		c.AssertExpectations(t)
	})

	t.Run("advance wraps signal errors", func(t *testing.T) {
		c := &mocks.Client{}
		c.On("SignalWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("workflow not found"))

		s := NewSignaler(c, "", 0, nil)
		err := s.Advance(ctx, "job-9", review.Decisions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "signal job workflow job-9")
	})

	t.Run("start launches the workflow on the task queue", func(t *testing.T) {
		c := &mocks.Client{}
		run := &mocks.WorkflowRun{}
		run.On("GetID").Return("remedy-job-job-9")
		run.On("GetRunID").Return("run-1")
		c.On("ExecuteWorkflow", mock.Anything, mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
			return o.ID == "remedy-job-job-9" && o.TaskQueue == "custom-queue"
		}), mock.Anything, JobInput{JobID: "job-9", ReviewTimeout: time.Hour}).Return(run, nil)

		s := NewSignaler(c, "custom-queue", time.Hour, nil)
		runID, err := s.Start(ctx, "job-9", nil)
		require.NoError(t, err)
		assert.Equal(t, "run-1", runID)
		c.AssertExpectations(t)
	})
}
