package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// JobWorkflow drives one job through the pipeline.
//
// This workflow:
// 1. Analyzes the job and parks it at the review gate
// 2. Waits for a review-decision signal (or ReviewTimeout)
// 3. Applies the decisions
// 4. Runs auto-remediation
// 5. Runs targeted and full verification
//
// Every activity moves the job's state machine, so none is retried: a
// second attempt would find the job in the wrong state.
func JobWorkflow(ctx workflow.Context, input JobInput) (*JobResult, error) {
	logger := workflow.GetLogger(ctx)
	result := &JobResult{JobID: input.JobID}

	if err := input.Validate(); err != nil {
		return result, rejectInput(result, err)
	}
	logger.Info("Starting job workflow", "job_id", input.JobID, "supplied_issues", len(input.Issues))

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var a *Activities

	var analyzed AnalyzeOutput
	err := workflow.ExecuteActivity(ctx, a.AnalyzeActivity, AnalyzeInput{
		JobID:  input.JobID,
		Issues: input.Issues,
	}).Get(ctx, &analyzed)
	if err != nil {
		return result, failStep(result, "analyze job", err)
	}
	result.Tasks = analyzed.Tasks
	result.Dropped = analyzed.Dropped
	logger.Info("Job awaiting review", "tasks", analyzed.Tasks, "dropped", analyzed.Dropped)

	signal, ok := awaitReview(ctx, input.ReviewTimeout)
	if !ok {
		logger.Warn("Review timed out; job left at the review gate", "timeout", input.ReviewTimeout)
		result.ReviewTimedOut = true
		return result, nil
	}

	var reviewed ReviewOutput
	err = workflow.ExecuteActivity(ctx, a.ApplyReviewActivity, ReviewInput{
		JobID:     input.JobID,
		Decisions: signal.Decisions,
	}).Get(ctx, &reviewed)
	if err != nil {
		return result, failStep(result, "apply review", err)
	}
	result.Skipped = reviewed.Skipped
	result.Deferred = reviewed.Deferred

	var remediated RemediateOutput
	err = workflow.ExecuteActivity(ctx, a.RemediateActivity, input.JobID).Get(ctx, &remediated)
	if err != nil {
		return result, failStep(result, "remediate", err)
	}
	result.Completed = remediated.Completed
	result.Failed = remediated.Failed

	var verified VerifyOutput
	err = workflow.ExecuteActivity(ctx, a.VerifyActivity, input.JobID).Get(ctx, &verified)
	if err != nil {
		return result, failStep(result, "verify", err)
	}
	result.Demoted = verified.Demoted
	result.ResolutionRate = verified.ResolutionRate
	result.Regressions = verified.Regressions

	logger.Info("Job workflow complete",
		"completed", result.Completed,
		"failed", result.Failed,
		"demoted", result.Demoted,
		"resolution_rate", result.ResolutionRate)
	return result, nil
}

// awaitReview blocks until a review signal arrives. With timeout > 0 it
// gives up after timeout and reports false.
func awaitReview(ctx workflow.Context, timeout time.Duration) (ReviewSignal, bool) {
	var signal ReviewSignal
	ch := workflow.GetSignalChannel(ctx, SignalReviewDecision)

	if timeout <= 0 {
		ch.Receive(ctx, &signal)
		return signal, true
	}

	received := false
	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	selector := workflow.NewSelector(ctx)
	selector.AddReceive(ch, func(c workflow.ReceiveChannel, _ bool) {
		c.Receive(ctx, &signal)
		received = true
		cancelTimer()
	})
	selector.AddFuture(workflow.NewTimer(timerCtx, timeout), func(workflow.Future) {})
	selector.Select(ctx)
	return signal, received
}
