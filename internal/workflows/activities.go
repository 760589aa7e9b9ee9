package workflows

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/remedyd/internal/dispatch"
	"github.com/fyrsmithlabs/remedyd/internal/pipeline"
	"github.com/fyrsmithlabs/remedyd/internal/plan"
	"github.com/fyrsmithlabs/remedyd/internal/review"
)

// Runner is the job pipeline the activities drive.
type Runner interface {
	Analyze(ctx context.Context, jobID string, supplied []json.RawMessage) (*plan.Plan, error)
	ApplyReview(ctx context.Context, jobID string, decisions review.Decisions) (*pipeline.ReviewResult, error)
	Remediate(ctx context.Context, jobID string) (*dispatch.Result, error)
	Verify(ctx context.Context, jobID string) (*pipeline.VerifyResult, error)
}

// Activities binds the job activities to a Runner. Register a pointer with
// the worker; the workflow refers to methods on a nil *Activities.
type Activities struct {
	Runner Runner
}

// AnalyzeActivity audits or ingests issues and builds the plan.
func (a *Activities) AnalyzeActivity(ctx context.Context, in AnalyzeInput) (out *AnalyzeOutput, err error) {
	defer observe(ctx, "analyze", time.Now(), &err)

	supplied := in.Issues
	if len(supplied) == 0 {
		supplied = nil
	}
	p, err := a.Runner.Analyze(ctx, in.JobID, supplied)
	if err != nil {
		return nil, err
	}
	return &AnalyzeOutput{Tasks: len(p.Tasks), Dropped: p.Dropped}, nil
}

// ApplyReviewActivity applies the reviewer's decisions.
func (a *Activities) ApplyReviewActivity(ctx context.Context, in ReviewInput) (out *ReviewOutput, err error) {
	defer observe(ctx, "apply_review", time.Now(), &err)

	res, err := a.Runner.ApplyReview(ctx, in.JobID, in.Decisions)
	if err != nil {
		return nil, err
	}
	return &ReviewOutput{Skipped: res.Skipped, Deferred: res.Deferred}, nil
}

// RemediateActivity runs auto-remediation.
func (a *Activities) RemediateActivity(ctx context.Context, jobID string) (out *RemediateOutput, err error) {
	defer observe(ctx, "remediate", time.Now(), &err)

	res, err := a.Runner.Remediate(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &RemediateOutput{Completed: res.Completed, Failed: res.Failed, Skipped: res.Skipped}, nil
}

// VerifyActivity runs targeted and full verification.
func (a *Activities) VerifyActivity(ctx context.Context, jobID string) (out *VerifyOutput, err error) {
	defer observe(ctx, "verify", time.Now(), &err)

	res, err := a.Runner.Verify(ctx, jobID)
	if err != nil {
		return nil, err
	}
	rec := res.Comparison.Reconciliation
	return &VerifyOutput{
		Demoted:        len(res.Targeted.Demoted),
		ResolutionRate: rec.Metrics.ResolutionRate,
		Regressions:    len(rec.Regressions),
	}, nil
}

func observe(ctx context.Context, activity string, start time.Time, err *error) {
	attrs := metric.WithAttributes(attribute.String("activity", activity))
	activityDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if *err != nil {
		activityErrorCounter.Add(ctx, 1, attrs)
	}
}
