// Package pipeline drives one job through submission, analysis, review,
// remediation and verification, keeping the job state machine in step.
//
// Any step that fails moves the job to FAILED with the error message.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/artifact"
	"github.com/fyrsmithlabs/remedyd/internal/audit"
	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/dispatch"
	"github.com/fyrsmithlabs/remedyd/internal/document"
	"github.com/fyrsmithlabs/remedyd/internal/events"
	"github.com/fyrsmithlabs/remedyd/internal/issue"
	"github.com/fyrsmithlabs/remedyd/internal/jobs"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
	"github.com/fyrsmithlabs/remedyd/internal/plan"
	"github.com/fyrsmithlabs/remedyd/internal/review"
	"github.com/fyrsmithlabs/remedyd/internal/store"
	"github.com/fyrsmithlabs/remedyd/internal/tracker"
	"github.com/fyrsmithlabs/remedyd/internal/verify"
)

// PlanStore is the subset of the store the pipeline writes plans through.
type PlanStore interface {
	CreatePlan(ctx context.Context, p *plan.Plan) error
	LatestPlan(ctx context.Context, jobID string) (*plan.Plan, error)
}

// Deps are the collaborators of a Pipeline. All are required except
// Publisher and Logger.
type Deps struct {
	Jobs       *jobs.Manager
	Plans      PlanStore
	Artifacts  artifact.Store
	Auditor    audit.Auditor
	Classifier *classify.Classifier
	Builder    *plan.Builder
	Dispatcher *dispatch.Dispatcher
	Verifier   *verify.Verifier
	Tracker    *tracker.Tracker
	Publisher  events.Publisher
	Logger     *zap.Logger
}

// Pipeline is safe for concurrent use across jobs.
type Pipeline struct {
	Deps
}

// New validates deps and returns a Pipeline.
func New(d Deps) (*Pipeline, error) {
	switch {
	case d.Jobs == nil:
		return nil, errors.New("pipeline: jobs manager required")
	case d.Plans == nil:
		return nil, errors.New("pipeline: plan store required")
	case d.Artifacts == nil:
		return nil, errors.New("pipeline: artifact store required")
	case d.Auditor == nil:
		return nil, errors.New("pipeline: auditor required")
	case d.Classifier == nil || d.Builder == nil:
		return nil, errors.New("pipeline: classifier and plan builder required")
	case d.Dispatcher == nil || d.Verifier == nil || d.Tracker == nil:
		return nil, errors.New("pipeline: dispatcher, verifier and tracker required")
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Pipeline{Deps: d}, nil
}

// ReviewResult counts what a set of review decisions did to pending tasks.
type ReviewResult struct {
	JobID    string `json:"jobId"`
	Skipped  int    `json:"skipped"`
	Deferred int    `json:"deferred"`
	Approved int    `json:"approved"`
	// Undecided pending tasks are left PENDING, like approved ones.
	Undecided int `json:"undecided"`
}

// VerifyResult combines both verification modes.
type VerifyResult struct {
	Targeted   *verify.TargetedResult `json:"targeted"`
	Comparison *verify.Comparison     `json:"comparison"`
}

// Submit admits a job for tenantID and stores its artifact.
func (p *Pipeline) Submit(ctx context.Context, tenantID, fileName string, data []byte) (*store.JobRecord, error) {
	if _, err := document.Decode(data); err != nil {
		return nil, err
	}
	job, err := p.Jobs.Admit(ctx, tenantID, fileName)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithJobID(logging.WithTenantID(ctx, tenantID), job.ID)
	if _, err := p.Artifacts.Save(ctx, job.ID, fileName, data); err != nil {
		return nil, p.fail(ctx, job.ID, fmt.Errorf("save artifact: %w", err))
	}
	return job, nil
}

// Analyze builds the job's plan and parks it at the review gate. With
// supplied == nil the artifact is audited; otherwise supplied is the raw
// output of external audit engines and malformed entries are dropped.
func (p *Pipeline) Analyze(ctx context.Context, jobID string, supplied []json.RawMessage) (*plan.Plan, error) {
	job, err := p.Jobs.Transition(ctx, jobID, jobs.StateAnalyzing)
	if err != nil {
		return nil, err
	}

	pl, err := p.analyze(ctx, job, supplied)
	if err != nil {
		return nil, p.fail(ctx, jobID, err)
	}
	if _, err := p.Jobs.Transition(ctx, jobID, jobs.StateAwaitingReview); err != nil {
		return nil, err
	}
	return pl, nil
}

func (p *Pipeline) analyze(ctx context.Context, job *store.JobRecord, supplied []json.RawMessage) (*plan.Plan, error) {
	var (
		issues  []issue.Issue
		dropped int
	)
	if supplied != nil {
		issues, dropped = issue.ParseAll(supplied)
	} else {
		data, err := p.Artifacts.Get(ctx, job.ID, job.FileName)
		if err != nil {
			return nil, fmt.Errorf("load artifact: %w", err)
		}
		issues, err = p.Auditor.Run(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("audit: %w", err)
		}
	}

	pl, err := p.Builder.BuildFromIssues(ctx, job.ID, job.FileName, issues, dropped)
	if err != nil {
		return nil, fmt.Errorf("build plan: %w", err)
	}
	if err := p.Plans.CreatePlan(ctx, pl); err != nil {
		return nil, fmt.Errorf("store plan: %w", err)
	}
	p.Publisher.Publish(ctx, job.ID, events.PlanCreated, pl.Record())
	return pl, nil
}

// ApplyReview applies decisions to the job's PENDING tasks. The job must
// be at the review gate; it stays there.
func (p *Pipeline) ApplyReview(ctx context.Context, jobID string, decisions review.Decisions) (*ReviewResult, error) {
	job, err := p.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if jobs.State(job.State) != jobs.StateAwaitingReview {
		return nil, fmt.Errorf("%w: job %s is %s, not awaiting review", jobs.ErrInvalidTransition, jobID, job.State)
	}

	pl, err := p.Plans.LatestPlan(ctx, jobID)
	if err != nil {
		return nil, err
	}

	res := &ReviewResult{JobID: jobID}
	for _, t := range pl.Tasks {
		if t.Status != plan.StatusPending {
			continue
		}
		d, ok := decisions.For(t.IssueCode, p.Classifier)
		switch {
		case !ok:
			res.Undecided++
		case d == review.Skip:
			if _, err := p.Tracker.UpdateStatus(ctx, jobID, t.ID, tracker.Update{
				Status:     plan.StatusSkipped,
				Resolution: review.SkipResolution,
			}); err != nil {
				return nil, err
			}
			res.Skipped++
		case d == review.Defer:
			if _, err := p.Tracker.UpdateStatus(ctx, jobID, t.ID, tracker.Update{
				Status:     plan.StatusInProgress,
				Resolution: review.DeferResolution,
			}); err != nil {
				return nil, err
			}
			res.Deferred++
		default:
			res.Approved++
		}
	}
	p.Logger.Info("review applied",
		zap.String("job_id", jobID),
		zap.Int("skipped", res.Skipped),
		zap.Int("deferred", res.Deferred),
		zap.Int("approved", res.Approved))
	return res, nil
}

// Remediate leaves the review gate and runs auto-remediation.
func (p *Pipeline) Remediate(ctx context.Context, jobID string) (*dispatch.Result, error) {
	if _, err := p.Jobs.Transition(ctx, jobID, jobs.StateRemediating); err != nil {
		return nil, err
	}
	res, err := p.Dispatcher.Run(ctx, jobID)
	if err != nil {
		return nil, p.fail(ctx, jobID, fmt.Errorf("remediate: %w", err))
	}
	return res, nil
}

// Verify runs targeted then full verification and completes the job.
func (p *Pipeline) Verify(ctx context.Context, jobID string) (*VerifyResult, error) {
	if _, err := p.Jobs.Transition(ctx, jobID, jobs.StateVerifying); err != nil {
		return nil, err
	}
	targeted, err := p.Verifier.Targeted(ctx, jobID)
	if err != nil {
		return nil, p.fail(ctx, jobID, fmt.Errorf("targeted verification: %w", err))
	}
	cmp, err := p.Verifier.Full(ctx, jobID)
	if err != nil {
		return nil, p.fail(ctx, jobID, fmt.Errorf("full verification: %w", err))
	}
	if _, err := p.Jobs.Transition(ctx, jobID, jobs.StateCompleted); err != nil {
		return nil, err
	}
	return &VerifyResult{Targeted: targeted, Comparison: cmp}, nil
}

// Advance takes a job from the review gate to completion with decisions.
func (p *Pipeline) Advance(ctx context.Context, jobID string, decisions review.Decisions) error {
	if _, err := p.ApplyReview(ctx, jobID, decisions); err != nil {
		return err
	}
	if _, err := p.Remediate(ctx, jobID); err != nil {
		return err
	}
	_, err := p.Verify(ctx, jobID)
	return err
}

// fail records cause on the job and returns it.
func (p *Pipeline) fail(ctx context.Context, jobID string, cause error) error {
	ctx = logging.WithJobID(ctx, jobID)
	logging.FromContext(ctx).Warn(ctx, "job failed", zap.Error(cause))
	if _, err := p.Jobs.Fail(ctx, jobID, cause); err != nil {
		p.Logger.Error("could not mark job failed",
			zap.String("job_id", jobID), zap.NamedError("cause", cause), zap.Error(err))
	}
	return cause
}
