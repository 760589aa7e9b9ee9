// Package workflows provides the Temporal workflow that carries one job from
// analysis through the review gate to verification.
//
// This file contains the types shared by the workflow, its activities and
// the client side.
package workflows

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/remedyd/internal/review"
)

// TaskQueue is the queue the job worker polls.
const TaskQueue = "remedyd-jobs"

// SignalReviewDecision carries a ReviewSignal into a waiting JobWorkflow.
const SignalReviewDecision = "review-decision"

// WorkflowID is the workflow id used for a job.
func WorkflowID(jobID string) string {
	return "remedy-job-" + jobID
}

// JobInput starts a JobWorkflow.
type JobInput struct {
	JobID string // Job already admitted and stored by Submit

	// Issues are raw external audit results. Empty means audit the artifact.
	Issues []json.RawMessage

	// ReviewTimeout bounds the wait at the review gate. Zero waits forever.
	ReviewTimeout time.Duration
}

// Validate checks that all required fields are set.
func (in *JobInput) Validate() error {
	if in.JobID == "" {
		return fmt.Errorf("JobID is required")
	}
	if in.ReviewTimeout < 0 {
		return fmt.Errorf("ReviewTimeout must not be negative")
	}
	return nil
}

// ReviewSignal is the payload of SignalReviewDecision.
type ReviewSignal struct {
	Decisions review.Decisions
}

// JobResult summarizes a finished JobWorkflow.
type JobResult struct {
	JobID string

	Tasks   int // Tasks in the analyzed plan
	Dropped int // Malformed audit entries

	Skipped  int // Tasks skipped at review
	Deferred int

	Completed int // Dispatch outcomes
	Failed    int

	Demoted        int     // Tasks demoted by targeted verification
	ResolutionRate float64 // From full verification
	Regressions    int

	// ReviewTimedOut means no decision arrived; the job stays at the gate.
	ReviewTimedOut bool

	Errors []string
}

// Activity input/output types

type AnalyzeInput struct {
	JobID  string
	Issues []json.RawMessage
}

type AnalyzeOutput struct {
	Tasks   int
	Dropped int
}

type ReviewInput struct {
	JobID     string
	Decisions review.Decisions
}

type ReviewOutput struct {
	Skipped  int
	Deferred int
}

type RemediateOutput struct {
	Completed int
	Failed    int
	Skipped   int
}

type VerifyOutput struct {
	Demoted        int
	ResolutionRate float64
	Regressions    int
}
