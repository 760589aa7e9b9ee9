package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/review"
)

// Signaler starts job workflows and delivers review decisions to them. It
// satisfies batch.JobAdvancer, so bulk decisions reach Temporal-driven jobs.
type Signaler struct {
	client        client.Client
	taskQueue     string
	reviewTimeout time.Duration
	logger        *zap.Logger
}

// NewSignaler creates a Signaler over c. An empty taskQueue uses TaskQueue.
func NewSignaler(c client.Client, taskQueue string, reviewTimeout time.Duration, logger *zap.Logger) *Signaler {
	if taskQueue == "" {
		taskQueue = TaskQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Signaler{client: c, taskQueue: taskQueue, reviewTimeout: reviewTimeout, logger: logger}
}

// Start launches the JobWorkflow for an admitted job and returns its run id.
func (s *Signaler) Start(ctx context.Context, jobID string, issues []json.RawMessage) (string, error) {
	run, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(jobID),
		TaskQueue: s.taskQueue,
	}, JobWorkflow, JobInput{
		JobID:         jobID,
		Issues:        issues,
		ReviewTimeout: s.reviewTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("start job workflow %s: %w", jobID, err)
	}
	s.logger.Info("job workflow started",
		zap.String("job_id", jobID),
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()))
	return run.GetRunID(), nil
}

// Advance signals the job's workflow with decisions.
func (s *Signaler) Advance(ctx context.Context, jobID string, decisions review.Decisions) error {
	err := s.client.SignalWorkflow(ctx, WorkflowID(jobID), "", SignalReviewDecision, ReviewSignal{Decisions: decisions})
	if err != nil {
		return fmt.Errorf("signal job workflow %s: %w", jobID, err)
	}
	reviewSignalCounter.Add(ctx, 1)
	return nil
}

// NewWorker creates a worker on taskQueue with the job workflow and its
// activities registered against r.
func NewWorker(c client.Client, taskQueue string, r Runner) worker.Worker {
	if taskQueue == "" {
		taskQueue = TaskQueue
	}
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(JobWorkflow)
	w.RegisterActivity(&Activities{Runner: r})
	return w
}
