package workflows

import (
	"fmt"

	"go.temporal.io/sdk/temporal"
)

// Application error types a workflow caller can match with
// temporal.ApplicationError.Type().
const (
	ErrTypeInvalidInput = "InvalidInput"
	ErrTypeStepFailed   = "StepFailed"
)

// failStep records a failed pipeline step on result and returns it as a
// non-retryable error. The activity has already moved the job to FAILED,
// so re-running the workflow would only find the job in the wrong state.
func failStep(result *JobResult, step string, err error) error {
	msg := fmt.Sprintf("failed to %s: %v", step, err)
	result.Errors = append(result.Errors, msg)
	return temporal.NewNonRetryableApplicationError(msg, ErrTypeStepFailed, err, step)
}

// rejectInput is failStep for input that never reached an activity.
func rejectInput(result *JobResult, err error) error {
	result.Errors = append(result.Errors, "invalid input: "+err.Error())
	return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
}
