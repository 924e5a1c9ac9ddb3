package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes job and stream errors. Codes are stable API: they
// appear on job rows, in receipts, and in HTTP error bodies.
type ErrorCode string

const (
	// ErrCodeEngineCrash marks jobs failed by crash recovery.
	ErrCodeEngineCrash ErrorCode = "E_ENGINE_CRASH"

	// ErrCodeExecutionError marks jobs whose runner returned an error.
	ErrCodeExecutionError ErrorCode = "E_EXECUTION_ERROR"

	// ErrCodeCancelled marks jobs stopped by a cancel request or shutdown.
	ErrCodeCancelled ErrorCode = "E_CANCELLED"

	// ErrCodeValidation marks rejected job configs.
	ErrCodeValidation ErrorCode = "E_VALIDATION"

	// ErrCodeSafeMode marks operations refused while execution is disabled.
	ErrCodeSafeMode ErrorCode = "E_SAFE_MODE"

	// ErrCodeResumeTooOld marks stream resume positions below the pruned
	// watermark, where replay can no longer be guaranteed complete.
	ErrCodeResumeTooOld ErrorCode = "E_RESUME_TOO_OLD"

	// ErrCodeResumeAhead marks stream resume positions beyond the last
	// assigned sequence number.
	ErrCodeResumeAhead ErrorCode = "E_RESUME_AHEAD"
)

// JobError is a categorized error carrying the code that ends up on the job
// row and in the receipt.
type JobError struct {
	Code    ErrorCode
	Message string
	JobID   string
}

func (e *JobError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s: %s (job=%s)", e.Code, e.Message, e.JobID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewJobError creates a JobError.
func NewJobError(code ErrorCode, jobID, message string) *JobError {
	return &JobError{Code: code, Message: message, JobID: jobID}
}

// CodeOf extracts the error code from a JobError chain.
// Returns ErrCodeExecutionError for uncategorized errors.
func CodeOf(err error) ErrorCode {
	var je *JobError
	if errors.As(err, &je) {
		return je.Code
	}
	return ErrCodeExecutionError
}

// ErrIllegalTransition is returned when a requested state change violates
// the job state machine.
var ErrIllegalTransition = errors.New("illegal state transition")

// ErrCancelled is returned by runners that stopped at a phase boundary
// because cancellation was requested.
var ErrCancelled = errors.New("cancelled")
