package jobx

import (
	"errors"

	"github.com/Abraxas-365/recibo/pkg/errx"
)

var jobxErrors = errx.NewRegistry("JOBX")

var (
	ErrJobNotFound    = jobxErrors.Register("JOB_NOT_FOUND", errx.TypeNotFound, 404, "Job not found")
	ErrUnknownQueue   = jobxErrors.Register("UNKNOWN_QUEUE", errx.TypeValidation, 400, "Unknown queue name")
	ErrInvalidPayload = jobxErrors.Register("INVALID_PAYLOAD", errx.TypeValidation, 400, "Invalid job payload")
	ErrNotRetryable   = jobxErrors.Register("NOT_RETRYABLE", errx.TypeNotFound, 404, "Job is not in failed state")
	ErrNotActive      = jobxErrors.Register("NOT_ACTIVE", errx.TypeConflict, 409, "Job is not active")
	ErrStore          = jobxErrors.Register("STORE", errx.TypeExternal, 500, "Job store operation failed")
	ErrAlreadyRunning = jobxErrors.Register("ALREADY_RUNNING", errx.TypeConflict, 409, "Worker pool is already running")
	ErrNoHandler      = jobxErrors.Register("NO_HANDLER", errx.TypeValidation, 400, "No handler registered for queue")
)

// NotFound builds the canonical missing-job error.
func NotFound(id string) *errx.Error {
	return jobxErrors.New(ErrJobNotFound).WithDetail("job_id", id)
}

// NotActive builds the error for an outcome reported on a job that is no
// longer active (lost lease, duplicate report).
func NotActive(id string, state JobState) *errx.Error {
	return jobxErrors.New(ErrNotActive).
		WithDetail("job_id", id).
		WithDetail("state", string(state))
}

// NotRetryable builds the error for a manual retry on a non-failed job.
func NotRetryable(id string, state JobState) *errx.Error {
	return jobxErrors.New(ErrNotRetryable).
		WithDetail("job_id", id).
		WithDetail("state", string(state))
}

// PermanentError marks a handler failure as non-retryable: the job is moved
// straight to failed regardless of its remaining attempt budget.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the worker pool skips retries for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err (or anything it wraps) is permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
