package jobqueue

import "errors"

var (
	// ErrNoExecutor is returned when a job's label has no registered executor.
	ErrNoExecutor = errors.New("no executor registered for job label")

	// ErrMaxFailuresExceeded is returned when a job has used up its failure budget.
	ErrMaxFailuresExceeded = errors.New("max failures exceeded")
)

// RetryableError wraps transient errors that should put the job back in the
// queue for another attempt.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether the error is marked as transient.
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}
