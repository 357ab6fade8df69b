package agent

import "errors"

// Lifecycle errors.
var (
	ErrAlreadyInitialized = errors.New("agent already initialized")
	ErrNotInitialized     = errors.New("agent not initialized")
)

// TransientError marks an error as retryable: timeouts, rate limits and other
// temporary provider failures. Retries consume the runner's retry budget.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError marks an error as permanent: validation and content problems
// that retrying cannot fix. It propagates immediately without consuming
// retry budget.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient returns true if the error should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error must not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
