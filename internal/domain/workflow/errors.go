package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a trigger is not allowed from the current state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when the owning instance or template is in a state
	// that forbids the operation (frozen instance, inactive template)
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when a guard blocks a transition
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrNotEligible is returned when a task still has incomplete SEQUENTIAL prerequisites
	ErrNotEligible = errors.New("task not eligible")

	// ErrUnauthorized is returned when the access gate denies an operation
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when a referenced entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is returned when an optimistic version check fails.
	// The whole operation may be retried.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrAuditWriteFailure is returned when an audit record cannot be appended.
	// The surrounding transaction is rolled back.
	ErrAuditWriteFailure = errors.New("audit write failure")

	// ErrInvalidTemplate is returned for malformed template definitions
	ErrInvalidTemplate = errors.New("invalid template")

	// ErrInvalidInput is returned for malformed command arguments
	ErrInvalidInput = errors.New("invalid input")
)

// IsRetryable reports whether the operation that produced err may be retried as a whole
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
