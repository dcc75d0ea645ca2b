/*
errors.go - Shared sentinel errors

PURPOSE:
  Errors every store and domain package agrees on. Domain packages wrap
  these with their own structured errors; stores return them directly so
  callers can test with errors.Is regardless of the backend.

SEE ALSO:
  - leave/errors.go: ValidationError and LifecycleError
  - store/sqlite, store/postgres, leave/store: return these sentinels
*/
package generic

import "errors"

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a profile, request or row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a record whose ID is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrLockTimeout is returned when a keyed lock could not be acquired in time.
	ErrLockTimeout = errors.New("lock acquisition timed out")
)

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrLockTimeout)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
