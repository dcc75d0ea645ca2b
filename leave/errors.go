package leave

import (
	"errors"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("leave request rejected")

	// ErrLifecycle matches every *LifecycleError.
	ErrLifecycle = errors.New("leave transition refused")

	// ErrAsOfBeforeAppointment is returned when balances are asked for a
	// date before the employee was appointed.
	ErrAsOfBeforeAppointment = errors.New("as-of date precedes appointment date")

	// ErrLedgerUnderflow is returned when committing or releasing more days
	// than are pending.
	ErrLedgerUnderflow = errors.New("ledger pending would go negative")

	// ErrInvalidProfile is returned when a profile is missing required fields.
	ErrInvalidProfile = errors.New("invalid employee profile")
)

// =============================================================================
// VALIDATION ERRORS
// =============================================================================

type ValidationCode string

const (
	InvalidDateRange          ValidationCode = "InvalidDateRange"
	InsufficientBalance       ValidationCode = "InsufficientBalance"
	OverlappingRequest        ValidationCode = "OverlappingRequest"
	RetroactiveDateNotAllowed ValidationCode = "RetroactiveDateNotAllowed"
	LeaveTypeNotApplicable    ValidationCode = "LeaveTypeNotApplicable"
)

// ValidationError explains why a draft was not accepted.
type ValidationError struct {
	Code       ValidationCode
	Message    string
	LeaveType  LeaveType
	Requested  int
	Remaining  int
	ConflictID RequestID // set for OverlappingRequest
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// LIFECYCLE ERRORS
// =============================================================================

type LifecycleCode string

const (
	TerminalStateError     LifecycleCode = "TerminalStateError"
	UnauthorizedTransition LifecycleCode = "UnauthorizedTransition"
	StaleSnapshot          LifecycleCode = "StaleSnapshot"
	InvalidTransition      LifecycleCode = "InvalidTransition"
)

// LifecycleError explains why a transition was refused. The request and
// ledger are untouched whenever one is returned.
type LifecycleError struct {
	Code      LifecycleCode
	RequestID RequestID
	From      Status
	Event     Event
	Role      Role
}

func (e *LifecycleError) Error() string {
	switch e.Code {
	case TerminalStateError:
		return fmt.Sprintf("%s: request %s is already %s", e.Code, e.RequestID, e.From)
	case UnauthorizedTransition:
		return fmt.Sprintf("%s: role %q may not %s request %s", e.Code, e.Role, e.Event, e.RequestID)
	case StaleSnapshot:
		return fmt.Sprintf("%s: balance for request %s changed concurrently", e.Code, e.RequestID)
	default:
		return fmt.Sprintf("%s: cannot %s request %s from %s", e.Code, e.Event, e.RequestID, e.From)
	}
}

func (e *LifecycleError) Unwrap() []error {
	if e.Code == StaleSnapshot {
		return []error{ErrLifecycle, generic.ErrConcurrentModification}
	}
	return []error{ErrLifecycle}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// ValidationCodeOf returns the code of a *ValidationError in err's chain.
func ValidationCodeOf(err error) (ValidationCode, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code, true
	}
	return "", false
}

// LifecycleCodeOf returns the code of a *LifecycleError in err's chain.
func LifecycleCodeOf(err error) (LifecycleCode, bool) {
	var le *LifecycleError
	if errors.As(err, &le) {
		return le.Code, true
	}
	return "", false
}
