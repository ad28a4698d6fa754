package types

import (
	"errors"
	"fmt"
)

// ValidationError rejects malformed input before any mutation happens.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Msg
}

// Validationf builds a ValidationError with a formatted message.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// LockedError means another non-terminal Request already occupies the
// scope. Nothing was mutated; the caller should retry later.
type LockedError struct {
	ResourceID   string
	ComponentKey string
	HolderID     string
}

func (e *LockedError) Error() string {
	if e.ComponentKey != "" {
		return fmt.Sprintf("resource %s component %s is locked by request %s", e.ResourceID, e.ComponentKey, e.HolderID)
	}
	return fmt.Sprintf("resource %s is locked by request %s", e.ResourceID, e.HolderID)
}

// ConcurrencyConflict means a compare-and-swap transition lost a race.
// The stored state was left untouched; the core never retries it.
type ConcurrencyConflict struct {
	Kind     string
	ID       string
	Expected State
	Actual   State
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("%s %s: state is %s, expected %s", e.Kind, e.ID, e.Actual, e.Expected)
}

// BackendError wraps a failed or timed-out Backend Adapter call with
// diagnostic detail for operators.
type BackendError struct {
	Op     string
	Detail string
	Err    error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NotFoundError means a referenced scope, resource, or backend object
// does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// InvalidTransitionError means the record's current state is not a
// valid source for the requested transition.
type InvalidTransitionError struct {
	Transition string
	From       State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transition %s not allowed from %s", e.Transition, e.From)
}

// IsLocked reports whether err is a LockedError.
func IsLocked(err error) bool {
	var locked *LockedError
	return errors.As(err, &locked)
}

// IsConflict reports whether err is a ConcurrencyConflict.
func IsConflict(err error) bool {
	var conflict *ConcurrencyConflict
	return errors.As(err, &conflict)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
