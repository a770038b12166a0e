// Package shared contains common domain types, errors and events
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// Progression errors
	ErrDuplicateEvent     = errors.New("duplicate event")
	ErrRuleEvaluationGap  = errors.New("rule evaluation gap")
	ErrPartialScopeData   = errors.New("partial scope data")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrLockNotAcquired        = errors.New("lock not acquired")
	ErrTimeout                = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "eventlog", "leaderboard", "task"
	Op      string // Operation that failed, e.g., "Append", "Complete"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Unavailable wraps a storage failure so callers can retry it.
func Unavailable(domain, op string, err error) *DomainError {
	return WrapError(domain, op, ErrStorageUnavailable, "storage unavailable", err)
}

// User and task errors
var (
	ErrUserNotFound     = NewDomainError("user", "Find", ErrNotFound, "user not found")
	ErrTaskNotFound     = NewDomainError("task", "Find", ErrNotFound, "task not found")
	ErrTaskNotPending   = NewDomainError("task", "Complete", ErrStateTransition, "task is not pending")
	ErrTaskNotOwned     = NewDomainError("task", "Complete", ErrValidation, "task belongs to another user")
	ErrProofRequired    = NewDomainError("task", "Complete", ErrValidation, "task requires photo proof")
	ErrOccurrenceNeeded = NewDomainError("task", "Complete", ErrValidation, "recurring task requires an occurrence date")
	ErrOccurrenceRange  = NewDomainError("task", "Complete", ErrValidation, "occurrence date is before the task was created or in the future")
)

// Scope and leaderboard errors
var (
	ErrScopeNotFound    = NewDomainError("leaderboard", "FindScope", ErrNotFound, "scope not found")
	ErrSnapshotNotFound = NewDomainError("leaderboard", "FindSnapshot", ErrNotFound, "snapshot not found")
	ErrInvalidWindow    = NewDomainError("leaderboard", "Validate", ErrInvalidInput, "unknown leaderboard window")
)

// Event log errors
var (
	ErrEventNotFound = NewDomainError("eventlog", "Find", ErrNotFound, "event not found")
	ErrInvalidCursor = NewDomainError("eventlog", "ListSince", ErrInvalidInput, "invalid cursor")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsStateConflict checks if the error is caused by the entity lifecycle.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrStateTransition)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrLockNotAcquired)
}
