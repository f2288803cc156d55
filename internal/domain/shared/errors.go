// Package shared contains the error taxonomy, domain events and small value
// types used across all domain packages, plus the shared struct validator.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
// Callers branch on these four kinds; everything else is an internal failure.
var (
	// ErrValidation marks malformed input. Nothing was mutated.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an unknown user, lesson or progress record.
	ErrNotFound = errors.New("entity not found")

	// ErrConcurrentModification marks a lost race on a per-user write.
	// The whole operation may be retried.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrServiceUnavailable marks a collaborator that failed or timed out.
	ErrServiceUnavailable = errors.New("service unavailable")

	// Finer-grained validation kinds. All of them satisfy IsValidation.
	ErrInvalidID       = fmt.Errorf("%w: invalid ID", ErrValidation)
	ErrEmptyValue      = fmt.Errorf("%w: value cannot be empty", ErrValidation)
	ErrNegativeValue   = fmt.Errorf("%w: value cannot be negative", ErrValidation)
	ErrValueOutOfRange = fmt.Errorf("%w: value out of range", ErrValidation)
	ErrInvalidFormat   = fmt.Errorf("%w: invalid format", ErrValidation)

	// ErrTimeout is a collaborator failure caused by a deadline.
	ErrTimeout = fmt.Errorf("%w: operation timeout", ErrServiceUnavailable)

	// ErrAlreadyProcessed marks a learning event whose id was already recorded.
	ErrAlreadyProcessed = errors.New("already processed")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "progress", "leaderboard", "ledger"
	Op      string // operation that failed, e.g. "ApplyProgress"
	Kind    error  // base error type for errors.Is() checking
	Message string
	Err     error // underlying error (optional)
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

// Is implements errors.Is() matching against both the kind and the cause.
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

// Progress domain errors
var (
	ErrProgressNotFound = NewDomainError("progress", "Find", ErrNotFound, "progress record not found")
	ErrLessonNotFound   = NewDomainError("progress", "ResolveLesson", ErrNotFound, "lesson not found")
	ErrUserNotFound     = NewDomainError("progress", "ResolveUser", ErrNotFound, "user not found")
	ErrInvalidPercent   = NewDomainError("progress", "Validate", ErrValueOutOfRange, "progress percent must be between 0 and 100")
	ErrInvalidTimeDelta = NewDomainError("progress", "Validate", ErrNegativeValue, "time spent delta cannot be negative")
	ErrInvalidScore     = NewDomainError("progress", "Validate", ErrValueOutOfRange, "score must be between 0 and 100")
	ErrInvalidMastery   = NewDomainError("progress", "Validate", ErrValueOutOfRange, "mastery must be between 0 and 100")
	ErrInvalidStatus    = NewDomainError("progress", "Validate", ErrInvalidFormat, "unknown progress status")
)

// Game state domain errors
var (
	ErrGameStateNotFound = NewDomainError("gamestate", "Find", ErrNotFound, "user has no game state")
)

// Leaderboard domain errors
var (
	ErrInvalidScope = NewDomainError("leaderboard", "Validate", ErrInvalidFormat, "scope must be global or topic")
	ErrTopicMissing = NewDomainError("leaderboard", "Validate", ErrEmptyValue, "topic is required for topic scope")
	ErrInvalidLimit = NewDomainError("leaderboard", "Validate", ErrValueOutOfRange, "limit must be positive")
)

// Ledger domain errors
var (
	ErrDuplicateEvent = NewDomainError("ledger", "Append", ErrAlreadyProcessed, "event already recorded")
	ErrInvalidEvent   = NewDomainError("ledger", "Validate", ErrValidation, "invalid learning event")
)

// Collaborator errors
var (
	ErrDirectoryUnavailable = NewDomainError("directory", "LookupProfiles", ErrServiceUnavailable, "user directory is unavailable")
	ErrDirectoryTimeout     = NewDomainError("directory", "LookupProfiles", ErrTimeout, "user directory request timed out")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict checks if the error is a per-user write conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsCollaboratorUnavailable checks if an external collaborator failed.
func IsCollaboratorUnavailable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}

// IsAlreadyProcessed checks if an event was already applied.
func IsAlreadyProcessed(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrConcurrentModification)
}
