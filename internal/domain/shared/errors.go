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

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "catalog", "stats", "grant"
	Op      string // Operation that failed, e.g., "List", "Compute"
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

// Is implements errors.Is() matching. A wrapped DomainError also matches the
// sentinel it was derived from (same Domain, Op and Kind).
func (e *DomainError) Is(target error) bool {
	if t, ok := target.(*DomainError); ok {
		return e.Domain == t.Domain && e.Op == t.Op && e.Kind == t.Kind
	}
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// Wrap returns a copy of the sentinel error carrying err as its cause.
func (e *DomainError) Wrap(err error) *DomainError {
	return WrapError(e.Domain, e.Op, e.Kind, e.Message, err)
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

// Engine error taxonomy.
var (
	// ErrCatalogUnavailable aborts an evaluation: the achievement catalog could not be listed.
	ErrCatalogUnavailable = NewDomainError("catalog", "List", ErrServiceUnavailable, "achievement catalog unavailable")

	// ErrStatsUnavailable aborts an evaluation: progress records could not be aggregated.
	ErrStatsUnavailable = NewDomainError("stats", "Compute", ErrServiceUnavailable, "progress statistics unavailable")

	// ErrGrantConflict is raised by stores on a duplicate (user, achievement) insert.
	// It is absorbed by the evaluator and never reaches callers.
	ErrGrantConflict = NewDomainError("grant", "Insert", ErrAlreadyExists, "achievement already granted")

	// ErrGrantsUnavailable aborts an evaluation: the user's earned set could not be read.
	ErrGrantsUnavailable = NewDomainError("grant", "List", ErrServiceUnavailable, "earned achievements unavailable")

	// ErrPartialGrantFailure marks one candidate whose grant write failed mid-batch.
	ErrPartialGrantFailure = NewDomainError("grant", "Insert", ErrExternalService, "grant write failed")

	// ErrLedgerUnavailable is returned when a point transaction could not be appended.
	ErrLedgerUnavailable = NewDomainError("ledger", "Append", ErrServiceUnavailable, "points ledger unavailable")

	// ErrLeaderboardUnavailable is returned when the ledger could not be aggregated.
	ErrLeaderboardUnavailable = NewDomainError("leaderboard", "Build", ErrServiceUnavailable, "leaderboard unavailable")

	// ErrStaleBoard is returned by a leaderboard cache write whose board was
	// read before the last invalidation. Nothing is stored.
	ErrStaleBoard = NewDomainError("leaderboard", "Cache", ErrConcurrentModification, "board predates the last invalidation")

	// ErrProgressUnavailable is returned when course progress could not be loaded.
	ErrProgressUnavailable = NewDomainError("progress", "Load", ErrServiceUnavailable, "course progress unavailable")
)

// Validation errors.
var (
	ErrInvalidUserID      = NewDomainError("engine", "Validate", ErrInvalidID, "user ID is required")
	ErrInvalidPeriod      = NewDomainError("leaderboard", "Validate", ErrInvalidInput, "unknown leaderboard period")
	ErrInvalidLimit       = NewDomainError("leaderboard", "Validate", ErrValueOutOfRange, "limit out of range")
	ErrInvalidRequirement = NewDomainError("catalog", "Validate", ErrInvalidInput, "unknown requirement type")
	ErrInvalidPoints      = NewDomainError("ledger", "Validate", ErrInvalidInput, "points must be non-zero")
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

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
