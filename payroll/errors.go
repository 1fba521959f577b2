/*
errors.go - Error kinds surfaced by the lock manager, aggregator and stores

ERROR CATEGORIES:
  1. Not found - a referenced period, event, type or contributor is missing
  2. State transitions - lock on a locked period, unlock on an open one
  3. Configuration - no hourly rate in effect while aggregating
  4. Store - I/O failures and optimistic concurrency conflicts

Every error wraps one of the sentinels below, so callers classify with
errors.Is and never by message.

SEE ALSO:
  - lock.go: TransitionError
  - aggregate.go: MissingRateError
  - api/handlers.go: HTTP status mapping
*/
package payroll

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrPeriodNotFound      = errors.New("period not found")
	ErrEventNotFound       = errors.New("event not found")
	ErrEventTypeNotFound   = errors.New("event type not found")
	ErrContributorNotFound = errors.New("contributor not found")

	// ErrInvalidStateTransition is returned for lock on a locked period or
	// unlock on an open one. It is never treated as an idempotent no-op.
	ErrInvalidStateTransition = errors.New("invalid period state transition")

	// ErrPeriodNotLocked is returned when a report is requested for an open period.
	ErrPeriodNotLocked = errors.New("period is not locked")

	// ErrConfigurationIncomplete aborts a report when an event type has no
	// rate in effect. A partial financial report is never returned.
	ErrConfigurationIncomplete = errors.New("configuration incomplete")

	// ErrStoreFailure wraps I/O failures from the backing stores.
	ErrStoreFailure = errors.New("store failure")

	// ErrConcurrentModification is returned when the period version guard
	// detects a concurrent write.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrRateOverlap   = errors.New("hourly rates overlap for event type")
	ErrEventLocked   = errors.New("event is bound to a locked period")
	ErrInvalidPeriod = errors.New("invalid period")
	ErrInvalidEvent  = errors.New("invalid event")

	// ErrLockBusy is returned when another process holds the period mutex.
	ErrLockBusy = errors.New("period lock is held by another operation")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// TransitionError describes a rejected lock/unlock.
type TransitionError struct {
	PeriodID PeriodID
	Op       string // "lock" or "unlock"
	LockedAt *time.Time
}

func (e *TransitionError) Error() string {
	if e.LockedAt != nil {
		return fmt.Sprintf("cannot %s period %s: locked at %s", e.Op, e.PeriodID, e.LockedAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("cannot %s period %s: period is open", e.Op, e.PeriodID)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// MissingRateError names the event type and date that have no rate in effect.
type MissingRateError struct {
	EventTypeID EventTypeID
	Label       string
	Date        time.Time
}

func (e *MissingRateError) Error() string {
	name := e.Label
	if name == "" {
		name = string(e.EventTypeID)
	}
	return fmt.Sprintf("no hourly rate in effect for event type %q on %s", name, e.Date.Format(DateLayout))
}

func (e *MissingRateError) Unwrap() error { return ErrConfigurationIncomplete }

// storeFailure wraps err as a store failure unless it already carries a
// domain meaning.
func storeFailure(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreFailure, err)
}

func isDomainError(err error) bool {
	return IsNotFound(err) || IsClientError(err) || IsRetryable(err) ||
		errors.Is(err, ErrStoreFailure) ||
		errors.Is(err, ErrConfigurationIncomplete)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrLockBusy)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrPeriodNotLocked) ||
		errors.Is(err, ErrRateOverlap) ||
		errors.Is(err, ErrEventLocked) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidEvent)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPeriodNotFound) ||
		errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrEventTypeNotFound) ||
		errors.Is(err, ErrContributorNotFound)
}
