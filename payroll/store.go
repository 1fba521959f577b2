/*
store.go - Collaborator interfaces for periods, events, rates and display data

PURPOSE:
  The lock manager and the aggregator never talk to a database directly.
  They depend on the narrow interfaces below, injected through constructors.
  Implementations live in payroll/store (in-memory) and store/sqlite.

KEY INTERFACES:
  PeriodStore:  Period records, range-overlap queries, version-guarded save
  EventStore:   Calendar events and flat-rate interventions
  RateResolver: Hourly rate in effect for (event type, date)
  Directory:    Contributor and event-type lookups for display/grouping
  TxStore:      Store plus WithTx for all-or-nothing lock/unlock

OPTIMISTIC GUARD:
  SavePeriod compares the stored Version with the one being saved and fails
  with ErrConcurrentModification on mismatch. On success the stored version
  is incremented. Two concurrent lock attempts on the same period therefore
  never both commit.

SEE ALSO:
  - payroll/store/memory.go: In-memory implementation for tests and demos
  - store/sqlite/sqlite.go: SQLite implementation
*/
package payroll

import (
	"context"
	"time"
)

// PeriodStore persists periods.
type PeriodStore interface {
	FindPeriod(ctx context.Context, id PeriodID) (*Period, error)

	// SavePeriod inserts or updates a period. Inserts require p.Version == 0
	// and store version 1. Updates require p.Version to match the stored
	// version; the stored version is then incremented.
	SavePeriod(ctx context.Context, p Period) error

	// FindOverlapping returns periods intersecting [from, to], ordered by Start.
	FindOverlapping(ctx context.Context, from, to time.Time) ([]Period, error)

	// FindLockedMostRecent returns the period with the latest LockedAt, or nil.
	FindLockedMostRecent(ctx context.Context) (*Period, error)

	// ListPeriods returns all periods ordered by Start.
	ListPeriods(ctx context.Context) ([]Period, error)

	// FindLocked returns all locked periods ordered by Start.
	FindLocked(ctx context.Context) ([]Period, error)
}

// EventStore persists events and interventions.
type EventStore interface {
	// FindUnlockedStartingBefore returns events that are neither bound nor
	// cancelled and start strictly before the given instant, ordered by Start.
	FindUnlockedStartingBefore(ctx context.Context, before time.Time) ([]Event, error)

	// FindBoundTo returns events bound to the period, ordered by Start.
	FindBoundTo(ctx context.Context, periodID PeriodID) ([]Event, error)

	FindEvent(ctx context.Context, id EventID) (*Event, error)
	SaveEvent(ctx context.Context, e Event) error

	// FindInterventions returns the period's flat-rate interventions.
	FindInterventions(ctx context.Context, periodID PeriodID) ([]Intervention, error)
	SaveIntervention(ctx context.Context, i Intervention) error
}

// RateResolver returns the hourly rate in effect on a date, or nil when
// none is configured.
type RateResolver interface {
	RateInEffect(ctx context.Context, eventTypeID EventTypeID, day time.Time) (*HourlyRate, error)
}

// Directory resolves display data used for grouping and sorting.
type Directory interface {
	FindContributor(ctx context.Context, id ContributorID) (*Contributor, error)
	FindEventType(ctx context.Context, id EventTypeID) (*EventType, error)
}

// Store bundles every collaborator the engine needs.
type Store interface {
	PeriodStore
	EventStore
	RateResolver
	Directory
}

// TxStore wraps Store with transaction support.
// If fn returns an error the transaction is rolled back, otherwise committed.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
