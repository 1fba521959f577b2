/*
Package payroll provides the period lock and service-rendered aggregation engine.

PURPOSE:
  Periods are administrative windows that get locked once the work they
  contain is final. Locking decides, event by event, whether the hours are
  billable (the event is bound to the period) or must be auto-cancelled
  (unvalidated work on a type that needs validation). Reports then aggregate
  bound events and flat-rate interventions into lines keyed by contributor,
  event type and hourly rate.

KEY CONCEPTS IN THIS FILE (types.go):
  - Period: start/end/deadline dates plus the lock marker
  - Event: a calendar slot of work, optionally bound to a locked period
  - Intervention: manually entered hours scoped to a period
  - EventType / HourlyRate: what the work is and what it pays over time
  - Actor: who changed something (a user, or the system itself)

DESIGN PRINCIPLES:
  1. Precision: hours and money use decimal.Decimal, never float64
  2. Explicit audit: system mutations carry SystemActor, not a missing actor
  3. Atomic transitions: lock/unlock are applied inside TxStore.WithTx

SEE ALSO:
  - lock.go: LockManager and Decide
  - aggregate.go: Aggregator.BuildReport
  - report.go: Reports facade
  - store.go: collaborator interfaces
*/
package payroll

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PeriodID string
type EventID string
type InterventionID string
type EventTypeID string
type RateID string
type ContributorID string

// =============================================================================
// ACTOR - Who performed a mutation
// =============================================================================

type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

// Actor identifies the origin of a change. System-initiated changes use
// SystemActor so audits can tell them apart from user actions.
type Actor struct {
	Type ActorType
	ID   string
}

// SystemActor marks mutations made by the engine itself (auto-cancellation,
// scheduled locks).
var SystemActor = Actor{Type: ActorSystem, ID: "system"}

// UserActor returns an actor for the given user id.
func UserActor(id string) Actor { return Actor{Type: ActorUser, ID: id} }

func (a Actor) IsSystem() bool { return a.Type == ActorSystem }
func (a Actor) IsZero() bool   { return a.Type == "" && a.ID == "" }

func (a Actor) String() string {
	if a.IsSystem() {
		return string(ActorSystem)
	}
	return string(a.Type) + ":" + a.ID
}

// =============================================================================
// PERIOD
// =============================================================================

// Period is a billing window. It is open while LockedAt is nil.
type Period struct {
	ID       PeriodID
	Label    string
	Start    time.Time // civil date, UTC midnight
	End      time.Time // civil date, inclusive
	Deadline time.Time // "butoir": last day for submitting work

	LockedAt *time.Time
	LockedBy *Actor

	// Version is bumped on every save and used as the optimistic guard.
	Version   int64
	CreatedAt time.Time
}

func (p Period) IsLocked() bool { return p.LockedAt != nil }

// EndExclusive returns the first instant after the period.
func (p Period) EndExclusive() time.Time { return DayOf(p.End).AddDate(0, 0, 1) }

// Contains reports whether t falls inside the period's days.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(DayOf(p.Start)) && t.Before(p.EndExclusive())
}

// Overlaps reports whether the period intersects the closed date range [from, to].
func (p Period) Overlaps(from, to time.Time) bool {
	return !DayOf(p.Start).After(DayOf(to)) && !DayOf(p.End).Before(DayOf(from))
}

// EndsWithin reports whether the period's end date lies in [from, to].
func (p Period) EndsWithin(from, to time.Time) bool {
	end := DayOf(p.End)
	return !end.Before(DayOf(from)) && !end.After(DayOf(to))
}

// Validate checks the structural invariants of a period.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return ErrInvalidPeriod
	}
	if DayOf(p.End).Before(DayOf(p.Start)) {
		return ErrInvalidPeriod
	}
	if (p.LockedAt == nil) != (p.LockedBy == nil) {
		return ErrInvalidPeriod
	}
	return nil
}

// =============================================================================
// EVENT - Calendar work item
// =============================================================================

type Event struct {
	ID            EventID
	Title         string
	Start         time.Time
	End           time.Time
	EventTypeID   EventTypeID
	ContributorID ContributorID // empty until assigned

	ValidatedAt *time.Time
	CancelledAt *time.Time
	PeriodID    *PeriodID // set only while bound to a locked period

	// Audit fields
	CreatedBy  Actor
	CreatedAt  time.Time
	ModifiedBy Actor
	ModifiedAt time.Time
}

func (e Event) IsBound() bool     { return e.PeriodID != nil }
func (e Event) IsCancelled() bool { return e.CancelledAt != nil }
func (e Event) IsValidated() bool { return e.ValidatedAt != nil }
func (e Event) IsAssigned() bool  { return e.ContributorID != "" }

// BoundTo reports whether the event is bound to the given period.
func (e Event) BoundTo(id PeriodID) bool { return e.PeriodID != nil && *e.PeriodID == id }

// Hours returns the event duration in hours at WorkingPrecision.
func (e Event) Hours() decimal.Decimal {
	if !e.End.After(e.Start) {
		return decimal.Zero
	}
	seconds := decimal.NewFromInt(int64(e.End.Sub(e.Start) / time.Second))
	return seconds.DivRound(secondsPerHour, WorkingPrecision)
}

// Validate checks the binding invariant: a bound event is never cancelled and
// always has a contributor.
func (e Event) Validate() error {
	if e.End.Before(e.Start) {
		return ErrInvalidEvent
	}
	if e.IsBound() && (e.IsCancelled() || !e.IsAssigned()) {
		return ErrInvalidEvent
	}
	return nil
}

// =============================================================================
// INTERVENTION - Flat-rate hours entered by hand
// =============================================================================

// Intervention carries hours scoped to a period by construction. It follows
// the period's lock state and cannot be cancelled on its own.
type Intervention struct {
	ID            InterventionID
	EventTypeID   EventTypeID
	ContributorID ContributorID
	PeriodID      PeriodID
	Hours         decimal.Decimal
	Description   string
	CreatedAt     time.Time
}

// =============================================================================
// EVENT TYPES AND RATES
// =============================================================================

type EventType struct {
	ID                 EventTypeID
	Label              string
	RequiresValidation bool
}

// HourlyRate is in effect on [From, To]; a nil To is open ended.
type HourlyRate struct {
	ID          RateID
	EventTypeID EventTypeID
	Amount      decimal.Decimal
	From        time.Time
	To          *time.Time
}

// InEffect reports whether the rate applies on the given day.
func (r HourlyRate) InEffect(day time.Time) bool {
	d := DayOf(day)
	if d.Before(DayOf(r.From)) {
		return false
	}
	return r.To == nil || !d.After(DayOf(*r.To))
}

// OverlapsWith reports whether two rates of the same type share any day.
func (r HourlyRate) OverlapsWith(o HourlyRate) bool {
	if r.EventTypeID != o.EventTypeID {
		return false
	}
	rEndsBefore := r.To != nil && DayOf(*r.To).Before(DayOf(o.From))
	oEndsBefore := o.To != nil && DayOf(*o.To).Before(DayOf(r.From))
	return !rEndsBefore && !oEndsBefore
}

// =============================================================================
// CONTRIBUTOR
// =============================================================================

// Contributor is a person who may be compensated for events and
// interventions. Staff members manage cases and do not bill themselves.
type Contributor struct {
	ID          ContributorID
	DisplayName string
	Staff       bool
}
