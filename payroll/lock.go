/*
lock.go - Period lock manager

PURPOSE:
  Transitions a Period between open and locked. Locking walks every event
  that is not yet bound and starts before the end of the period, and decides
  for each one whether it is cancelled, bound, or left alone. Unlocking
  releases the bindings.

STATE MACHINE:
  open   --Lock-->   locked     (events cancelled or bound, LockedAt/By set)
  locked --Unlock--> open       (bindings cleared, cancellations kept)

  Lock on a locked period and Unlock on an open one fail with
  ErrInvalidStateTransition. Neither is treated as a no-op.

ATOMICITY:
  Both operations run inside TxStore.WithTx. Every event mutation and the
  period marker are committed together or not at all. The period is saved
  last with its version guard, so a concurrent transition on the same
  period makes this one roll back.

CANCELLATION IS ONE-WAY:
  Unlock does not restore events cancelled by the lock. Whether product wants
  cancellations reversed on unlock is still open.

SEE ALSO:
  - store.go: TxStore, version guard
  - store/redislock: cross-process Mutex implementation
*/
package payroll

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// DECISION - Pure per-event rule
// =============================================================================

type Decision int

const (
	DecisionSkip Decision = iota
	DecisionCancel
	DecisionBind
)

func (d Decision) String() string {
	switch d {
	case DecisionCancel:
		return "cancel"
	case DecisionBind:
		return "bind"
	default:
		return "skip"
	}
}

// Decide returns what locking a period does to a single event.
//
//   - unvalidated event of a type requiring validation: cancel
//   - otherwise, event with a contributor: bind
//   - otherwise (unassigned, or already cancelled/bound): skip
func Decide(e Event, t EventType) Decision {
	if e.IsCancelled() || e.IsBound() {
		return DecisionSkip
	}
	if t.RequiresValidation && !e.IsValidated() {
		return DecisionCancel
	}
	if e.IsAssigned() {
		return DecisionBind
	}
	return DecisionSkip
}

// =============================================================================
// MUTEX - Optional cross-process serialisation
// =============================================================================

// Mutex serialises transitions on one period across processes. Acquire
// returns ErrLockBusy when the key is held elsewhere.
type Mutex interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type noopMutex struct{}

func (noopMutex) Acquire(context.Context, string) (func(), error) { return func() {}, nil }

// PeriodLockKey builds the mutex key for a period.
func PeriodLockKey(id PeriodID) string {
	return fmt.Sprintf("payroll:period:%s:lock", id)
}

// =============================================================================
// LOCK MANAGER
// =============================================================================

// LockResult summarises a committed lock.
type LockResult struct {
	Period    Period
	Cancelled []EventID
	Bound     []EventID
	Skipped   int
}

// UnlockResult summarises a committed unlock.
type UnlockResult struct {
	Period   Period
	Released []EventID
}

type LockManager struct {
	store  TxStore
	mutex  Mutex
	logger *zap.Logger
	now    func() time.Time
}

type LockOption func(*LockManager)

// WithMutex sets the cross-process mutex used around transitions.
func WithMutex(m Mutex) LockOption {
	return func(lm *LockManager) {
		if m != nil {
			lm.mutex = m
		}
	}
}

// WithLogger sets the logger used for transition summaries.
func WithLogger(l *zap.Logger) LockOption {
	return func(lm *LockManager) {
		if l != nil {
			lm.logger = l
		}
	}
}

// WithClock overrides the clock for deterministic tests.
func WithClock(now func() time.Time) LockOption {
	return func(lm *LockManager) {
		if now != nil {
			lm.now = now
		}
	}
}

func NewLockManager(store TxStore, opts ...LockOption) *LockManager {
	lm := &LockManager{
		store:  store,
		mutex:  noopMutex{},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(lm)
	}
	return lm
}

// Lock freezes the period on behalf of actor.
func (lm *LockManager) Lock(ctx context.Context, id PeriodID, actor Actor) (LockResult, error) {
	release, err := lm.mutex.Acquire(ctx, PeriodLockKey(id))
	if err != nil {
		return LockResult{}, err
	}
	defer release()

	now := lm.now().UTC()
	var result LockResult
	err = lm.store.WithTx(ctx, func(s Store) error {
		result = LockResult{}
		period, err := s.FindPeriod(ctx, id)
		if err != nil {
			return err
		}
		if period == nil {
			return ErrPeriodNotFound
		}
		if period.IsLocked() {
			return &TransitionError{PeriodID: id, Op: "lock", LockedAt: period.LockedAt}
		}

		events, err := s.FindUnlockedStartingBefore(ctx, period.EndExclusive())
		if err != nil {
			return err
		}
		types := make(map[EventTypeID]EventType)
		for _, ev := range events {
			t, ok := types[ev.EventTypeID]
			if !ok {
				found, err := s.FindEventType(ctx, ev.EventTypeID)
				if err != nil {
					return err
				}
				if found == nil {
					return fmt.Errorf("event %s: %w", ev.ID, ErrEventTypeNotFound)
				}
				t = *found
				types[t.ID] = t
			}

			switch Decide(ev, t) {
			case DecisionCancel:
				cancelledAt := now
				ev.CancelledAt = &cancelledAt
				ev.ModifiedBy = SystemActor
				ev.ModifiedAt = now
				if err := s.SaveEvent(ctx, ev); err != nil {
					return err
				}
				result.Cancelled = append(result.Cancelled, ev.ID)
			case DecisionBind:
				pid := period.ID
				ev.PeriodID = &pid
				ev.ModifiedBy = actor
				ev.ModifiedAt = now
				if err := s.SaveEvent(ctx, ev); err != nil {
					return err
				}
				result.Bound = append(result.Bound, ev.ID)
			default:
				result.Skipped++
			}
		}

		lockedAt := now
		lockedBy := actor
		period.LockedAt = &lockedAt
		period.LockedBy = &lockedBy
		if err := s.SavePeriod(ctx, *period); err != nil {
			return err
		}
		period.Version++
		result.Period = *period
		return nil
	})
	if err != nil {
		return LockResult{}, storeFailure("lock period", err)
	}

	lm.logger.Info("period locked",
		zap.String("period_id", string(id)),
		zap.String("actor", actor.String()),
		zap.Int("bound", len(result.Bound)),
		zap.Int("cancelled", len(result.Cancelled)),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// Unlock reopens the period and releases its bound events.
func (lm *LockManager) Unlock(ctx context.Context, id PeriodID) (UnlockResult, error) {
	release, err := lm.mutex.Acquire(ctx, PeriodLockKey(id))
	if err != nil {
		return UnlockResult{}, err
	}
	defer release()

	now := lm.now().UTC()
	var result UnlockResult
	err = lm.store.WithTx(ctx, func(s Store) error {
		result = UnlockResult{}
		period, err := s.FindPeriod(ctx, id)
		if err != nil {
			return err
		}
		if period == nil {
			return ErrPeriodNotFound
		}
		if !period.IsLocked() {
			return &TransitionError{PeriodID: id, Op: "unlock"}
		}

		bound, err := s.FindBoundTo(ctx, id)
		if err != nil {
			return err
		}
		for _, ev := range bound {
			ev.PeriodID = nil
			ev.ModifiedAt = now
			if err := s.SaveEvent(ctx, ev); err != nil {
				return err
			}
			result.Released = append(result.Released, ev.ID)
		}

		period.LockedAt = nil
		period.LockedBy = nil
		if err := s.SavePeriod(ctx, *period); err != nil {
			return err
		}
		period.Version++
		result.Period = *period
		return nil
	})
	if err != nil {
		return UnlockResult{}, storeFailure("unlock period", err)
	}

	lm.logger.Info("period unlocked",
		zap.String("period_id", string(id)),
		zap.Int("released", len(result.Released)),
	)
	return result, nil
}

// LastLockedPeriod returns the most recently locked period, or nil.
func (lm *LockManager) LastLockedPeriod(ctx context.Context) (*Period, error) {
	p, err := lm.store.FindLockedMostRecent(ctx)
	return p, storeFailure("last locked period", err)
}

// PeriodsOverlapping returns periods intersecting [from, to]. With
// useEndDateOnly a period matches only when its own end date is in range.
func (lm *LockManager) PeriodsOverlapping(ctx context.Context, from, to time.Time, useEndDateOnly bool) ([]Period, error) {
	if DayOf(to).Before(DayOf(from)) {
		return nil, ErrInvalidPeriod
	}
	periods, err := lm.store.FindOverlapping(ctx, from, to)
	if err != nil {
		return nil, storeFailure("overlapping periods", err)
	}
	if !useEndDateOnly {
		return periods, nil
	}
	filtered := periods[:0]
	for _, p := range periods {
		if p.EndsWithin(from, to) {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}
