package payroll_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
)

// =============================================================================
// DECIDE
// =============================================================================

func TestDecide(t *testing.T) {
	needsValidation := payroll.EventType{ID: typeTutoring, RequiresValidation: true}
	free := payroll.EventType{ID: typeNoteTaking}
	base := work("e", typeTutoring, alice, at(10, 9), time.Hour)
	bound := base
	pid := january
	bound.PeriodID = &pid
	cancelled := base
	cancelledAt := at(11, 9)
	cancelled.CancelledAt = &cancelledAt
	unassigned := base
	unassigned.ContributorID = ""

	tests := []struct {
		name string
		ev   payroll.Event
		typ  payroll.EventType
		want payroll.Decision
	}{
		{"unvalidated on validation type is cancelled", base, needsValidation, payroll.DecisionCancel},
		{"validated on validation type is bound", validated(base), needsValidation, payroll.DecisionBind},
		{"unvalidated on free type is bound", base, free, payroll.DecisionBind},
		{"unassigned on free type is skipped", unassigned, free, payroll.DecisionSkip},
		{"unassigned unvalidated on validation type is cancelled", unassigned, needsValidation, payroll.DecisionCancel},
		{"already cancelled is skipped", cancelled, free, payroll.DecisionSkip},
		{"already bound is skipped", bound, needsValidation, payroll.DecisionSkip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, payroll.Decide(tt.ev, tt.typ))
		})
	}
}

// =============================================================================
// LOCK
// =============================================================================

func TestLock_CancelsUnvalidatedAndBindsValidated(t *testing.T) {
	// GIVEN: Two tutoring events for Alice, only the second validated
	// WHEN: January is locked on February 6
	// THEN: The first is cancelled by the system, the second is bound

	f := newFixture(t)
	ctx := context.Background()
	f.addEvent(t, work("e1", typeTutoring, alice, at(10, 9), 2*time.Hour))
	f.addEvent(t, validated(work("e2", typeTutoring, alice, at(15, 9), 3*time.Hour)))

	result, err := f.locks.Lock(ctx, january, payroll.UserActor("admin-1"))
	require.NoError(t, err)

	assert.Equal(t, []payroll.EventID{"e1"}, result.Cancelled)
	assert.Equal(t, []payroll.EventID{"e2"}, result.Bound)

	e1 := f.event(t, "e1")
	require.NotNil(t, e1.CancelledAt)
	assert.True(t, e1.CancelledAt.Equal(lockTime))
	assert.False(t, e1.IsBound())
	assert.Equal(t, payroll.SystemActor, e1.ModifiedBy)

	e2 := f.event(t, "e2")
	assert.True(t, e2.BoundTo(january))
	assert.False(t, e2.IsCancelled())
	assert.Equal(t, payroll.UserActor("admin-1"), e2.ModifiedBy)

	p := f.period(t, january)
	require.NotNil(t, p.LockedAt)
	require.NotNil(t, p.LockedBy)
	assert.True(t, p.LockedAt.Equal(lockTime))
	assert.Equal(t, payroll.UserActor("admin-1"), *p.LockedBy)
	assert.Equal(t, p.Version, result.Period.Version)
}

func TestLock_SkipsUnassignedAndLaterEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addEvent(t, work("unassigned", typeNoteTaking, "", at(12, 9), time.Hour))
	f.addEvent(t, work("last-evening", typeNoteTaking, bruno, at(31, 18), time.Hour))
	f.addEvent(t, work("february", typeNoteTaking, bruno, time.Date(2024, time.February, 1, 8, 0, 0, 0, time.UTC), time.Hour))
	f.addEvent(t, work("december", typeNoteTaking, bruno, time.Date(2023, time.December, 20, 8, 0, 0, 0, time.UTC), time.Hour))

	result, err := f.locks.Lock(ctx, january, payroll.UserActor("admin-1"))
	require.NoError(t, err)

	assert.ElementsMatch(t, []payroll.EventID{"last-evening", "december"}, result.Bound)
	assert.Empty(t, result.Cancelled)
	assert.Equal(t, 1, result.Skipped)

	unassigned := f.event(t, "unassigned")
	assert.False(t, unassigned.IsBound())
	assert.False(t, unassigned.IsCancelled())
	assert.True(t, unassigned.ModifiedBy.IsZero(), "skipped events are not touched")

	assert.False(t, f.event(t, "february").IsBound(), "events after the period stay open")
}

func TestLock_TwiceIsRejectedAndLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addEvent(t, validated(work("e1", typeTutoring, alice, at(10, 9), time.Hour)))

	_, err := f.locks.Lock(ctx, january, payroll.UserActor("admin-1"))
	require.NoError(t, err)
	periodAfterFirst := f.period(t, january)
	eventAfterFirst := f.event(t, "e1")

	// An event created after the first lock must not be picked up by a rejected relock.
	f.addEvent(t, work("late", typeNoteTaking, bruno, at(20, 9), time.Hour))

	_, err = f.locks.Lock(ctx, january, payroll.UserActor("admin-2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, payroll.ErrInvalidStateTransition)
	var transition *payroll.TransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, "lock", transition.Op)

	assert.Equal(t, periodAfterFirst, f.period(t, january))
	assert.Equal(t, eventAfterFirst, f.event(t, "e1"))
	assert.False(t, f.event(t, "late").IsBound())
}

func TestLock_UnknownPeriod(t *testing.T) {
	f := newFixture(t)
	_, err := f.locks.Lock(context.Background(), "missing", payroll.UserActor("admin-1"))
	assert.ErrorIs(t, err, payroll.ErrPeriodNotFound)
	assert.True(t, payroll.IsNotFound(err))
}

func TestLock_RollsBackWhenStoreFails(t *testing.T) {
	// GIVEN: A store whose period write fails after events were mutated
	// WHEN: Locking January
	// THEN: No event mutation survives and the period stays open

	f := newFixture(t)
	ctx := context.Background()
	f.addEvent(t, work("e1", typeTutoring, alice, at(10, 9), time.Hour))
	f.addEvent(t, validated(work("e2", typeTutoring, alice, at(11, 9), time.Hour)))

	failing := &failingTxStore{TxMemory: f.store, err: errors.New("disk full")}
	lm := payroll.NewLockManager(failing, payroll.WithClock(func() time.Time { return lockTime }))

	_, err := lm.Lock(ctx, january, payroll.UserActor("admin-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, payroll.ErrStoreFailure)

	assert.False(t, f.event(t, "e1").IsCancelled())
	assert.False(t, f.event(t, "e2").IsBound())
	assert.False(t, f.period(t, january).IsLocked())
}

func TestLock_StaleVersionIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addEvent(t, validated(work("e1", typeTutoring, alice, at(10, 9), time.Hour)))

	racing := &racingTxStore{TxMemory: f.store}
	lm := payroll.NewLockManager(racing, payroll.WithClock(func() time.Time { return lockTime }))

	_, err := lm.Lock(ctx, january, payroll.UserActor("admin-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, payroll.ErrConcurrentModification)
	assert.True(t, payroll.IsRetryable(err))
	assert.False(t, f.event(t, "e1").IsBound())
}

// =============================================================================
// UNLOCK
// =============================================================================

func TestUnlock_ReleasesBindingsButKeepsCancellations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addEvent(t, work("e1", typeTutoring, alice, at(10, 9), 2*time.Hour))
	f.addEvent(t, validated(work("e2", typeTutoring, alice, at(15, 9), 3*time.Hour)))
	f.addEvent(t, work("e3", typeNoteTaking, bruno, at(16, 9), time.Hour))

	_, err := f.locks.Lock(ctx, january, payroll.UserActor("admin-1"))
	require.NoError(t, err)

	// Binding exclusivity after lock
	for _, id := range []payroll.EventID{"e1", "e2", "e3"} {
		e := f.event(t, id)
		assert.False(t, e.IsBound() && e.IsCancelled(), "event %s both bound and cancelled", id)
	}

	result, err := f.locks.Unlock(ctx, january)
	require.NoError(t, err)
	assert.ElementsMatch(t, []payroll.EventID{"e2", "e3"}, result.Released)

	bound, err := f.store.FindBoundTo(ctx, january)
	require.NoError(t, err)
	assert.Empty(t, bound)

	assert.True(t, f.event(t, "e1").IsCancelled(), "cancellation is one-way")

	p := f.period(t, january)
	assert.Nil(t, p.LockedAt)
	assert.Nil(t, p.LockedBy)
	require.NoError(t, p.Validate())
}

func TestUnlock_OpenPeriodIsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.locks.Unlock(context.Background(), january)
	assert.ErrorIs(t, err, payroll.ErrInvalidStateTransition)
	assert.True(t, payroll.IsClientError(err))
}

func TestLockUnlockLock_RebindsReleasedEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addEvent(t, work("e3", typeNoteTaking, bruno, at(16, 9), time.Hour))

	_, err := f.locks.Lock(ctx, january, payroll.UserActor("admin-1"))
	require.NoError(t, err)
	_, err = f.locks.Unlock(ctx, january)
	require.NoError(t, err)
	result, err := f.locks.Lock(ctx, january, payroll.UserActor("admin-1"))
	require.NoError(t, err)

	assert.Equal(t, []payroll.EventID{"e3"}, result.Bound)
	assert.Equal(t, int64(4), f.period(t, january).Version)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestLastLockedPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	none, err := f.locks.LastLockedPeriod(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, f.store.SavePeriod(ctx, monthPeriod("p-2024-02", 2024, time.February)))
	_, err = f.locks.Lock(ctx, january, payroll.UserActor("admin-1"))
	require.NoError(t, err)

	later := payroll.NewLockManager(f.store, payroll.WithClock(func() time.Time { return lockTime.Add(24 * time.Hour) }))
	_, err = later.Lock(ctx, "p-2024-02", payroll.UserActor("admin-1"))
	require.NoError(t, err)

	last, err := f.locks.LastLockedPeriod(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, payroll.PeriodID("p-2024-02"), last.ID)
}

func TestPeriodsOverlapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SavePeriod(ctx, monthPeriod("p-2024-02", 2024, time.February)))
	require.NoError(t, f.store.SavePeriod(ctx, monthPeriod("p-2024-03", 2024, time.March)))

	from := payroll.Date(2024, time.January, 20)
	to := payroll.Date(2024, time.February, 10)

	overlapping, err := f.locks.PeriodsOverlapping(ctx, from, to, false)
	require.NoError(t, err)
	assert.Equal(t, []payroll.PeriodID{january, "p-2024-02"}, periodIDs(overlapping))

	endOnly, err := f.locks.PeriodsOverlapping(ctx, from, to, true)
	require.NoError(t, err)
	assert.Equal(t, []payroll.PeriodID{january}, periodIDs(endOnly))

	_, err = f.locks.PeriodsOverlapping(ctx, to, from, false)
	assert.ErrorIs(t, err, payroll.ErrInvalidPeriod)
}

func periodIDs(periods []payroll.Period) []payroll.PeriodID {
	ids := make([]payroll.PeriodID, len(periods))
	for i, p := range periods {
		ids[i] = p.ID
	}
	return ids
}

// =============================================================================
// STORE DOUBLES
// =============================================================================

// failingTxStore fails SavePeriod inside transactions.
type failingTxStore struct {
	*store.TxMemory
	err error
}

func (f *failingTxStore) WithTx(ctx context.Context, fn func(payroll.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(s payroll.Store) error {
		return fn(&failingPeriodWrites{Store: s, err: f.err})
	})
}

type failingPeriodWrites struct {
	payroll.Store
	err error
}

func (f *failingPeriodWrites) SavePeriod(context.Context, payroll.Period) error { return f.err }

// racingTxStore simulates another writer saving the period between the
// read and the write of a transition.
type racingTxStore struct {
	*store.TxMemory
}

func (r *racingTxStore) WithTx(ctx context.Context, fn func(payroll.Store) error) error {
	return r.TxMemory.WithTx(ctx, func(s payroll.Store) error {
		return fn(&racingPeriodWrites{Store: s})
	})
}

type racingPeriodWrites struct {
	payroll.Store
}

func (r *racingPeriodWrites) SavePeriod(ctx context.Context, p payroll.Period) error {
	current, err := r.Store.FindPeriod(ctx, p.ID)
	if err != nil {
		return err
	}
	if err := r.Store.SavePeriod(ctx, *current); err != nil {
		return err
	}
	return r.Store.SavePeriod(ctx, p)
}
