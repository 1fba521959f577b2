package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/payroll"
)

func newTestScheduler(t *testing.T, now time.Time) (*Handler, *DeadlineScheduler) {
	t.Helper()
	h := setupTestHandler(t)
	ctx := context.Background()
	for _, m := range []time.Month{time.January, time.February, time.March} {
		require.NoError(t, h.Store.SavePeriod(ctx, demoMonth(m)))
	}

	ds := NewDeadlineScheduler(h.Store, h.Locks, nil)
	ds.now = func() time.Time { return now }
	return h, ds
}

func TestDeadlineScheduler_LocksDuePeriodsInOrder(t *testing.T) {
	// GIVEN: January (deadline Feb 5) and February (deadline Mar 5) are past due
	now := time.Date(2024, time.March, 6, 8, 0, 0, 0, time.UTC)
	h, ds := newTestScheduler(t, now)
	ctx := context.Background()

	// WHEN: Running a check
	locked := ds.RunNow(ctx)

	// THEN: Both are locked by the system, March stays open
	assert.Equal(t, []payroll.PeriodID{"2024-01", "2024-02"}, locked)

	jan, err := h.Store.FindPeriod(ctx, "2024-01")
	require.NoError(t, err)
	require.NotNil(t, jan.LockedBy)
	assert.True(t, jan.LockedBy.IsSystem())

	mar, err := h.Store.FindPeriod(ctx, "2024-03")
	require.NoError(t, err)
	assert.False(t, mar.IsLocked())

	// AND: A second run has nothing to do
	assert.Empty(t, ds.RunNow(ctx))
}

func TestDeadlineScheduler_DeadlineDayIsNotDue(t *testing.T) {
	// GIVEN: It is still January's deadline day
	now := time.Date(2024, time.February, 5, 23, 59, 0, 0, time.UTC)
	_, ds := newTestScheduler(t, now)

	// WHEN/THEN: Nothing is locked
	assert.Empty(t, ds.RunNow(context.Background()))

	ds.now = func() time.Time { return now.Add(2 * time.Minute) }
	assert.Equal(t, []payroll.PeriodID{"2024-01"}, ds.RunNow(context.Background()))
}

func TestDeadlineScheduler_SkipsAlreadyLocked(t *testing.T) {
	// GIVEN: January was locked by hand
	now := time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC)
	h, ds := newTestScheduler(t, now)
	_, err := h.Locks.Lock(context.Background(), "2024-01", payroll.UserActor("payroll-admin"))
	require.NoError(t, err)

	// WHEN/THEN: The scheduler leaves it alone
	assert.Empty(t, ds.RunNow(context.Background()))

	jan, err := h.Store.FindPeriod(context.Background(), "2024-01")
	require.NoError(t, err)
	assert.False(t, jan.LockedBy.IsSystem())
}

func TestDeadlineScheduler_StartStop(t *testing.T) {
	now := time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC)
	h, ds := newTestScheduler(t, now)

	// Disabled: Start is a no-op
	ds.Start()
	ds.Stop()

	ds.Enabled = true
	ds.CheckInterval = time.Hour
	ds.Start()
	ds.Start()
	ds.Stop()

	// The immediate run on start locked January
	jan, err := h.Store.FindPeriod(context.Background(), "2024-01")
	require.NoError(t, err)
	assert.True(t, jan.IsLocked())
	assert.Equal(t, now.Add(time.Hour), ds.NextRunTime())
}
