package payroll_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
)

// =============================================================================
// TEST FIXTURE
// =============================================================================

const (
	typeTutoring   payroll.EventTypeID = "tutoring"    // requires validation
	typeNoteTaking payroll.EventTypeID = "note-taking" // no validation, rate changes mid-January
	typeUnpriced   payroll.EventTypeID = "unpriced"    // no rate configured

	alice payroll.ContributorID = "c-alice"
	bruno payroll.ContributorID = "c-bruno"
	staff payroll.ContributorID = "c-staff"

	january payroll.PeriodID = "p-2024-01"
)

var lockTime = time.Date(2024, time.February, 6, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store   *store.TxMemory
	locks   *payroll.LockManager
	reports *payroll.Reports
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewTxMemory()

	require.NoError(t, mem.SaveEventType(ctx, payroll.EventType{ID: typeTutoring, Label: "Tutoring", RequiresValidation: true}))
	require.NoError(t, mem.SaveEventType(ctx, payroll.EventType{ID: typeNoteTaking, Label: "Note taking"}))
	require.NoError(t, mem.SaveEventType(ctx, payroll.EventType{ID: typeUnpriced, Label: "Sign language"}))

	require.NoError(t, mem.SaveContributor(ctx, payroll.Contributor{ID: alice, DisplayName: "Alice Martin"}))
	require.NoError(t, mem.SaveContributor(ctx, payroll.Contributor{ID: bruno, DisplayName: "Bruno Diaz"}))
	require.NoError(t, mem.SaveContributor(ctx, payroll.Contributor{ID: staff, DisplayName: "Case Manager", Staff: true}))

	midJanuary := payroll.Date(2024, time.January, 14)
	require.NoError(t, mem.SaveRate(ctx, payroll.HourlyRate{
		ID: "r-tutoring", EventTypeID: typeTutoring, Amount: dec("20.00"), From: payroll.Date(2024, time.January, 1),
	}))
	require.NoError(t, mem.SaveRate(ctx, payroll.HourlyRate{
		ID: "r-notes-1", EventTypeID: typeNoteTaking, Amount: dec("15.50"), From: payroll.Date(2024, time.January, 1), To: &midJanuary,
	}))
	require.NoError(t, mem.SaveRate(ctx, payroll.HourlyRate{
		ID: "r-notes-2", EventTypeID: typeNoteTaking, Amount: dec("18.00"), From: payroll.Date(2024, time.January, 15),
	}))

	require.NoError(t, mem.SavePeriod(ctx, monthPeriod(january, 2024, time.January)))

	return &fixture{
		store:   mem,
		locks:   payroll.NewLockManager(mem, payroll.WithClock(func() time.Time { return lockTime })),
		reports: payroll.NewReports(mem, payroll.NewAggregator(mem)),
	}
}

func monthPeriod(id payroll.PeriodID, year int, month time.Month) payroll.Period {
	start := payroll.Date(year, month, 1)
	end := start.AddDate(0, 1, -1)
	return payroll.Period{
		ID:       id,
		Label:    start.Format("January 2006"),
		Start:    start,
		End:      end,
		Deadline: end.AddDate(0, 0, 5),
	}
}

func (f *fixture) addEvent(t *testing.T, e payroll.Event) {
	t.Helper()
	require.NoError(t, f.store.SaveEvent(context.Background(), e))
}

func (f *fixture) event(t *testing.T, id payroll.EventID) payroll.Event {
	t.Helper()
	e, err := f.store.FindEvent(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, e)
	return *e
}

func (f *fixture) period(t *testing.T, id payroll.PeriodID) payroll.Period {
	t.Helper()
	p, err := f.store.FindPeriod(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return *p
}

// work builds an event of the given length starting at start.
func work(id payroll.EventID, typ payroll.EventTypeID, who payroll.ContributorID, start time.Time, d time.Duration) payroll.Event {
	return payroll.Event{
		ID:            id,
		Title:         string(id),
		Start:         start,
		End:           start.Add(d),
		EventTypeID:   typ,
		ContributorID: who,
		CreatedBy:     payroll.UserActor("manager-1"),
		CreatedAt:     start.AddDate(0, 0, -7),
	}
}

func validated(e payroll.Event) payroll.Event {
	at := e.End.Add(time.Hour)
	e.ValidatedAt = &at
	return e
}

func at(day int, hour int) time.Time {
	return time.Date(2024, time.January, day, hour, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
