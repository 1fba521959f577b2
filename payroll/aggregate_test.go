package payroll_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// SCENARIOS
// =============================================================================

func TestBuildReport_LockedPeriodExample(t *testing.T) {
	// GIVEN: E1 (2h, unvalidated) and E2 (3h, validated) tutoring for Alice at 20.00/h
	// WHEN: January is locked and reported
	// THEN: One line {Alice, Tutoring, 20.00, 3.00}

	f := newFixture(t)
	ctx := context.Background()
	f.addEvent(t, work("e1", typeTutoring, alice, at(10, 9), 2*time.Hour))
	f.addEvent(t, validated(work("e2", typeTutoring, alice, at(15, 9), 3*time.Hour)))

	_, err := f.locks.Lock(ctx, january, payroll.UserActor("admin-1"))
	require.NoError(t, err)

	report, err := f.reports.ForPeriod(ctx, january, nil)
	require.NoError(t, err)
	require.Len(t, report.Lines, 1)

	line := report.Lines[0]
	assert.Equal(t, alice, line.Contributor.ID)
	assert.Equal(t, typeTutoring, line.EventType.ID)
	assert.Equal(t, "20.00", line.Rate.Amount.StringFixed(2))
	assert.Equal(t, "3.00", line.Hours.StringFixed(2))
	assert.Equal(t, "60.00", line.Amount().StringFixed(2))
	assert.Equal(t, "60.00", report.TotalAmount().StringFixed(2))
}

func TestBuildReport_RateChangeSplitsLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addEvent(t, work("before", typeNoteTaking, bruno, at(10, 9), time.Hour))
	f.addEvent(t, work("after", typeNoteTaking, bruno, at(20, 9), 2*time.Hour))

	_, err := f.locks.Lock(ctx, january, payroll.UserActor("admin-1"))
	require.NoError(t, err)

	report, err := f.reports.ForPeriod(ctx, january, nil)
	require.NoError(t, err)
	require.Len(t, report.Lines, 2)

	assert.Equal(t, payroll.RateID("r-notes-1"), report.Lines[0].Rate.ID)
	assert.Equal(t, "1.00", report.Lines[0].Hours.StringFixed(2))
	assert.Equal(t, payroll.RateID("r-notes-2"), report.Lines[1].Rate.ID)
	assert.Equal(t, "2.00", report.Lines[1].Hours.StringFixed(2))
}

func TestBuildReport_InterventionsUsePeriodStartRate(t *testing.T) {
	// GIVEN: A late-January note-taking event and a flat-rate intervention
	// THEN: The intervention is priced on January 1 (first rate) even though
	//       the event next to it uses the second rate

	f := newFixture(t)
	ctx := context.Background()
	f.addEvent(t, work("late", typeNoteTaking, bruno, at(25, 9), time.Hour))
	require.NoError(t, f.store.SaveIntervention(ctx, payroll.Intervention{
		ID: "i1", EventTypeID: typeNoteTaking, ContributorID: bruno, PeriodID: january, Hours: dec("1.25"),
	}))

	_, err := f.locks.Lock(ctx, january, payroll.UserActor("admin-1"))
	require.NoError(t, err)

	report, err := f.reports.ForPeriod(ctx, january, nil)
	require.NoError(t, err)
	require.Len(t, report.Lines, 2)
	assert.Equal(t, payroll.RateID("r-notes-1"), report.Lines[0].Rate.ID)
	assert.Equal(t, "1.25", report.Lines[0].Hours.StringFixed(2))
	assert.Equal(t, payroll.RateID("r-notes-2"), report.Lines[1].Rate.ID)
}

func TestBuildReport_StaffExcludedUnlessFiltered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addEvent(t, work("staff-work", typeNoteTaking, staff, at(10, 9), time.Hour))
	f.addEvent(t, work("bruno-work", typeNoteTaking, bruno, at(10, 14), time.Hour))

	_, err := f.locks.Lock(ctx, january, payroll.UserActor("admin-1"))
	require.NoError(t, err)

	all, err := f.reports.ForPeriod(ctx, january, nil)
	require.NoError(t, err)
	require.Len(t, all.Lines, 1)
	assert.Equal(t, bruno, all.Lines[0].Contributor.ID)

	who := staff
	own, err := f.reports.ForPeriod(ctx, january, &who)
	require.NoError(t, err)
	require.Len(t, own.Lines, 1)
	assert.Equal(t, staff, own.Lines[0].Contributor.ID)
	assert.Equal(t, &who, own.Contributor)
}

func TestBuildReport_MissingRateAbortsReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addEvent(t, work("priced", typeNoteTaking, bruno, at(10, 9), time.Hour))
	f.addEvent(t, work("unpriced", typeUnpriced, bruno, at(11, 9), time.Hour))

	_, err := f.locks.Lock(ctx, january, payroll.UserActor("admin-1"))
	require.NoError(t, err)

	report, err := f.reports.ForPeriod(ctx, january, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, payroll.ErrConfigurationIncomplete)
	var missing *payroll.MissingRateError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, typeUnpriced, missing.EventTypeID)
	assert.Contains(t, err.Error(), "Sign language")
	assert.Empty(t, report.Lines)
}

func TestBuildReport_OpenPeriodIsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.reports.ForPeriod(context.Background(), january, nil)
	assert.ErrorIs(t, err, payroll.ErrPeriodNotLocked)

	_, err = f.reports.ForPeriod(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, payroll.ErrPeriodNotFound)
}

func TestBuildReport_SortedByNameThenLabelAndStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addEvent(t, work("b-notes", typeNoteTaking, bruno, at(3, 9), time.Hour))
	f.addEvent(t, validated(work("b-tutor", typeTutoring, bruno, at(4, 9), time.Hour)))
	f.addEvent(t, validated(work("a-tutor", typeTutoring, alice, at(5, 9), time.Hour)))
	f.addEvent(t, work("a-notes", typeNoteTaking, alice, at(6, 9), time.Hour))

	_, err := f.locks.Lock(ctx, january, payroll.UserActor("admin-1"))
	require.NoError(t, err)

	first, err := f.reports.ForPeriod(ctx, january, nil)
	require.NoError(t, err)
	second, err := f.reports.ForPeriod(ctx, january, nil)
	require.NoError(t, err)

	got := make([]string, len(first.Lines))
	for i, l := range first.Lines {
		got[i] = l.Contributor.DisplayName + "/" + l.EventType.Label
	}
	assert.Equal(t, []string{
		"Alice Martin/Note taking",
		"Alice Martin/Tutoring",
		"Bruno Diaz/Note taking",
		"Bruno Diaz/Tutoring",
	}, got)
	assert.Equal(t, render(first.Lines), render(second.Lines))
}

// render formats lines the way a downstream renderer would consume them.
func render(lines []payroll.ReportLine) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = fmt.Sprintf("%s|%s|%s|%s|%s", l.Contributor.ID, l.EventType.ID, l.Rate.ID,
			l.Rate.Amount.StringFixed(2), l.Hours.StringFixed(2))
	}
	return out
}

// =============================================================================
// NUMERICAL PROPERTIES
// =============================================================================

func TestBuildReport_RoundsOnceAtTheEnd(t *testing.T) {
	// Three 18-second slots are 0.005h each. Rounding each would give 0.03;
	// rounding the 0.015 total gives 0.02.
	src := newFakeSource()
	for _, id := range []payroll.EventID{"a", "b", "c"} {
		src.bind(work(id, typeNoteTaking, bruno, at(10, 9), 18*time.Second))
	}

	report, err := payroll.NewAggregator(src).BuildReport(context.Background(), src.period, nil)
	require.NoError(t, err)
	require.Len(t, report.Lines, 1)
	assert.Equal(t, "0.02", report.Lines[0].Hours.StringFixed(2))
}

func TestBuildReport_SummationIsOrderIndependent(t *testing.T) {
	src := newFakeSource()
	for i := 0; i < 60; i++ {
		start := at(1+i%28, 8).Add(time.Duration(i) * time.Minute)
		who := alice
		if i%3 == 0 {
			who = bruno
		}
		// 20-minute slots do not terminate in decimal hours
		src.bind(work(payroll.EventID(fmt.Sprintf("e%02d", i)), typeNoteTaking, who, start, 20*time.Minute))
	}
	src.interventions = append(src.interventions,
		payroll.Intervention{ID: "i1", EventTypeID: typeNoteTaking, ContributorID: alice, PeriodID: january, Hours: dec("0.333333333333")},
		payroll.Intervention{ID: "i2", EventTypeID: typeNoteTaking, ContributorID: alice, PeriodID: january, Hours: dec("0.666666666667")},
	)

	agg := payroll.NewAggregator(src)
	want, err := agg.BuildReport(context.Background(), src.period, nil)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 20; round++ {
		rng.Shuffle(len(src.events), func(i, j int) { src.events[i], src.events[j] = src.events[j], src.events[i] })
		rng.Shuffle(len(src.interventions), func(i, j int) {
			src.interventions[i], src.interventions[j] = src.interventions[j], src.interventions[i]
		})
		got, err := agg.BuildReport(context.Background(), src.period, nil)
		require.NoError(t, err)
		assert.Equal(t, render(want.Lines), render(got.Lines), "round %d", round)
	}
}

func TestBuildReport_MemoisesLookupsWithinOneCall(t *testing.T) {
	src := newFakeSource()
	for _, id := range []payroll.EventID{"a", "b", "c", "d"} {
		src.bind(work(id, typeNoteTaking, bruno, at(10, 9), time.Hour))
	}

	_, err := payroll.NewAggregator(src).BuildReport(context.Background(), src.period, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, src.rateCalls)
	assert.Equal(t, 1, src.contributorCalls)

	_, err = payroll.NewAggregator(src).BuildReport(context.Background(), src.period, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, src.rateCalls, "nothing is cached across calls")
}

// =============================================================================
// FAKE SOURCE
// =============================================================================

type fakeSource struct {
	period        payroll.Period
	events        []payroll.Event
	interventions []payroll.Intervention

	rateCalls        int
	contributorCalls int
}

func newFakeSource() *fakeSource {
	p := monthPeriod(january, 2024, time.January)
	lockedAt := lockTime
	by := payroll.UserActor("admin-1")
	p.LockedAt, p.LockedBy = &lockedAt, &by
	return &fakeSource{period: p}
}

func (s *fakeSource) bind(e payroll.Event) {
	pid := s.period.ID
	e.PeriodID = &pid
	s.events = append(s.events, e)
}

func (s *fakeSource) FindBoundTo(_ context.Context, id payroll.PeriodID) ([]payroll.Event, error) {
	var out []payroll.Event
	for _, e := range s.events {
		if e.BoundTo(id) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeSource) FindInterventions(_ context.Context, id payroll.PeriodID) ([]payroll.Intervention, error) {
	var out []payroll.Intervention
	for _, in := range s.interventions {
		if in.PeriodID == id {
			out = append(out, in)
		}
	}
	return out, nil
}

func (s *fakeSource) RateInEffect(_ context.Context, id payroll.EventTypeID, day time.Time) (*payroll.HourlyRate, error) {
	s.rateCalls++
	if id != typeNoteTaking {
		return nil, nil
	}
	return &payroll.HourlyRate{ID: "flat", EventTypeID: id, Amount: dec("15.00"), From: payroll.Date(2024, time.January, 1)}, nil
}

func (s *fakeSource) FindContributor(_ context.Context, id payroll.ContributorID) (*payroll.Contributor, error) {
	s.contributorCalls++
	return &payroll.Contributor{ID: id, DisplayName: string(id)}, nil
}

func (s *fakeSource) FindEventType(_ context.Context, id payroll.EventTypeID) (*payroll.EventType, error) {
	return &payroll.EventType{ID: id, Label: string(id)}, nil
}
