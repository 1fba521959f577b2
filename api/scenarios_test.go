/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario sets up the expected state and that locking
	it produces the documented report. These double as integration tests
	of the store, the lock manager and the aggregator.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/payroll"
)

func TestScenario_LockedPeriodExample(t *testing.T) {
	// GIVEN: The locked-period example
	// WHEN: Loading it and locking January
	// THEN: E1 is cancelled and the report bills 3.00h at 20.00

	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.loadScenario(ctx, "locked-period-example"))

	events, err := h.Store.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.False(t, events[0].IsValidated())
	assert.True(t, events[1].IsValidated())

	result, err := h.Locks.Lock(ctx, "2024-01", payroll.UserActor("payroll-admin"))
	require.NoError(t, err)
	assert.Equal(t, []payroll.EventID{"e1"}, result.Cancelled)
	assert.Equal(t, []payroll.EventID{"e2"}, result.Bound)

	report, err := h.Reports.ForPeriod(ctx, "2024-01", nil)
	require.NoError(t, err)
	require.Len(t, report.Lines, 1)
	assert.Equal(t, "3.00", report.Lines[0].Hours.StringFixed(2))
	assert.Equal(t, "60.00", report.TotalAmount().StringFixed(2))
}

func TestScenario_RateChange(t *testing.T) {
	// GIVEN: Note-taking paid 15.50 until the 14th and 18.00 afterwards
	// WHEN: Locking January
	// THEN: Bruno gets one line per rate, staff and unassigned work are excluded

	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.loadScenario(ctx, "rate-change"))

	result, err := h.Locks.Lock(ctx, "2024-01", payroll.SystemActor)
	require.NoError(t, err)
	assert.Len(t, result.Bound, 3)
	assert.Equal(t, 1, result.Skipped)

	report, err := h.Reports.ForPeriod(ctx, "2024-01", nil)
	require.NoError(t, err)
	require.Len(t, report.Lines, 2)

	// 1.5h event + 1.25h intervention priced at the period start
	early := report.Lines[0]
	assert.Equal(t, payroll.ContributorID("bruno"), early.Contributor.ID)
	assert.Equal(t, "15.50", early.Rate.Amount.StringFixed(2))
	assert.Equal(t, "2.75", early.Hours.StringFixed(2))
	assert.Equal(t, "42.63", early.Amount().StringFixed(2))

	late := report.Lines[1]
	assert.Equal(t, "18.00", late.Rate.Amount.StringFixed(2))
	assert.Equal(t, "36.00", late.Amount().StringFixed(2))

	assert.Equal(t, "78.63", report.TotalAmount().StringFixed(2))
}

func TestScenario_MultiPeriod(t *testing.T) {
	// GIVEN: January locked by the scenario, February and March open
	// WHEN: Asking for Alice's reports
	// THEN: Only January is returned

	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.loadScenario(ctx, "multi-period"))

	last, err := h.Locks.LastLockedPeriod(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, payroll.PeriodID("2024-01"), last.ID)

	reports, err := h.Reports.ForContributor(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "40.00", reports[0].TotalAmount().StringFixed(2))

	// Locking February picks up only February's event
	result, err := h.Locks.Lock(ctx, "2024-02", payroll.SystemActor)
	require.NoError(t, err)
	assert.Equal(t, []payroll.EventID{"feb-alice"}, result.Bound)

	reports, err = h.Reports.ForContributor(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, payroll.PeriodID("2024-02"), reports[1].Period.ID)
}

func TestScenario_LoadResetsPreviousData(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.loadScenario(ctx, "multi-period"))
	require.NoError(t, h.loadScenario(ctx, "locked-period-example"))

	periods, err := h.Store.ListPeriods(ctx)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.False(t, periods[0].IsLocked())

	contributors, err := h.Store.ListContributors(ctx)
	require.NoError(t, err)
	assert.Len(t, contributors, len(demoContributors))
}

func TestScenario_HTTP(t *testing.T) {
	_, router := setupTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, rec), len(scenarios))

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null\n", rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "rate-change"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "rate-change", decodeBody[ScenarioDTO](t, rec).ID)
}
