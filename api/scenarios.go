/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario imports a rate card, creates contributors
	and periods, and adds events that exercise a specific lock or report rule.

AVAILABLE SCENARIOS:

	locked-period-example: Two tutoring events, one unvalidated; locking
	                       cancels it and the report bills the other
	rate-change:           Note-taking rate changes mid-month, plus an
	                       intervention and a staff contributor
	multi-period:          January already locked, February open, for
	                       contributor reports across periods

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Import the demo rate card via the factory
 3. Create contributors and periods
 4. Add events and interventions
 5. Optionally lock periods

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "locked-period-example"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
  - factory/ratecard.go: Rate card parsing
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "locked-period-example",
		Name:        "Locked Period Example",
		Description: "Lock January: the unvalidated tutoring event is cancelled, the validated one is billed 3.00h at 20.00",
	},
	{
		ID:          "rate-change",
		Name:        "Mid-Month Rate Change",
		Description: "Note-taking rate changes on the 15th; hours split into two lines, staff work excluded",
	},
	{
		ID:          "multi-period",
		Name:        "Multiple Periods",
		Description: "January locked, February open; contributor reports list only locked periods",
	},
}

const demoRateCard = `
event_types:
  - id: tutoring
    label: Tutoring
    requires_validation: true
    rates:
      - amount: "20.00"
        from: 2024-01-01
  - id: note-taking
    label: Note taking
    rates:
      - amount: "15.50"
        from: 2024-01-01
        to: 2024-01-14
      - amount: "18.00"
        from: 2024-01-15
`

var demoContributors = []payroll.Contributor{
	{ID: "alice", DisplayName: "Alice Martin"},
	{ID: "bruno", DisplayName: "Bruno Diaz"},
	{ID: "claire", DisplayName: "Claire Petit", Staff: true},
}

var demoAdmin = payroll.UserActor("demo-admin")

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

var errUnknownScenario = errors.New("unknown scenario")

// LoadScenarioByID loads a scenario outside of an HTTP request (server seed).
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	return h.loadScenario(ctx, id)
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	var load func(context.Context) error
	switch id {
	case "locked-period-example":
		load = h.loadLockedPeriodExample
	case "rate-change":
		load = h.loadRateChangeScenario
	case "multi-period":
		load = h.loadMultiPeriodScenario
	default:
		return errUnknownScenario
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.currentScenario = ""

	if err := h.seedBase(ctx); err != nil {
		return err
	}
	if err := load(ctx); err != nil {
		return err
	}

	h.currentScenario = id
	h.Log.Info("scenario loaded", "scenario", id)
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) seedBase(ctx context.Context) error {
	card, err := h.RateCards.ParseYAML([]byte(demoRateCard))
	if err != nil {
		return err
	}
	if err := card.Apply(ctx, h.Store); err != nil {
		return err
	}
	for _, c := range demoContributors {
		if err := h.Store.SaveContributor(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadLockedPeriodExample(ctx context.Context) error {
	if err := h.Store.SavePeriod(ctx, demoMonth(time.January)); err != nil {
		return err
	}

	// E1: 2h, never validated. E2: 3h, validated the same evening.
	e1 := demoEvent("e1", "tutoring", "alice", demoTime(time.January, 10, 9), 2*time.Hour)
	e2 := demoEvent("e2", "tutoring", "alice", demoTime(time.January, 15, 9), 3*time.Hour)
	validatedAt := demoTime(time.January, 15, 18)
	e2.ValidatedAt = &validatedAt

	return h.saveEvents(ctx, e1, e2)
}

func (h *Handler) loadRateChangeScenario(ctx context.Context) error {
	january := demoMonth(time.January)
	if err := h.Store.SavePeriod(ctx, january); err != nil {
		return err
	}

	events := []payroll.Event{
		demoEvent("notes-early", "note-taking", "bruno", demoTime(time.January, 8, 14), 90*time.Minute),
		demoEvent("notes-late", "note-taking", "bruno", demoTime(time.January, 22, 14), 2*time.Hour),
		demoEvent("notes-staff", "note-taking", "claire", demoTime(time.January, 23, 10), time.Hour),
		demoEvent("notes-unassigned", "note-taking", "", demoTime(time.January, 24, 10), time.Hour),
	}
	if err := h.saveEvents(ctx, events...); err != nil {
		return err
	}

	// Interventions are priced at the period start date
	return h.Store.SaveIntervention(ctx, payroll.Intervention{
		ID:            "int-bruno-prep",
		EventTypeID:   "note-taking",
		ContributorID: "bruno",
		PeriodID:      january.ID,
		Hours:         decimal.RequireFromString("1.25"),
		Description:   "Exam preparation notes",
		CreatedAt:     demoTime(time.January, 31, 17),
	})
}

func (h *Handler) loadMultiPeriodScenario(ctx context.Context) error {
	for _, m := range []time.Month{time.January, time.February, time.March} {
		if err := h.Store.SavePeriod(ctx, demoMonth(m)); err != nil {
			return err
		}
	}

	jan := demoEvent("jan-alice", "tutoring", "alice", demoTime(time.January, 12, 9), 2*time.Hour)
	feb := demoEvent("feb-alice", "tutoring", "alice", demoTime(time.February, 9, 9), time.Hour)
	for _, e := range []*payroll.Event{&jan, &feb} {
		v := e.End
		e.ValidatedAt = &v
	}
	notes := demoEvent("jan-bruno", "note-taking", "bruno", demoTime(time.January, 18, 14), time.Hour)
	if err := h.saveEvents(ctx, jan, feb, notes); err != nil {
		return err
	}

	_, err := h.Locks.Lock(ctx, demoMonth(time.January).ID, demoAdmin)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) saveEvents(ctx context.Context, events ...payroll.Event) error {
	for _, e := range events {
		if err := h.Store.SaveEvent(ctx, e); err != nil {
			return fmt.Errorf("event %s: %w", e.ID, err)
		}
	}
	return nil
}

func demoMonth(m time.Month) payroll.Period {
	start := payroll.Date(2024, m, 1)
	end := start.AddDate(0, 1, -1)
	return payroll.Period{
		ID:       payroll.PeriodID(fmt.Sprintf("2024-%02d", int(m))),
		Label:    start.Format("January 2006"),
		Start:    start,
		End:      end,
		Deadline: end.AddDate(0, 0, 5),
	}
}

func demoTime(m time.Month, day, hour int) time.Time {
	return time.Date(2024, m, day, hour, 0, 0, 0, time.UTC)
}

func demoEvent(id payroll.EventID, typ payroll.EventTypeID, who payroll.ContributorID, start time.Time, d time.Duration) payroll.Event {
	return payroll.Event{
		ID:            id,
		Title:         fmt.Sprintf("%s (%s)", typ, id),
		Start:         start,
		End:           start.Add(d),
		EventTypeID:   typ,
		ContributorID: who,
		CreatedBy:     demoAdmin,
		CreatedAt:     start.AddDate(0, 0, -7),
	}
}
