/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes period locking and service-rendered reports via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the payroll
  package.

ENDPOINTS:
  Periods:
    GET    /api/periods                 List periods (?from&to&end_only)
    POST   /api/periods                 Create period
    GET    /api/periods/last-locked     Most recently locked period
    GET    /api/periods/{id}            Get period
    POST   /api/periods/{id}/lock       Lock period
    POST   /api/periods/{id}/unlock     Unlock period
    GET    /api/periods/{id}/report     Period report (?contributor=)

  Contributors:
    GET    /api/contributors            List contributors
    POST   /api/contributors            Create contributor
    GET    /api/contributors/{id}/reports  Reports across locked periods

  Work:
    GET    /api/events                  List events
    POST   /api/events                  Create event
    POST   /api/events/{id}/validate    Mark event validated
    POST   /api/interventions           Enter flat-rate hours

  Rate cards:
    GET    /api/rate-cards              Event types with rate history
    POST   /api/rate-cards              Import JSON or YAML rate card

  Scenarios:
    GET    /api/scenarios               List demo scenarios
    GET    /api/scenarios/current       Currently loaded scenario
    POST   /api/scenarios/load          Load a demo scenario

  Health:
    GET    /healthz                     Liveness and database ping

ERROR HANDLING:
  Domain errors map to HTTP status in statusFor:
  - 400: Validation errors, invalid input
  - 404: Period, event, event type or contributor not found
  - 409: Invalid transition, concurrent modification, locked event
  - 422: Report impossible because a rate is missing
  - 500: Store failures

SECURITY NOTE:
  No authentication. The actor performing a transition is taken from the
  request body.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/logger"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/sqlite"
)

// maxRateCardBytes bounds an uploaded rate card.
const maxRateCardBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Locks     *payroll.LockManager
	Reports   *payroll.Reports
	RateCards *factory.RateCardFactory
	Log       *logger.Logger

	validate *validator.Validate
	now      func() time.Time

	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler with the given store. lockOpts are
// passed to the lock manager (mutex, clock).
func NewHandler(store *sqlite.Store, log *logger.Logger, lockOpts ...payroll.LockOption) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	opts := append([]payroll.LockOption{payroll.WithLogger(log.Zap())}, lockOpts...)
	return &Handler{
		Store:     store,
		Locks:     payroll.NewLockManager(store, opts...),
		Reports:   payroll.NewReports(store, payroll.NewAggregator(store)),
		RateCards: factory.NewRateCardFactory(),
		Log:       log,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

// ListPeriods returns all periods, or those matching ?from&to when given.
// With end_only=true only periods whose end date falls in the range match.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("from") == "" && q.Get("to") == "" {
		periods, err := h.Store.ListPeriods(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list periods", err)
			return
		}
		writeJSON(w, http.StatusOK, toPeriodDTOs(periods))
		return
	}

	from, err := payroll.ParseDate(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
		return
	}
	to, err := payroll.ParseDate(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
		return
	}

	periods, err := h.Locks.PeriodsOverlapping(r.Context(), from, to, q.Get("end_only") == "true")
	if err != nil {
		h.writeDomainError(w, "Failed to list periods", err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTOs(periods))
}

// CreatePeriod creates a new open period.
func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	var req CreatePeriodRequest
	if !h.decode(w, r, &req) {
		return
	}

	// Tags already checked the layout
	start, _ := payroll.ParseDate(req.Start)
	end, _ := payroll.ParseDate(req.End)
	deadline, _ := payroll.ParseDate(req.Deadline)

	period := payroll.Period{
		ID:       payroll.PeriodID(req.ID),
		Label:    req.Label,
		Start:    start,
		End:      end,
		Deadline: deadline,
	}
	if period.ID == "" {
		period.ID = payroll.PeriodID(uuid.NewString())
	}

	if err := h.Store.SavePeriod(r.Context(), period); err != nil {
		if errors.Is(err, payroll.ErrConcurrentModification) {
			writeError(w, http.StatusConflict, "Period already exists", err)
			return
		}
		h.writeDomainError(w, "Failed to create period", err)
		return
	}
	period.Version = 1

	writeJSON(w, http.StatusCreated, toPeriodDTO(period))
}

// GetPeriod returns a single period.
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	id := payroll.PeriodID(chi.URLParam(r, "id"))

	period, err := h.Store.FindPeriod(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get period", err)
		return
	}
	if period == nil {
		writeError(w, http.StatusNotFound, "Period not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toPeriodDTO(*period))
}

// LastLockedPeriod returns the most recently locked period, or null.
func (h *Handler) LastLockedPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := h.Locks.LastLockedPeriod(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to get last locked period", err)
		return
	}
	if period == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(*period))
}

// LockPeriod locks a period on behalf of the actor in the body.
func (h *Handler) LockPeriod(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := payroll.PeriodID(chi.URLParam(r, "id"))

	result, err := h.Locks.Lock(r.Context(), id, payroll.UserActor(req.ActorID))
	if err != nil {
		h.writeDomainError(w, "Failed to lock period", err)
		return
	}

	writeJSON(w, http.StatusOK, LockResultDTO{
		Period:    toPeriodDTO(result.Period),
		Cancelled: eventIDs(result.Cancelled),
		Bound:     eventIDs(result.Bound),
		Skipped:   result.Skipped,
	})
}

// UnlockPeriod reopens a locked period.
func (h *Handler) UnlockPeriod(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := payroll.PeriodID(chi.URLParam(r, "id"))

	result, err := h.Locks.Unlock(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to unlock period", err)
		return
	}
	h.Log.Info("period unlocked", "period_id", id, "actor", payroll.UserActor(req.ActorID).String())

	writeJSON(w, http.StatusOK, UnlockResultDTO{
		Period:   toPeriodDTO(result.Period),
		Released: eventIDs(result.Released),
	})
}

// PeriodReport returns the report of a locked period.
func (h *Handler) PeriodReport(w http.ResponseWriter, r *http.Request) {
	id := payroll.PeriodID(chi.URLParam(r, "id"))

	var contributor *payroll.ContributorID
	if c := r.URL.Query().Get("contributor"); c != "" {
		cid := payroll.ContributorID(c)
		contributor = &cid
	}

	report, err := h.Reports.ForPeriod(r.Context(), id, contributor)
	if err != nil {
		h.writeDomainError(w, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// =============================================================================
// CONTRIBUTOR HANDLERS
// =============================================================================

// ListContributors returns all contributors.
func (h *Handler) ListContributors(w http.ResponseWriter, r *http.Request) {
	contributors, err := h.Store.ListContributors(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list contributors", err)
		return
	}

	dtos := make([]ContributorDTO, len(contributors))
	for i, c := range contributors {
		dtos[i] = ContributorDTO{ID: string(c.ID), DisplayName: c.DisplayName, Staff: c.Staff}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateContributor creates or updates a contributor.
func (h *Handler) CreateContributor(w http.ResponseWriter, r *http.Request) {
	var req CreateContributorRequest
	if !h.decode(w, r, &req) {
		return
	}

	c := payroll.Contributor{
		ID:          payroll.ContributorID(req.ID),
		DisplayName: req.DisplayName,
		Staff:       req.Staff,
	}
	if err := h.Store.SaveContributor(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create contributor", err)
		return
	}

	writeJSON(w, http.StatusCreated, ContributorDTO{ID: req.ID, DisplayName: req.DisplayName, Staff: req.Staff})
}

// ContributorReports returns one report per locked period with work by the
// contributor, in period order.
func (h *Handler) ContributorReports(w http.ResponseWriter, r *http.Request) {
	id := payroll.ContributorID(chi.URLParam(r, "id"))

	c, err := h.Store.FindContributor(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get contributor", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Contributor not found", nil)
		return
	}

	reports, err := h.Reports.ForContributor(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to build reports", err)
		return
	}

	dtos := make([]ReportDTO, len(reports))
	for i, rep := range reports {
		dtos[i] = toReportDTO(rep)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EVENT AND INTERVENTION HANDLERS
// =============================================================================

// ListEvents returns all events ordered by start.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Store.ListEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events", err)
		return
	}

	dtos := make([]EventDTO, len(events))
	for i, e := range events {
		dtos[i] = toEventDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEvent creates or replaces an event. Bound events are immutable.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	typ, err := h.Store.FindEventType(ctx, payroll.EventTypeID(req.EventTypeID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get event type", err)
		return
	}
	if typ == nil {
		writeError(w, http.StatusNotFound, "Event type not found", nil)
		return
	}

	actor := payroll.UserActor(req.ActorID)
	now := h.now().UTC()
	event := payroll.Event{
		ID:            payroll.EventID(req.ID),
		Title:         req.Title,
		Start:         req.Start.UTC(),
		End:           req.End.UTC(),
		EventTypeID:   typ.ID,
		ContributorID: payroll.ContributorID(req.ContributorID),
		CreatedBy:     actor,
		CreatedAt:     now,
	}
	if event.ID == "" {
		event.ID = payroll.EventID(uuid.NewString())
	}

	existing, err := h.Store.FindEvent(ctx, event.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get event", err)
		return
	}
	if existing != nil {
		if existing.IsBound() {
			h.writeDomainError(w, "Event cannot be modified", fmt.Errorf("event %s: %w", event.ID, payroll.ErrEventLocked))
			return
		}
		event.CreatedBy, event.CreatedAt = existing.CreatedBy, existing.CreatedAt
		event.ValidatedAt, event.CancelledAt = existing.ValidatedAt, existing.CancelledAt
		event.ModifiedBy, event.ModifiedAt = actor, now
	}

	if err := h.Store.SaveEvent(ctx, event); err != nil {
		h.writeDomainError(w, "Failed to save event", err)
		return
	}

	status := http.StatusCreated
	if existing != nil {
		status = http.StatusOK
	}
	writeJSON(w, status, toEventDTO(event))
}

// ValidateEvent marks an event as validated by the actor in the body.
func (h *Handler) ValidateEvent(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	id := payroll.EventID(chi.URLParam(r, "id"))

	event, err := h.Store.FindEvent(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get event", err)
		return
	}
	if event == nil {
		writeError(w, http.StatusNotFound, "Event not found", nil)
		return
	}
	if event.IsBound() {
		h.writeDomainError(w, "Event cannot be modified", fmt.Errorf("event %s: %w", id, payroll.ErrEventLocked))
		return
	}
	if event.IsCancelled() {
		h.writeDomainError(w, "Event is cancelled", fmt.Errorf("event %s is cancelled: %w", id, payroll.ErrInvalidEvent))
		return
	}

	now := h.now().UTC()
	event.ValidatedAt = &now
	event.ModifiedBy = payroll.UserActor(req.ActorID)
	event.ModifiedAt = now

	if err := h.Store.SaveEvent(ctx, *event); err != nil {
		h.writeDomainError(w, "Failed to validate event", err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(*event))
}

// CreateIntervention enters flat-rate hours against an open period.
func (h *Handler) CreateIntervention(w http.ResponseWriter, r *http.Request) {
	var req CreateInterventionRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	hours, err := decimal.NewFromString(req.Hours)
	if err != nil || !hours.IsPositive() {
		writeError(w, http.StatusBadRequest, "Hours must be a positive decimal", err)
		return
	}

	period, err := h.Store.FindPeriod(ctx, payroll.PeriodID(req.PeriodID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get period", err)
		return
	}
	if period == nil {
		writeError(w, http.StatusNotFound, "Period not found", nil)
		return
	}
	if period.IsLocked() {
		h.writeDomainError(w, "Period is locked", &payroll.TransitionError{PeriodID: period.ID, Op: "add intervention to", LockedAt: period.LockedAt})
		return
	}

	in := payroll.Intervention{
		ID:            payroll.InterventionID(req.ID),
		EventTypeID:   payroll.EventTypeID(req.EventTypeID),
		ContributorID: payroll.ContributorID(req.ContributorID),
		PeriodID:      period.ID,
		Hours:         hours,
		Description:   req.Description,
		CreatedAt:     h.now().UTC(),
	}
	if in.ID == "" {
		in.ID = payroll.InterventionID(uuid.NewString())
	}
	if err := h.Store.SaveIntervention(ctx, in); err != nil {
		h.writeDomainError(w, "Failed to save intervention", err)
		return
	}

	writeJSON(w, http.StatusCreated, InterventionDTO{
		ID:            string(in.ID),
		EventTypeID:   req.EventTypeID,
		ContributorID: req.ContributorID,
		PeriodID:      req.PeriodID,
		Hours:         in.Hours.String(),
		Description:   in.Description,
	})
}

// =============================================================================
// RATE CARD HANDLERS
// =============================================================================

// ListRateCards returns every event type with its rates.
func (h *Handler) ListRateCards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	types, err := h.Store.ListEventTypes(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list event types", err)
		return
	}
	rates, err := h.Store.ListRates(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rates", err)
		return
	}

	byType := make(map[payroll.EventTypeID][]RateDTO)
	for _, rate := range rates {
		byType[rate.EventTypeID] = append(byType[rate.EventTypeID], toRateDTO(rate))
	}

	dtos := make([]EventTypeDTO, len(types))
	for i, t := range types {
		dtos[i] = EventTypeDTO{
			ID:                 string(t.ID),
			Label:              t.Label,
			RequiresValidation: t.RequiresValidation,
			Rates:              byType[t.ID],
		}
		if dtos[i].Rates == nil {
			dtos[i].Rates = []RateDTO{}
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ImportRateCard stores a rate card. YAML is read when the Content-Type
// mentions yaml, JSON otherwise.
func (h *Handler) ImportRateCard(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRateCardBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read rate card", err)
		return
	}

	var card factory.RateCard
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		card, err = h.RateCards.ParseYAML(body)
	} else {
		card, err = h.RateCards.ParseJSON(body)
	}
	if err != nil {
		if errors.Is(err, payroll.ErrRateOverlap) {
			writeError(w, http.StatusConflict, "Rate card has overlapping rates", err)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid rate card", err)
		return
	}

	if err := card.Apply(r.Context(), h.Store); err != nil {
		h.writeDomainError(w, "Failed to import rate card", err)
		return
	}

	h.Log.Info("rate card imported", "event_types", len(card.EventTypes), "rates", len(card.Rates))
	writeJSON(w, http.StatusCreated, RateCardImportDTO{EventTypes: len(card.EventTypes), Rates: len(card.Rates)})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	switch {
	case payroll.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, payroll.ErrInvalidStateTransition),
		errors.Is(err, payroll.ErrPeriodNotLocked),
		errors.Is(err, payroll.ErrEventLocked),
		errors.Is(err, payroll.ErrRateOverlap),
		payroll.IsRetryable(err):
		return http.StatusConflict
	case errors.Is(err, payroll.ErrConfigurationIncomplete):
		return http.StatusUnprocessableEntity
	case errors.Is(err, payroll.ErrInvalidPeriod),
		errors.Is(err, payroll.ErrInvalidEvent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.Error(message, "error", err)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
