/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Decimals travel as
  strings with two fraction digits, civil dates as YYYY-MM-DD and instants
  as RFC 3339, so clients never see floating point money.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  h.decode, which rejects malformed JSON and failed tags with 400.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/ratecard.go: Rate card document types
*/
package api

import (
	"time"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// PERIODS
// =============================================================================

// PeriodDTO represents a period in API responses.
type PeriodDTO struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	Start    string  `json:"start"`
	End      string  `json:"end"`
	Deadline string  `json:"deadline"`
	LockedAt *string `json:"locked_at,omitempty"`
	LockedBy *string `json:"locked_by,omitempty"`
	Version  int64   `json:"version"`
}

// CreatePeriodRequest is the body for creating a period.
type CreatePeriodRequest struct {
	ID       string `json:"id"`
	Label    string `json:"label" validate:"required"`
	Start    string `json:"start" validate:"required,datetime=2006-01-02"`
	End      string `json:"end" validate:"required,datetime=2006-01-02"`
	Deadline string `json:"deadline" validate:"required,datetime=2006-01-02"`
}

// TransitionRequest is the body for lock and unlock.
type TransitionRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
}

// LockResultDTO summarises a committed lock.
type LockResultDTO struct {
	Period    PeriodDTO `json:"period"`
	Cancelled []string  `json:"cancelled"`
	Bound     []string  `json:"bound"`
	Skipped   int       `json:"skipped"`
}

// UnlockResultDTO summarises a committed unlock.
type UnlockResultDTO struct {
	Period   PeriodDTO `json:"period"`
	Released []string  `json:"released"`
}

// =============================================================================
// REPORTS
// =============================================================================

// ReportLineDTO is one aggregated (contributor, event type, rate) line.
type ReportLineDTO struct {
	ContributorID   string `json:"contributor_id"`
	ContributorName string `json:"contributor_name"`
	EventTypeID     string `json:"event_type_id"`
	EventTypeLabel  string `json:"event_type_label"`
	RateID          string `json:"rate_id"`
	Rate            string `json:"rate"`
	Hours           string `json:"hours"`
	Amount          string `json:"amount"`
}

// ReportDTO is a finished service-rendered report.
type ReportDTO struct {
	Period      PeriodDTO       `json:"period"`
	Contributor *string         `json:"contributor,omitempty"`
	Lines       []ReportLineDTO `json:"lines"`
	TotalHours  string          `json:"total_hours"`
	TotalAmount string          `json:"total_amount"`
}

// =============================================================================
// CONTRIBUTORS, EVENTS, INTERVENTIONS
// =============================================================================

// ContributorDTO represents a contributor.
type ContributorDTO struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Staff       bool   `json:"staff"`
}

// CreateContributorRequest is the body for creating a contributor.
type CreateContributorRequest struct {
	ID          string `json:"id" validate:"required"`
	DisplayName string `json:"display_name" validate:"required"`
	Staff       bool   `json:"staff"`
}

// EventDTO represents a calendar event.
type EventDTO struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Start         string  `json:"start"`
	End           string  `json:"end"`
	Hours         string  `json:"hours"`
	EventTypeID   string  `json:"event_type_id"`
	ContributorID string  `json:"contributor_id,omitempty"`
	ValidatedAt   *string `json:"validated_at,omitempty"`
	CancelledAt   *string `json:"cancelled_at,omitempty"`
	PeriodID      *string `json:"period_id,omitempty"`
	ModifiedBy    string  `json:"modified_by,omitempty"`
}

// CreateEventRequest is the body for creating an event.
type CreateEventRequest struct {
	ID            string    `json:"id"`
	Title         string    `json:"title" validate:"required"`
	Start         time.Time `json:"start" validate:"required"`
	End           time.Time `json:"end" validate:"required,gtefield=Start"`
	EventTypeID   string    `json:"event_type_id" validate:"required"`
	ContributorID string    `json:"contributor_id"`
	ActorID       string    `json:"actor_id" validate:"required"`
}

// CreateInterventionRequest is the body for entering flat-rate hours.
type CreateInterventionRequest struct {
	ID            string `json:"id"`
	EventTypeID   string `json:"event_type_id" validate:"required"`
	ContributorID string `json:"contributor_id" validate:"required"`
	PeriodID      string `json:"period_id" validate:"required"`
	Hours         string `json:"hours" validate:"required,numeric"`
	Description   string `json:"description"`
}

// InterventionDTO represents a flat-rate intervention.
type InterventionDTO struct {
	ID            string `json:"id"`
	EventTypeID   string `json:"event_type_id"`
	ContributorID string `json:"contributor_id"`
	PeriodID      string `json:"period_id"`
	Hours         string `json:"hours"`
	Description   string `json:"description,omitempty"`
}

// =============================================================================
// RATE CARDS
// =============================================================================

// RateDTO is one hourly rate of an event type.
type RateDTO struct {
	ID     string  `json:"id"`
	Amount string  `json:"amount"`
	From   string  `json:"from"`
	To     *string `json:"to,omitempty"`
}

// EventTypeDTO is an event type with its rate history.
type EventTypeDTO struct {
	ID                 string    `json:"id"`
	Label              string    `json:"label"`
	RequiresValidation bool      `json:"requires_validation"`
	Rates              []RateDTO `json:"rates"`
}

// RateCardImportDTO reports what an import stored.
type RateCardImportDTO struct {
	EventTypes int `json:"event_types"`
	Rates      int `json:"rates"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body for loading a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toPeriodDTO(p payroll.Period) PeriodDTO {
	dto := PeriodDTO{
		ID:       string(p.ID),
		Label:    p.Label,
		Start:    p.Start.Format(payroll.DateLayout),
		End:      p.End.Format(payroll.DateLayout),
		Deadline: p.Deadline.Format(payroll.DateLayout),
		Version:  p.Version,
	}
	if p.LockedAt != nil {
		dto.LockedAt = timePtr(*p.LockedAt)
	}
	if p.LockedBy != nil {
		by := p.LockedBy.String()
		dto.LockedBy = &by
	}
	return dto
}

func toPeriodDTOs(periods []payroll.Period) []PeriodDTO {
	dtos := make([]PeriodDTO, len(periods))
	for i, p := range periods {
		dtos[i] = toPeriodDTO(p)
	}
	return dtos
}

func toReportDTO(r payroll.Report) ReportDTO {
	dto := ReportDTO{
		Period:      toPeriodDTO(r.Period),
		Lines:       make([]ReportLineDTO, len(r.Lines)),
		TotalHours:  r.TotalHours().StringFixed(payroll.ReportPrecision),
		TotalAmount: r.TotalAmount().StringFixed(payroll.ReportPrecision),
	}
	if r.Contributor != nil {
		c := string(*r.Contributor)
		dto.Contributor = &c
	}
	for i, l := range r.Lines {
		dto.Lines[i] = ReportLineDTO{
			ContributorID:   string(l.Contributor.ID),
			ContributorName: l.Contributor.DisplayName,
			EventTypeID:     string(l.EventType.ID),
			EventTypeLabel:  l.EventType.Label,
			RateID:          string(l.Rate.ID),
			Rate:            l.Rate.Amount.StringFixed(payroll.ReportPrecision),
			Hours:           l.Hours.StringFixed(payroll.ReportPrecision),
			Amount:          l.Amount().StringFixed(payroll.ReportPrecision),
		}
	}
	return dto
}

func toEventDTO(e payroll.Event) EventDTO {
	dto := EventDTO{
		ID:            string(e.ID),
		Title:         e.Title,
		Start:         e.Start.UTC().Format(time.RFC3339),
		End:           e.End.UTC().Format(time.RFC3339),
		Hours:         e.Hours().StringFixed(payroll.ReportPrecision),
		EventTypeID:   string(e.EventTypeID),
		ContributorID: string(e.ContributorID),
	}
	if e.ValidatedAt != nil {
		dto.ValidatedAt = timePtr(*e.ValidatedAt)
	}
	if e.CancelledAt != nil {
		dto.CancelledAt = timePtr(*e.CancelledAt)
	}
	if e.PeriodID != nil {
		id := string(*e.PeriodID)
		dto.PeriodID = &id
	}
	if !e.ModifiedBy.IsZero() {
		dto.ModifiedBy = e.ModifiedBy.String()
	}
	return dto
}

func toRateDTO(r payroll.HourlyRate) RateDTO {
	dto := RateDTO{
		ID:     string(r.ID),
		Amount: r.Amount.StringFixed(payroll.ReportPrecision),
		From:   r.From.Format(payroll.DateLayout),
	}
	if r.To != nil {
		to := r.To.Format(payroll.DateLayout)
		dto.To = &to
	}
	return dto
}

func eventIDs(ids []payroll.EventID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func timePtr(t time.Time) *string {
	s := t.UTC().Format(time.RFC3339)
	return &s
}
