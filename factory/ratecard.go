/*
Package factory provides JSON/YAML to Go rate card conversion.

PURPOSE:
  Converts rate card documents into payroll.EventType and payroll.HourlyRate
  values. Payroll staff maintain event types and their rates in a file, and
  the factory validates it and creates the proper Go structs.

SCHEMA (YAML shown, JSON uses the same keys):
  event_types:
    - id: tutoring
      label: Tutoring
      requires_validation: true
      rates:
        - amount: "20.00"
          from: 2024-01-01
          to: 2024-06-30
        - amount: "22.00"
          from: 2024-07-01

VALIDATION:
  - id and label are required, ids are unique
  - amounts are decimal strings, strictly positive
  - dates are YYYY-MM-DD and to >= from
  - rates of one event type must not overlap (payroll.ErrRateOverlap)

RATE IDS:
  A rate without an explicit id gets "<event type>@<from>", so importing the
  same card twice updates rows instead of duplicating them.

USAGE:
  f := factory.NewRateCardFactory()
  card, err := f.ParseFile("rates.yaml")
  if err != nil { ... }
  err = card.Apply(ctx, store)

SEE ALSO:
  - payroll/types.go: EventType and HourlyRate
  - store/sqlite/sqlite.go: SaveEventType / SaveRate
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/payroll"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// DOCUMENT SCHEMA TYPES
// =============================================================================

// RateCardDoc is the document representation of a rate card.
type RateCardDoc struct {
	EventTypes []EventTypeDoc `json:"event_types" yaml:"event_types"`
}

// EventTypeDoc represents one event type and its rate history.
type EventTypeDoc struct {
	ID                 string    `json:"id" yaml:"id"`
	Label              string    `json:"label" yaml:"label"`
	RequiresValidation bool      `json:"requires_validation,omitempty" yaml:"requires_validation,omitempty"`
	Rates              []RateDoc `json:"rates,omitempty" yaml:"rates,omitempty"`
}

// RateDoc represents one date-bounded hourly rate.
type RateDoc struct {
	ID     string `json:"id,omitempty" yaml:"id,omitempty"`
	Amount string `json:"amount" yaml:"amount"`
	From   string `json:"from" yaml:"from"`
	To     string `json:"to,omitempty" yaml:"to,omitempty"` // empty: open ended
}

// RateCard is a validated rate card ready to be stored.
type RateCard struct {
	EventTypes []payroll.EventType
	Rates      []payroll.HourlyRate
}

// RateSink receives the contents of a rate card.
type RateSink interface {
	SaveEventType(ctx context.Context, t payroll.EventType) error
	SaveRate(ctx context.Context, r payroll.HourlyRate) error
}

// Apply stores event types first, then rates in card order.
func (c RateCard) Apply(ctx context.Context, sink RateSink) error {
	for _, t := range c.EventTypes {
		if err := sink.SaveEventType(ctx, t); err != nil {
			return fmt.Errorf("event type %s: %w", t.ID, err)
		}
	}
	for _, r := range c.Rates {
		if err := sink.SaveRate(ctx, r); err != nil {
			return fmt.Errorf("rate %s: %w", r.ID, err)
		}
	}
	return nil
}

// =============================================================================
// RATE CARD FACTORY
// =============================================================================

// RateCardFactory converts rate card documents to Go structs.
type RateCardFactory struct{}

// NewRateCardFactory creates a new rate card factory.
func NewRateCardFactory() *RateCardFactory {
	return &RateCardFactory{}
}

// ParseJSON parses a JSON rate card.
func (f *RateCardFactory) ParseJSON(data []byte) (RateCard, error) {
	var doc RateCardDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return RateCard{}, fmt.Errorf("failed to parse rate card JSON: %w", err)
	}
	return f.FromDoc(doc)
}

// ParseYAML parses a YAML rate card.
func (f *RateCardFactory) ParseYAML(data []byte) (RateCard, error) {
	var doc RateCardDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return RateCard{}, fmt.Errorf("failed to parse rate card YAML: %w", err)
	}
	return f.FromDoc(doc)
}

// ParseFile reads a rate card, choosing the format from the extension.
// Anything other than .json is read as YAML.
func (f *RateCardFactory) ParseFile(path string) (RateCard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RateCard{}, fmt.Errorf("failed to read rate card: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return f.ParseJSON(data)
	}
	return f.ParseYAML(data)
}

// FromDoc validates a document and converts it.
func (f *RateCardFactory) FromDoc(doc RateCardDoc) (RateCard, error) {
	var card RateCard
	seen := make(map[string]bool)

	for _, td := range doc.EventTypes {
		if td.ID == "" || td.Label == "" {
			return RateCard{}, fmt.Errorf("event type %q: id and label are required", td.ID)
		}
		if seen[td.ID] {
			return RateCard{}, fmt.Errorf("event type %q: duplicate id", td.ID)
		}
		seen[td.ID] = true

		typeID := payroll.EventTypeID(td.ID)
		card.EventTypes = append(card.EventTypes, payroll.EventType{
			ID:                 typeID,
			Label:              td.Label,
			RequiresValidation: td.RequiresValidation,
		})

		rates := make([]payroll.HourlyRate, 0, len(td.Rates))
		for _, rd := range td.Rates {
			rate, err := parseRate(typeID, rd)
			if err != nil {
				return RateCard{}, fmt.Errorf("event type %q: %w", td.ID, err)
			}
			for _, other := range rates {
				if rate.OverlapsWith(other) {
					return RateCard{}, fmt.Errorf("event type %q: rate from %s overlaps rate from %s: %w",
						td.ID, rd.From, other.From.Format(payroll.DateLayout), payroll.ErrRateOverlap)
				}
			}
			rates = append(rates, rate)
		}
		card.Rates = append(card.Rates, rates...)
	}

	return card, nil
}

func parseRate(typeID payroll.EventTypeID, rd RateDoc) (payroll.HourlyRate, error) {
	amount, err := decimal.NewFromString(rd.Amount)
	if err != nil {
		return payroll.HourlyRate{}, fmt.Errorf("rate amount %q: %w", rd.Amount, err)
	}
	if !amount.IsPositive() {
		return payroll.HourlyRate{}, fmt.Errorf("rate amount %q must be positive", rd.Amount)
	}

	from, err := payroll.ParseDate(rd.From)
	if err != nil {
		return payroll.HourlyRate{}, fmt.Errorf("rate from %q: %w", rd.From, err)
	}

	rate := payroll.HourlyRate{
		ID:          payroll.RateID(rd.ID),
		EventTypeID: typeID,
		Amount:      amount,
		From:        from,
	}
	if rate.ID == "" {
		rate.ID = payroll.RateID(fmt.Sprintf("%s@%s", typeID, rd.From))
	}

	if rd.To != "" {
		to, err := payroll.ParseDate(rd.To)
		if err != nil {
			return payroll.HourlyRate{}, fmt.Errorf("rate to %q: %w", rd.To, err)
		}
		if to.Before(from) {
			return payroll.HourlyRate{}, fmt.Errorf("rate from %s ends before it starts", rd.From)
		}
		rate.To = &to
	}
	return rate, nil
}
