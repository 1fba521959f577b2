/*
aggregate.go - Service-rendered aggregation

PURPOSE:
  Turns the bound events and flat-rate interventions of a locked period into
  report lines keyed by (contributor, event type, hourly rate).

ALGORITHM:
  1. Collect work items: events bound to the period and the period's
     interventions. With a contributor filter only that contributor's items
     are kept; without one, items of staff contributors are excluded.
  2. Resolve the rate: event start date for events, period start date for
     interventions. A missing rate aborts the whole report.
  3. Accumulate hours per key with decimal arithmetic at WorkingPrecision.
  4. Round every line to ReportPrecision once, after all items are summed.
  5. Sort by contributor display name, then event type label, with stable
     identity tie-breaks so repeated runs produce the same order.

PRECISION:
  Intermediate sums are never rounded. Summation is exact for the stored
  precision, so the result does not depend on the order items are read.

SEE ALSO:
  - report.go: Reports facade (period and contributor entry points)
*/
package payroll

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REPORT TYPES
// =============================================================================

// ReportLine is one (contributor, event type, rate) bucket of billable hours.
type ReportLine struct {
	Contributor Contributor
	EventType   EventType
	Rate        HourlyRate
	Hours       decimal.Decimal
}

// Amount returns Hours x Rate rounded to two places.
func (l ReportLine) Amount() decimal.Decimal {
	return l.Hours.Mul(l.Rate.Amount).Round(ReportPrecision)
}

// Report is recomputed on every request and never persisted.
type Report struct {
	Period      Period
	Contributor *ContributorID
	Lines       []ReportLine
}

func (r Report) TotalHours() decimal.Decimal {
	total := decimal.Zero
	for _, l := range r.Lines {
		total = total.Add(l.Hours)
	}
	return total
}

func (r Report) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, l := range r.Lines {
		total = total.Add(l.Amount())
	}
	return total
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// ReportSource is the read side the aggregator consumes.
type ReportSource interface {
	FindBoundTo(ctx context.Context, periodID PeriodID) ([]Event, error)
	FindInterventions(ctx context.Context, periodID PeriodID) ([]Intervention, error)
	RateResolver
	Directory
}

type Aggregator struct {
	source ReportSource
}

func NewAggregator(source ReportSource) *Aggregator {
	return &Aggregator{source: source}
}

type lineKey struct {
	contributor ContributorID
	eventType   EventTypeID
	rate        RateID
}

// workItem is the common shape of events and interventions once collected.
type workItem struct {
	contributor ContributorID
	eventType   EventTypeID
	rateDate    time.Time
	hours       decimal.Decimal
}

// BuildReport aggregates the period's billable work. contributor may be nil.
func (a *Aggregator) BuildReport(ctx context.Context, period Period, contributor *ContributorID) (Report, error) {
	res := newResolver(a.source)

	items, err := a.collect(ctx, res, period, contributor)
	if err != nil {
		return Report{}, err
	}

	lines := make(map[lineKey]*ReportLine)
	for _, it := range items {
		rate, err := res.rate(ctx, it.eventType, it.rateDate)
		if err != nil {
			return Report{}, err
		}
		key := lineKey{contributor: it.contributor, eventType: it.eventType, rate: rate.ID}
		line, ok := lines[key]
		if !ok {
			c, err := res.contributor(ctx, it.contributor)
			if err != nil {
				return Report{}, err
			}
			t, err := res.eventType(ctx, it.eventType)
			if err != nil {
				return Report{}, err
			}
			line = &ReportLine{Contributor: c, EventType: t, Rate: rate, Hours: decimal.Zero}
			lines[key] = line
		}
		line.Hours = line.Hours.Add(it.hours)
	}

	out := make([]ReportLine, 0, len(lines))
	for _, l := range lines {
		l.Hours = l.Hours.Round(ReportPrecision)
		out = append(out, *l)
	}
	SortLines(out)

	return Report{Period: period, Contributor: contributor, Lines: out}, nil
}

func (a *Aggregator) collect(ctx context.Context, res *resolver, period Period, contributor *ContributorID) ([]workItem, error) {
	events, err := a.source.FindBoundTo(ctx, period.ID)
	if err != nil {
		return nil, storeFailure("load bound events", err)
	}
	interventions, err := a.source.FindInterventions(ctx, period.ID)
	if err != nil {
		return nil, storeFailure("load interventions", err)
	}

	items := make([]workItem, 0, len(events)+len(interventions))
	for _, ev := range events {
		keep, err := a.include(ctx, res, ev.ContributorID, contributor)
		if err != nil {
			return nil, err
		}
		if !keep {
			continue
		}
		items = append(items, workItem{
			contributor: ev.ContributorID,
			eventType:   ev.EventTypeID,
			rateDate:    DayOf(ev.Start),
			hours:       ev.Hours(),
		})
	}
	for _, in := range interventions {
		keep, err := a.include(ctx, res, in.ContributorID, contributor)
		if err != nil {
			return nil, err
		}
		if !keep {
			continue
		}
		items = append(items, workItem{
			contributor: in.ContributorID,
			eventType:   in.EventTypeID,
			rateDate:    DayOf(period.Start),
			hours:       in.Hours,
		})
	}
	return items, nil
}

func (a *Aggregator) include(ctx context.Context, res *resolver, id ContributorID, filter *ContributorID) (bool, error) {
	if filter != nil {
		return id == *filter, nil
	}
	c, err := res.contributor(ctx, id)
	if err != nil {
		return false, err
	}
	return !c.Staff, nil
}

// SortLines orders lines by contributor name, then event type label. Ties
// fall back to rate start date and identities so the order is total.
func SortLines(lines []ReportLine) {
	sort.SliceStable(lines, func(i, j int) bool {
		a, b := lines[i], lines[j]
		if a.Contributor.DisplayName != b.Contributor.DisplayName {
			return a.Contributor.DisplayName < b.Contributor.DisplayName
		}
		if a.EventType.Label != b.EventType.Label {
			return a.EventType.Label < b.EventType.Label
		}
		if !a.Rate.From.Equal(b.Rate.From) {
			return a.Rate.From.Before(b.Rate.From)
		}
		if a.Rate.ID != b.Rate.ID {
			return a.Rate.ID < b.Rate.ID
		}
		if a.Contributor.ID != b.Contributor.ID {
			return a.Contributor.ID < b.Contributor.ID
		}
		return a.EventType.ID < b.EventType.ID
	})
}

// =============================================================================
// RESOLVER - Per-call memoisation
// =============================================================================

type rateKey struct {
	eventType EventTypeID
	day       time.Time
}

// resolver caches lookups for a single BuildReport call.
type resolver struct {
	source       ReportSource
	contributors map[ContributorID]Contributor
	eventTypes   map[EventTypeID]EventType
	rates        map[rateKey]HourlyRate
}

func newResolver(source ReportSource) *resolver {
	return &resolver{
		source:       source,
		contributors: make(map[ContributorID]Contributor),
		eventTypes:   make(map[EventTypeID]EventType),
		rates:        make(map[rateKey]HourlyRate),
	}
}

func (r *resolver) contributor(ctx context.Context, id ContributorID) (Contributor, error) {
	if c, ok := r.contributors[id]; ok {
		return c, nil
	}
	c, err := r.source.FindContributor(ctx, id)
	if err != nil {
		return Contributor{}, storeFailure("resolve contributor", err)
	}
	if c == nil {
		return Contributor{}, fmt.Errorf("contributor %s: %w", id, ErrContributorNotFound)
	}
	r.contributors[id] = *c
	return *c, nil
}

func (r *resolver) eventType(ctx context.Context, id EventTypeID) (EventType, error) {
	if t, ok := r.eventTypes[id]; ok {
		return t, nil
	}
	t, err := r.source.FindEventType(ctx, id)
	if err != nil {
		return EventType{}, storeFailure("resolve event type", err)
	}
	if t == nil {
		return EventType{}, fmt.Errorf("event type %s: %w", id, ErrEventTypeNotFound)
	}
	r.eventTypes[id] = *t
	return *t, nil
}

func (r *resolver) rate(ctx context.Context, id EventTypeID, day time.Time) (HourlyRate, error) {
	key := rateKey{eventType: id, day: DayOf(day)}
	if rate, ok := r.rates[key]; ok {
		return rate, nil
	}
	rate, err := r.source.RateInEffect(ctx, id, key.day)
	if err != nil {
		return HourlyRate{}, storeFailure("resolve rate", err)
	}
	if rate == nil {
		missing := &MissingRateError{EventTypeID: id, Date: key.day}
		if t, err := r.eventType(ctx, id); err == nil {
			missing.Label = t.Label
		}
		return HourlyRate{}, missing
	}
	r.rates[key] = *rate
	return *rate, nil
}
