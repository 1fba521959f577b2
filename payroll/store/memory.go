// Package store provides in-memory payroll.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	state memoryState
}

type memoryState struct {
	periods       map[payroll.PeriodID]payroll.Period
	events        map[payroll.EventID]payroll.Event
	interventions map[payroll.InterventionID]payroll.Intervention
	eventTypes    map[payroll.EventTypeID]payroll.EventType
	rates         map[payroll.RateID]payroll.HourlyRate
	contributors  map[payroll.ContributorID]payroll.Contributor
}

func newState() memoryState {
	return memoryState{
		periods:       make(map[payroll.PeriodID]payroll.Period),
		events:        make(map[payroll.EventID]payroll.Event),
		interventions: make(map[payroll.InterventionID]payroll.Intervention),
		eventTypes:    make(map[payroll.EventTypeID]payroll.EventType),
		rates:         make(map[payroll.RateID]payroll.HourlyRate),
		contributors:  make(map[payroll.ContributorID]payroll.Contributor),
	}
}

func (s memoryState) clone() memoryState {
	c := newState()
	for k, v := range s.periods {
		c.periods[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.interventions {
		c.interventions[k] = v
	}
	for k, v := range s.eventTypes {
		c.eventTypes[k] = v
	}
	for k, v := range s.rates {
		c.rates[k] = v
	}
	for k, v := range s.contributors {
		c.contributors[k] = v
	}
	return c
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

// =============================================================================
// PERIODS
// =============================================================================

func (m *Memory) FindPeriod(_ context.Context, id payroll.PeriodID) (*payroll.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.findPeriod(id), nil
}

func (m *Memory) SavePeriod(_ context.Context, p payroll.Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.savePeriod(p)
}

func (m *Memory) FindOverlapping(_ context.Context, from, to time.Time) ([]payroll.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.filterPeriods(func(p payroll.Period) bool { return p.Overlaps(from, to) }), nil
}

func (m *Memory) FindLockedMostRecent(_ context.Context) (*payroll.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.lockedMostRecent(), nil
}

func (m *Memory) ListPeriods(_ context.Context) ([]payroll.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.filterPeriods(func(payroll.Period) bool { return true }), nil
}

func (m *Memory) FindLocked(_ context.Context) ([]payroll.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.filterPeriods(payroll.Period.IsLocked), nil
}

func (s memoryState) findPeriod(id payroll.PeriodID) *payroll.Period {
	p, ok := s.periods[id]
	if !ok {
		return nil
	}
	return &p
}

func (s memoryState) savePeriod(p payroll.Period) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = payroll.PeriodID(uuid.NewString())
	}
	existing, ok := s.periods[p.ID]
	switch {
	case !ok && p.Version != 0:
		return payroll.ErrConcurrentModification
	case ok && existing.Version != p.Version:
		return payroll.ErrConcurrentModification
	}
	if !ok && p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.Version++
	s.periods[p.ID] = p
	return nil
}

func (s memoryState) filterPeriods(keep func(payroll.Period) bool) []payroll.Period {
	var out []payroll.Period
	for _, p := range s.periods {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s memoryState) lockedMostRecent() *payroll.Period {
	var latest *payroll.Period
	for _, p := range s.periods {
		if !p.IsLocked() {
			continue
		}
		if latest == nil || p.LockedAt.After(*latest.LockedAt) ||
			(p.LockedAt.Equal(*latest.LockedAt) && p.ID > latest.ID) {
			p := p
			latest = &p
		}
	}
	return latest
}

// =============================================================================
// EVENTS AND INTERVENTIONS
// =============================================================================

func (m *Memory) FindUnlockedStartingBefore(_ context.Context, before time.Time) ([]payroll.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.filterEvents(func(e payroll.Event) bool {
		return !e.IsBound() && !e.IsCancelled() && e.Start.Before(before)
	}), nil
}

func (m *Memory) FindBoundTo(_ context.Context, id payroll.PeriodID) ([]payroll.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.filterEvents(func(e payroll.Event) bool { return e.BoundTo(id) }), nil
}

func (m *Memory) FindEvent(_ context.Context, id payroll.EventID) (*payroll.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.state.events[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) SaveEvent(_ context.Context, e payroll.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.saveEvent(e)
}

func (m *Memory) FindInterventions(_ context.Context, id payroll.PeriodID) ([]payroll.Intervention, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.interventionsOf(id), nil
}

func (m *Memory) SaveIntervention(_ context.Context, in payroll.Intervention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.saveIntervention(in)
}

func (s memoryState) saveEvent(e payroll.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = payroll.EventID(uuid.NewString())
	}
	s.events[e.ID] = e
	return nil
}

func (s memoryState) saveIntervention(in payroll.Intervention) error {
	if in.ID == "" {
		in.ID = payroll.InterventionID(uuid.NewString())
	}
	s.interventions[in.ID] = in
	return nil
}

func (s memoryState) filterEvents(keep func(payroll.Event) bool) []payroll.Event {
	var out []payroll.Event
	for _, e := range s.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s memoryState) interventionsOf(id payroll.PeriodID) []payroll.Intervention {
	var out []payroll.Intervention
	for _, in := range s.interventions {
		if in.PeriodID == id {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// =============================================================================
// RATES AND DIRECTORY
// =============================================================================

func (m *Memory) RateInEffect(_ context.Context, id payroll.EventTypeID, day time.Time) (*payroll.HourlyRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.rateInEffect(id, day), nil
}

// SaveRate stores a rate, rejecting overlaps with other rates of the same type.
func (m *Memory) SaveRate(_ context.Context, r payroll.HourlyRate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = payroll.RateID(uuid.NewString())
	}
	for _, other := range m.state.rates {
		if other.ID != r.ID && r.OverlapsWith(other) {
			return payroll.ErrRateOverlap
		}
	}
	m.state.rates[r.ID] = r
	return nil
}

func (m *Memory) SaveEventType(_ context.Context, t payroll.EventType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.eventTypes[t.ID] = t
	return nil
}

func (m *Memory) SaveContributor(_ context.Context, c payroll.Contributor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.contributors[c.ID] = c
	return nil
}

func (m *Memory) FindContributor(_ context.Context, id payroll.ContributorID) (*payroll.Contributor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.contributor(id), nil
}

func (m *Memory) FindEventType(_ context.Context, id payroll.EventTypeID) (*payroll.EventType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.eventType(id), nil
}

func (s memoryState) rateInEffect(id payroll.EventTypeID, day time.Time) *payroll.HourlyRate {
	for _, r := range s.rates {
		if r.EventTypeID == id && r.InEffect(day) {
			return &r
		}
	}
	return nil
}

func (s memoryState) contributor(id payroll.ContributorID) *payroll.Contributor {
	c, ok := s.contributors[id]
	if !ok {
		return nil
	}
	return &c
}

func (s memoryState) eventType(id payroll.EventTypeID) *payroll.EventType {
	t, ok := s.eventTypes[id]
	if !ok {
		return nil
	}
	return &t
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(payroll.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.state.clone()
	if err := fn(&txMemoryView{state: tm.state}); err != nil {
		tm.state = snapshot
		return err
	}
	return nil
}

// txMemoryView operates on the parent's state while WithTx holds the lock.
type txMemoryView struct {
	state memoryState
}

func (v *txMemoryView) FindPeriod(_ context.Context, id payroll.PeriodID) (*payroll.Period, error) {
	return v.state.findPeriod(id), nil
}

func (v *txMemoryView) SavePeriod(_ context.Context, p payroll.Period) error {
	return v.state.savePeriod(p)
}

func (v *txMemoryView) FindOverlapping(_ context.Context, from, to time.Time) ([]payroll.Period, error) {
	return v.state.filterPeriods(func(p payroll.Period) bool { return p.Overlaps(from, to) }), nil
}

func (v *txMemoryView) FindLockedMostRecent(_ context.Context) (*payroll.Period, error) {
	return v.state.lockedMostRecent(), nil
}

func (v *txMemoryView) ListPeriods(_ context.Context) ([]payroll.Period, error) {
	return v.state.filterPeriods(func(payroll.Period) bool { return true }), nil
}

func (v *txMemoryView) FindLocked(_ context.Context) ([]payroll.Period, error) {
	return v.state.filterPeriods(payroll.Period.IsLocked), nil
}

func (v *txMemoryView) FindUnlockedStartingBefore(_ context.Context, before time.Time) ([]payroll.Event, error) {
	return v.state.filterEvents(func(e payroll.Event) bool {
		return !e.IsBound() && !e.IsCancelled() && e.Start.Before(before)
	}), nil
}

func (v *txMemoryView) FindBoundTo(_ context.Context, id payroll.PeriodID) ([]payroll.Event, error) {
	return v.state.filterEvents(func(e payroll.Event) bool { return e.BoundTo(id) }), nil
}

func (v *txMemoryView) FindEvent(_ context.Context, id payroll.EventID) (*payroll.Event, error) {
	e, ok := v.state.events[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (v *txMemoryView) SaveEvent(_ context.Context, e payroll.Event) error {
	return v.state.saveEvent(e)
}

func (v *txMemoryView) FindInterventions(_ context.Context, id payroll.PeriodID) ([]payroll.Intervention, error) {
	return v.state.interventionsOf(id), nil
}

func (v *txMemoryView) SaveIntervention(_ context.Context, in payroll.Intervention) error {
	return v.state.saveIntervention(in)
}

func (v *txMemoryView) RateInEffect(_ context.Context, id payroll.EventTypeID, day time.Time) (*payroll.HourlyRate, error) {
	return v.state.rateInEffect(id, day), nil
}

func (v *txMemoryView) FindContributor(_ context.Context, id payroll.ContributorID) (*payroll.Contributor, error) {
	return v.state.contributor(id), nil
}

func (v *txMemoryView) FindEventType(_ context.Context, id payroll.EventTypeID) (*payroll.EventType, error) {
	return v.state.eventType(id), nil
}
