/*
Package sqlite provides a SQLite-backed implementation of payroll.TxStore.

PURPOSE:
  Persists periods, events, interventions, event types, hourly rates and
  contributors. The same queries run against *sql.DB for standalone calls
  and against *sql.Tx inside WithTx, so a lock or unlock reads and writes
  through a single transaction.

KEY TABLES:
  periods:       Administrative windows plus lock marker and version
  events:        Calendar slots of work, bound to a period once locked
  interventions: Flat-rate hours entered against a period
  event_types:   Kinds of work and whether they need validation
  hourly_rates:  Date-bounded rates per event type (no overlaps)
  contributors:  People doing the work, with the staff flag

OPTIMISTIC GUARD:
  Period updates are written with
    UPDATE periods SET ..., version = version + 1 WHERE id = ? AND version = ?
  and zero affected rows maps to payroll.ErrConcurrentModification.

ENCODING:
  Instants are stored as fixed-width UTC strings so that string order is
  time order. Civil dates use YYYY-MM-DD. Decimals are stored as TEXT.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. ":memory:" databases are pinned to
  one connection because every new connection would see an empty database.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  locks := payroll.NewLockManager(store)

SEE ALSO:
  - payroll/store.go: Interface definitions
  - payroll/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/payroll"
)

// timestampLayout is fixed width so lexical order matches time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements payroll.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ payroll.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS event_types (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		requires_validation BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS contributors (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		staff BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS hourly_rates (
		id TEXT PRIMARY KEY,
		event_type_id TEXT NOT NULL REFERENCES event_types(id),
		amount TEXT NOT NULL,
		valid_from TEXT NOT NULL,
		valid_to TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_hourly_rates_type_from
		ON hourly_rates(event_type_id, valid_from);

	CREATE TABLE IF NOT EXISTS periods (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		deadline TEXT NOT NULL,
		locked_at TEXT,
		locked_by_type TEXT,
		locked_by_id TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_periods_range
		ON periods(start_date, end_date);
	CREATE INDEX IF NOT EXISTS idx_periods_locked_at
		ON periods(locked_at) WHERE locked_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		event_type_id TEXT NOT NULL REFERENCES event_types(id),
		contributor_id TEXT REFERENCES contributors(id),
		validated_at TEXT,
		cancelled_at TEXT,
		period_id TEXT REFERENCES periods(id),
		created_by_type TEXT NOT NULL DEFAULT '',
		created_by_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		modified_by_type TEXT NOT NULL DEFAULT '',
		modified_by_id TEXT NOT NULL DEFAULT '',
		modified_at TEXT
	);

	-- Lock scan: unbound, not cancelled, ordered by start (hot path)
	CREATE INDEX IF NOT EXISTS idx_events_unlocked_start
		ON events(start_at) WHERE period_id IS NULL AND cancelled_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_events_period
		ON events(period_id, start_at) WHERE period_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS interventions (
		id TEXT PRIMARY KEY,
		event_type_id TEXT NOT NULL REFERENCES event_types(id),
		contributor_id TEXT NOT NULL REFERENCES contributors(id),
		period_id TEXT NOT NULL REFERENCES periods(id),
		hours TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_interventions_period
		ON interventions(period_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// PERIOD STORE
// =============================================================================

const periodColumns = `id, label, start_date, end_date, deadline, locked_at,
	locked_by_type, locked_by_id, version, created_at`

func (s *Store) FindPeriod(ctx context.Context, id payroll.PeriodID) (*payroll.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findPeriod(ctx, s.db, id)
}

func (s *Store) SavePeriod(ctx context.Context, p payroll.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePeriod(ctx, s.db, p)
}

func (s *Store) FindOverlapping(ctx context.Context, from, to time.Time) ([]payroll.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findOverlapping(ctx, s.db, from, to)
}

func (s *Store) FindLockedMostRecent(ctx context.Context) (*payroll.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findLockedMostRecent(ctx, s.db)
}

func (s *Store) ListPeriods(ctx context.Context) ([]payroll.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryPeriods(ctx, s.db, `SELECT `+periodColumns+` FROM periods ORDER BY start_date, id`)
}

func (s *Store) FindLocked(ctx context.Context) ([]payroll.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findLocked(ctx, s.db)
}

func findPeriod(ctx context.Context, q querier, id payroll.PeriodID) (*payroll.Period, error) {
	row := q.QueryRowContext(ctx, `SELECT `+periodColumns+` FROM periods WHERE id = ?`, id)
	p, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get period: %w", err)
	}
	return &p, nil
}

func savePeriod(ctx context.Context, q querier, p payroll.Period) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = payroll.PeriodID(uuid.NewString())
	}
	var lockedType, lockedID sql.NullString
	if p.LockedBy != nil {
		lockedType = nullString(string(p.LockedBy.Type))
		lockedID = nullString(p.LockedBy.ID)
	}

	if p.Version == 0 {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO periods (`+periodColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
			p.ID, p.Label, formatDate(p.Start), formatDate(p.End), formatDate(p.Deadline),
			formatTimePtr(p.LockedAt), lockedType, lockedID, formatTime(p.CreatedAt),
		)
		if isUniqueConstraintError(err) {
			return payroll.ErrConcurrentModification
		}
		if err != nil {
			return fmt.Errorf("failed to insert period: %w", err)
		}
		return nil
	}

	res, err := q.ExecContext(ctx, `
		UPDATE periods
		SET label = ?, start_date = ?, end_date = ?, deadline = ?,
		    locked_at = ?, locked_by_type = ?, locked_by_id = ?,
		    version = version + 1
		WHERE id = ? AND version = ?`,
		p.Label, formatDate(p.Start), formatDate(p.End), formatDate(p.Deadline),
		formatTimePtr(p.LockedAt), lockedType, lockedID,
		p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update period: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update period: %w", err)
	}
	if n == 0 {
		return payroll.ErrConcurrentModification
	}
	return nil
}

func findOverlapping(ctx context.Context, q querier, from, to time.Time) ([]payroll.Period, error) {
	return queryPeriods(ctx, q, `
		SELECT `+periodColumns+` FROM periods
		WHERE start_date <= ? AND end_date >= ?
		ORDER BY start_date, id`,
		formatDate(to), formatDate(from),
	)
}

func findLockedMostRecent(ctx context.Context, q querier) (*payroll.Period, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+periodColumns+` FROM periods
		WHERE locked_at IS NOT NULL
		ORDER BY locked_at DESC, id DESC
		LIMIT 1`)
	p, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last locked period: %w", err)
	}
	return &p, nil
}

func findLocked(ctx context.Context, q querier) ([]payroll.Period, error) {
	return queryPeriods(ctx, q, `
		SELECT `+periodColumns+` FROM periods
		WHERE locked_at IS NOT NULL
		ORDER BY start_date, id`)
}

func queryPeriods(ctx context.Context, q querier, query string, args ...any) ([]payroll.Period, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}
	defer rows.Close()

	var periods []payroll.Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func scanPeriod(sc scanner) (payroll.Period, error) {
	var (
		p                    payroll.Period
		start, end, deadline string
		createdAt            string
		lockedAt             sql.NullString
		lockedType, lockedID sql.NullString
	)
	if err := sc.Scan(&p.ID, &p.Label, &start, &end, &deadline, &lockedAt,
		&lockedType, &lockedID, &p.Version, &createdAt); err != nil {
		return p, err
	}

	var err error
	if p.Start, err = payroll.ParseDate(start); err != nil {
		return p, fmt.Errorf("period %s start: %w", p.ID, err)
	}
	if p.End, err = payroll.ParseDate(end); err != nil {
		return p, fmt.Errorf("period %s end: %w", p.ID, err)
	}
	if p.Deadline, err = payroll.ParseDate(deadline); err != nil {
		return p, fmt.Errorf("period %s deadline: %w", p.ID, err)
	}
	if p.LockedAt, err = parseTimePtr(lockedAt); err != nil {
		return p, fmt.Errorf("period %s locked_at: %w", p.ID, err)
	}
	if lockedType.Valid {
		p.LockedBy = &payroll.Actor{Type: payroll.ActorType(lockedType.String), ID: lockedID.String}
	}
	p.CreatedAt, _ = time.Parse(timestampLayout, createdAt)
	return p, nil
}

// =============================================================================
// EVENT STORE
// =============================================================================

const eventColumns = `id, title, start_at, end_at, event_type_id, contributor_id,
	validated_at, cancelled_at, period_id, created_by_type, created_by_id, created_at,
	modified_by_type, modified_by_id, modified_at`

func (s *Store) FindUnlockedStartingBefore(ctx context.Context, before time.Time) ([]payroll.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findUnlockedStartingBefore(ctx, s.db, before)
}

func (s *Store) FindBoundTo(ctx context.Context, id payroll.PeriodID) ([]payroll.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findBoundTo(ctx, s.db, id)
}

func (s *Store) FindEvent(ctx context.Context, id payroll.EventID) (*payroll.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findEvent(ctx, s.db, id)
}

func (s *Store) SaveEvent(ctx context.Context, e payroll.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveEvent(ctx, s.db, e)
}

// ListEvents returns every event ordered by start (for admin views).
func (s *Store) ListEvents(ctx context.Context) ([]payroll.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryEvents(ctx, s.db, `SELECT `+eventColumns+` FROM events ORDER BY start_at, id`)
}

func (s *Store) FindInterventions(ctx context.Context, id payroll.PeriodID) ([]payroll.Intervention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findInterventions(ctx, s.db, id)
}

func (s *Store) SaveIntervention(ctx context.Context, in payroll.Intervention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveIntervention(ctx, s.db, in)
}

func findUnlockedStartingBefore(ctx context.Context, q querier, before time.Time) ([]payroll.Event, error) {
	return queryEvents(ctx, q, `
		SELECT `+eventColumns+` FROM events
		WHERE period_id IS NULL AND cancelled_at IS NULL AND start_at < ?
		ORDER BY start_at, id`,
		formatTime(before),
	)
}

func findBoundTo(ctx context.Context, q querier, id payroll.PeriodID) ([]payroll.Event, error) {
	return queryEvents(ctx, q, `
		SELECT `+eventColumns+` FROM events
		WHERE period_id = ?
		ORDER BY start_at, id`,
		id,
	)
}

func findEvent(ctx context.Context, q querier, id payroll.EventID) (*payroll.Event, error) {
	row := q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &e, nil
}

func saveEvent(ctx context.Context, q querier, e payroll.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = payroll.EventID(uuid.NewString())
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var periodID sql.NullString
	if e.PeriodID != nil {
		periodID = nullString(string(*e.PeriodID))
	}
	var modifiedAt sql.NullString
	if !e.ModifiedAt.IsZero() {
		modifiedAt = nullString(formatTime(e.ModifiedAt))
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			event_type_id = excluded.event_type_id,
			contributor_id = excluded.contributor_id,
			validated_at = excluded.validated_at,
			cancelled_at = excluded.cancelled_at,
			period_id = excluded.period_id,
			modified_by_type = excluded.modified_by_type,
			modified_by_id = excluded.modified_by_id,
			modified_at = excluded.modified_at`,
		e.ID, e.Title, formatTime(e.Start), formatTime(e.End), e.EventTypeID,
		nullString(string(e.ContributorID)),
		formatTimePtr(e.ValidatedAt), formatTimePtr(e.CancelledAt), periodID,
		string(e.CreatedBy.Type), e.CreatedBy.ID, formatTime(e.CreatedAt),
		string(e.ModifiedBy.Type), e.ModifiedBy.ID, modifiedAt,
	)
	if isForeignKeyError(err) {
		return fmt.Errorf("event %s references an unknown type, contributor or period: %w", e.ID, payroll.ErrInvalidEvent)
	}
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

func queryEvents(ctx context.Context, q querier, query string, args ...any) ([]payroll.Event, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []payroll.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(sc scanner) (payroll.Event, error) {
	var (
		e                        payroll.Event
		start, end, createdAt    string
		contributor, periodID    sql.NullString
		validatedAt, cancelledAt sql.NullString
		createdType, createdID   string
		modifiedType, modifiedID string
		modifiedAt               sql.NullString
	)
	if err := sc.Scan(&e.ID, &e.Title, &start, &end, &e.EventTypeID, &contributor,
		&validatedAt, &cancelledAt, &periodID, &createdType, &createdID, &createdAt,
		&modifiedType, &modifiedID, &modifiedAt); err != nil {
		return e, err
	}

	var err error
	if e.Start, err = time.Parse(timestampLayout, start); err != nil {
		return e, fmt.Errorf("event %s start: %w", e.ID, err)
	}
	if e.End, err = time.Parse(timestampLayout, end); err != nil {
		return e, fmt.Errorf("event %s end: %w", e.ID, err)
	}
	if e.ValidatedAt, err = parseTimePtr(validatedAt); err != nil {
		return e, fmt.Errorf("event %s validated_at: %w", e.ID, err)
	}
	if e.CancelledAt, err = parseTimePtr(cancelledAt); err != nil {
		return e, fmt.Errorf("event %s cancelled_at: %w", e.ID, err)
	}
	if modifiedAt.Valid {
		e.ModifiedAt, _ = time.Parse(timestampLayout, modifiedAt.String)
	}
	e.ContributorID = payroll.ContributorID(contributor.String)
	if periodID.Valid {
		id := payroll.PeriodID(periodID.String)
		e.PeriodID = &id
	}
	e.CreatedBy = payroll.Actor{Type: payroll.ActorType(createdType), ID: createdID}
	e.ModifiedBy = payroll.Actor{Type: payroll.ActorType(modifiedType), ID: modifiedID}
	e.CreatedAt, _ = time.Parse(timestampLayout, createdAt)
	return e, nil
}

func findInterventions(ctx context.Context, q querier, id payroll.PeriodID) ([]payroll.Intervention, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, event_type_id, contributor_id, period_id, hours, description, created_at
		FROM interventions WHERE period_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query interventions: %w", err)
	}
	defer rows.Close()

	var out []payroll.Intervention
	for rows.Next() {
		var (
			in               payroll.Intervention
			hours, createdAt string
		)
		if err := rows.Scan(&in.ID, &in.EventTypeID, &in.ContributorID, &in.PeriodID,
			&hours, &in.Description, &createdAt); err != nil {
			return nil, err
		}
		if in.Hours, err = decimal.NewFromString(hours); err != nil {
			return nil, fmt.Errorf("intervention %s hours: %w", in.ID, err)
		}
		in.CreatedAt, _ = time.Parse(timestampLayout, createdAt)
		out = append(out, in)
	}
	return out, rows.Err()
}

func saveIntervention(ctx context.Context, q querier, in payroll.Intervention) error {
	if in.ID == "" {
		in.ID = payroll.InterventionID(uuid.NewString())
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO interventions (id, event_type_id, contributor_id, period_id, hours, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			event_type_id = excluded.event_type_id,
			contributor_id = excluded.contributor_id,
			period_id = excluded.period_id,
			hours = excluded.hours,
			description = excluded.description`,
		in.ID, in.EventTypeID, in.ContributorID, in.PeriodID, in.Hours.String(),
		in.Description, formatTime(in.CreatedAt),
	)
	if isForeignKeyError(err) {
		return fmt.Errorf("intervention %s references an unknown type, contributor or period: %w", in.ID, payroll.ErrInvalidEvent)
	}
	if err != nil {
		return fmt.Errorf("failed to save intervention: %w", err)
	}
	return nil
}

// =============================================================================
// RATES AND DIRECTORY
// =============================================================================

func (s *Store) RateInEffect(ctx context.Context, id payroll.EventTypeID, day time.Time) (*payroll.HourlyRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rateInEffect(ctx, s.db, id, day)
}

func (s *Store) FindContributor(ctx context.Context, id payroll.ContributorID) (*payroll.Contributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findContributor(ctx, s.db, id)
}

func (s *Store) FindEventType(ctx context.Context, id payroll.EventTypeID) (*payroll.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findEventType(ctx, s.db, id)
}

// SaveRate stores a rate, rejecting overlaps with other rates of the same
// event type with payroll.ErrRateOverlap.
func (s *Store) SaveRate(ctx context.Context, r payroll.HourlyRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := saveRate(ctx, tx, r); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) SaveEventType(ctx context.Context, t payroll.EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_types (id, label, requires_validation) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET label = excluded.label, requires_validation = excluded.requires_validation`,
		t.ID, t.Label, t.RequiresValidation,
	)
	if err != nil {
		return fmt.Errorf("failed to save event type: %w", err)
	}
	return nil
}

func (s *Store) SaveContributor(ctx context.Context, c payroll.Contributor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contributors (id, display_name, staff) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name, staff = excluded.staff`,
		c.ID, c.DisplayName, c.Staff,
	)
	if err != nil {
		return fmt.Errorf("failed to save contributor: %w", err)
	}
	return nil
}

// ListEventTypes returns all event types ordered by label.
func (s *Store) ListEventTypes(ctx context.Context) ([]payroll.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, label, requires_validation FROM event_types ORDER BY label, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query event types: %w", err)
	}
	defer rows.Close()

	var out []payroll.EventType
	for rows.Next() {
		var t payroll.EventType
		if err := rows.Scan(&t.ID, &t.Label, &t.RequiresValidation); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListContributors returns all contributors ordered by display name.
func (s *Store) ListContributors(ctx context.Context) ([]payroll.Contributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, display_name, staff FROM contributors ORDER BY display_name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query contributors: %w", err)
	}
	defer rows.Close()

	var out []payroll.Contributor
	for rows.Next() {
		var c payroll.Contributor
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.Staff); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListRates returns all rates ordered by event type and start date.
func (s *Store) ListRates(ctx context.Context) ([]payroll.HourlyRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryRates(ctx, s.db, `
		SELECT id, event_type_id, amount, valid_from, valid_to
		FROM hourly_rates ORDER BY event_type_id, valid_from`)
}

func rateInEffect(ctx context.Context, q querier, id payroll.EventTypeID, day time.Time) (*payroll.HourlyRate, error) {
	d := formatDate(day)
	rates, err := queryRates(ctx, q, `
		SELECT id, event_type_id, amount, valid_from, valid_to
		FROM hourly_rates
		WHERE event_type_id = ? AND valid_from <= ? AND (valid_to IS NULL OR valid_to >= ?)
		ORDER BY valid_from DESC
		LIMIT 1`,
		id, d, d,
	)
	if err != nil {
		return nil, err
	}
	if len(rates) == 0 {
		return nil, nil
	}
	return &rates[0], nil
}

func saveRate(ctx context.Context, q querier, r payroll.HourlyRate) error {
	if r.ID == "" {
		r.ID = payroll.RateID(uuid.NewString())
	}
	existing, err := queryRates(ctx, q, `
		SELECT id, event_type_id, amount, valid_from, valid_to
		FROM hourly_rates WHERE event_type_id = ? AND id <> ?`,
		r.EventTypeID, r.ID,
	)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if r.OverlapsWith(other) {
			return fmt.Errorf("rate %s overlaps %s: %w", r.ID, other.ID, payroll.ErrRateOverlap)
		}
	}

	var to sql.NullString
	if r.To != nil {
		to = nullString(formatDate(*r.To))
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO hourly_rates (id, event_type_id, amount, valid_from, valid_to)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			event_type_id = excluded.event_type_id,
			amount = excluded.amount,
			valid_from = excluded.valid_from,
			valid_to = excluded.valid_to`,
		r.ID, r.EventTypeID, r.Amount.String(), formatDate(r.From), to,
	)
	if isForeignKeyError(err) {
		return fmt.Errorf("rate %s: %w", r.ID, payroll.ErrEventTypeNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to save rate: %w", err)
	}
	return nil
}

func queryRates(ctx context.Context, q querier, query string, args ...any) ([]payroll.HourlyRate, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rates: %w", err)
	}
	defer rows.Close()

	var out []payroll.HourlyRate
	for rows.Next() {
		var (
			r            payroll.HourlyRate
			amount, from string
			to           sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.EventTypeID, &amount, &from, &to); err != nil {
			return nil, err
		}
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("rate %s amount: %w", r.ID, err)
		}
		if r.From, err = payroll.ParseDate(from); err != nil {
			return nil, fmt.Errorf("rate %s valid_from: %w", r.ID, err)
		}
		if to.Valid {
			end, err := payroll.ParseDate(to.String)
			if err != nil {
				return nil, fmt.Errorf("rate %s valid_to: %w", r.ID, err)
			}
			r.To = &end
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func findContributor(ctx context.Context, q querier, id payroll.ContributorID) (*payroll.Contributor, error) {
	var c payroll.Contributor
	err := q.QueryRowContext(ctx, `SELECT id, display_name, staff FROM contributors WHERE id = ?`, id).
		Scan(&c.ID, &c.DisplayName, &c.Staff)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contributor: %w", err)
	}
	return &c, nil
}

func findEventType(ctx context.Context, q querier, id payroll.EventTypeID) (*payroll.EventType, error) {
	var t payroll.EventType
	err := q.QueryRowContext(ctx, `SELECT id, label, requires_validation FROM event_types WHERE id = ?`, id).
		Scan(&t.ID, &t.Label, &t.RequiresValidation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event type: %w", err)
	}
	return &t, nil
}

// =============================================================================
// TRANSACTIONAL STORE (payroll.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
// Every read and write made through the payroll.Store passed to fn goes
// through the same *sql.Tx.
func (s *Store) WithTx(ctx context.Context, fn func(store payroll.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) FindPeriod(ctx context.Context, id payroll.PeriodID) (*payroll.Period, error) {
	return findPeriod(ctx, ts.tx, id)
}

func (ts *txStore) SavePeriod(ctx context.Context, p payroll.Period) error {
	return savePeriod(ctx, ts.tx, p)
}

func (ts *txStore) FindOverlapping(ctx context.Context, from, to time.Time) ([]payroll.Period, error) {
	return findOverlapping(ctx, ts.tx, from, to)
}

func (ts *txStore) FindLockedMostRecent(ctx context.Context) (*payroll.Period, error) {
	return findLockedMostRecent(ctx, ts.tx)
}

func (ts *txStore) ListPeriods(ctx context.Context) ([]payroll.Period, error) {
	return queryPeriods(ctx, ts.tx, `SELECT `+periodColumns+` FROM periods ORDER BY start_date, id`)
}

func (ts *txStore) FindLocked(ctx context.Context) ([]payroll.Period, error) {
	return findLocked(ctx, ts.tx)
}

func (ts *txStore) FindUnlockedStartingBefore(ctx context.Context, before time.Time) ([]payroll.Event, error) {
	return findUnlockedStartingBefore(ctx, ts.tx, before)
}

func (ts *txStore) FindBoundTo(ctx context.Context, id payroll.PeriodID) ([]payroll.Event, error) {
	return findBoundTo(ctx, ts.tx, id)
}

func (ts *txStore) FindEvent(ctx context.Context, id payroll.EventID) (*payroll.Event, error) {
	return findEvent(ctx, ts.tx, id)
}

func (ts *txStore) SaveEvent(ctx context.Context, e payroll.Event) error {
	return saveEvent(ctx, ts.tx, e)
}

func (ts *txStore) FindInterventions(ctx context.Context, id payroll.PeriodID) ([]payroll.Intervention, error) {
	return findInterventions(ctx, ts.tx, id)
}

func (ts *txStore) SaveIntervention(ctx context.Context, in payroll.Intervention) error {
	return saveIntervention(ctx, ts.tx, in)
}

func (ts *txStore) RateInEffect(ctx context.Context, id payroll.EventTypeID, day time.Time) (*payroll.HourlyRate, error) {
	return rateInEffect(ctx, ts.tx, id, day)
}

func (ts *txStore) FindContributor(ctx context.Context, id payroll.ContributorID) (*payroll.Contributor, error) {
	return findContributor(ctx, ts.tx, id)
}

func (ts *txStore) FindEventType(ctx context.Context, id payroll.EventTypeID) (*payroll.EventType, error) {
	return findEventType(ctx, ts.tx, id)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"events", "interventions", "hourly_rates", "periods", "contributors", "event_types"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return nullString(formatTime(*t))
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(timestampLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatDate(t time.Time) string {
	return payroll.DayOf(t).Format(payroll.DateLayout)
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
