/*
scheduler.go - Deadline auto-lock scheduler

PURPOSE:
  Periodically locks open periods whose deadline has passed, on behalf of
  payroll.SystemActor, so payroll runs even when nobody presses "lock".

DESIGN:
  - Runs a background goroutine with configurable check interval
  - A period is due once the current UTC day is after its deadline
  - Due periods are locked in start order, so earlier periods claim their
    own events before a later lock sweeps everything before its end
  - A period locked or held elsewhere meanwhile is skipped, not retried

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: false)

USAGE:
  scheduler := NewDeadlineScheduler(store, locks, log)
  scheduler.Enabled = true
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: LockPeriod endpoint (manual lock)
  - payroll/lock.go: LockManager
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/warp/payroll-engine/logger"
	"github.com/warp/payroll-engine/payroll"
)

// DeadlineScheduler locks periods automatically once their deadline passes.
type DeadlineScheduler struct {
	Periods       payroll.PeriodStore
	Locks         *payroll.LockManager
	CheckInterval time.Duration
	Enabled       bool

	log *logger.Logger
	now func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewDeadlineScheduler creates a new scheduler.
func NewDeadlineScheduler(periods payroll.PeriodStore, locks *payroll.LockManager, log *logger.Logger) *DeadlineScheduler {
	if log == nil {
		log = logger.Nop()
	}
	return &DeadlineScheduler{
		Periods:       periods,
		Locks:         locks,
		CheckInterval: time.Hour,
		log:           log.With("component", "deadline-scheduler"),
		now:           time.Now,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (ds *DeadlineScheduler) Start() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if !ds.Enabled {
		ds.log.Info("disabled, not starting")
		return
	}
	if ds.ticker != nil {
		return
	}

	ds.ticker = time.NewTicker(ds.CheckInterval)
	ds.wg.Add(1)

	go ds.run()

	ds.log.Info("started", "interval", ds.CheckInterval.String())
}

// Stop stops the scheduler and waits for an in-flight check.
func (ds *DeadlineScheduler) Stop() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.ticker != nil {
		ds.ticker.Stop()
		close(ds.stop)
		ds.wg.Wait()
		ds.ticker = nil
		ds.log.Info("stopped")
	}
}

func (ds *DeadlineScheduler) run() {
	defer ds.wg.Done()

	// Run immediately on start
	ds.RunNow(context.Background())

	for {
		select {
		case <-ds.ticker.C:
			ds.RunNow(context.Background())
		case <-ds.stop:
			return
		}
	}
}

// RunNow locks every due period and returns the IDs it locked.
func (ds *DeadlineScheduler) RunNow(ctx context.Context) []payroll.PeriodID {
	today := payroll.DayOf(ds.now())

	periods, err := ds.Periods.ListPeriods(ctx)
	if err != nil {
		ds.log.Error("listing periods failed", "error", err)
		return nil
	}

	var locked []payroll.PeriodID
	for _, p := range periods {
		if p.IsLocked() || !today.After(payroll.DayOf(p.Deadline)) {
			continue
		}

		result, err := ds.Locks.Lock(ctx, p.ID, payroll.SystemActor)
		switch {
		case err == nil:
			locked = append(locked, p.ID)
			ds.log.Info("period auto-locked",
				"period_id", p.ID,
				"deadline", p.Deadline.Format(payroll.DateLayout),
				"bound", len(result.Bound),
				"cancelled", len(result.Cancelled))
		case errors.Is(err, payroll.ErrInvalidStateTransition), payroll.IsRetryable(err):
			ds.log.Debug("period changed concurrently, skipping", "period_id", p.ID, "error", err)
		default:
			ds.log.Error("auto-lock failed", "period_id", p.ID, "error", err)
		}
	}
	return locked
}

// NextRunTime returns when the next scheduled check will occur.
func (ds *DeadlineScheduler) NextRunTime() time.Time {
	return ds.now().Add(ds.CheckInterval)
}
