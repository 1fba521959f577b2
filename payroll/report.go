package payroll

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Reports is the entry point used by report renderers and request handlers.
// It adds no business rules beyond orchestration and skipping open periods.
type Reports struct {
	periods    PeriodStore
	aggregator *Aggregator

	// Parallelism bounds concurrent per-period builds in ForContributor.
	Parallelism int
}

func NewReports(periods PeriodStore, aggregator *Aggregator) *Reports {
	return &Reports{periods: periods, aggregator: aggregator, Parallelism: 4}
}

// ForPeriod builds the report of a locked period, optionally for one contributor.
func (r *Reports) ForPeriod(ctx context.Context, id PeriodID, contributor *ContributorID) (Report, error) {
	period, err := r.periods.FindPeriod(ctx, id)
	if err != nil {
		return Report{}, storeFailure("load period", err)
	}
	if period == nil {
		return Report{}, ErrPeriodNotFound
	}
	if !period.IsLocked() {
		return Report{}, fmt.Errorf("period %s: %w", id, ErrPeriodNotLocked)
	}
	return r.aggregator.BuildReport(ctx, *period, contributor)
}

// ForContributor builds one report per locked period in which the
// contributor has billable work, in period order.
func (r *Reports) ForContributor(ctx context.Context, contributor ContributorID) ([]Report, error) {
	periods, err := r.periods.FindLocked(ctx)
	if err != nil {
		return nil, storeFailure("load locked periods", err)
	}

	built := make([]Report, len(periods))
	g, gctx := errgroup.WithContext(ctx)
	if r.Parallelism > 0 {
		g.SetLimit(r.Parallelism)
	}
	for i, p := range periods {
		if !p.IsLocked() {
			continue
		}
		g.Go(func() error {
			filter := contributor
			report, err := r.aggregator.BuildReport(gctx, p, &filter)
			if err != nil {
				return fmt.Errorf("period %s: %w", p.ID, err)
			}
			built[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	reports := make([]Report, 0, len(built))
	for _, rep := range built {
		if len(rep.Lines) > 0 {
			reports = append(reports, rep)
		}
	}
	return reports, nil
}
