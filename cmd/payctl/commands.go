package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/logger"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/sqlite"
)

// cli carries the per-invocation settings shared by every command.
type cli struct {
	v   *viper.Viper
	out io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out}

	root := &cobra.Command{
		Use:           "payctl",
		Short:         "Payroll period administration",
		Long:          "payctl locks payroll periods, imports rate cards and prints service-rendered reports.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.PersistentFlags().String("db", "./data/payroll.db", "SQLite database path")
	root.PersistentFlags().Bool("json", false, "output JSON")
	root.PersistentFlags().String("actor", "cli", "actor recorded on transitions")
	root.PersistentFlags().Bool("verbose", false, "log engine activity to stderr")
	for _, name := range []string{"db", "json", "actor", "verbose"} {
		_ = c.v.BindPFlag(name, root.PersistentFlags().Lookup(name))
	}
	c.v.SetEnvPrefix("PAYROLL")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root.AddCommand(c.periodsCmd())
	root.AddCommand(c.lockCmd())
	root.AddCommand(c.unlockCmd())
	root.AddCommand(c.autolockCmd())
	root.AddCommand(c.reportCmd())
	root.AddCommand(c.ratesCmd())
	return root
}

// =============================================================================
// PERIODS
// =============================================================================

func (c *cli) periodsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "periods", Short: "Manage periods"}
	cmd.AddCommand(c.periodsListCmd())
	cmd.AddCommand(c.periodsCreateCmd())
	return cmd
}

func (c *cli) periodsListCmd() *cobra.Command {
	var from, to string
	var endOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List periods, optionally those matching a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(ctx context.Context, e engine) error {
				var (
					periods []payroll.Period
					err     error
				)
				if from == "" && to == "" {
					periods, err = e.store.ListPeriods(ctx)
				} else {
					var fromDay, toDay time.Time
					if fromDay, err = payroll.ParseDate(from); err != nil {
						return fmt.Errorf("--from: %w", err)
					}
					if toDay, err = payroll.ParseDate(to); err != nil {
						return fmt.Errorf("--to: %w", err)
					}
					periods, err = e.locks.PeriodsOverlapping(ctx, fromDay, toDay, endOnly)
				}
				if err != nil {
					return err
				}
				return c.printPeriods(periods)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "range start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "range end (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&endOnly, "end-only", false, "match periods whose end date falls in the range")
	cmd.MarkFlagsRequiredTogether("from", "to")
	return cmd
}

func (c *cli) periodsCreateCmd() *cobra.Command {
	var id, label, start, end, deadline string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an open period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := payroll.Period{ID: payroll.PeriodID(id), Label: label}
			var err error
			if p.Start, err = payroll.ParseDate(start); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if p.End, err = payroll.ParseDate(end); err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			if p.Deadline, err = payroll.ParseDate(deadline); err != nil {
				return fmt.Errorf("--deadline: %w", err)
			}
			if p.ID == "" {
				p.ID = payroll.PeriodID(uuid.NewString())
			}

			return c.withEngine(cmd.Context(), func(ctx context.Context, e engine) error {
				if err := e.store.SavePeriod(ctx, p); err != nil {
					return err
				}
				p.Version = 1
				return c.printPeriods([]payroll.Period{p})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "period id (generated when empty)")
	cmd.Flags().StringVar(&label, "label", "", "display label")
	cmd.Flags().StringVar(&start, "start", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last day, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringVar(&deadline, "deadline", "", "submission deadline (YYYY-MM-DD)")
	for _, name := range []string{"label", "start", "end", "deadline"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func (c *cli) lockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock <period>",
		Short: "Lock a period, binding or cancelling its pending events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(ctx context.Context, e engine) error {
				result, err := e.locks.Lock(ctx, payroll.PeriodID(args[0]), payroll.UserActor(c.v.GetString("actor")))
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(result)
				}
				fmt.Fprintf(c.out, "locked %s: %d bound, %d cancelled, %d skipped\n",
					result.Period.ID, len(result.Bound), len(result.Cancelled), result.Skipped)
				for _, id := range result.Cancelled {
					fmt.Fprintf(c.out, "  cancelled %s\n", id)
				}
				return nil
			})
		},
	}
}

func (c *cli) unlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <period>",
		Short: "Reopen a locked period and release its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(ctx context.Context, e engine) error {
				result, err := e.locks.Unlock(ctx, payroll.PeriodID(args[0]))
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(result)
				}
				fmt.Fprintf(c.out, "unlocked %s: %d released\n", result.Period.ID, len(result.Released))
				return nil
			})
		},
	}
}

func (c *cli) autolockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "autolock",
		Short: "Lock every open period whose deadline has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(ctx context.Context, e engine) error {
				scheduler := api.NewDeadlineScheduler(e.store, e.locks, e.log)
				locked := scheduler.RunNow(ctx)
				if c.v.GetBool("json") {
					return c.printJSON(locked)
				}
				if len(locked) == 0 {
					fmt.Fprintln(c.out, "no period due")
				}
				for _, id := range locked {
					fmt.Fprintf(c.out, "locked %s\n", id)
				}
				return nil
			})
		},
	}
}

// =============================================================================
// REPORTS
// =============================================================================

func (c *cli) reportCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "report", Short: "Print service-rendered reports"}

	var contributor string
	period := &cobra.Command{
		Use:   "period <period>",
		Short: "Report of one locked period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(ctx context.Context, e engine) error {
				var filter *payroll.ContributorID
				if contributor != "" {
					id := payroll.ContributorID(contributor)
					filter = &id
				}
				report, err := e.reports.ForPeriod(ctx, payroll.PeriodID(args[0]), filter)
				if err != nil {
					return err
				}
				return c.printReports([]payroll.Report{report})
			})
		},
	}
	period.Flags().StringVar(&contributor, "contributor", "", "restrict to one contributor")

	byContributor := &cobra.Command{
		Use:   "contributor <contributor>",
		Short: "Reports of every locked period with work by the contributor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(ctx context.Context, e engine) error {
				id := payroll.ContributorID(args[0])
				found, err := e.store.FindContributor(ctx, id)
				if err != nil {
					return err
				}
				if found == nil {
					return fmt.Errorf("%s: %w", id, payroll.ErrContributorNotFound)
				}
				reports, err := e.reports.ForContributor(ctx, id)
				if err != nil {
					return err
				}
				return c.printReports(reports)
			})
		},
	}

	cmd.AddCommand(period, byContributor)
	return cmd
}

// =============================================================================
// RATE CARDS
// =============================================================================

func (c *cli) ratesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rates", Short: "Manage event types and hourly rates"}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a JSON or YAML rate card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			card, err := factory.NewRateCardFactory().ParseFile(args[0])
			if err != nil {
				return err
			}
			return c.withEngine(cmd.Context(), func(ctx context.Context, e engine) error {
				if err := card.Apply(ctx, e.store); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "imported %d event types, %d rates\n", len(card.EventTypes), len(card.Rates))
				return nil
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List hourly rates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(ctx context.Context, e engine) error {
				rates, err := e.store.ListRates(ctx)
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(rates)
				}
				tw := c.newTable()
				tw.AppendHeader(table.Row{"Rate", "Event Type", "Amount", "From", "To"})
				for _, r := range rates {
					to := ""
					if r.To != nil {
						to = r.To.Format(payroll.DateLayout)
					}
					tw.AppendRow(table.Row{r.ID, r.EventTypeID, r.Amount.StringFixed(payroll.ReportPrecision), r.From.Format(payroll.DateLayout), to})
				}
				tw.Render()
				return nil
			})
		},
	}

	cmd.AddCommand(importCmd, listCmd)
	return cmd
}

// =============================================================================
// HELPERS
// =============================================================================

// engine bundles the collaborators a command needs for one invocation.
type engine struct {
	store   *sqlite.Store
	locks   *payroll.LockManager
	reports *payroll.Reports
	log     *logger.Logger
}

func (c *cli) withEngine(ctx context.Context, fn func(context.Context, engine) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.Nop()
	if c.v.GetBool("verbose") {
		l, err := logger.New("dev")
		if err != nil {
			return err
		}
		log = l
		defer log.Sync()
	}

	path := c.v.GetString("db")
	if path == "" {
		return errors.New("database path is empty (--db or PAYROLL_DB)")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
	}
	store, err := sqlite.New(path)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, engine{
		store:   store,
		locks:   payroll.NewLockManager(store, payroll.WithLogger(log.Zap())),
		reports: payroll.NewReports(store, payroll.NewAggregator(store)),
		log:     log,
	})
}

func (c *cli) newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(c.out)
	tw.SetStyle(table.StyleLight)
	return tw
}

func (c *cli) printPeriods(periods []payroll.Period) error {
	if c.v.GetBool("json") {
		return c.printJSON(periods)
	}
	tw := c.newTable()
	tw.AppendHeader(table.Row{"ID", "Label", "Start", "End", "Deadline", "Locked"})
	for _, p := range periods {
		locked := ""
		if p.IsLocked() {
			locked = p.LockedAt.UTC().Format(time.RFC3339) + " by " + p.LockedBy.String()
		}
		tw.AppendRow(table.Row{
			p.ID, p.Label,
			p.Start.Format(payroll.DateLayout),
			p.End.Format(payroll.DateLayout),
			p.Deadline.Format(payroll.DateLayout),
			locked,
		})
	}
	tw.Render()
	return nil
}

func (c *cli) printReports(reports []payroll.Report) error {
	if c.v.GetBool("json") {
		return c.printJSON(reports)
	}
	if len(reports) == 0 {
		fmt.Fprintln(c.out, "no reports")
		return nil
	}
	for _, r := range reports {
		tw := c.newTable()
		tw.SetTitle(fmt.Sprintf("%s (%s to %s)", r.Period.Label,
			r.Period.Start.Format(payroll.DateLayout), r.Period.End.Format(payroll.DateLayout)))
		tw.AppendHeader(table.Row{"Contributor", "Event Type", "Rate", "Hours", "Amount"})
		for _, l := range r.Lines {
			tw.AppendRow(table.Row{
				l.Contributor.DisplayName,
				l.EventType.Label,
				l.Rate.Amount.StringFixed(payroll.ReportPrecision),
				l.Hours.StringFixed(payroll.ReportPrecision),
				l.Amount().StringFixed(payroll.ReportPrecision),
			})
		}
		tw.AppendFooter(table.Row{"", "", "Total",
			r.TotalHours().StringFixed(payroll.ReportPrecision),
			r.TotalAmount().StringFixed(payroll.ReportPrecision),
		})
		tw.Render()
	}
	return nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
