package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/imrishuroy/photo-orderflow/internal/app"
	"github.com/imrishuroy/photo-orderflow/internal/export"
	"github.com/imrishuroy/photo-orderflow/internal/lifecycle"
	"github.com/imrishuroy/photo-orderflow/internal/orders"
)

func newSweepCommand(opts *RootOptions) *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete drafts untouched for longer than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				r := retention
				if r <= 0 {
					r = a.Sweeper.Retention()
				}
				n, err := a.Sweeper.Sweep(cmd.Context(), r)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), map[string]int{"removed": n},
					map[string]string{"removed": strconv.Itoa(n)})
			})
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "override the configured retention (e.g. 48h)")
	return cmd
}

func newStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print order totals and today's milestones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				st, err := a.Stats.Stats(cmd.Context())
				if err != nil {
					return err
				}
				text := map[string]string{
					"total_orders":    strconv.Itoa(st.TotalOrders),
					"total_amount":    st.TotalAmount.StringFixed(2),
					"total_photos":    strconv.Itoa(st.TotalPhotos),
					"today_created":   strconv.Itoa(st.Today.Created),
					"today_finalized": strconv.Itoa(st.Today.Finalized),
					"today_paid":      strconv.Itoa(st.Today.Paid),
					"today_retrieved": strconv.Itoa(st.Today.Retrieved),
				}
				for s, n := range st.ByState {
					text["state_"+string(s)] = strconv.Itoa(n)
				}
				return opts.print(cmd.OutOrStdout(), st, text)
			})
		},
	}
}

func newBadgesCommand(opts *RootOptions) *cobra.Command {
	var publish bool
	cmd := &cobra.Command{
		Use:   "badges",
		Short: "Print badge counts, optionally publishing them as metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				get := a.Stats.Badges
				if publish {
					get = a.PublishBadges
				}
				b, err := get(cmd.Context())
				if err != nil {
					return err
				}
				text := map[string]string{}
				for k, v := range b.Values() {
					text[k] = strconv.Itoa(v)
				}
				return opts.print(cmd.OutOrStdout(), b, text)
			})
		},
	}
	cmd.Flags().BoolVar(&publish, "publish", false, "also send the counts to CloudWatch")
	return cmd
}

func newExportCommand(opts *RootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write finalized orders as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				recs, err := a.Store.List(cmd.Context(), orders.AreaFinal)
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					return export.WriteCSV(cmd.OutOrStdout(), recs)
				}
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				if err := export.WriteCSV(f, recs); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newTransitionCommand(opts *RootOptions) *cobra.Command {
	var (
		method string
		amount string
		actor  string
	)
	cmd := &cobra.Command{
		Use:   "transition <reference> <state>",
		Short: "Advance an order to the next state",
		Long: `Advance an order one step: unpaid, paid, validated, exported or retrieved.
Moving to paid requires --method and --amount matching the order total.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := orders.ParseState(args[1])
			if err != nil {
				return err
			}
			in := lifecycle.Input{PaymentMethod: method, Actor: actor}
			if amount != "" {
				if in.Amount, err = decimal.NewFromString(amount); err != nil {
					return fmt.Errorf("--amount: %w", err)
				}
			}
			return opts.withApp(cmd, func(a *app.App) error {
				rec, err := a.Machine.Transition(cmd.Context(), args[0], target, in)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), rec, map[string]string{
					"reference": rec.Reference,
					"state":     string(rec.State),
					"area":      string(rec.Area),
					"total":     rec.AmountTotal.StringFixed(2),
				})
			})
		},
	}
	cmd.Flags().StringVar(&method, "method", "", "payment method (paid only)")
	cmd.Flags().StringVar(&amount, "amount", "", "amount received (paid only)")
	cmd.Flags().StringVar(&actor, "actor", "orderctl", "who is acting, for the logs")
	return cmd
}
