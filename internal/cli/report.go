package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/queryir"
	"github.com/roach88/hera/internal/report"
)

// ReportOptions holds flags shared by the report subcommands.
type ReportOptions struct {
	*RootOptions
	CallerOptions
	AsOf string
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Read-only ledger and hierarchy reports",
		Long: `Derive read-only views from the ledger: a trial balance, the activity
of one entity, or balances rolled up a parent_of hierarchy.

Examples:
  hera report trial-balance --org org-a --actor alice --as-of 2026-03-31
  hera report activity --org org-a --actor alice <entity-id>
  hera report rollup --org org-a --actor alice 1000`,
	}

	cmd.PersistentFlags().StringVar(&opts.OrganizationID, "org", "", "organization to report on")
	cmd.PersistentFlags().StringVar(&opts.ActorID, "actor", "operator", "actor requesting the report")

	tb := &cobra.Command{
		Use:           "trial-balance",
		Short:         "Sum posted ledger lines per entity",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrialBalance(opts, cmd)
		},
	}
	tb.Flags().StringVar(&opts.AsOf, "as-of", "", "exclude transactions dated after this day or RFC3339 time")

	rollup := &cobra.Command{
		Use:           "rollup <entity-code>",
		Short:         "Roll trial balances up the hierarchy under an entity",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollup(opts, args[0], cmd)
		},
	}
	rollup.Flags().StringVar(&opts.AsOf, "as-of", "", "exclude transactions dated after this day or RFC3339 time")

	cmd.AddCommand(tb, rollup, &cobra.Command{
		Use:           "activity <entity-id>",
		Short:         "List every ledger line referencing an entity",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActivity(opts, args[0], cmd)
		},
	})

	return cmd
}

func runTrialBalance(opts *ReportOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	asOf, err := parseAsOf(opts.AsOf)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --as-of", err)
	}

	sess, err := openSession(opts.Config, opts.identity(), cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer sess.Close()

	tb, err := report.BuildTrialBalance(cmd.Context(), sess.engine, opts.caller(), report.TrialBalanceOptions{AsOf: asOf})
	if err != nil {
		return engineFailure(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(tb)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Trial balance %s\n\n", tb.OrganizationID)
	for _, row := range tb.Rows {
		fmt.Fprintf(w, "  %-12s %-24s %14s %14s %14s\n",
			row.EntityCode, row.EntityName, row.Debit.StringFixed(tb.Precision),
			row.Credit.StringFixed(tb.Precision), row.Balance().StringFixed(tb.Precision))
	}
	fmt.Fprintf(w, "\n  %-37s %14s %14s\n", "Total", tb.Debit.StringFixed(tb.Precision), tb.Credit.StringFixed(tb.Precision))
	if tb.Balanced() {
		fmt.Fprintln(w, "✓ Balanced")
		return nil
	}
	fmt.Fprintln(w, "✗ Not balanced")
	return NewExitError(ExitFailure, "trial balance is not balanced")
}

func runActivity(opts *ReportOptions, entityID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	sess, err := openSession(opts.Config, opts.identity(), cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer sess.Close()

	act, err := report.BuildEntityActivity(cmd.Context(), sess.engine, opts.caller(), entityID)
	if err != nil {
		return engineFailure(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(act)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Activity %s\n\n", act.EntityID)
	for _, row := range act.Rows {
		side := string(row.Side)
		if side == "" {
			side = "-"
		}
		fmt.Fprintf(w, "  %s %-12s %-10s %-8s #%d %-2s %s\n",
			row.TransactionDate.Format(time.DateOnly), row.TransactionCode, row.TransactionType,
			row.Status, row.LineNumber, side, row.Amount.String())
	}
	fmt.Fprintf(w, "\n  Net: %s\n", act.Net.String())
	return nil
}

func runRollup(opts *ReportOptions, rootCode string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	asOf, err := parseAsOf(opts.AsOf)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --as-of", err)
	}

	sess, err := openSession(opts.Config, opts.identity(), cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer sess.Close()

	ctx, caller := cmd.Context(), opts.caller()
	tb, err := report.BuildTrialBalance(ctx, sess.engine, caller, report.TrialBalanceOptions{AsOf: asOf})
	if err != nil {
		return engineFailure(formatter, err)
	}
	forest, err := report.HierarchyRollup(ctx, sess.engine, caller,
		queryir.Equals{Field: "entity_code", Value: ir.String(rootCode)}, tb.Balances())
	if err != nil {
		return engineFailure(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(forest)
	}

	w := formatter.Writer
	if len(forest) == 0 {
		fmt.Fprintf(w, "No entity with code %s\n", rootCode)
		return nil
	}
	for _, tree := range forest {
		tree.Walk(func(n *report.RollupNode, depth int) {
			fmt.Fprintf(w, "%s%s %s: %s (own %s)\n", strings.Repeat("  ", depth),
				n.EntityCode, n.EntityName, n.Total.StringFixed(tb.Precision), n.Own.StringFixed(tb.Precision))
		})
	}
	return nil
}

// parseAsOf accepts a calendar day or an RFC3339 time. A bare day means
// the end of that day in UTC.
func parseAsOf(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.Add(24*time.Hour - time.Nanosecond), nil
	}
	return time.Parse(time.RFC3339, s)
}
