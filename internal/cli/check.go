package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hera/internal/engine"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	CallerOptions
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Scan an organization for broken invariants",
		Long: `Scan an organization's relationships and ledger for states the write
path should make impossible: hierarchy cycles, multiple active parents
or statuses, line-number gaps, unbalanced transactions past DRAFT and
broken reversal links. Findings are reported, never repaired.

Exit codes:
  0 - No findings
  1 - One or more findings
  2 - Command error

Example:
  hera check --db ./hera.db --org org-a --actor alice`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.OrganizationID, "org", "", "organization to check (required)")
	cmd.Flags().StringVar(&opts.ActorID, "actor", "operator", "actor performing the check")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}

func runCheck(opts *CheckOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	sess, err := openSession(opts.Config, opts.identity(), cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			sess.logger.Error("error closing database", "error", closeErr)
		}
	}()

	report, err := sess.engine.CheckIntegrity(cmd.Context(), opts.caller())
	if err != nil {
		return engineFailure(formatter, err)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		printFindings(formatter, report)
	}

	if !report.Clean() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d integrity finding(s)", len(report.Findings)))
	}
	return nil
}

func printFindings(formatter *OutputFormatter, report engine.IntegrityReport) {
	w := formatter.Writer
	if report.Clean() {
		fmt.Fprintf(w, "✓ %s: no integrity findings\n", report.OrganizationID)
		return
	}

	fmt.Fprintf(w, "✗ %s: %d integrity finding(s)\n", report.OrganizationID, len(report.Findings))
	for _, f := range report.Findings {
		fmt.Fprintf(w, "  [%s] %s: %s\n", f.Code, f.Subject, f.Message)
		if len(f.Path) > 0 {
			fmt.Fprintf(w, "    path: %s\n", strings.Join(f.Path, " → "))
		}
	}
}
