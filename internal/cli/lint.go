package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/hera/internal/placement"
)

// NewLintCommand creates the lint command.
func NewLintCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lint <proposals.yaml>",
		Short: "Review proposed attributes for placement",
		Long: `Review proposed attribute names before they reach storage. Each
proposal is placed as a dynamic field, as metadata, or rejected:
business facts belong in dynamic fields, system annotations in
metadata, and lifecycle state in status relationships.

The file lists proposals under "fields":

  fields:
    - name: unit_price
    - name: model_trace
      metadata: {category: system_ai}
    - name: service_duration
      target: dynamic_field

Exit codes:
  0 - No findings
  1 - One or more proposals rejected or misplaced
  2 - Command error`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLint(rootOpts, args[0], cmd)
		},
	}
}

func runLint(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	proposals, err := placement.LoadProposals(path)
	if err != nil {
		_ = formatter.Error("E_LINT_INPUT", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load proposals", err)
	}
	formatter.VerboseLog("Loaded %d proposal(s) from %s", len(proposals), path)

	report := placement.Lint(proposals)

	if formatter.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		for _, d := range report.Decisions {
			formatter.VerboseLog("%s → %s (%s)", d.Field, d.Placement, d.Rule)
		}
		for _, f := range report.Findings {
			fmt.Fprintf(w, "✗ %s: %s\n", f.Proposal.Name, f.Decision.Reason)
			if f.Proposal.Target != "" && f.Proposal.Target != f.Decision.Placement {
				fmt.Fprintf(w, "  wanted %s, policy places it as %s\n", f.Proposal.Target, f.Decision.Placement)
			}
			if f.Decision.Remediation != "" {
				fmt.Fprintf(w, "  %s\n", f.Decision.Remediation)
			}
		}
		fmt.Fprintf(w, "\nLint Summary: %d proposal(s), %d finding(s)\n", len(report.Decisions), len(report.Findings))
	}

	if !report.Clean() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d placement finding(s)", len(report.Findings)))
	}
	return nil
}
