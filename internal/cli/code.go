package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/hera/internal/taxonomy"
)

// CodeResult is the verdict on one taxonomy code.
type CodeResult struct {
	Input  string         `json:"input"`
	Valid  bool           `json:"valid"`
	Code   *taxonomy.Code `json:"code,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

// NewCodeCommand creates the code command.
func NewCodeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "code",
		Short: "Work with taxonomy codes",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <code>...",
		Short: "Validate and normalize taxonomy codes",
		Long: `Validate taxonomy codes of the form HERA.<DOMAIN>.<MODULE>[.<KIND>...].V<n>
and print their normalized form.

Exit codes:
  0 - Every code is valid
  1 - One or more codes are invalid

Example:
  hera code validate HERA.FIN.GL.LINE.DR.V1 hera.crm.customer.entity.v2`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCodeValidate(rootOpts, args, cmd)
		},
	})

	return cmd
}

func runCodeValidate(opts *RootOptions, codes []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	results := make([]CodeResult, 0, len(codes))
	invalid := 0
	for _, raw := range codes {
		res := CodeResult{Input: raw}
		code, err := taxonomy.Validate(raw)
		if err != nil {
			invalid++
			res.Reason = err.Error()
			var codeErr *taxonomy.InvalidCodeError
			if errors.As(err, &codeErr) {
				res.Reason = codeErr.Reason
			}
		} else {
			res.Valid = true
			res.Code = &code
		}
		results = append(results, res)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(results); err != nil {
			return err
		}
	} else {
		for _, res := range results {
			if res.Valid {
				fmt.Fprintf(formatter.Writer, "✓ %s\n", res.Code.Raw)
				formatter.VerboseLog("  domain=%s module=%s kind=%s version=%d",
					res.Code.Domain, res.Code.Module, res.Code.Kind, res.Code.Version)
				continue
			}
			fmt.Fprintf(formatter.Writer, "✗ %s: %s\n", res.Input, res.Reason)
		}
	}

	if invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d invalid code(s)", invalid))
	}
	return nil
}
