package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/hera/internal/compiler"
	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/policy"
)

// PolicyOptions holds flags for the policy subcommands.
type PolicyOptions struct {
	*RootOptions
	Output          string // compiled bundle file
	TransactionType string
	Industry        string
	Organization    string
}

// CompiledBundles is the output of policy compile.
type CompiledBundles struct {
	Bundles []ir.PolicyBundle `json:"bundles"`
	Digest  string            `json:"digest"`
}

// ResolvedPlan is the output of policy resolve.
type ResolvedPlan struct {
	Bundles         []policy.BundleRef `json:"bundles"`
	Digest          string             `json:"digest"`
	RequiredFields  []string           `json:"required_fields"`
	Validations     int                `json:"validations"`
	TaxRules        []string           `json:"tax_rules"`
	PostingRules    int                `json:"posting_rules"`
	SuspenseAccount string             `json:"suspense_account,omitempty"`
}

// NewPolicyCommand creates the policy command.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PolicyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Compile and resolve CUE policy bundles",
	}

	compile := &cobra.Command{
		Use:   "compile <policy-dir>",
		Short: "Compile and validate policy bundles",
		Long: `Compile the CUE policy bundles in a directory and validate every
expression, account reference and version. All errors are reported at
once.

Examples:
  hera policy compile ./policies
  hera policy compile ./policies -o bundles.json --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyCompile(opts, args[0], cmd)
		},
	}
	compile.Flags().StringVarP(&opts.Output, "output", "o", "", "write the compiled bundles to this file")

	resolve := &cobra.Command{
		Use:   "resolve <policy-dir>",
		Short: "Show the bundles that apply to a transaction",
		Long: `Resolve which active bundles apply to a transaction type, industry
and organization, in the order they are applied, and summarize the
merged plan.

Example:
  hera policy resolve ./policies --type SALE --industry retail --org org-a`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyResolve(opts, args[0], cmd)
		},
	}
	resolve.Flags().StringVar(&opts.TransactionType, "type", "", "transaction type (required)")
	resolve.Flags().StringVar(&opts.Industry, "industry", "", "organization industry")
	resolve.Flags().StringVar(&opts.Organization, "org", "", "organization id")
	_ = resolve.MarkFlagRequired("type")

	cmd.AddCommand(compile, resolve)
	return cmd
}

func runPolicyCompile(opts *PolicyOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	bundles, err := compileBundles(formatter, dir)
	if err != nil {
		return err
	}

	digest, err := ir.BundleSetDigest(bundles)
	if err != nil {
		return WrapExitError(ExitCommandError, "digest failed", err)
	}
	result := CompiledBundles{Bundles: bundles, Digest: digest}

	if opts.Output != "" {
		if err := writeBundles(result, opts.Output); err != nil {
			return outputCompileError(formatter, compiler.ErrCodeGeneric, fmt.Sprintf("writing output file: %v", err))
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %d bundle(s)\n\n", len(bundles))
	for _, b := range bundles {
		status := b.Status
		if status == "" {
			status = ir.BundleActive
		}
		fmt.Fprintf(w, "  %s@%d: priority %d, %s, %d validation(s), %d tax rule(s), %d posting rule(s)\n",
			b.ID, b.Version, b.Priority, status, len(b.Validations), len(b.TaxRules), len(b.PostingRules))
	}
	fmt.Fprintf(w, "\nDigest: %s\n", digest)
	if opts.Output != "" {
		fmt.Fprintf(w, "Wrote bundles to %s\n", opts.Output)
	}
	return nil
}

func runPolicyResolve(opts *PolicyOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	bundles, err := compileBundles(formatter, dir)
	if err != nil {
		return err
	}
	registry, err := policy.NewRegistry(bundles...)
	if err != nil {
		return outputCompileError(formatter, compiler.ErrCodeGeneric, err.Error())
	}

	resolved := registry.Resolve(opts.TransactionType, opts.Industry, opts.Organization)
	digest, err := ir.BundleSetDigest(resolved)
	if err != nil {
		return WrapExitError(ExitCommandError, "digest failed", err)
	}

	plan := policy.Merge(resolved)
	result := ResolvedPlan{
		Bundles:         plan.Bundles,
		Digest:          digest,
		RequiredFields:  plan.RequiredFields,
		Validations:     len(plan.Validations),
		TaxRules:        make([]string, 0, len(plan.TaxRules)),
		PostingRules:    len(plan.PostingRules),
		SuspenseAccount: plan.SuspenseAccount,
	}
	if result.RequiredFields == nil {
		result.RequiredFields = []string{}
	}
	for _, t := range plan.TaxRules {
		result.TaxRules = append(result.TaxRules, t.Code)
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	if len(result.Bundles) == 0 {
		fmt.Fprintf(w, "No bundles apply to %s\n", opts.TransactionType)
		return nil
	}
	fmt.Fprintf(w, "%d bundle(s) apply to %s:\n", len(result.Bundles), opts.TransactionType)
	for i, ref := range result.Bundles {
		fmt.Fprintf(w, "  %d. %s@%d\n", i+1, ref.ID, ref.Version)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Required fields: %v\n", result.RequiredFields)
	fmt.Fprintf(w, "Tax rules: %v\n", result.TaxRules)
	fmt.Fprintf(w, "Validations: %d, posting rules: %d\n", result.Validations, result.PostingRules)
	if result.SuspenseAccount != "" {
		fmt.Fprintf(w, "Suspense account: %s\n", result.SuspenseAccount)
	}
	fmt.Fprintf(w, "Digest: %s\n", result.Digest)
	return nil
}

// compileBundles loads and validates every bundle under dir, reporting
// all errors through formatter.
func compileBundles(formatter *OutputFormatter, dir string) ([]ir.PolicyBundle, error) {
	result, errs := compiler.LoadBundles(dir, compiler.LoadModeCollectAll)
	if result == nil && len(errs) > 0 {
		var loadErr *compiler.LoadError
		if errors.As(errs[0], &loadErr) {
			return nil, outputCompileError(formatter, loadErr.Code, loadErr.Message)
		}
		return nil, outputCompileError(formatter, compiler.ErrCodeGeneric, errs[0].Error())
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", result.FileCount, dir)

	if len(errs) > 0 {
		return nil, outputCompileErrors(formatter, errs)
	}
	return result.Bundles, nil
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Compilation errors are command-level errors (exit code 2)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.Format == "json" {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{Code: code, Message: message}
		}

		response := CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors,
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		code, message := parseCompileError(err)
		var compileErr *compiler.CompileError
		if errors.As(err, &compileErr) && compileErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				compileErr.Pos.Filename(),
				compileErr.Pos.Line(),
				compileErr.Pos.Column())
		}
		var loadErr *compiler.LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(),
				loadErr.Pos.Line(),
				loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return compiler.ErrCodeGeneric, fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message)
	}
	var verr compiler.ValidationError
	if errors.As(err, &verr) {
		return verr.Code, fmt.Sprintf("%s: %s", verr.Field, verr.Message)
	}
	var loadErr *compiler.LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	return compiler.ErrCodeGeneric, err.Error()
}

// writeBundles writes the compiled bundles as indented JSON.
func writeBundles(result CompiledBundles, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling bundles: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
