package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/hera/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Flag overrides for the HERA_* environment. Applied in
	// PersistentPreRunE only when the flag was set.
	DBPath    string
	PolicyDir string
	LogLevel  string

	// Config is the resolved configuration, available to RunE.
	Config config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the HERA CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "hera",
		Short: "HERA - universal entity, relationship and transaction engine",
		Long: `Operate a HERA database: bootstrap tenants, run governed entity,
relationship and ledger operations, compile policy bundles, check
integrity and run scenarios.

Settings come from HERA_* environment variables; flags override them.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return resolveConfig(opts, cmd)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "path to SQLite database (overrides HERA_DB_PATH)")
	cmd.PersistentFlags().StringVar(&opts.PolicyDir, "policy-dir", "", "policy bundle directory (overrides HERA_POLICY_DIR)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "debug|info|warn|error (overrides HERA_LOG_LEVEL)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewOpCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	cmd.AddCommand(NewPolicyCommand(opts))
	cmd.AddCommand(NewCodeCommand(opts))
	cmd.AddCommand(NewLintCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// resolveConfig loads the environment and applies flag overrides.
func resolveConfig(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = opts.DBPath
	}
	if flags.Changed("policy-dir") {
		cfg.PolicyDir = opts.PolicyDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.Verbose && !flags.Changed("log-level") {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	opts.Config = cfg
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
