package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/hera/internal/engine"
	"github.com/roach88/hera/internal/ir"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Actor string
	Org   engine.OrganizationInput
}

// InitResult is the outcome of an init run.
type InitResult struct {
	DBPath       string           `json:"db_path"`
	Organization *ir.Organization `json:"organization,omitempty"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database and optionally bootstrap a tenant",
		Long: `Create the HERA schema in the configured database. Existing
databases are left intact.

With --org-name, also registers an organization. This is the only
operation that runs without an organization scope.

Examples:
  hera init --db ./hera.db
  hera init --db ./hera.db --org-id org-a --org-name "Tenant A" \
    --org-code TENANT-A --org-taxonomy HERA.PLATFORM.ORG.TENANT.V1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", "operator", "actor recorded on the organization")
	cmd.Flags().StringVar(&opts.Org.ID, "org-id", "", "organization id (generated when empty)")
	cmd.Flags().StringVar(&opts.Org.Name, "org-name", "", "organization name")
	cmd.Flags().StringVar(&opts.Org.Code, "org-code", "", "organization code")
	cmd.Flags().StringVar(&opts.Org.Industry, "org-industry", "", "organization industry")
	cmd.Flags().StringVar(&opts.Org.TaxonomyCode, "org-taxonomy", "HERA.PLATFORM.ORG.TENANT.V1", "organization taxonomy code")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	sess, err := openSession(opts.Config, engine.StaticIdentity{}, cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			sess.logger.Error("error closing database", "error", closeErr)
		}
	}()
	formatter.VerboseLog("Database ready: %s", opts.Config.DBPath)

	result := InitResult{DBPath: opts.Config.DBPath}
	if opts.Org.Name != "" {
		org, err := sess.engine.CreateOrganization(cmd.Context(), opts.Actor, opts.Org)
		if err != nil {
			return engineFailure(formatter, err)
		}
		result.Organization = &org
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Database ready at %s\n", result.DBPath)
	if result.Organization != nil {
		fmt.Fprintf(formatter.Writer, "✓ Organization %s (%s) created\n", result.Organization.Code, result.Organization.ID)
	}
	return nil
}
