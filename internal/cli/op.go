package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/hera/internal/engine"
)

// OpOptions holds flags for the op command.
type OpOptions struct {
	*RootOptions
	CallerOptions
}

// opTargets maps each op subcommand to its request dispatcher. A
// dispatcher decodes the request envelope, applies the caller and returns
// the response together with its error, if any.
var opTargets = map[string]func(ctx context.Context, eng *engine.Engine, raw []byte, c engine.Caller) (any, *engine.Error, error){
	"entity": func(ctx context.Context, eng *engine.Engine, raw []byte, c engine.Caller) (any, *engine.Error, error) {
		var req engine.EntityRequest
		if err := decodeStrict(raw, &req); err != nil {
			return nil, nil, err
		}
		req.Caller = withCaller(req.Caller, c)
		resp := eng.EntityOp(ctx, req)
		return resp, resp.Error, nil
	},
	"relationship": func(ctx context.Context, eng *engine.Engine, raw []byte, c engine.Caller) (any, *engine.Error, error) {
		var req engine.RelationshipRequest
		if err := decodeStrict(raw, &req); err != nil {
			return nil, nil, err
		}
		req.Caller = withCaller(req.Caller, c)
		resp := eng.RelationshipOp(ctx, req)
		return resp, resp.Error, nil
	},
	"transaction": func(ctx context.Context, eng *engine.Engine, raw []byte, c engine.Caller) (any, *engine.Error, error) {
		var req engine.TransactionRequest
		if err := decodeStrict(raw, &req); err != nil {
			return nil, nil, err
		}
		req.Caller = withCaller(req.Caller, c)
		resp := eng.TransactionOp(ctx, req)
		return resp, resp.Error, nil
	},
}

// NewOpCommand creates the op command and its entity, relationship and
// transaction subcommands.
func NewOpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "op",
		Short: "Execute a governed operation from a JSON request",
		Long: `Execute one entity, relationship or transaction request against the
database. The request is a JSON envelope read from a file, or from stdin
when the file is "-" or omitted.

organization_id and actor_id default to --org and --actor.

Examples:
  hera op entity --org org-a --actor alice request.json
  echo '{"action":"LIST"}' | hera op transaction --org org-a --actor alice`,
	}

	cmd.PersistentFlags().StringVar(&opts.OrganizationID, "org", "", "organization the operation runs in")
	cmd.PersistentFlags().StringVar(&opts.ActorID, "actor", "", "actor performing the operation")

	for _, target := range []string{"entity", "relationship", "transaction"} {
		cmd.AddCommand(&cobra.Command{
			Use:           target + " [request.json|-]",
			Short:         fmt.Sprintf("Execute a %s request", target),
			Args:          cobra.MaximumNArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				src := "-"
				if len(args) == 1 {
					src = args[0]
				}
				return runOp(opts, target, src, cmd)
			},
		})
	}

	return cmd
}

func runOp(opts *OpOptions, target, src string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	raw, err := readRequest(src, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read request", err)
	}

	caller := opts.caller()
	sess, err := openSession(opts.Config, opts.identity(), cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			sess.logger.Error("error closing database", "error", closeErr)
		}
	}()

	resp, opErr, err := opTargets[target](cmd.Context(), sess.engine, raw, caller)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid request", err)
	}
	formatter.VerboseLog("%s request handled", target)

	if opErr != nil {
		return engineFailure(formatter, opErr)
	}
	if formatter.Format == "json" {
		return formatter.Success(resp)
	}
	return printIndented(formatter.Writer, resp)
}

// readRequest reads src, or r when src is "-".
func readRequest(src string, r io.Reader) ([]byte, error) {
	if src == "-" {
		return io.ReadAll(r)
	}
	return os.ReadFile(src)
}

// decodeStrict decodes a request envelope, rejecting unknown fields.
func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// withCaller fills the request caller from the flags where the request
// leaves it empty.
func withCaller(req, flags engine.Caller) engine.Caller {
	if req.OrganizationID == "" {
		req.OrganizationID = flags.OrganizationID
	}
	if req.ActorID == "" {
		req.ActorID = flags.ActorID
	}
	return req
}

// printIndented writes v as indented JSON, the text rendering of a
// record.
func printIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
