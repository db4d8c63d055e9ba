package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/hera/internal/engine"
)

// Exit codes. A rejected request or a failed check is the caller's
// problem; anything that stops the command from running is a command
// error.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // rejected operation, integrity findings, failed scenarios
	ExitCommandError = 2 // bad flags or config, unreadable input, storage failure
)

// ExitError carries the process exit code for a command failure.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit code to err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the exit code carried by err, or ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter renders command results as JSON envelopes or text.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; falls back to Writer
	Verbose   bool
}

// newFormatter binds a formatter to the command's streams.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// CLIResponse is the JSON envelope every command writes in json format.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error half of a CLIResponse. Code is an engine code
// (NOT_FOUND) or a loader code (E005).
type CLIError struct {
	Code        string `json:"code"`
	Kind        string `json:"kind,omitempty"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
	Details     any    `json:"details,omitempty"`
}

// Success writes data.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error writes a failure. Details are shown in text only when verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	return f.fail(&CLIError{Code: code, Message: message, Details: details})
}

// Rejected writes an engine error with its kind and remediation.
func (f *OutputFormatter) Rejected(e *engine.Error) error {
	ce := &CLIError{
		Code:        e.Code,
		Kind:        string(e.Kind),
		Message:     e.Reason,
		Remediation: e.Remediation,
	}
	if len(e.Details) > 0 {
		ce.Details = e.Details
	}
	return f.fail(ce)
}

func (f *OutputFormatter) fail(ce *CLIError) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: ce})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", ce.Code, ce.Message)
	if ce.Remediation != "" {
		fmt.Fprintf(f.Writer, "  hint: %s\n", ce.Remediation)
	}
	if f.Verbose && ce.Details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", ce.Details)
	}
	return nil
}

// VerboseLog writes a diagnostic line when verbose is on. Diagnostics
// go to ErrWriter so JSON on Writer stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter, or Writer when none is set.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// engineFailure reports an engine error and maps it to an exit code:
// validation, state and scope failures exit 1, internal failures 2.
func engineFailure(formatter *OutputFormatter, err error) error {
	e := engine.AsError(err)
	_ = formatter.Rejected(e)

	code := ExitFailure
	if e.Kind == engine.KindInternal {
		code = ExitCommandError
	}
	return WrapExitError(code, fmt.Sprintf("%s %s", e.Kind, e.Code), err)
}
