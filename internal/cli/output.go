package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/JonMunkholm/tracker/internal/core"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution, including a no-op batch
	ExitFailure      = 1 // The run failed: source, storage or broker error
	ExitCommandError = 2 // Bad flags or configuration
)

// ExitError carries the process exit code for a failed command.
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

// NewExitError creates an ExitError without an underlying cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an
// ExitError (cobra's own argument errors, mostly) map to ExitCommandError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// UserError renders err the way the CLI prints it on exit. Pipeline errors
// get the mapped user message and code followed by the technical detail;
// anything unmapped (flag and configuration errors) is printed as is.
func UserError(err error) string {
	if err == nil {
		return ""
	}
	msg := core.MapError(err)
	if msg.Code == "ERR000" {
		return "Error: " + err.Error()
	}
	return core.FormatUserError(err) + "\n  " + err.Error()
}

// Printer writes command results in the format chosen by --output.
type Printer struct {
	Format string
	W      io.Writer
}

// JSON writes v as one indented JSON document.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.W)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Report prints a run report.
func (p *Printer) Report(r core.RunReport) error {
	if p.Format == "json" {
		return p.JSON(r)
	}

	tw := tabwriter.NewWriter(p.W, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", r.RunID)
	fmt.Fprintf(tw, "source\t%s\n", r.Source)
	fmt.Fprintf(tw, "phase\t%s\n", r.Phase)
	fmt.Fprintf(tw, "records\t%d fetched, %d accepted, %d rejected\n", r.Fetched, r.Accepted, len(r.Rejections))
	fmt.Fprintf(tw, "packages\t%d proposed, %d inserted, %d skipped\n", r.Packages, r.Load.PackagesInserted, r.Load.PackagesSkipped)
	fmt.Fprintf(tw, "events\t%d proposed, %d inserted, %d skipped\n", r.Events, r.Load.EventsInserted, r.Load.EventsSkipped)
	fmt.Fprintf(tw, "duration\t%s\n", r.Duration.Round(time.Millisecond))
	if r.Error != "" {
		fmt.Fprintf(tw, "error\t%s\n", r.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Rejections) > 0 {
		fmt.Fprintln(p.W, "\nrejected records:")
		for _, rej := range r.Rejections {
			line := fmt.Sprintf("  %s  %s", rej.Ref, rej.Reason())
			if rej.Field != "" {
				line += " " + rej.Field
			}
			if rej.Value != nil {
				line += fmt.Sprintf(" (%v)", rej.Value)
			}
			fmt.Fprintln(p.W, strings.TrimRight(line, " "))
		}
	}
	return nil
}
