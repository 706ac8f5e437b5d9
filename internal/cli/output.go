package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"fintrack/internal/apperr"
	"fintrack/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the operation failed or left stale data
	ExitCommandError = 2 // bad flags, arguments or configuration
)

// ExitError carries the exit code of a failed command. Its message has
// already been written by the formatter.
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

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool

	mu sync.Mutex // serializes printLine
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

// Success writes data as JSON, or calls text to render it.
func (f *OutputFormatter) Success(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	if text != nil {
		text(f.Writer)
	}
	return nil
}

// Table renders rows with aligned columns.
func (f *OutputFormatter) Table(w io.Writer, header []any, rows [][]any) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	writeRow(tw, header)
	for _, r := range rows {
		writeRow(tw, r)
	}
	tw.Flush()
}

func writeRow(w io.Writer, cells []any) {
	for i, c := range cells {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, c)
	}
	fmt.Fprintln(w)
}

// Fail reports err and returns the ExitError the command should return.
func (f *OutputFormatter) Fail(code int, err error) error {
	cliErr := describe(err)
	if f.Format == "json" {
		_ = json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: cliErr})
	} else {
		fmt.Fprintf(f.errWriter(), "Error [%s]: %s\n", cliErr.Code, cliErr.Message)
		if f.Verbose && cliErr.Message != err.Error() {
			fmt.Fprintf(f.errWriter(), "Details: %v\n", err)
		}
	}
	return &ExitError{Code: code, Message: cliErr.Message, Err: err}
}

// VerboseLog outputs a message only if verbose mode is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.errWriter(), format+"\n", args...)
}

// printLine writes one line to w; concurrent callers never interleave.
func (f *OutputFormatter) printLine(w io.Writer, format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(w, format+"\n", args...)
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

func describe(err error) *CLIError {
	var stale *store.StaleError
	if errors.As(err, &stale) {
		return &CLIError{Code: "stale", Message: "saved, but refreshing " + string(stale.Store) + " failed: " + stale.Err.Message, Status: stale.Err.Status}
	}
	if info, ok := apperr.As(err); ok {
		return &CLIError{Code: string(info.Kind), Message: info.Message, Status: info.Status}
	}
	return &CLIError{Code: "error", Message: err.Error()}
}
