package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/solmeal/internal/config"
	"github.com/roach88/solmeal/internal/cycle"
	"github.com/roach88/solmeal/internal/query"
	"github.com/roach88/solmeal/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed (cycle failure, upstream down, warmup incomplete)
	ExitCommandError = 2 // Command error (bad flags, invalid config, unknown run)
)

// Error codes reported in CLI output besides the cycle.ErrorCode values.
const (
	ErrCodeConfig           = "CONFIG_INVALID"
	ErrCodeRunNotFound      = "RUN_NOT_FOUND"
	ErrCodeBitsNotFound     = "BITS_NOT_FOUND"
	ErrCodeNoActiveSnapshot = "NO_ACTIVE_SNAPSHOT"
	ErrCodeUserNotAssigned  = "USER_NOT_ASSIGNED"
	ErrCodeCycleInProgress  = "CYCLE_IN_PROGRESS"
	ErrCodeInternal         = "INTERNAL"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
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

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// classify maps an operation error to its output code and exit code.
func classify(err error) (string, int) {
	if code := cycle.CodeOf(err); code != "" {
		if code == cycle.ErrCodeValidation {
			return string(code), ExitCommandError
		}
		return string(code), ExitFailure
	}
	switch {
	case errors.Is(err, config.ErrInvalid):
		return ErrCodeConfig, ExitCommandError
	case errors.Is(err, store.ErrRunNotFound):
		return ErrCodeRunNotFound, ExitCommandError
	case errors.Is(err, store.ErrBitsNotFound):
		return ErrCodeBitsNotFound, ExitFailure
	case errors.Is(err, query.ErrNoActiveSnapshot):
		return ErrCodeNoActiveSnapshot, ExitFailure
	case errors.Is(err, query.ErrUserNotAssigned):
		return ErrCodeUserNotAssigned, ExitFailure
	case errors.Is(err, cycle.ErrCycleInProgress):
		return ErrCodeCycleInProgress, ExitFailure
	}
	return ErrCodeInternal, ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "VALIDATION", "RUN_NOT_FOUND", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format. In text
// mode data is printed with fmt, so payload types implement fmt.Stringer
// for their human-readable form.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns the ExitError the command should return.
func (f *OutputFormatter) Fail(message string, err error) error {
	code, exit := classify(err)
	_ = f.Error(code, err.Error(), nil)
	return WrapExitError(exit, message, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.errWriter(), format+"\n", args...)
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
