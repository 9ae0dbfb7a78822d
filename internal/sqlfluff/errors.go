package sqlfluff

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for sqlfluff invocations.
var (
	// ErrProcessLaunch indicates the sqlfluff binary could not be started.
	ErrProcessLaunch = errors.New("sqlfluff could not be started")

	// ErrProcessExecution indicates sqlfluff exited with an unexpected status or timed out.
	ErrProcessExecution = errors.New("sqlfluff failed")

	// ErrOutputDecode indicates sqlfluff output could not be decoded.
	ErrOutputDecode = errors.New("sqlfluff output could not be decoded")
)

// ProcessError describes a failed sqlfluff invocation.
type ProcessError struct {
	// Subcommand is "lint" or "fix".
	Subcommand string

	// ExitCode is the process exit status, or -1 when it never ran to completion.
	ExitCode int

	// Stderr holds whatever the process wrote to stderr.
	Stderr string

	// Err is one of the sentinel errors above.
	Err error

	// Cause is the underlying os/exec or decode error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ProcessError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "`sqlfluff %s`: %v", e.Subcommand, e.Err)
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, " (exit status %d)", e.ExitCode)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		fmt.Fprintf(&b, ": %s", stderr)
	}
	return b.String()
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *ProcessError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}
