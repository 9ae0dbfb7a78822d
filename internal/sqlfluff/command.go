package sqlfluff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jarredhawkins/sqlfluff-lsp/internal/config"
)

// waitDelay bounds how long Wait keeps draining pipes after the process is killed.
const waitDelay = 2 * time.Second

// command builds a single sqlfluff invocation.
type command struct {
	executable string
	subcommand string
	args       []string
	timeout    time.Duration
}

func newCommand(cfg config.Config, subcommand string) *command {
	c := &command{
		executable: cfg.Executable(),
		subcommand: subcommand,
		args:       []string{subcommand},
		timeout:    cfg.Timeout,
	}
	if cfg.Dialect != "" {
		c.args = append(c.args, "--dialect="+cfg.Dialect)
	}
	if cfg.Templater != "" {
		c.args = append(c.args, "--templater="+cfg.Templater)
	}
	return c
}

func (c *command) with(args ...string) *command {
	c.args = append(c.args, args...)
	return c
}

// output is what a finished process left behind.
type output struct {
	stdout   []byte
	stderr   string
	exitCode int
}

// run feeds content to the process on stdin and collects its output.
// Cancelling ctx kills the process; the returned error is then ctx.Err().
func (c *command) run(ctx context.Context, content string) (*output, error) {
	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.executable, c.args...)
	cmd.Stdin = strings.NewReader(content)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &ProcessError{
			Subcommand: c.subcommand,
			ExitCode:   -1,
			Err:        ErrProcessLaunch,
			Cause:      err,
		}
	}

	err := cmd.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, &ProcessError{
			Subcommand: c.subcommand,
			ExitCode:   -1,
			Stderr:     stderr.String(),
			Err:        ErrProcessExecution,
			Cause:      fmt.Errorf("timed out after %s", c.timeout),
		}
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &ProcessError{
				Subcommand: c.subcommand,
				ExitCode:   -1,
				Stderr:     stderr.String(),
				Err:        ErrProcessExecution,
				Cause:      err,
			}
		}
		exitCode = exitErr.ExitCode()
	}

	return &output{
		stdout:   stdout.Bytes(),
		stderr:   stderr.String(),
		exitCode: exitCode,
	}, nil
}

// failure converts an unexpected exit into a ProcessError.
func (o *output) failure(subcommand string) error {
	return &ProcessError{
		Subcommand: subcommand,
		ExitCode:   o.exitCode,
		Stderr:     o.stderr,
		Err:        ErrProcessExecution,
	}
}
