package builder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"

	"github.com/leapstack-labs/laspad/internal/rules"
)

// maxCapturedOutput bounds the command output kept for error reports.
const maxCapturedOutput = 4 << 10

// Runner executes a build command and blocks until it exits.
type Runner interface {
	Run(ctx context.Context, cmd rules.Command) error
}

// ExecRunner runs commands as subprocesses.
type ExecRunner struct {
	// Output receives the command's combined output as it runs (optional).
	Output io.Writer
	Logger *slog.Logger
}

// Run implements Runner. A non-zero exit is reported as *CommandError.
func (r ExecRunner) Run(ctx context.Context, cmd rules.Command) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := exec.CommandContext(ctx, cmd.Program, cmd.Args...) //nolint:gosec // tool paths come from settings
	c.Dir = cmd.Dir

	var captured tailBuffer
	var out io.Writer = &captured
	if r.Output != nil {
		out = io.MultiWriter(&captured, r.Output)
	}
	c.Stdout = out
	c.Stderr = out

	logger.Debug("running build command", "command", cmd.String())
	err := c.Run()
	if err == nil {
		return nil
	}

	cmdErr := &CommandError{Command: cmd, ExitCode: -1, Output: captured.String(), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cmdErr.ExitCode = exitErr.ExitCode()
	}
	return cmdErr
}

// tailBuffer keeps the last maxCapturedOutput bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) > maxCapturedOutput {
		p = p[len(p)-maxCapturedOutput:]
	}
	if over := t.buf.Len() + len(p) - maxCapturedOutput; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}
