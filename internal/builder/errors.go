package builder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/laspad/internal/rules"
)

// Protocol violations.
var (
	// ErrFinalizedTwice is returned by a second call to Finalize.
	ErrFinalizedTwice = errors.New("builder finalized twice")
	// ErrNotFinalized is returned by Close when Finalize was never called;
	// queued passthrough files were never materialized.
	ErrNotFinalized = errors.New("builder closed without being finalized")
	// ErrFinalized is returned when staging after Finalize.
	ErrFinalized = errors.New("builder already finalized")
)

// CommandError reports an external build command that failed.
type CommandError struct {
	Command rules.Command
	// ExitCode is the process exit status, or -1 when the process could not
	// be started or was killed.
	ExitCode int
	// Output is the tail of the command's combined output, if captured.
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	var sb strings.Builder
	if e.ExitCode >= 0 {
		fmt.Fprintf(&sb, "command exited with status %d: %s", e.ExitCode, e.Command)
	} else {
		fmt.Fprintf(&sb, "command failed: %s", e.Command)
		if e.Err != nil {
			fmt.Fprintf(&sb, ": %v", e.Err)
		}
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		sb.WriteString("\n")
		sb.WriteString(out)
	}
	return sb.String()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// CollisionError reports two sources staged at, or built into, one
// destination under the fail policy.
type CollisionError struct {
	Dest     string
	Previous string
	Source   string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("destination %s staged twice: %s overrides %s", e.Dest, e.Source, e.Previous)
}
