package builder

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/laspad/internal/rules"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found")
	}
}

func TestExecRunner_Success(t *testing.T) {
	requireShell(t)
	var out bytes.Buffer
	r := ExecRunner{Output: &out}

	err := r.Run(context.Background(), rules.Command{Program: "sh", Args: []string{"-c", "echo converted"}})
	require.NoError(t, err)
	assert.Equal(t, "converted\n", out.String())
}

func TestExecRunner_ExitCode(t *testing.T) {
	requireShell(t)
	r := ExecRunner{}

	err := r.Run(context.Background(), rules.Command{Program: "sh", Args: []string{"-c", "echo bad input >&2; exit 3"}})
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Contains(t, cmdErr.Output, "bad input")
	assert.Contains(t, err.Error(), "status 3")
}

func TestExecRunner_MissingProgram(t *testing.T) {
	r := ExecRunner{}
	err := r.Run(context.Background(), rules.Command{Program: "laspad-no-such-tool"})

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, -1, cmdErr.ExitCode)
	assert.Contains(t, err.Error(), "laspad-no-such-tool")
}

func TestTailBuffer(t *testing.T) {
	var tb tailBuffer
	_, _ = tb.Write([]byte(strings.Repeat("a", maxCapturedOutput)))
	n, err := tb.Write([]byte("tail"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Len(t, tb.String(), maxCapturedOutput)
	assert.True(t, strings.HasSuffix(tb.String(), "tail"))
}
