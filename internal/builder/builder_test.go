package builder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/laspad/internal/rules"
	"github.com/leapstack-labs/laspad/internal/testutil"
)

// fakeRunner records commands and writes the outputs the invoked rule declares.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []rules.Command
	outputs func(cmd rules.Command) []string
	// failAfter, when set, writes outputs then fails with this exit code.
	failAfter int
}

func (f *fakeRunner) Run(_ context.Context, cmd rules.Command) error {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	for _, path := range f.outputs(cmd) {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte("built by "+cmd.Program), 0o600); err != nil {
			return err
		}
	}
	if f.failAfter != 0 {
		return &CommandError{Command: cmd, ExitCode: f.failAfter}
	}
	return nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fanOutRule produces three outputs from a .multi source.
func fanOutRule() rules.Rule {
	outputs := func(dst string) []string {
		stem := rules.ReplaceExt(dst, "")
		return []string{stem + "a", stem + "b", stem + "c"}
	}
	return rules.Rule{
		Ext:     "multi",
		Outputs: outputs,
		Command: func(inv rules.Invocation) rules.Command {
			args := []string{inv.Src}
			for _, out := range outputs(inv.Dst) {
				args = append(args, filepath.Join(inv.OutputRoot, out))
			}
			return rules.Command{Program: "fanout", Args: args}
		},
	}
}

// argsAfterSource treats every argument after the first as an output path.
func argsAfterSource(cmd rules.Command) []string {
	return cmd.Args[1:]
}

func newTable(t *testing.T, rs ...rules.Rule) *rules.Table {
	t.Helper()
	table, err := rules.NewTable(rs...)
	require.NoError(t, err)
	return table
}

func newBuilder(t *testing.T, opts Options) *Builder {
	t.Helper()
	if opts.OutputRoot == "" {
		opts.OutputRoot = t.TempDir()
	}
	if opts.Logger == nil {
		opts.Logger = testutil.NewTestLogger(t)
	}
	b, err := New(opts)
	require.NoError(t, err)
	return b
}

func finish(t *testing.T, b *Builder) {
	t.Helper()
	require.NoError(t, b.Finalize(context.Background()))
	require.NoError(t, b.Close())
}

func TestBuilder_FanOutMissThenHit(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	input := testutil.WriteFile(t, src, "maps/thing.multi", "source")
	runner := &fakeRunner{outputs: argsAfterSource}
	table := newTable(t, fanOutRule())

	first := newBuilder(t, Options{Rules: table, Runner: runner})
	require.NoError(t, first.File(ctx, input, filepath.Join("maps", "thing.multi")))
	finish(t, first)

	assert.Equal(t, 1, runner.count())
	for _, name := range []string{"thing.a", "thing.b", "thing.c"} {
		assert.True(t, testutil.Exists(first.Root(), filepath.Join("maps", name)), name)
	}
	assert.False(t, testutil.Exists(first.Root(), filepath.Join("maps", "thing.multi")))
	assert.Equal(t, Stats{Staged: 1, Built: 1}, first.Stats())

	second := newBuilder(t, Options{Rules: table, Runner: runner, Cache: PreviousOutput{Root: first.Root()}})
	require.NoError(t, second.File(ctx, input, filepath.Join("maps", "thing.multi")))
	finish(t, second)

	assert.Equal(t, 1, runner.count(), "all outputs cached, no invocation")
	for _, name := range []string{"thing.a", "thing.b", "thing.c"} {
		assert.Equal(t, "built by fanout", testutil.ReadFile(t, second.Root(), filepath.Join("maps", name)))
	}
	assert.Equal(t, 1, second.Stats().Cached)

	steps := second.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, OutcomeCached, steps[0].Outcome)
	assert.Equal(t, filepath.Join("maps", "thing.a"), steps[0].Dest)
}

func TestBuilder_PartialCacheRebuilds(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	input := testutil.WriteFile(t, src, "x.multi", "source")

	prev := t.TempDir()
	testutil.WriteFiles(t, prev, "x.a", "x.b")

	runner := &fakeRunner{outputs: argsAfterSource}
	b := newBuilder(t, Options{Rules: newTable(t, fanOutRule()), Runner: runner, Cache: PreviousOutput{Root: prev}})
	require.NoError(t, b.File(ctx, input, "x.multi"))
	finish(t, b)

	assert.Equal(t, 1, runner.count())
}

func TestBuilder_FailedCommandRemovesPartialOutputs(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	input := testutil.WriteFile(t, src, "x.multi", "source")
	runner := &fakeRunner{outputs: argsAfterSource, failAfter: 3}

	b := newBuilder(t, Options{Rules: newTable(t, fanOutRule()), Runner: runner})
	// x.a exists before the build, e.g. from an earlier dependency
	testutil.WriteFile(t, b.Root(), "x.a", "earlier")

	err := b.File(ctx, input, "x.multi")
	require.Error(t, err)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Equal(t, "fanout", cmdErr.Command.Program)
	assert.Contains(t, err.Error(), "status 3")

	assert.True(t, testutil.Exists(b.Root(), "x.a"), "pre-existing output is kept")
	assert.False(t, testutil.Exists(b.Root(), "x.b"))
	assert.False(t, testutil.Exists(b.Root(), "x.c"))

	steps := b.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, OutcomeFailed, steps[0].Outcome)
}

func TestBuilder_RunnerErrorIsWrapped(t *testing.T) {
	src := t.TempDir()
	input := testutil.WriteFile(t, src, "x.multi", "source")
	runner := runnerFunc(func(context.Context, rules.Command) error { return errors.New("exec: not found") })

	b := newBuilder(t, Options{Rules: newTable(t, fanOutRule()), Runner: runner})
	err := b.File(context.Background(), input, "x.multi")

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, -1, cmdErr.ExitCode)
	assert.Contains(t, err.Error(), "not found")
}

type runnerFunc func(context.Context, rules.Command) error

func (f runnerFunc) Run(ctx context.Context, cmd rules.Command) error { return f(ctx, cmd) }

func TestBuilder_FingerprintMismatchForcesRebuild(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	input := testutil.WriteFile(t, src, "x.multi", "v2")

	prev := t.TempDir()
	testutil.WriteFiles(t, prev, "x.a", "x.b", "x.c")

	current, err := HashFile(input)
	require.NoError(t, err)

	tests := []struct {
		name      string
		recorded  FingerprintMap
		wantCalls int
	}{
		{name: "mismatch", recorded: FingerprintMap{"x.a": "stale"}, wantCalls: 1},
		{name: "match", recorded: FingerprintMap{"x.a": current}, wantCalls: 0},
		{name: "unrecorded", recorded: FingerprintMap{}, wantCalls: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{outputs: argsAfterSource}
			b := newBuilder(t, Options{
				Rules:        newTable(t, fanOutRule()),
				Runner:       runner,
				Cache:        PreviousOutput{Root: prev},
				Fingerprints: tt.recorded,
			})
			require.NoError(t, b.File(ctx, input, "x.multi"))
			finish(t, b)

			assert.Equal(t, tt.wantCalls, runner.count())
			steps := b.Steps()
			require.Len(t, steps, 1)
			assert.Equal(t, current, steps[0].Fingerprint)
		})
	}
}

func TestBuilder_PassthroughDeferredUntilFinalize(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	a := testutil.WriteFile(t, src, "a.txt", "a")

	b := newBuilder(t, Options{})
	require.NoError(t, b.File(ctx, a, "a.txt"))
	assert.False(t, testutil.Exists(b.Root(), "a.txt"), "not materialized before finalize")

	finish(t, b)
	assert.Equal(t, "a", testutil.ReadFile(t, b.Root(), "a.txt"))
	assert.Equal(t, 1, b.Stats().Passthrough)
}

func TestBuilder_LastStagedWins(t *testing.T) {
	ctx := context.Background()
	first := testutil.WriteFile(t, t.TempDir(), "shared.lua", "first")
	second := testutil.WriteFile(t, t.TempDir(), "shared.lua", "second")

	tests := []struct {
		policy   CollisionPolicy
		wantWarn int
	}{
		{policy: CollisionWarn, wantWarn: 1},
		{policy: CollisionSilent, wantWarn: 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			logger, capture := testutil.NewCaptureLogger()
			b := newBuilder(t, Options{Collisions: tt.policy, Logger: logger})
			require.NoError(t, b.File(ctx, first, "shared.lua"))
			require.NoError(t, b.File(ctx, second, "shared.lua"))
			finish(t, b)

			assert.Equal(t, "second", testutil.ReadFile(t, b.Root(), "shared.lua"))
			assert.Equal(t, 1, b.Stats().Collisions)
			assert.Equal(t, 1, b.Stats().Passthrough)
			assert.Equal(t, tt.wantWarn, capture.Count("level=WARN"))
		})
	}
}

func TestBuilder_CollisionFail(t *testing.T) {
	ctx := context.Background()
	first := testutil.WriteFile(t, t.TempDir(), "shared.lua", "first")
	second := testutil.WriteFile(t, t.TempDir(), "shared.lua", "second")

	b := newBuilder(t, Options{Collisions: CollisionFail})
	require.NoError(t, b.File(ctx, first, "shared.lua"))
	err := b.File(ctx, second, "shared.lua")

	var collision *CollisionError
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, "shared.lua", collision.Dest)
	assert.Equal(t, first, collision.Previous)
}

func TestBuilder_RuleOutputCollision(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	first := testutil.WriteFile(t, src, "a/thing.multi", "first")
	second := testutil.WriteFile(t, src, "b/thing.multi", "second")
	table := newTable(t, fanOutRule())

	logger, capture := testutil.NewCaptureLogger()
	b := newBuilder(t, Options{Rules: table, Runner: &fakeRunner{outputs: argsAfterSource}, Logger: logger})
	require.NoError(t, b.File(ctx, first, "thing.multi"))
	require.NoError(t, b.File(ctx, second, "thing.multi"))
	finish(t, b)
	assert.Equal(t, 3, b.Stats().Collisions, "one per shared output")
	assert.Equal(t, 3, capture.Count("overridden"))

	strict := newBuilder(t, Options{Rules: table, Runner: &fakeRunner{outputs: argsAfterSource}, Collisions: CollisionFail})
	require.NoError(t, strict.File(ctx, first, "thing.multi"))
	err := strict.File(ctx, second, "thing.multi")
	var collision *CollisionError
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, "thing.a", collision.Dest)
	assert.Equal(t, first, collision.Previous)
}

func TestBuilder_HardLinkFidelity(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	input := testutil.WriteFile(t, src, "a.txt", "original")

	b := newBuilder(t, Options{Linker: HardLinker{}})
	require.NoError(t, b.File(ctx, input, "a.txt"))
	finish(t, b)

	require.NoError(t, os.WriteFile(filepath.Join(b.Root(), "a.txt"), []byte("edited"), 0o600))
	assert.Equal(t, "edited", testutil.ReadFile(t, src, "a.txt"))
}

func TestBuilder_Protocol(t *testing.T) {
	ctx := context.Background()
	input := testutil.WriteFile(t, t.TempDir(), "a.txt", "a")

	t.Run("finalize twice", func(t *testing.T) {
		b := newBuilder(t, Options{})
		require.NoError(t, b.Finalize(ctx))
		assert.ErrorIs(t, b.Finalize(ctx), ErrFinalizedTwice)
		assert.NoError(t, b.Close())
	})

	t.Run("close without finalize", func(t *testing.T) {
		b := newBuilder(t, Options{})
		require.NoError(t, b.File(ctx, input, "a.txt"))
		assert.ErrorIs(t, b.Close(), ErrNotFinalized)
		assert.NoError(t, b.Close(), "second close is a no-op")
	})

	t.Run("stage after finalize", func(t *testing.T) {
		b := newBuilder(t, Options{})
		require.NoError(t, b.Finalize(ctx))
		assert.ErrorIs(t, b.File(ctx, input, "a.txt"), ErrFinalized)
		assert.ErrorIs(t, b.Dir(ctx, "sub"), ErrFinalized)
	})

	t.Run("cancelled context", func(t *testing.T) {
		b := newBuilder(t, Options{})
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, b.File(cctx, input, "a.txt"), context.Canceled)
	})
}

func TestBuilder_Dir(t *testing.T) {
	b := newBuilder(t, Options{})
	require.NoError(t, b.Dir(context.Background(), filepath.Join("a", "b")))
	info, err := os.Stat(filepath.Join(b.Root(), "a", "b"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, 1, b.Stats().Dirs)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{OutputRoot: t.TempDir(), Collisions: "loud"})
	assert.Error(t, err)
}

func TestParseCollisionPolicy(t *testing.T) {
	p, err := ParseCollisionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, CollisionWarn, p)

	p, err = ParseCollisionPolicy("fail")
	require.NoError(t, err)
	assert.Equal(t, CollisionFail, p)
}

func TestPreviousOutput_Lookup(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFiles(t, root, "a", "dir/b")

	paths, ok := PreviousOutput{Root: root}.Lookup([]string{"a", filepath.Join("dir", "b")})
	require.True(t, ok)
	assert.Equal(t, []string{filepath.Join(root, "a"), filepath.Join(root, "dir", "b")}, paths)

	_, ok = PreviousOutput{Root: root}.Lookup([]string{"a", "missing"})
	assert.False(t, ok)

	_, ok = PreviousOutput{Root: root}.Lookup([]string{"dir"})
	assert.False(t, ok, "directories are not outputs")

	_, ok = PreviousOutput{}.Lookup([]string{"a"})
	assert.False(t, ok)
}
