package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/laspad/internal/builder"
	"github.com/leapstack-labs/laspad/internal/project"
	"github.com/leapstack-labs/laspad/internal/rules"
	"github.com/leapstack-labs/laspad/internal/testutil"
)

const projectConfig = `
version = 1

[branch.master]
name = "Test Mod"
tags = []
`

var testTools = rules.Tools{Overview: "overview", Texture: "texture"}

// toolRunner imitates the default tools: the overview tool writes the level
// and its overviews into the output root, the texture tool writes the path
// given as its last argument.
type toolRunner struct {
	mu    sync.Mutex
	calls []rules.Command
	fail  string
}

func (r *toolRunner) Run(_ context.Context, cmd rules.Command) error {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	r.mu.Unlock()

	var outputs []string
	switch cmd.Program {
	case "overview":
		src, root := cmd.Args[0], cmd.Args[1]
		for _, rel := range rules.LevelRule(testTools).Outputs(filepath.Base(src)) {
			outputs = append(outputs, filepath.Join(root, rel))
		}
	case "texture":
		outputs = []string{cmd.Args[len(cmd.Args)-1]}
	}
	for _, out := range outputs {
		if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
			return err
		}
		if err := os.WriteFile(out, []byte(cmd.String()), 0o600); err != nil {
			return err
		}
	}
	if r.fail != "" && cmd.Program == r.fail {
		return &builder.CommandError{Command: cmd, ExitCode: 2}
	}
	return nil
}

func (r *toolRunner) count(program string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Program == program {
			n++
		}
	}
	return n
}

func (r *toolRunner) find(program, substr string) (rules.Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.Program == program && strings.Contains(c.String(), substr) {
			return c, true
		}
	}
	return rules.Command{}, false
}

func newProject(t *testing.T) (string, *project.Project) {
	t.Helper()
	root := t.TempDir()
	testutil.WriteFile(t, root, project.ConfigFile, projectConfig)
	require.NoError(t, os.MkdirAll(filepath.Join(root, project.SourceDir), 0o750))
	return root, loadProject(t, root)
}

func loadProject(t *testing.T, root string) *project.Project {
	t.Helper()
	p, err := project.Load(root)
	require.NoError(t, err)
	return p
}

func newEngine(t *testing.T, runner builder.Runner, cfg Config) *Engine {
	t.Helper()
	cfg.Tools = testTools
	cfg.Runner = runner
	if cfg.Logger == nil {
		cfg.Logger = testutil.NewTestLogger(t)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestCompile_Scenario(t *testing.T) {
	root, p := newProject(t)
	testutil.WriteFile(t, root, "src/level.level", "level")
	testutil.WriteFile(t, root, "src/lua/Client.lua", "client")
	testutil.WriteFiles(t, root,
		"dependencies/textures/source/materials/texture_normal.psd",
		"dependencies/textures/source/materials/wall.psd",
	)

	runner := &toolRunner{}
	e := newEngine(t, runner, Config{})

	result, err := e.Compile(context.Background(), p)
	require.NoError(t, err)

	out := filepath.Join(root, "compiled")
	assert.Equal(t, out, result.Output)
	for _, rel := range []string{
		"level.level",
		"overviews/level.tga",
		"overviews/level.hmp",
		"materials/texture.dds",
		"materials/wall.dds",
		"lua/Client.lua",
	} {
		assert.True(t, testutil.Exists(out, filepath.FromSlash(rel)), rel)
	}
	assert.False(t, testutil.Exists(out, filepath.Join("materials", "texture_normal.dds")))
	assert.False(t, testutil.Exists(out, filepath.Join("materials", "wall.psd")), "sources with a rule are not copied")

	normal, ok := runner.find("texture", "texture_normal.psd")
	require.True(t, ok)
	assert.Equal(t, []string{"-normal", "-bc3n"}, normal.Args[:2])
	assert.Equal(t, filepath.Join(out, "materials", "texture.dds"), normal.Args[len(normal.Args)-1])

	color, ok := runner.find("texture", "wall.psd")
	require.True(t, ok)
	assert.Equal(t, []string{"-color", "-bc3"}, color.Args[:2])

	assert.Equal(t, 1, runner.count("overview"))
	assert.Equal(t, 3, result.Stats.Built)
	assert.Equal(t, 1, result.Stats.Passthrough)
	assert.Zero(t, result.Stats.Collisions)
	assert.Equal(t, 2, result.Dependencies)
	assert.Contains(t, result.Summary(), "3 built")
}

func TestCompile_NormalMapCollidesWithPlainTexture(t *testing.T) {
	root, p := newProject(t)
	testutil.WriteFiles(t, root,
		"src/materials/texture.psd",
		"src/materials/texture_normal.psd",
	)

	logger, capture := testutil.NewCaptureLogger()
	e := newEngine(t, &toolRunner{}, Config{Logger: logger})
	result, err := e.Compile(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.Collisions)
	assert.Equal(t, 1, capture.Count("overridden"))

	e = newEngine(t, &toolRunner{}, Config{Collisions: builder.CollisionFail})
	_, err = e.Compile(context.Background(), p)
	var collision *builder.CollisionError
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, filepath.Join("materials", "texture.dds"), collision.Dest)
}

func TestCompile_Idempotent(t *testing.T) {
	root, p := newProject(t)
	testutil.WriteFile(t, root, "src/level.level", "level")
	testutil.WriteFile(t, root, "src/a.txt", "a")

	runner := &toolRunner{}
	e := newEngine(t, runner, Config{})
	ctx := context.Background()

	_, err := e.Compile(ctx, p)
	require.NoError(t, err)
	second, err := e.Compile(ctx, p)
	require.NoError(t, err)

	assert.Equal(t, 1, runner.count("overview"), "second compile reuses every output")
	assert.Equal(t, 1, second.Stats.Cached)
	assert.Equal(t, 0, second.Stats.Built)
	assert.True(t, testutil.Exists(root, filepath.Join("compiled", "overviews", "level.hmp")))
	assert.False(t, testutil.Exists(root, ".compiled.prev"), "previous generation removed")
}

func TestCompile_StalePreviousIsReplaced(t *testing.T) {
	root, p := newProject(t)
	testutil.WriteFile(t, root, "src/a.txt", "a")
	testutil.WriteFile(t, root, ".compiled.prev/junk.txt", "junk")

	e := newEngine(t, &toolRunner{}, Config{})
	_, err := e.Compile(context.Background(), p)
	require.NoError(t, err)

	assert.False(t, testutil.Exists(root, ".compiled.prev"))
	assert.False(t, testutil.Exists(root, filepath.Join("compiled", "junk.txt")))
}

func TestCompile_LastDependencyWins(t *testing.T) {
	root, p := newProject(t)
	testutil.WriteFile(t, root, "dependencies/a/lua/shared.lua", "a")
	testutil.WriteFile(t, root, "dependencies/a/lua/only_a.lua", "a")
	testutil.WriteFile(t, root, "dependencies/b/lua/shared.lua", "b")
	testutil.WriteFile(t, root, "dependencies/b/lua/both.lua", "b")
	testutil.WriteFile(t, root, "src/lua/both.lua", "project")

	logger, capture := testutil.NewCaptureLogger()
	e := newEngine(t, &toolRunner{}, Config{Logger: logger})
	result, err := e.Compile(context.Background(), p)
	require.NoError(t, err)

	out := filepath.Join(root, "compiled")
	assert.Equal(t, "b", testutil.ReadFile(t, out, filepath.Join("lua", "shared.lua")))
	assert.Equal(t, "a", testutil.ReadFile(t, out, filepath.Join("lua", "only_a.lua")))
	assert.Equal(t, "project", testutil.ReadFile(t, out, filepath.Join("lua", "both.lua")))
	assert.Equal(t, 2, result.Stats.Collisions)
	assert.Equal(t, 2, capture.Count("overridden"))
}

func TestCompile_CollisionFail(t *testing.T) {
	root, p := newProject(t)
	testutil.WriteFile(t, root, "dependencies/a/shared.lua", "a")
	testutil.WriteFile(t, root, "src/shared.lua", "project")

	e := newEngine(t, &toolRunner{}, Config{Collisions: builder.CollisionFail})
	_, err := e.Compile(context.Background(), p)

	var collision *builder.CollisionError
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, "shared.lua", collision.Dest)
}

func TestCompile_HiddenEntriesExcluded(t *testing.T) {
	root, p := newProject(t)
	testutil.WriteFiles(t, root,
		"src/.git/HEAD",
		"src/.hidden.lua",
		"src/visible.lua",
		"dependencies/prebuilt/.modinfo",
		"dependencies/prebuilt/lua/pre.lua",
		"dependencies/.cache/x.lua",
	)

	e := newEngine(t, &toolRunner{}, Config{})
	_, err := e.Compile(context.Background(), p)
	require.NoError(t, err)

	out := filepath.Join(root, "compiled")
	assert.True(t, testutil.Exists(out, "visible.lua"))
	assert.True(t, testutil.Exists(out, filepath.Join("lua", "pre.lua")))
	assert.False(t, testutil.Exists(out, ".git"))
	assert.False(t, testutil.Exists(out, ".hidden.lua"))
	assert.False(t, testutil.Exists(out, ".modinfo"))
	assert.False(t, testutil.Exists(out, "x.lua"))
}

func TestCompile_SymlinkedDependency(t *testing.T) {
	root, p := newProject(t)
	target := t.TempDir()
	testutil.WriteFile(t, target, "lua/mod.lua", "linked")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dependencies"), 0o750))
	if err := os.Symlink(target, filepath.Join(root, "dependencies", "linked")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	e := newEngine(t, &toolRunner{}, Config{})
	result, err := e.Compile(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Dependencies)
	assert.Equal(t, 1, result.Stats.Staged)
	assert.Equal(t, "linked", testutil.ReadFile(t, root, filepath.Join("compiled", "lua", "mod.lua")))
}

func TestCompile_LegacyDependencyWithOnlyDirectories(t *testing.T) {
	root, p := newProject(t)
	testutil.WriteFile(t, root, "dependencies/old/mod.settings", "source_dir = \"source\"\noutput_dir = \"output\"\n")
	testutil.WriteFile(t, root, "dependencies/old/output/lua/old.lua", "old")
	testutil.WriteFile(t, root, "dependencies/broken/laspad.toml", "version = [")
	testutil.WriteFile(t, root, "dependencies/broken/src/lua/broken.lua", "broken")

	e := newEngine(t, &toolRunner{}, Config{})
	result, err := e.Compile(context.Background(), p)
	require.NoError(t, err)

	out := filepath.Join(root, "compiled")
	assert.Equal(t, "old", testutil.ReadFile(t, out, filepath.Join("lua", "old.lua")))
	assert.Equal(t, "broken", testutil.ReadFile(t, out, filepath.Join("lua", "broken.lua")))
	assert.Equal(t, 3, result.Dependencies)
	assert.NotEmpty(t, result.Warnings)
}

func TestCompile_HardLinkFidelity(t *testing.T) {
	root, p := newProject(t)
	testutil.WriteFile(t, root, "src/a.txt", "original")

	e := newEngine(t, &toolRunner{}, Config{LinkPolicy: builder.LinkPolicyLink})
	_, err := e.Compile(context.Background(), p)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "compiled", "a.txt"), []byte("edited"), 0o600))
	assert.Equal(t, "edited", testutil.ReadFile(t, root, filepath.Join("src", "a.txt")))
}

func TestCompile_CommandFailure(t *testing.T) {
	root, p := newProject(t)
	testutil.WriteFile(t, root, "src/level.level", "level")

	runner := &toolRunner{fail: "overview"}
	e := newEngine(t, runner, Config{StatePath: filepath.Join(root, ".laspad", "state.db")})

	result, err := e.Compile(context.Background(), p)
	require.Error(t, err)

	var cmdErr *builder.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 2, cmdErr.ExitCode)
	assert.False(t, errors.Is(err, builder.ErrNotFinalized))

	out := filepath.Join(root, "compiled")
	assert.False(t, testutil.Exists(out, "level.level"), "partial outputs removed")
	assert.False(t, testutil.Exists(out, filepath.Join("overviews", "level.tga")))

	run, err := e.Store().GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, "failed", string(run.Status))
	assert.Contains(t, run.Error, "exited with status 2")
}

func TestCompile_History(t *testing.T) {
	root, p := newProject(t)
	level := testutil.WriteFile(t, root, "src/level.level", "v1")

	runner := &toolRunner{}
	e := newEngine(t, runner, Config{StatePath: filepath.Join(root, ".laspad", "state.db")})
	ctx := context.Background()

	first, err := e.Compile(ctx, p)
	require.NoError(t, err)
	require.NotEmpty(t, first.RunID)

	_, err = e.Compile(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.count("overview"), "unchanged source is cached")

	require.NoError(t, os.WriteFile(level, []byte("v2"), 0o600))
	third, err := e.Compile(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 2, runner.count("overview"), "changed source is rebuilt")
	assert.Equal(t, 1, third.Stats.Built)

	runs, err := e.Store().ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, third.RunID, runs[0].ID)
	assert.Equal(t, "completed", string(runs[0].Status))
	assert.Equal(t, 1, runs[0].Built)

	steps, err := e.Store().ListSteps(ctx, first.RunID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "level.level", steps[0].Dest)
	assert.Equal(t, "built", steps[0].Outcome)
	assert.Equal(t, "level", steps[0].Rule)

	hash, ok, err := e.Store().Fingerprint(ctx, "level.level")
	require.NoError(t, err)
	require.True(t, ok)
	current, err := builder.HashFile(level)
	require.NoError(t, err)
	assert.Equal(t, current, hash)
}

type recordingSink struct {
	entries []string
}

func (s *recordingSink) Dir(_ context.Context, rel string) error {
	s.entries = append(s.entries, "dir:"+filepath.ToSlash(rel))
	return nil
}

func (s *recordingSink) File(_ context.Context, _, rel string) error {
	s.entries = append(s.entries, "file:"+filepath.ToSlash(rel))
	return nil
}

func TestMerge_Order(t *testing.T) {
	root, p := newProject(t)
	testutil.WriteFiles(t, root,
		"dependencies/a/output/lua/a.lua",
		"dependencies/b/b.lua",
		"src/lua/p.lua",
	)

	e := newEngine(t, &toolRunner{}, Config{})
	sink := &recordingSink{}
	plan, err := e.Merge(context.Background(), p, sink)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"dir:lua", "file:lua/a.lua",
		"file:b.lua",
		"dir:lua", "file:lua/p.lua",
	}, sink.entries)
	assert.Len(t, plan.Dependencies, 3)
	assert.False(t, testutil.Exists(root, "compiled"), "merge does not compile")
}

func TestMerge_MissingSourceIsWarning(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, project.ConfigFile, projectConfig)
	p := loadProject(t, root)

	e := newEngine(t, &toolRunner{}, Config{})
	plan, err := e.Merge(context.Background(), p, &recordingSink{})
	require.NoError(t, err)
	assert.NotEmpty(t, plan.Warnings)
}

func TestPackage(t *testing.T) {
	root, p := newProject(t)
	testutil.WriteFile(t, root, "src/level.level", "level")
	testutil.WriteFile(t, root, "src/lua/a.lua", "a")

	tests := []struct {
		name      string
		raw       bool
		wantNames []string
	}{
		{
			name:      "compiled",
			wantNames: []string{".modinfo", "level.level", "lua/a.lua", "overviews/level.hmp", "overviews/level.tga"},
		},
		{
			name:      "raw",
			raw:       true,
			wantNames: []string{".modinfo", "level.level", "lua/a.lua"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, &toolRunner{}, Config{})
			path := filepath.Join(t.TempDir(), "mod.zip")

			result, err := e.Package(context.Background(), p, PackageOptions{Path: path, Raw: tt.raw})
			require.NoError(t, err)
			assert.Equal(t, project.DefaultBranch, result.Branch)
			assert.Equal(t, tt.raw, result.Compile == nil)

			zr, err := zip.OpenReader(path)
			require.NoError(t, err)
			defer zr.Close()

			var names []string
			for _, f := range zr.File {
				names = append(names, f.Name)
			}
			assert.Equal(t, ".modinfo", names[0])
			assert.ElementsMatch(t, tt.wantNames, names)
		})
	}
}

func TestPackage_UnknownBranch(t *testing.T) {
	_, p := newProject(t)
	e := newEngine(t, &toolRunner{}, Config{})

	_, err := e.Package(context.Background(), p, PackageOptions{Branch: "beta"})
	assert.ErrorContains(t, err, "beta")
}

func TestNew_InvalidPolicies(t *testing.T) {
	_, err := New(Config{LinkPolicy: "symlink"})
	assert.Error(t, err)

	_, err = New(Config{Collisions: "loud"})
	assert.Error(t, err)
}

func TestResult_Summary(t *testing.T) {
	r := &Result{
		Dependencies: 3,
		Warnings:     []string{"missing"},
		Stats:        builder.Stats{Staged: 10, Built: 1, Cached: 2, Passthrough: 7, Collisions: 1},
	}
	assert.Equal(t, "compiled 10 files from 3 sources in 0s: 1 built, 2 cached, 7 linked, 1 overridden (1 warnings)", r.Summary())
}
