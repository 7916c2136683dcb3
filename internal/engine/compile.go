package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/leapstack-labs/laspad/internal/builder"
	"github.com/leapstack-labs/laspad/internal/project"
	"github.com/leapstack-labs/laspad/internal/state"
)

// Result describes a finished compile.
type Result struct {
	RunID  string
	Output string
	// Dependencies is the number of merged entries, the project included.
	Dependencies int
	Warnings     []string
	Stats        builder.Stats
	Duration     time.Duration
}

// Summary renders a one-line report.
func (r *Result) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "compiled %d files from %d sources in %s: %d built, %d cached, %d linked",
		r.Stats.Staged, r.Dependencies, r.Duration.Round(time.Millisecond),
		r.Stats.Built, r.Stats.Cached, r.Stats.Passthrough)
	if r.Stats.Collisions > 0 {
		fmt.Fprintf(&sb, ", %d overridden", r.Stats.Collisions)
	}
	if len(r.Warnings) > 0 {
		fmt.Fprintf(&sb, " (%d warnings)", len(r.Warnings))
	}
	return sb.String()
}

// OutputPath returns the compile output directory of p.
func (e *Engine) OutputPath(p *project.Project) string {
	return filepath.Join(p.Path, e.outputDir)
}

func (e *Engine) previousPath(p *project.Project) string {
	return filepath.Join(p.Path, "."+e.outputDir+".prev")
}

// Compile merges p into a fresh output directory, building rule-driven
// files and reusing outputs of the previous compile where possible.
func (e *Engine) Compile(ctx context.Context, p *project.Project) (*Result, error) {
	start := time.Now()
	out := e.OutputPath(p)
	prev := e.previousPath(p)

	e.logger.Info("compiling", "project", p.Path, "output", out)

	cacheRoot, err := rotate(out, prev)
	if err != nil {
		return nil, err
	}

	b, err := e.newBuilder(out, cacheRoot)
	if err != nil {
		return nil, err
	}

	var run *state.Run
	if e.store != nil {
		run, err = e.store.CreateRun(ctx, p.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
		e.logger.Debug("created run", "run_id", run.ID)
	}

	result := &Result{Output: out}
	if run != nil {
		result.RunID = run.ID
	}

	plan, err := e.Merge(ctx, p, b)
	if plan != nil {
		result.Dependencies = len(plan.Dependencies)
		result.Warnings = plan.Warnings
	}
	if err == nil {
		err = b.Finalize(ctx)
	}
	if closeErr := b.Close(); closeErr != nil && (err == nil || !errors.Is(closeErr, builder.ErrNotFinalized)) {
		err = errors.Join(err, closeErr)
	}

	result.Stats = b.Stats()
	result.Duration = time.Since(start)

	if run != nil {
		if recErr := e.record(context.WithoutCancel(ctx), run, b, err); recErr != nil {
			e.logger.Warn("failed to record compile history", "error", recErr)
		}
	}
	if err != nil {
		return result, err
	}

	if cacheRoot != "" {
		if rmErr := os.RemoveAll(cacheRoot); rmErr != nil {
			e.logger.Warn("failed to remove previous output", "path", cacheRoot, "error", rmErr)
		}
	}

	e.logger.Info("compile complete",
		"files", result.Stats.Staged,
		"built", result.Stats.Built,
		"cached", result.Stats.Cached,
		"linked", result.Stats.Passthrough,
		"duration", result.Duration.Round(time.Millisecond))
	return result, nil
}

func (e *Engine) newBuilder(out, cacheRoot string) (*builder.Builder, error) {
	linker, err := builder.NewLinker(e.linkPolicy, e.logger)
	if err != nil {
		return nil, err
	}
	opts := builder.Options{
		OutputRoot: out,
		Rules:      e.rules,
		Runner:     e.runner,
		Linker:     linker,
		Collisions: e.collisions,
		Logger:     e.logger,
	}
	if cacheRoot != "" {
		opts.Cache = builder.PreviousOutput{Root: cacheRoot}
	}
	if e.store != nil {
		opts.Fingerprints = e.store
	}
	return builder.New(opts)
}

// rotate sets the current output aside as prev and creates a fresh output
// directory. It returns prev when there was an output to adopt as cache.
func rotate(out, prev string) (string, error) {
	if err := os.RemoveAll(prev); err != nil {
		return "", fmt.Errorf("failed to remove stale previous output %s: %w", prev, err)
	}

	cacheRoot := ""
	info, err := os.Stat(out)
	switch {
	case err == nil && info.IsDir():
		if err := os.Rename(out, prev); err != nil {
			return "", fmt.Errorf("failed to set aside previous output: %w", err)
		}
		cacheRoot = prev
	case err == nil:
		return "", fmt.Errorf("output path %s exists and is not a directory", out)
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("failed to stat output %s: %w", out, err)
	}

	if err := os.MkdirAll(out, 0o750); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return cacheRoot, nil
}

// record stores the run, its steps and the fingerprints of every rule
// output that is now current.
func (e *Engine) record(ctx context.Context, run *state.Run, b *builder.Builder, compileErr error) error {
	steps := b.Steps()
	records := make([]state.Step, len(steps))
	hashes := make(map[string]string)
	var errs []error

	for i, s := range steps {
		records[i] = state.Step{
			Source:   s.Source,
			Dest:     s.Dest,
			Rule:     s.Rule,
			Outcome:  string(s.Outcome),
			Duration: s.Duration,
		}
		switch {
		case s.Outcome == builder.OutcomeFailed:
			errs = append(errs, e.store.DeleteFingerprint(ctx, s.Dest))
		case s.Fingerprint != "":
			hashes[s.Dest] = s.Fingerprint
		}
	}

	errs = append(errs,
		e.store.RecordSteps(ctx, run.ID, records),
		e.store.SetFingerprints(ctx, hashes))

	stats := b.Stats()
	counts := state.Counts{
		Staged:      stats.Staged,
		Built:       stats.Built,
		Cached:      stats.Cached,
		Passthrough: stats.Passthrough,
		Collisions:  stats.Collisions,
	}
	status, msg := state.RunStatusCompleted, ""
	if compileErr != nil {
		status, msg = state.RunStatusFailed, compileErr.Error()
	}
	errs = append(errs, e.store.CompleteRun(ctx, run.ID, status, counts, msg))

	return errors.Join(errs...)
}
