// Package builder materializes a merge into an output tree.
//
// Files matched by a build rule are built (or reused from a previous output
// root) as soon as they are staged. Everything else is queued and hard
// linked into place by Finalize, after every rule has run, so the last
// staged source for a destination wins.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/leapstack-labs/laspad/internal/rules"
)

// CollisionPolicy decides what happens when two passthrough sources are
// staged at the same destination.
type CollisionPolicy string

// Collision policies.
const (
	CollisionWarn   CollisionPolicy = "warn"
	CollisionFail   CollisionPolicy = "fail"
	CollisionSilent CollisionPolicy = "silent"
)

// ParseCollisionPolicy validates a policy name. Empty means warn.
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch p := CollisionPolicy(s); p {
	case "":
		return CollisionWarn, nil
	case CollisionWarn, CollisionFail, CollisionSilent:
		return p, nil
	default:
		return "", fmt.Errorf("unknown collision policy %q (expected warn, fail or silent)", s)
	}
}

// Outcome is what happened to a rule-driven file.
type Outcome string

// Outcomes.
const (
	OutcomeBuilt  Outcome = "built"
	OutcomeCached Outcome = "cached"
	OutcomeFailed Outcome = "failed"
)

// Step records one rule-driven file.
type Step struct {
	Source string
	// Dest is the primary output, relative to the output root.
	Dest     string
	Rule     string
	Outputs  []string
	Outcome  Outcome
	Duration time.Duration
	// Fingerprint is the source hash, set when a fingerprint store is attached.
	Fingerprint string
}

// Stats counts what a builder did.
type Stats struct {
	Dirs        int
	Staged      int
	Built       int
	Cached      int
	Passthrough int
	Collisions  int
}

// Options configure a Builder.
type Options struct {
	// OutputRoot is the directory being built. It must exist.
	OutputRoot string
	// Cache supplies previous outputs (optional).
	Cache Cache
	// Rules maps extensions to build steps (optional; nil passes everything through).
	Rules *rules.Table
	// Runner executes build commands. Defaults to ExecRunner.
	Runner Runner
	// Linker places cached and passthrough files. Defaults to auto.
	Linker Linker
	// Fingerprints invalidates cache hits whose source changed (optional).
	Fingerprints Fingerprints
	Collisions   CollisionPolicy
	Logger       *slog.Logger
}

type staged struct {
	src string
	rel string
}

// Builder is a Sink that writes a live output tree. It is not safe for
// concurrent use.
type Builder struct {
	root         string
	cache        Cache
	rules        *rules.Table
	runner       Runner
	linker       Linker
	fingerprints Fingerprints
	collisions   CollisionPolicy
	logger       *slog.Logger

	queue     []staged
	queued    map[string]int
	produced  map[string]string
	steps     []Step
	stats     Stats
	finalized bool
	closed    bool
}

// New creates a builder.
func New(opts Options) (*Builder, error) {
	if opts.OutputRoot == "" {
		return nil, errors.New("builder requires an output root")
	}
	root, err := filepath.Abs(opts.OutputRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output root: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	policy, err := ParseCollisionPolicy(string(opts.Collisions))
	if err != nil {
		return nil, err
	}
	runner := opts.Runner
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	linker := opts.Linker
	if linker == nil {
		linker = &AutoLinker{logger: logger}
	}

	return &Builder{
		root:         root,
		cache:        opts.Cache,
		rules:        opts.Rules,
		runner:       runner,
		linker:       linker,
		fingerprints: opts.Fingerprints,
		collisions:   policy,
		logger:       logger,
		queued:       make(map[string]int),
		produced:     make(map[string]string),
	}, nil
}

// Root returns the output root.
func (b *Builder) Root() string {
	return b.root
}

// Dir creates a directory in the output tree.
func (b *Builder) Dir(ctx context.Context, rel string) error {
	if err := b.checkStaging(ctx); err != nil {
		return err
	}
	path := filepath.Join(b.root, rel)
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	b.stats.Dirs++
	return nil
}

// File stages src at rel. A file with a build rule is built or reused now;
// any other file is queued for Finalize.
func (b *Builder) File(ctx context.Context, src, rel string) error {
	if err := b.checkStaging(ctx); err != nil {
		return err
	}
	b.stats.Staged++

	if rule, ok := b.rules.Lookup(src); ok {
		return b.build(ctx, rule, src, rel)
	}
	return b.enqueue(src, rel)
}

func (b *Builder) checkStaging(ctx context.Context) error {
	if b.finalized {
		return ErrFinalized
	}
	return ctx.Err()
}

func (b *Builder) enqueue(src, rel string) error {
	i, exists := b.queued[rel]
	if !exists {
		b.queued[rel] = len(b.queue)
		b.queue = append(b.queue, staged{src: src, rel: rel})
		return nil
	}

	if err := b.collide(rel, b.queue[i].src, src); err != nil {
		return err
	}
	b.queue[i].src = src
	return nil
}

// collide applies the collision policy to a destination staged twice.
func (b *Builder) collide(rel, prev, src string) error {
	b.stats.Collisions++
	switch b.collisions {
	case CollisionFail:
		return &CollisionError{Dest: rel, Previous: prev, Source: src}
	case CollisionWarn:
		b.logger.Warn("file overridden by later dependency", "path", rel, "previous", prev, "source", src)
	case CollisionSilent:
	}
	return nil
}

func (b *Builder) build(ctx context.Context, rule rules.Rule, src, rel string) error {
	start := time.Now()
	outputs := rule.Outputs(rel)
	step := Step{Source: src, Rule: rule.Ext, Outputs: outputs}
	if len(outputs) > 0 {
		step.Dest = outputs[0]
	}
	for _, out := range outputs {
		if prev, ok := b.produced[out]; ok {
			if err := b.collide(out, prev, src); err != nil {
				return err
			}
		}
		b.produced[out] = src
	}

	if b.fingerprints != nil {
		hash, err := HashFile(src)
		if err != nil {
			return err
		}
		step.Fingerprint = hash
	}

	hit, err := b.tryCache(ctx, step)
	if err != nil {
		return err
	}
	if hit {
		step.Outcome = OutcomeCached
		step.Duration = time.Since(start)
		b.steps = append(b.steps, step)
		b.stats.Cached++
		b.logger.Debug("reused cached outputs", "path", rel, "rule", rule.Ext, "outputs", len(outputs))
		return nil
	}

	if err := b.run(ctx, rule, src, rel, outputs); err != nil {
		step.Outcome = OutcomeFailed
		step.Duration = time.Since(start)
		b.steps = append(b.steps, step)
		return fmt.Errorf("failed to build %s: %w", rel, err)
	}

	step.Outcome = OutcomeBuilt
	step.Duration = time.Since(start)
	b.steps = append(b.steps, step)
	b.stats.Built++
	b.logger.Info("built", "path", rel, "rule", rule.Ext, "duration", step.Duration.Round(time.Millisecond))
	return nil
}

// tryCache links every output from the cache when all of them exist and the
// recorded fingerprint, if any, still matches.
func (b *Builder) tryCache(ctx context.Context, step Step) (bool, error) {
	if b.cache == nil {
		return false, nil
	}
	cached, ok := b.cache.Lookup(step.Outputs)
	if !ok {
		return false, nil
	}

	if b.fingerprints != nil && step.Dest != "" {
		recorded, found, err := b.fingerprints.Fingerprint(ctx, step.Dest)
		if err != nil {
			return false, fmt.Errorf("failed to read fingerprint for %s: %w", step.Dest, err)
		}
		if found && recorded != step.Fingerprint {
			b.logger.Debug("source changed since last build", "path", step.Dest)
			return false, nil
		}
	}

	for i, out := range step.Outputs {
		dst := filepath.Join(b.root, out)
		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return false, fmt.Errorf("failed to create directory for %s: %w", dst, err)
		}
		if err := b.linker.Link(cached[i], dst); err != nil {
			return false, fmt.Errorf("failed to reuse %s: %w", cached[i], err)
		}
	}
	return true, nil
}

// run invokes the rule command. On failure, outputs that did not exist
// before the command ran are removed.
func (b *Builder) run(ctx context.Context, rule rules.Rule, src, rel string, outputs []string) error {
	existed := make([]bool, len(outputs))
	for i, out := range outputs {
		dst := filepath.Join(b.root, out)
		if _, err := os.Lstat(dst); err == nil {
			existed[i] = true
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", dst, err)
		}
	}

	cmd := rule.Command(rules.Invocation{Src: src, Dst: rel, OutputRoot: b.root})
	b.logger.Debug("building", "path", rel, "rule", rule.Ext, "command", cmd.String())

	err := b.runner.Run(ctx, cmd)
	if err == nil {
		for _, out := range outputs {
			if _, statErr := os.Lstat(filepath.Join(b.root, out)); statErr != nil {
				b.logger.Warn("build command did not produce an expected output", "path", out, "rule", rule.Ext)
			}
		}
		return nil
	}

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		err = &CommandError{Command: cmd, ExitCode: -1, Err: err}
	}

	var cleanup []error
	for i, out := range outputs {
		if existed[i] {
			continue
		}
		if rmErr := os.Remove(filepath.Join(b.root, out)); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			cleanup = append(cleanup, rmErr)
		}
	}
	if len(cleanup) > 0 {
		return errors.Join(append([]error{err}, cleanup...)...)
	}
	return err
}

// Finalize links every queued passthrough file into the output tree, in
// staging order, replacing existing files. It must be called exactly once.
func (b *Builder) Finalize(ctx context.Context) error {
	if b.finalized {
		return ErrFinalizedTwice
	}
	b.finalized = true

	b.logger.Debug("finalizing passthrough files", "count", len(b.queue))
	for _, s := range b.queue {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst := filepath.Join(b.root, s.rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", dst, err)
		}
		if err := b.linker.Link(s.src, dst); err != nil {
			return fmt.Errorf("failed to place %s: %w", s.rel, err)
		}
		b.stats.Passthrough++
	}
	b.queue = nil
	return nil
}

// Close ends the build. It reports ErrNotFinalized when Finalize never ran.
func (b *Builder) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if !b.finalized {
		return ErrNotFinalized
	}
	return nil
}

// Stats returns counters for the build so far.
func (b *Builder) Stats() Stats {
	return b.stats
}

// Steps returns the rule-driven files processed so far.
func (b *Builder) Steps() []Step {
	return append([]Step(nil), b.steps...)
}
