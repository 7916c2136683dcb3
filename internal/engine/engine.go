// Package engine runs the compile pass: it resolves a project's
// dependencies, discovers which directories of each to merge, walks them in
// order and feeds every entry to a Sink.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/laspad/internal/builder"
	"github.com/leapstack-labs/laspad/internal/resolver"
	"github.com/leapstack-labs/laspad/internal/rules"
	"github.com/leapstack-labs/laspad/internal/state"
)

// DefaultOutputDir is the merged output directory, relative to the project.
const DefaultOutputDir = "compiled"

// Sink receives the merged tree. Directories are always announced before
// any entry beneath them.
type Sink interface {
	// Dir ensures a directory exists at rel.
	Dir(ctx context.Context, rel string) error
	// File places the content of src at rel.
	File(ctx context.Context, src, rel string) error
}

// Engine orchestrates merges and compiles.
type Engine struct {
	logger     *slog.Logger
	resolver   *resolver.Resolver
	rules      *rules.Table
	runner     builder.Runner
	linkPolicy builder.LinkPolicy
	collisions builder.CollisionPolicy
	outputDir  string
	store      state.Store
}

// Config holds engine configuration.
type Config struct {
	// Tools locates the external programs of the default rules.
	Tools rules.Tools
	// Rules replaces the default rule table (optional).
	Rules *rules.Table
	// Runner executes build commands (optional, defaults to subprocesses).
	Runner builder.Runner
	// LinkPolicy is link, copy or auto (default).
	LinkPolicy builder.LinkPolicy
	// Collisions is warn (default), fail or silent.
	Collisions builder.CollisionPolicy
	// OutputDir is the output directory name (default "compiled").
	OutputDir string
	// CacheDir holds downloaded remote items (default ".dependencies_steam").
	CacheDir string
	// StatePath is the history database; empty disables history.
	StatePath string
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// New creates an engine. When StatePath is set the history store is opened
// and migrated; Close releases it.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if _, err := builder.NewLinker(cfg.LinkPolicy, logger); err != nil {
		return nil, err
	}
	if _, err := builder.ParseCollisionPolicy(string(cfg.Collisions)); err != nil {
		return nil, err
	}

	table := cfg.Rules
	if table == nil {
		table = rules.Default(cfg.Tools)
	}
	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}

	e := &Engine{
		logger:     logger,
		resolver:   resolver.New(resolver.Options{CacheDir: cfg.CacheDir, Logger: logger}),
		rules:      table,
		runner:     cfg.Runner,
		linkPolicy: cfg.LinkPolicy,
		collisions: cfg.Collisions,
		outputDir:  outputDir,
	}

	if cfg.StatePath != "" {
		store := state.NewSQLiteStore(logger)
		if err := store.Open(cfg.StatePath); err != nil {
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
		if err := store.Migrate(); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize state schema: %w", err)
		}
		e.store = store
	}

	logger.Debug("initialized engine", "rules", table.Extensions(), "output_dir", outputDir, "history", cfg.StatePath != "")
	return e, nil
}

// Close releases the history store.
func (e *Engine) Close() error {
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

// Store returns the history store, or nil when history is disabled.
func (e *Engine) Store() state.Store {
	return e.store
}

// Rules returns the rule table.
func (e *Engine) Rules() *rules.Table {
	return e.rules
}
