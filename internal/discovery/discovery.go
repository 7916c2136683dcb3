// Package discovery decides which directories of a dependency root hold mergeable content.
//
// Heuristics are tried in a fixed order and only the first that applies is
// used. A missing source directory is reported as a warning, never an error.
package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/laspad/internal/project"
)

// ConventionalDirs are the names guessed when no marker is present, in walk order.
var ConventionalDirs = []string{"source", "output", "src"}

// Strategy names the heuristic that selected the directories.
type Strategy int

// Discovery strategies, in evaluation order.
const (
	StrategyOverride Strategy = iota
	StrategyPrebuilt
	StrategyProject
	StrategyLegacy
	StrategyConventional
	StrategyRoot
)

// String returns a short human-readable name.
func (s Strategy) String() string {
	switch s {
	case StrategyOverride:
		return "override"
	case StrategyPrebuilt:
		return "prebuilt"
	case StrategyProject:
		return "project"
	case StrategyLegacy:
		return "legacy"
	case StrategyConventional:
		return "conventional"
	case StrategyRoot:
		return "root"
	default:
		return "unknown"
	}
}

// Options tune a single discovery.
type Options struct {
	// Override, when set, bypasses the heuristics.
	Override *project.SourceOverride
	Logger   *slog.Logger
}

// Result is the outcome of discovering one root.
type Result struct {
	Root     string
	Strategy Strategy
	// Dirs are absolute directories to walk, in merge order. Empty means the
	// dependency contributes nothing.
	Dirs []string
	// Warnings are non-fatal problems encountered.
	Warnings []string
}

// Empty reports whether nothing will be merged from this root.
func (r *Result) Empty() bool {
	return len(r.Dirs) == 0
}

// Discover selects the directories to walk beneath root.
func Discover(root string, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r := &Result{Root: root, Strategy: StrategyRoot}
			r.warn(logger, "dependency root does not exist", root)
			return r, nil
		}
		return nil, fmt.Errorf("failed to stat dependency root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dependency root %s is not a directory", root)
	}

	if opts.Override != nil {
		r := &Result{Root: root, Strategy: StrategyOverride}
		r.addPair(logger, opts.Override.SourceDir, opts.Override.OutputDir)
		return r.done(logger), nil
	}

	// (a) already-built content is merged verbatim.
	if exists(filepath.Join(root, project.ModInfoFile)) {
		return (&Result{Root: root, Strategy: StrategyPrebuilt, Dirs: []string{root}}).done(logger), nil
	}

	// (b) structured project: conventional src.
	if exists(filepath.Join(root, project.ConfigFile)) || exists(filepath.Join(root, project.ScriptFile)) {
		r := &Result{Root: root, Strategy: StrategyProject}
		r.addDir(logger, filepath.Join(root, project.SourceDir))
		return r.done(logger), nil
	}

	// (c) legacy mod.settings names its own directories.
	legacyPath := filepath.Join(root, project.LegacyFile)
	if exists(legacyPath) {
		data, err := os.ReadFile(legacyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", legacyPath, err)
		}
		src, hasSrc, out, hasOut := project.LegacyDirs(string(data))
		if hasSrc || hasOut {
			r := &Result{Root: root, Strategy: StrategyLegacy}
			switch {
			case hasSrc && hasOut:
				r.addPair(logger, src, out)
			case hasSrc:
				r.addDir(logger, filepath.Join(root, src))
			default:
				r.addDir(logger, filepath.Join(root, out))
			}
			return r.done(logger), nil
		}
		logger.Debug("mod.settings names no directories, continuing", "root", root)
	}

	// (d) guess conventional names, walking every one present.
	var found []string
	for _, name := range ConventionalDirs {
		dir := filepath.Join(root, name)
		if isDir(dir) {
			found = append(found, dir)
		}
	}
	if len(found) > 0 {
		return (&Result{Root: root, Strategy: StrategyConventional, Dirs: found}).done(logger), nil
	}

	// (e) the root itself.
	return (&Result{Root: root, Strategy: StrategyRoot, Dirs: []string{root}}).done(logger), nil
}

// addPair adds the source and output directories of an explicit pair.
// Both are walked, source first, when both exist and differ.
func (r *Result) addPair(logger *slog.Logger, source, output string) {
	srcDir := filepath.Clean(filepath.Join(r.Root, source))
	outDir := filepath.Clean(filepath.Join(r.Root, output))

	srcOK, outOK := isDir(srcDir), isDir(outDir)
	if srcOK {
		r.Dirs = append(r.Dirs, srcDir)
	}
	if outOK && (!srcOK || outDir != srcDir) {
		r.Dirs = append(r.Dirs, outDir)
	}
	if !srcOK && !outOK {
		r.warn(logger, "neither source nor output directory exists", srcDir, outDir)
	}
}

func (r *Result) addDir(logger *slog.Logger, dir string) {
	if isDir(dir) {
		r.Dirs = append(r.Dirs, dir)
		return
	}
	r.warn(logger, "source directory does not exist", dir)
}

func (r *Result) warn(logger *slog.Logger, msg string, paths ...string) {
	logger.Warn(msg, "root", r.Root, "strategy", r.Strategy.String(), "paths", paths)
	r.Warnings = append(r.Warnings, fmt.Sprintf("%s: %v", msg, paths))
}

func (r *Result) done(logger *slog.Logger) *Result {
	logger.Debug("discovered sources", "root", r.Root, "strategy", r.Strategy.String(), "dirs", r.Dirs)
	return r
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
