// Package watch recompiles a project when its inputs change.
//
// Events are debounced and the callback runs on the event loop itself, so
// at most one compile is in flight; changes made while it runs are
// collected and trigger the next one.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a change triggers the callback.
const DefaultDebounce = 300 * time.Millisecond

var defaultIgnores = []string{
	".git",
	".git/**",
	".laspad",
	".laspad/**",
	".compiled.prev",
	".compiled.prev/**",
	"laspad_*",
	".modid.*",
	"**/.download-*",
	"**/.extract-*",
	"**/.extract-*/**",
	"**/*.swp",
	"**/*~",
	"**/.DS_Store",
}

// Config holds the parameters for a Watcher.
type Config struct {
	// Root is the directory to watch recursively.
	Root string
	// Ignore are extra doublestar patterns relative to Root, merged with the
	// built-in ignores.
	Ignore   []string
	Debounce time.Duration
	// OnChange receives the sorted changed paths relative to Root. Errors
	// are logged and do not stop the watcher.
	OnChange func(ctx context.Context, changed []string) error
	Logger   *slog.Logger
}

// Watcher monitors a directory tree.
type Watcher struct {
	cfg      Config
	fsw      *fsnotify.Watcher
	root     string
	ignores  []string
	debounce time.Duration
	logger   *slog.Logger
	// watched holds the resolved directories already registered.
	watched map[string]struct{}
}

// New validates the config and registers every directory under Root.
func New(cfg Config) (*Watcher, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", cfg.Root, err)
	}
	for _, pat := range cfg.Ignore {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("invalid ignore pattern %q", pat)
		}
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		root:     root,
		ignores:  slices.Concat(defaultIgnores, cfg.Ignore),
		debounce: debounce,
		logger:   logger,
		watched:  make(map[string]struct{}),
	}
	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	pending := map[string]struct{}{}
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watcher event channel closed")
			}
			rel, ok := w.relevant(event.Name)
			if !ok {
				continue
			}
			if event.Has(fsnotify.Create) {
				w.maybeAddTree(event.Name)
			}
			pending[rel] = struct{}{}
			timer.Reset(w.debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := slices.Sorted(maps.Keys(pending))
			clear(pending)
			w.logger.Debug("change detected", "paths", len(changed), "first", changed[0])
			if w.cfg.OnChange != nil {
				if err := w.cfg.OnChange(ctx, changed); err != nil && ctx.Err() == nil {
					w.logger.Error("rebuild failed", "error", err)
				}
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	return rel, !w.Ignored(rel)
}

// Ignored reports whether a slash-separated path relative to Root is ignored.
func (w *Watcher) Ignored(rel string) bool {
	for _, pat := range w.ignores {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}

// addTree watches dir and every directory below it. Symlinked directories,
// such as linked dependencies, are followed; events keep their path beneath
// Root. Each real directory is watched once.
func (w *Watcher) addTree(dir string) error {
	target, err := filepath.EvalSymlinks(dir)
	if err != nil {
		w.logger.Warn("skipping unreadable path", "path", dir, "error", err)
		return nil
	}
	return filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		rel, err := filepath.Rel(target, path)
		if err != nil {
			return nil
		}
		logical := filepath.Join(dir, rel)
		if logical != w.root {
			if _, ok := w.relevant(logical); !ok {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				return w.addTree(logical)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if _, ok := w.watched[path]; ok {
			return filepath.SkipDir
		}
		w.watched[path] = struct{}{}
		if err := w.fsw.Add(logical); err != nil {
			return fmt.Errorf("failed to watch %s: %w", logical, err)
		}
		return nil
	})
}

func (w *Watcher) maybeAddTree(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.addTree(path); err != nil {
		w.logger.Warn("failed to watch new directory", "path", path, "error", err)
	}
}
