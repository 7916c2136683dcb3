// Package walker enumerates source trees for merging.
// Hidden entries (names starting with ".") are never yielded and never descended into.
package walker

import (
	"fmt"
	"io/fs"
	"iter"
	"path/filepath"
	"strings"
)

// Entry is a single file or directory found beneath a walk root.
type Entry struct {
	// Rel is the path relative to the walk root, using the OS separator.
	Rel string
	// Abs is the absolute (or root-joined) path on disk.
	Abs string
	// IsDir reports whether the entry is a directory.
	IsDir bool
}

// IsHidden reports whether a file name marks an internal entry that must not be merged.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// Walk returns a lazy sequence over every entry beneath root, in lexical order.
// The root itself is not yielded. Directories are yielded before their contents.
// Each range over the sequence starts a fresh walk, so the sequence can be reused.
// Breaking out of the range stops the walk.
// A symlinked root is followed; Abs paths stay beneath root as given.
func Walk(root string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		target := root
		if resolved, err := filepath.EvalSymlinks(root); err == nil {
			target = resolved
		}

		stopped := false
		err := filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == target {
					return err
				}
				if !yield(Entry{Abs: path}, fmt.Errorf("failed to read %s: %w", path, err)) {
					stopped = true
					return filepath.SkipAll
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if path == target {
				return nil
			}

			if IsHidden(d.Name()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			rel, err := filepath.Rel(target, path)
			if err != nil {
				return fmt.Errorf("failed to relativize %s: %w", path, err)
			}

			if !yield(Entry{Rel: rel, Abs: filepath.Join(root, rel), IsDir: d.IsDir()}, nil) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil && !stopped {
			yield(Entry{Abs: root}, fmt.Errorf("failed to walk %s: %w", root, err))
		}
	}
}

// Files collects the relative paths of all non-directory entries beneath root.
func Files(root string) ([]string, error) {
	var files []string
	for e, err := range Walk(root) {
		if err != nil {
			return nil, err
		}
		if !e.IsDir {
			files = append(files, e.Rel)
		}
	}
	return files, nil
}
