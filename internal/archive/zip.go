// Package archive packages a merged tree into a zip file.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/leapstack-labs/laspad/internal/project"
)

// ErrClosed is returned when writing to a closed sink.
var ErrClosed = errors.New("archive already closed")

// ZipSink writes every staged file into a zip archive. Entry names always
// use forward slashes. A .modinfo entry naming the branch is written first.
type ZipSink struct {
	zw      *zip.Writer
	file    *os.File
	logger  *slog.Logger
	names   map[string]int
	files   int
	modTime time.Time
	closed  bool
}

// Options configure a ZipSink.
type Options struct {
	// ModInfo is written as the first entry.
	ModInfo project.ModInfo
	// ModTime stamps every entry; zero uses the time the sink was created.
	ModTime time.Time
	Logger  *slog.Logger
}

// NewZipSink writes an archive to w. The caller owns w; Close only
// finishes the archive.
func NewZipSink(w io.Writer, opts Options) (*ZipSink, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now()
	}

	s := &ZipSink{
		zw:      zip.NewWriter(w),
		logger:  logger,
		names:   make(map[string]int),
		modTime: modTime,
	}
	if err := s.write(project.ModInfoFile, func(w io.Writer) error {
		_, err := w.Write(opts.ModInfo.Encode())
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", project.ModInfoFile, err)
	}
	return s, nil
}

// Create writes an archive to a new file at path.
func Create(path string, opts Options) (*ZipSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.Create(path) //nolint:gosec // archive path comes from settings
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	s, err := NewZipSink(f, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	s.file = f
	return s, nil
}

// Dir is a no-op: zip directories are implied by their entries.
func (s *ZipSink) Dir(ctx context.Context, _ string) error {
	if s.closed {
		return ErrClosed
	}
	return ctx.Err()
}

// File adds src to the archive at rel. A later file with the same name
// shadows the earlier one.
func (s *ZipSink) File(ctx context.Context, src, rel string) error {
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	name := filepath.ToSlash(rel)
	if n := s.names[name]; n > 0 {
		s.logger.Warn("duplicate archive entry, last one wins on extraction", "path", name)
	}

	err := s.write(name, func(w io.Writer) error {
		f, err := os.Open(src) //nolint:gosec // src comes from the merge walk
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", name, err)
	}
	s.files++
	return nil
}

func (s *ZipSink) write(name string, fill func(io.Writer) error) error {
	w, err := s.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: s.modTime,
	})
	if err != nil {
		return err
	}
	if err := fill(w); err != nil {
		return err
	}
	s.names[name]++
	return nil
}

// Files returns the number of files added, excluding .modinfo.
func (s *ZipSink) Files() int {
	return s.files
}

// Close finishes the archive and closes the file opened by Create.
func (s *ZipSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.zw.Close()
	if s.file != nil {
		if cerr := s.file.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}
