package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Extract unpacks a zip archive into dest, creating it. Entries that would
// land outside dest are rejected.
func Extract(ctx context.Context, r io.ReaderAt, size int64, dest string) (int, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return 0, fmt.Errorf("failed to read zip archive: %w", err)
	}
	if err := os.MkdirAll(dest, 0o750); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dest, err)
	}

	count := 0
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		target, err := entryPath(dest, f.Name)
		if err != nil {
			return count, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return count, fmt.Errorf("failed to create %s: %w", target, err)
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ExtractFile unpacks the zip archive at path into dest.
func ExtractFile(ctx context.Context, path, dest string) (int, error) {
	f, err := os.Open(path) //nolint:gosec // path is a downloaded archive in the cache
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat archive: %w", err)
	}
	return Extract(ctx, f, info.Size(), dest)
}

func entryPath(dest, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes the destination", name)
	}
	return filepath.Join(dest, clean), nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", target, err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644) //nolint:gosec // target is checked against dest
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil { //nolint:gosec // archives come from the workshop the user depends on
		_ = out.Close()
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", target, err)
	}
	return nil
}
