package builder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Cache answers whether every expected output of a rule already exists
// from an earlier build.
type Cache interface {
	// Lookup returns the absolute cached path for each output, in order,
	// and true only when all of them exist.
	Lookup(outputs []string) ([]string, bool)
}

// PreviousOutput is a cache backed by the output root of the previous
// compile. It is only ever read.
type PreviousOutput struct {
	Root string
}

// Lookup implements Cache.
func (p PreviousOutput) Lookup(outputs []string) ([]string, bool) {
	if p.Root == "" || len(outputs) == 0 {
		return nil, false
	}
	paths := make([]string, len(outputs))
	for i, out := range outputs {
		path := filepath.Join(p.Root, out)
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() {
			return nil, false
		}
		paths[i] = path
	}
	return paths, true
}

// Fingerprints looks up the source fingerprint recorded when a primary
// output was last built.
type Fingerprints interface {
	Fingerprint(ctx context.Context, dest string) (hash string, ok bool, err error)
}

// FingerprintMap is an in-memory Fingerprints.
type FingerprintMap map[string]string

// Fingerprint implements Fingerprints.
func (m FingerprintMap) Fingerprint(_ context.Context, dest string) (string, bool, error) {
	h, ok := m[dest]
	return h, ok, nil
}

// HashFile returns the hex SHA-256 of a file's content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the merge walk
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
