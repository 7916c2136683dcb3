package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteFiles creates each slash-separated path beneath root.
// The content of every file is its own relative path.
func WriteFiles(t testing.TB, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		WriteFile(t, root, f, f)
	}
}

// WriteFile creates one file beneath root, creating parents as needed.
func WriteFile(t testing.TB, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// ReadFile returns the content of a slash-separated path beneath root.
func ReadFile(t testing.TB, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

// Exists reports whether a slash-separated path beneath root exists.
func Exists(root, rel string) bool {
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	return err == nil
}
