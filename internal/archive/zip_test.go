package archive

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/laspad/internal/project"
	"github.com/leapstack-labs/laspad/internal/testutil"
)

func readEntries(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	entries := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		entries[f.Name] = string(content)
	}
	return entries
}

func TestZipSink(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	lua := testutil.WriteFile(t, src, "lua/Shine/init.lua", "print('hi')")
	tex := testutil.WriteFile(t, src, "materials/wall.dds", "dds")

	var buf bytes.Buffer
	sink, err := NewZipSink(&buf, Options{ModInfo: project.ModInfo{Name: "Shine Administration"}})
	require.NoError(t, err)

	require.NoError(t, sink.Dir(ctx, "lua"))
	require.NoError(t, sink.File(ctx, lua, filepath.Join("lua", "Shine", "init.lua")))
	require.NoError(t, sink.File(ctx, tex, filepath.Join("materials", "wall.dds")))
	assert.Equal(t, 2, sink.Files())
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 3)
	assert.Equal(t, ".modinfo", zr.File[0].Name, "marker comes first")
	assert.Equal(t, zip.Deflate, zr.File[1].Method)

	entries := readEntries(t, buf.Bytes())
	assert.Equal(t, `name = "Shine Administration"`, entries[".modinfo"])
	assert.Equal(t, "print('hi')", entries["lua/Shine/init.lua"])
	assert.Equal(t, "dds", entries["materials/wall.dds"])

	assert.ErrorIs(t, sink.File(ctx, lua, "again.lua"), ErrClosed)
}

func TestCreateAndExtract(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	a := testutil.WriteFile(t, src, "a.txt", "a")
	b := testutil.WriteFile(t, src, "deep/b.txt", "b")

	path := filepath.Join(t.TempDir(), "out", "mod.zip")
	sink, err := Create(path, Options{ModInfo: project.ModInfo{Name: "x"}})
	require.NoError(t, err)
	require.NoError(t, sink.File(ctx, a, "a.txt"))
	require.NoError(t, sink.File(ctx, b, filepath.Join("deep", "b.txt")))
	require.NoError(t, sink.Close())

	dest := filepath.Join(t.TempDir(), "extracted")
	n, err := ExtractFile(ctx, path, dest)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "b", testutil.ReadFile(t, dest, filepath.Join("deep", "b.txt")))

	info, err := project.ReadModInfo(dest)
	require.NoError(t, err)
	assert.Equal(t, "x", info.Name)
}

func TestExtract_RejectsEscapingEntries(t *testing.T) {
	for _, name := range []string{"../evil.txt", "a/../../evil.txt"} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			zw := zip.NewWriter(&buf)
			w, err := zw.Create(name)
			require.NoError(t, err)
			_, err = w.Write([]byte("x"))
			require.NoError(t, err)
			require.NoError(t, zw.Close())

			parent := t.TempDir()
			dest := filepath.Join(parent, "dest")
			_, err = Extract(context.Background(), bytes.NewReader(buf.Bytes()), int64(buf.Len()), dest)
			assert.Error(t, err)
			assert.False(t, testutil.Exists(parent, "evil.txt"))
		})
	}
}

func TestExtract_NotAZip(t *testing.T) {
	data := []byte("not a zip")
	_, err := Extract(context.Background(), bytes.NewReader(data), int64(len(data)), t.TempDir())
	assert.Error(t, err)
}
