package hashstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0644))

	h, err := File(path)
	require.NoError(t, err)
	require.Equal(t, Bytes([]byte("hello\n")), h)
}

func TestFileMissing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestDirectoryIsOrderIndependent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "a.txt"), []byte("a"), 0644))

	h1, err := Directory(dir)
	require.NoError(t, err)

	dir2 := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir2, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir2, "sub", "a.txt"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir2, "b.txt"), []byte("b"), 0644))

	h2, err := Directory(dir2)
	require.NoError(t, err)

	require.Equal(t, h1, h2)
}

func TestDirectoryChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644))
	h1, err := Directory(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a2"), 0644))
	h2, err := Directory(dir)
	require.NoError(t, err)

	require.NotEqual(t, h1, h2)
}
