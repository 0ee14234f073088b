package fetch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDigestMissingFileIsEmpty(t *testing.T) {
	d, err := LoadDigest(filepath.Join(t.TempDir(), "Digest"))
	require.NoError(t, err)
	require.Empty(t, d)
}

func TestLoadDigestParsesLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Digest")
	require.NoError(t, os.WriteFile(path, []byte("foo.tar.gz abc123\n# comment\nbar.tar def456\n"), 0644))

	d, err := LoadDigest(path)
	require.NoError(t, err)
	require.Equal(t, "abc123", d["foo.tar.gz"])
	require.Equal(t, "def456", d["bar.tar"])
}

func TestLoadDigestRejectsMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Digest")
	require.NoError(t, os.WriteFile(path, []byte("onlyonefield\n"), 0644))

	_, err := LoadDigest(path)
	require.Error(t, err)
}
