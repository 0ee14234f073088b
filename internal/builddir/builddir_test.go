package builddir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCreatesLayout(t *testing.T) {
	pwd := t.TempDir()
	d, err := New(pwd, "host", "toolchain/gcc")
	require.NoError(t, err)

	for _, p := range []string{d.Work(), d.Staging(), d.NewStaging(), d.NewInstall()} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestCleanRecreatesWork(t *testing.T) {
	pwd := t.TempDir()
	d, err := New(pwd, "host", "gcc")
	require.NoError(t, err)

	marker := filepath.Join(d.Work(), "marker")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0644))

	require.NoError(t, d.Clean())
	_, err = os.Stat(marker)
	require.True(t, os.IsNotExist(err))

	info, err := os.Stat(d.Work())
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestCleanStagingRemovesDir(t *testing.T) {
	pwd := t.TempDir()
	d, err := New(pwd, "host", "gcc")
	require.NoError(t, err)

	require.NoError(t, d.CleanStaging())
	_, err = os.Stat(d.Staging())
	require.True(t, os.IsNotExist(err))
}
