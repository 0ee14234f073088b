package overlay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func mkRecipe(t *testing.T, root, pkg string) {
	t.Helper()
	dir := filepath.Join(root, "package", pkg)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, filepath.Base(pkg)+".lua"), []byte("name()"), 0644))
}

func TestResolveRecipeFindsInBase(t *testing.T) {
	root := t.TempDir()
	mkRecipe(t, root, "gcc")

	p := New()
	p.roots = []string{root}

	got, err := p.ResolveRecipe("gcc")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "package", "gcc", "gcc.lua"), got)
}

func TestPushTopWins(t *testing.T) {
	base := t.TempDir()
	top := t.TempDir()
	mkRecipe(t, base, "gcc")
	mkRecipe(t, top, "gcc")

	p := New()
	p.roots = []string{base}
	p.PushTop(top)

	got, err := p.ResolveRecipe("gcc")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(top, "package", "gcc", "gcc.lua"), got)
}

func TestResolveRecipeMissing(t *testing.T) {
	p := New()
	p.roots = []string{t.TempDir()}
	_, err := p.ResolveRecipe("nope")
	require.Error(t, err)
}

func TestNestedPackageName(t *testing.T) {
	root := t.TempDir()
	mkRecipe(t, root, "toolchain/gcc")

	p := New()
	p.roots = []string{root}
	got, err := p.ResolveRecipe("toolchain/gcc")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "package", "toolchain", "gcc", "gcc.lua"), got)
}
