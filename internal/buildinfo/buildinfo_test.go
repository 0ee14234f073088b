package buildinfo

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/buildsys/buildsys/internal/featuremap"
	"github.com/stretchr/testify/require"
)

func TestPrintOrderAndIgnore(t *testing.T) {
	ign := featuremap.New()
	ign.Ignore("secret")

	i := New(ign)
	i.Add(PackageFile{Path: "package/a/a.lua", Hash: "h1"})
	i.Add(FeatureValue{Name: "x", Value: "on"})
	i.Add(FeatureValue{Name: "secret", Value: "shh"})
	i.Add(FeatureNil{Name: "y"})

	var sb strings.Builder
	require.NoError(t, i.Print(&sb))

	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	require.Equal(t, []string{
		"PackageFile package/a/a.lua h1",
		"FeatureValue x on",
		"FeatureNil y",
	}, lines)
}

func TestWriteFileHashStable(t *testing.T) {
	dir := t.TempDir()
	i := New(nil)
	i.Add(PackageFile{Path: "package/a/a.lua", Hash: "h1"})

	p1 := filepath.Join(dir, "one")
	h1, err := i.WriteFile(p1)
	require.NoError(t, err)

	p2 := filepath.Join(dir, "two")
	h2, err := i.WriteFile(p2)
	require.NoError(t, err)

	require.Equal(t, h1, h2)
}

func TestSameContent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")

	same, err := SameContent(a, b)
	require.NoError(t, err)
	require.False(t, same, "missing files are never the same")

	i := New(nil)
	i.Add(PackageFile{Path: "x", Hash: "h"})
	_, err = i.WriteFile(a)
	require.NoError(t, err)
	_, err = i.WriteFile(b)
	require.NoError(t, err)

	same, err = SameContent(a, b)
	require.NoError(t, err)
	require.True(t, same)
}
