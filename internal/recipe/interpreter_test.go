package recipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/buildsys/buildsys/internal/buildinfo"
	"github.com/buildsys/buildsys/internal/featuremap"
	"github.com/buildsys/buildsys/internal/overlay"
	"github.com/buildsys/buildsys/internal/pkgns"
	"github.com/stretchr/testify/require"
)

func writeRecipe(t *testing.T, root, name, body string) {
	t.Helper()
	leaf := filepath.Base(name)
	dir := filepath.Join(root, "package", name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, leaf+".lua"), []byte(body), 0644))
}

func newInterpreter(t *testing.T, root string) *Interpreter {
	t.Helper()
	ov := overlay.New()
	ov.PushTop(root)
	return New(pkgns.NewRegistry(), ov, featuremap.New(), t.TempDir())
}

func TestEmptyRecipeProducesSinglePackageFileUnit(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, root, "a", "name()\n")

	in := newInterpreter(t, root)
	p, err := in.Resolve("host", "a")
	require.NoError(t, err)
	require.Len(t, p.BuildInfo.Units(), 1)
	require.IsType(t, buildinfo.PackageFile{}, p.BuildInfo.Units()[0])
}

func TestDependDeclaresEdge(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, root, "a", `
name()
depend("b")
`)
	writeRecipe(t, root, "b", "name()\n")

	in := newInterpreter(t, root)
	a, err := in.Resolve("host", "a")
	require.NoError(t, err)
	require.Len(t, a.Dependencies, 1)
	require.Equal(t, "b", a.Dependencies[0].Pkg.Name)
}

func TestFeatureRecordsBuildUnit(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, root, "a", `
name()
x = feature("flavour")
`)

	in := newInterpreter(t, root)
	features := featuremap.New()
	features.Set("flavour", "debug", false)
	in.Features = features

	p, err := in.Resolve("host", "a")
	require.NoError(t, err)

	var found bool
	for _, u := range p.BuildInfo.Units() {
		if fv, ok := u.(buildinfo.FeatureValue); ok && fv.Name == "flavour" {
			require.Equal(t, "debug", fv.Value)
			found = true
		}
	}
	require.True(t, found)
}

func TestBuilddirFetchAndCmd(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, root, "a", `
name()
bd = builddir()
bd:fetch("http://example.com/foo.tar.gz", "dl")
bd:cmd(".", "make", {"all"})
`)

	in := newInterpreter(t, root)
	p, err := in.Resolve("host", "a")
	require.NoError(t, err)
	require.Len(t, p.Fetches, 1)
	require.Len(t, p.Commands, 1)
	require.Equal(t, "make", p.Commands[0].Program)
	require.Contains(t, p.Commands[0].Env, "BS_PACKAGE_NAME=a")
}

func TestFlagFunctionsSetPackageFlags(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, root, "a", `
name()
intercept()
hashoutput()
buildlocally()
keepstaging()
`)

	in := newInterpreter(t, root)
	p, err := in.Resolve("host", "a")
	require.NoError(t, err)
	require.True(t, p.InterceptInstall)
	require.True(t, p.HashOutput)
	require.True(t, p.DisableFetchFrom)
	require.True(t, p.SuppressRemoveStaging)
}
