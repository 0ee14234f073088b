package graph

import (
	"testing"

	"github.com/buildsys/buildsys/internal/pkgns"
	"github.com/stretchr/testify/require"
)

func pkg(ns, name string) *pkgns.Package {
	return &pkgns.Package{NS: ns, Name: name}
}

func TestDetectCyclesAcyclic(t *testing.T) {
	a := pkg("ns", "a")
	b := pkg("ns", "b")
	a.Dependencies = []pkgns.Dependency{{Pkg: b}}

	g := New(a)
	require.NoError(t, g.DetectCycles())
}

func TestDetectCyclesReportsBothEndpoints(t *testing.T) {
	a := pkg("ns", "a")
	b := pkg("ns", "b")
	a.Dependencies = []pkgns.Dependency{{Pkg: b}}
	b.Dependencies = []pkgns.Dependency{{Pkg: a}}

	g := New(a)
	err := g.DetectCycles()
	require.Error(t, err)
	cycleErr, ok := err.(*CycleError)
	require.True(t, ok)
	require.Len(t, cycleErr.Packages, 2)
	require.Contains(t, cycleErr.Error(), "{ns,a}")
	require.Contains(t, cycleErr.Error(), "{ns,b}")
}

func TestTopoOrderDependenciesFirst(t *testing.T) {
	a := pkg("ns", "a")
	b := pkg("ns", "b")
	c := pkg("ns", "c")
	a.Dependencies = []pkgns.Dependency{{Pkg: b}, {Pkg: c}}
	b.Dependencies = []pkgns.Dependency{{Pkg: c}}

	g := New(a)
	order := g.TopoOrder()
	pos := map[*pkgns.Package]int{}
	for i, p := range order {
		pos[p] = i
	}
	require.Less(t, pos[c], pos[b])
	require.Less(t, pos[b], pos[a])
}

func TestNextPrefersLastEligible(t *testing.T) {
	b := pkg("ns", "b")
	c := pkg("ns", "c")
	order := []*pkgns.Package{b, c}

	got := Next(order)
	require.Same(t, c, got)
}

func TestNextSkipsBuiltAndBuilding(t *testing.T) {
	b := pkg("ns", "b")
	c := pkg("ns", "c")
	c.Built = true
	order := []*pkgns.Package{b, c}

	got := Next(order)
	require.Same(t, b, got)
}

func TestNextRequiresDepsBuilt(t *testing.T) {
	a := pkg("ns", "a")
	b := pkg("ns", "b")
	a.Dependencies = []pkgns.Dependency{{Pkg: b}}
	order := []*pkgns.Package{b, a}

	got := Next(order)
	require.Same(t, b, got, "a is not eligible until b is built")

	b.Built = true
	got = Next(order)
	require.Same(t, a, got)
}

func TestDeleteNodeUnblocksDependents(t *testing.T) {
	a := pkg("ns", "a")
	b := pkg("ns", "b")
	a.Dependencies = []pkgns.Dependency{{Pkg: b}}

	g := New(a)
	order := g.TopoOrder()
	require.Equal(t, []*pkgns.Package{b, a}, order)

	b.Built = true
	order = g.DeleteNode(b)
	require.Equal(t, []*pkgns.Package{a}, order)
}
