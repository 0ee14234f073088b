package scheduler

import (
	"errors"
	"sync"
	"testing"

	"github.com/buildsys/buildsys/internal/graph"
	"github.com/buildsys/buildsys/internal/pkgns"
	"github.com/stretchr/testify/require"
)

type recordingBuilder struct {
	mu    sync.Mutex
	built []string
	fail  map[string]bool
}

func (b *recordingBuilder) Build(p *pkgns.Package, locally bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.built = append(b.built, p.Key())
	if b.fail[p.Name] {
		return errors.New("boom")
	}
	p.Mu.Lock()
	p.Built = true
	p.WasBuilt = true
	p.Mu.Unlock()
	return nil
}

func TestSchedulerBuildsDependenciesFirst(t *testing.T) {
	a := &pkgns.Package{NS: "ns", Name: "a"}
	b := &pkgns.Package{NS: "ns", Name: "b"}
	a.Dependencies = []pkgns.Dependency{{Pkg: b}}

	g := graph.New(a)
	bld := &recordingBuilder{fail: map[string]bool{}}
	s := New(g, bld, 0, false)

	err := s.Run(a)
	require.NoError(t, err)
	require.True(t, a.IsBuilt())
	require.True(t, b.IsBuilt())
	require.Equal(t, []string{"ns/b", "ns/a"}, bld.built)
}

func TestSchedulerStopsOnFailureWithoutKeepGoing(t *testing.T) {
	a := &pkgns.Package{NS: "ns", Name: "a"}
	b := &pkgns.Package{NS: "ns", Name: "b"}
	a.Dependencies = []pkgns.Dependency{{Pkg: b}}

	g := graph.New(a)
	bld := &recordingBuilder{fail: map[string]bool{"b": true}}
	s := New(g, bld, 0, false)

	err := s.Run(a)
	require.Error(t, err)
	require.False(t, a.IsBuilt())
}

func TestSchedulerRespectsConcurrencyLimit(t *testing.T) {
	a := &pkgns.Package{NS: "ns", Name: "a"}
	b := &pkgns.Package{NS: "ns", Name: "b"}
	c := &pkgns.Package{NS: "ns", Name: "c"}
	a.Dependencies = []pkgns.Dependency{{Pkg: b}, {Pkg: c}}

	g := graph.New(a)
	bld := &recordingBuilder{fail: map[string]bool{}}
	s := New(g, bld, 1, false)

	err := s.Run(a)
	require.NoError(t, err)
	require.True(t, a.IsBuilt())
}
