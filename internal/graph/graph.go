// Package graph implements DependencyGraph (§4.10): a DAG over
// pkgns.Package vertices, cycle detection, and the topological selection
// rule the Scheduler drives builds with.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/buildsys/buildsys/internal/pkgns"
)

// CycleError reports the set of packages participating in at least one
// cycle, in §6's "Cycled Packages" report shape: each package rendered as
// "{ns,pkg}" (§8 scenario 5).
type CycleError struct {
	Packages []*pkgns.Package
}

func (e *CycleError) Error() string {
	names := make([]string, len(e.Packages))
	for i, p := range e.Packages {
		names[i] = fmt.Sprintf("{%s,%s}", p.NS, p.Name)
	}
	return fmt.Sprintf("graph: %d package(s) in a dependency cycle: %s", len(e.Packages), strings.Join(names, ", "))
}

// Graph is the DAG of Packages materialised once recipe processing has
// discovered the full transitive closure. It is not internally
// synchronised: the Scheduler serialises all access under its own lock
// (§5 "the scheduler has one global mutex... guarding the topo graph").
type Graph struct {
	nodes map[*pkgns.Package]bool
	order []*pkgns.Package
}

// New builds a Graph over the transitive closure reachable from roots
// (following each Package's Dependencies in declaration order).
func New(roots ...*pkgns.Package) *Graph {
	g := &Graph{nodes: map[*pkgns.Package]bool{}}
	var walk func(p *pkgns.Package)
	walk = func(p *pkgns.Package) {
		if g.nodes[p] {
			return
		}
		g.nodes[p] = true
		g.order = append(g.order, p)
		for _, d := range p.Dependencies {
			walk(d.Pkg)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return g
}

// DetectCycles runs a depth-first search over the graph; every package
// that sits on a back edge (is its own or an ancestor's dependency) is
// collected into a CycleError. Returns nil if the graph is acyclic.
func (g *Graph) DetectCycles() error {
	const (
		white = iota
		gray
		black
	)
	colour := make(map[*pkgns.Package]int, len(g.nodes))
	cycled := map[*pkgns.Package]bool{}

	var visit func(p *pkgns.Package)
	visit = func(p *pkgns.Package) {
		colour[p] = gray
		for _, d := range p.Dependencies {
			switch colour[d.Pkg] {
			case white:
				visit(d.Pkg)
			case gray:
				cycled[p] = true
				cycled[d.Pkg] = true
			}
		}
		colour[p] = black
	}

	for p := range g.nodes {
		if colour[p] == white {
			visit(p)
		}
	}

	if len(cycled) == 0 {
		return nil
	}
	out := make([]*pkgns.Package, 0, len(cycled))
	for p := range cycled {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return &CycleError{Packages: out}
}

// TopoOrder returns the vertices in dependency-then-dependent order via a
// Kahn-style sort (§4.10, §9). Assumes the graph is acyclic; callers must
// run DetectCycles first.
func (g *Graph) TopoOrder() []*pkgns.Package {
	indegree := make(map[*pkgns.Package]int, len(g.nodes))
	dependents := make(map[*pkgns.Package][]*pkgns.Package, len(g.nodes))
	for p := range g.nodes {
		indegree[p] = 0
	}
	for p := range g.nodes {
		for _, d := range p.Dependencies {
			if !g.nodes[d.Pkg] {
				continue
			}
			indegree[p]++
			dependents[d.Pkg] = append(dependents[d.Pkg], p)
		}
	}

	var ready []*pkgns.Package
	for _, p := range g.order {
		if indegree[p] == 0 {
			ready = append(ready, p)
		}
	}

	var out []*pkgns.Package
	for len(ready) > 0 {
		p := ready[0]
		ready = ready[1:]
		out = append(out, p)
		for _, dep := range dependents[p] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	return out
}

// Next implements topo_next (§4.10): scanning the topo order, it returns
// the LAST package that is not built, not building, and whose direct
// dependencies are all built. Returns nil if no package is eligible.
//
// The "last" rule is deliberate (§9): it biases the scheduler toward
// packages closer to the root of the remaining DAG rather than starting
// whichever leaf happens to sort first.
func Next(order []*pkgns.Package) *pkgns.Package {
	for i := len(order) - 1; i >= 0; i-- {
		p := order[i]
		p.Mu.Lock()
		eligible := !p.Built && !p.Building
		p.Mu.Unlock()
		if !eligible {
			continue
		}
		if allDepsBuilt(p) {
			return p
		}
	}
	return nil
}

func allDepsBuilt(p *pkgns.Package) bool {
	for _, d := range p.Dependencies {
		if !d.Pkg.IsBuilt() {
			return false
		}
	}
	return true
}

// DeleteNode removes p and its incident edges from the graph, then
// recomputes and returns the new topo order (§4.10, §4.11
// packageFinished). Dependents of p are left in the graph; their
// indegree drops the next time TopoOrder is computed since p is no
// longer a member of g.nodes.
func (g *Graph) DeleteNode(p *pkgns.Package) []*pkgns.Package {
	delete(g.nodes, p)
	for i, n := range g.order {
		if n == p {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return g.TopoOrder()
}
