// Package scheduler implements the Scheduler (§4.11): a coordinator plus a
// bounded pool of OS-thread workers driving builds in topological order.
package scheduler

import (
	"sync"

	"github.com/buildsys/buildsys/internal/graph"
	"github.com/buildsys/buildsys/internal/pkgns"
	"github.com/sirupsen/logrus"
)

// Builder runs one package's build pipeline. Implemented by the rebuild
// engine; kept as an interface here so the scheduler has no dependency on
// rebuild (which itself depends on scheduler's sibling packages).
type Builder interface {
	Build(p *pkgns.Package, locally bool) error
}

// Scheduler drives a Graph to completion: a coordinator goroutine repeatedly
// selects the next eligible package (graph.Next) and hands it to a worker,
// bounded by Limit concurrently-building workers.
type Scheduler struct {
	Graph     *graph.Graph
	Build     Builder
	Limit     int // 0 means unbounded
	KeepGoing bool

	// Log receives structured scheduling diagnostics (distinct from the
	// per-package build output the CommandRunner streams) - queue/start/
	// finish/fail decisions useful when diagnosing a stuck build.
	Log *logrus.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	order    []*pkgns.Package
	running  int
	failed   bool
	firstErr error
}

// New returns a Scheduler over g, driving builds through b. limit<=0 means
// unbounded concurrency.
func New(g *graph.Graph, b Builder, limit int, keepGoing bool) *Scheduler {
	s := &Scheduler{Graph: g, Build: b, Limit: limit, KeepGoing: keepGoing, Log: logrus.StandardLogger()}
	s.cond = sync.NewCond(&s.mu)
	s.order = g.TopoOrder()
	return s
}

// Run drives base to completion, returning the first build error
// encountered (or nil). It blocks until base is built, or (in keep-going
// mode) until every in-flight worker has drained after a failure.
func (s *Scheduler) Run(base *pkgns.Package) error {
	var wg sync.WaitGroup

	s.mu.Lock()
	for {
		if base.IsBuilt() {
			break
		}
		if s.failed && !s.KeepGoing {
			break
		}
		if s.Limit > 0 && s.running >= s.Limit {
			s.cond.Wait()
			continue
		}

		p := graph.Next(s.order)
		if p == nil {
			if s.running == 0 {
				break
			}
			s.cond.Wait()
			continue
		}

		p.Mu.Lock()
		p.Building = true
		p.Mu.Unlock()
		s.running++
		s.Log.WithFields(logrus.Fields{"package": p.Key(), "running": s.running}).Debug("build started")

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Build.Build(p, false)
			s.packageFinished(p, err)
		}()
	}
	stopNow := s.failed && !s.KeepGoing
	s.mu.Unlock()

	if !stopNow {
		wg.Wait()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// packageFinished is invoked by each worker on return (§4.11): it takes
// the scheduler lock, records failure if any, deletes the node from the
// topo graph, recomputes topo order, and broadcasts. Build itself is
// responsible for setting Built/WasBuilt (the rebuild engine's pipeline
// has several distinct paths to "built" - forced mode, cache restore,
// full local build - each with different WasBuilt semantics).
func (s *Scheduler) packageFinished(p *pkgns.Package, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.Mu.Lock()
	p.Building = false
	p.Mu.Unlock()

	s.running--
	if err != nil {
		s.failed = true
		if s.firstErr == nil {
			s.firstErr = err
		}
		s.Log.WithFields(logrus.Fields{"package": p.Key()}).WithError(err).Error("build failed")
	} else {
		s.Log.WithFields(logrus.Fields{"package": p.Key()}).Debug("build finished")
	}
	s.order = s.Graph.DeleteNode(p)
	s.cond.Broadcast()
}
