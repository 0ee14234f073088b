package pkgns

import "sync"

// Registry is the process-wide set of NameSpaces (§3, §4.8). It replaces
// the original implementation's global NAMESPACES table with an explicit,
// thread-safe store (§9 "Global state").
type Registry struct {
	mu   sync.Mutex
	sets map[string]*NameSpace
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sets: map[string]*NameSpace{}}
}

// FindNamespace returns or creates the NameSpace named name.
func (r *Registry) FindNamespace(name string) *NameSpace {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ns, ok := r.sets[name]; ok {
		return ns
	}
	ns := newNameSpace(name)
	r.sets[name] = ns
	return ns
}

// Namespaces returns a snapshot of every namespace created so far.
func (r *Registry) Namespaces() []*NameSpace {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*NameSpace, 0, len(r.sets))
	for _, ns := range r.sets {
		out = append(out, ns)
	}
	return out
}
