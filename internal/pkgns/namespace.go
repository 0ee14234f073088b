package pkgns

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/buildsys/buildsys/internal/overlay"
)

// NameSpace is a set of Packages sharing a name (§3). It owns its packages
// exclusively: creation and lookup are serialised by mu.
type NameSpace struct {
	Name string

	mu       sync.Mutex
	packages map[string]*Package
}

func newNameSpace(name string) *NameSpace {
	return &NameSpace{Name: name, packages: map[string]*Package{}}
}

// StagingDir is the namespace's published staging directory,
// output/<ns>/staging (§3).
func (n *NameSpace) StagingDir(outputRoot string) string {
	return filepath.Join(outputRoot, n.Name, "staging")
}

// InstallDir is the namespace's published install directory,
// output/<ns>/install (§3).
func (n *NameSpace) InstallDir(outputRoot string) string {
	return filepath.Join(outputRoot, n.Name, "install")
}

// FindPackage returns the existing Package named name, or resolves its
// recipe through ov and creates a new one. created is true only the first
// time a given name is looked up, so the caller (the recipe interpreter)
// knows to process it exactly once (§3 "a package is processed at most
// once").
func (n *NameSpace) FindPackage(ov *overlay.Path, name string) (pkg *Package, created bool, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if existing, ok := n.packages[name]; ok {
		return existing, false, nil
	}

	recipePath, err := ov.ResolveRecipe(name)
	if err != nil {
		return nil, false, fmt.Errorf("pkgns: resolve recipe for %s/%s: %w", n.Name, name, err)
	}

	p := newPackage(n.Name, name)
	p.RecipePath = recipePath
	p.RecipeDisplay = filepath.Join("package", name, leafName(name)+".lua")
	n.packages[name] = p
	return p, true, nil
}

// Packages returns a snapshot of every package currently registered.
func (n *NameSpace) Packages() []*Package {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Package, 0, len(n.packages))
	for _, p := range n.packages {
		out = append(out, p)
	}
	return out
}

func leafName(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}
