// Package overlay implements the prioritised filesystem search path used to
// resolve recipe files and fetch-relative paths (§3 "Overlay").
package overlay

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Path is an ordered list of filesystem roots. "." is always present as
// the first entry; additional overlays may be pushed to the top (highest
// priority) or the bottom (lowest priority, searched last).
type Path struct {
	lck   sync.RWMutex
	roots []string
}

// New returns a Path containing only ".".
func New() *Path {
	return &Path{roots: []string{"."}}
}

// PushTop adds root as the highest-priority overlay.
func (p *Path) PushTop(root string) {
	p.lck.Lock()
	defer p.lck.Unlock()
	p.roots = append([]string{root}, p.roots...)
}

// PushBottom adds root as the lowest-priority overlay.
func (p *Path) PushBottom(root string) {
	p.lck.Lock()
	defer p.lck.Unlock()
	p.roots = append(p.roots, root)
}

// Roots returns a copy of the current search order, highest priority first.
func (p *Path) Roots() []string {
	p.lck.RLock()
	defer p.lck.RUnlock()
	out := make([]string, len(p.roots))
	copy(out, p.roots)
	return out
}

// ResolveRecipe finds the recipe file for pkgName: for each overlay root in
// order, it probes "<root>/package/<pkgName>/<leaf>.lua" where leaf is the
// final '/'-separated segment of pkgName. The first existing file wins.
// Returns an error naming pkgName if none is found (§4.8).
func (p *Path) ResolveRecipe(pkgName string) (string, error) {
	leaf := filepath.Base(pkgName)
	for _, root := range p.Roots() {
		candidate := filepath.Join(root, "package", pkgName, leaf+".lua")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("overlay: no recipe found for package %q", pkgName)
}

// Resolve finds the first overlay-relative existing path for rel
// (used for overlay-relative recipe paths: link/copy fetch URIs, copyfile
// sources and git source trees).
func (p *Path) Resolve(rel string) (string, error) {
	for _, root := range p.Roots() {
		candidate := filepath.Join(root, rel)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("overlay: no file found for %q", rel)
}
