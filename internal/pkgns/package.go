// Package pkgns implements the NameSpace/Package registry (§4.8, §3):
// find-or-create lookup of Packages by name, recipe resolution through a
// prioritised Overlay search path, and the Package data model recipes
// populate as they are interpreted.
package pkgns

import (
	"sync"

	"github.com/buildsys/buildsys/internal/buildinfo"
	"github.com/buildsys/buildsys/internal/extract"
	"github.com/buildsys/buildsys/internal/fetch"
)

// Dependency is one entry in a Package's ordered dependency list.
type Dependency struct {
	Pkg     *Package
	Locally bool
}

// Command is one build-time command, run in declaration order relative to
// the package's work dir. Dir is a subdir of the work dir ("" for the work
// dir itself).
type Command struct {
	Dir     string
	Program string
	Args    []string
	Env     []string
}

// FetchRecord pairs a declared FetchUnit with its content hash. Hash is
// filled in by the rebuild engine's pre-hash pass, before any fetch runs,
// and stays empty for units (Link, Copy) that have no hash.
type FetchRecord struct {
	Unit fetch.Unit
	Hash string
}

// ExtractionRecord pairs a declared ExtractionUnit with its content hash.
// Hash is filled in while the extraction info is prepared, before any
// extraction runs.
type ExtractionRecord struct {
	Unit extract.Unit
	Hash string
}

// DepsExtract records a `fetch(..., "deps")` declaration: a directory that
// receives the transitive install trees of this package's dependencies.
type DepsExtract struct {
	Path       string
	DirectOnly bool
}

// Package is the central entity (§3): identity, declared content, and the
// lifecycle flags the scheduler mutates under Mu.
type Package struct {
	NS   string
	Name string

	// RecipePath is the absolute path to the resolved recipe file;
	// RecipeDisplay is its overlay-relative display form (used in
	// PackageFile BuildInfo lines).
	RecipePath    string
	RecipeDisplay string

	Dependencies []Dependency
	Commands     []Command
	Fetches      []*FetchRecord
	Extractions  []*ExtractionRecord
	BuildInfo    *buildinfo.Info

	DepsExtract *DepsExtract
	InstallFiles []string

	InterceptInstall      bool
	InterceptStaging      bool
	SuppressRemoveStaging bool
	DisableFetchFrom      bool
	HashOutput            bool
	CleanBeforeBuild      bool

	// Mu guards the lifecycle flags below (§4.11, §5). The rebuild engine
	// holds it only around reads and writes of those flags, not for the
	// whole of a build.
	Mu               sync.Mutex
	ProcessingQueued bool
	Building         bool
	Built            bool
	WasBuilt         bool
	CodeUpdated      bool
	BuildInfoHash    string
}

// newPackage constructs a Package shell; callers (the registry) set
// identity and recipe path, then hand it to the recipe interpreter for
// population.
func newPackage(ns, name string) *Package {
	return &Package{NS: ns, Name: name}
}

// IsBuilt reports Built under the package's own lock (§5 "read-only flag
// checks are atomic").
func (p *Package) IsBuilt() bool {
	p.Mu.Lock()
	defer p.Mu.Unlock()
	return p.Built
}

// IsBuilding reports Building under the package's own lock.
func (p *Package) IsBuilding() bool {
	p.Mu.Lock()
	defer p.Mu.Unlock()
	return p.Building
}

// AddFetch appends a fetch declaration in recipe order.
func (p *Package) AddFetch(u fetch.Unit) *FetchRecord {
	r := &FetchRecord{Unit: u}
	p.Fetches = append(p.Fetches, r)
	return r
}

// AddExtraction appends an extraction declaration in recipe order.
func (p *Package) AddExtraction(u extract.Unit) *ExtractionRecord {
	r := &ExtractionRecord{Unit: u}
	p.Extractions = append(p.Extractions, r)
	return r
}

// AddCommand appends a build command in recipe order.
func (p *Package) AddCommand(c Command) {
	p.Commands = append(p.Commands, c)
}

// AddDependency appends a dependency edge in recipe order.
func (p *Package) AddDependency(dep *Package, locally bool) {
	p.Dependencies = append(p.Dependencies, Dependency{Pkg: dep, Locally: locally})
}

// Key is the "ns/pkg" identifier used in log lines and cycle reports.
func (p *Package) Key() string { return p.NS + "/" + p.Name }
