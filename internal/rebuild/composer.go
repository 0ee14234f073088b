// Package rebuild implements the Rebuild engine (§4.12, Package::build)
// and the Composer policy (§4.13) it applies when assembling staging and
// install sysroots from a package's dependencies.
package rebuild

import "github.com/buildsys/buildsys/internal/pkgns"

// stagingSet computes the transitive closure of p's direct dependencies
// for staging composition, stopping recursion at any dependency flagged
// InterceptStaging (§4.12 step 11).
func stagingSet(p *pkgns.Package) []*pkgns.Package {
	seen := map[*pkgns.Package]bool{}
	var out []*pkgns.Package
	var walk func(pkg *pkgns.Package)
	walk = func(pkg *pkgns.Package) {
		for _, d := range pkg.Dependencies {
			if seen[d.Pkg] {
				continue
			}
			seen[d.Pkg] = true
			out = append(out, d.Pkg)
			if d.Pkg.InterceptStaging {
				continue
			}
			walk(d.Pkg)
		}
	}
	walk(p)
	return out
}

// installSet computes the transitive closure of p's direct dependencies
// for install composition, stopping at InterceptInstall unless
// ignoreIntercept is set (§4.12 step 12).
func installSet(p *pkgns.Package, ignoreIntercept bool) []*pkgns.Package {
	seen := map[*pkgns.Package]bool{}
	var out []*pkgns.Package
	var walk func(pkg *pkgns.Package)
	walk = func(pkg *pkgns.Package) {
		for _, d := range pkg.Dependencies {
			if seen[d.Pkg] {
				continue
			}
			seen[d.Pkg] = true
			out = append(out, d.Pkg)
			if d.Pkg.InterceptInstall && !ignoreIntercept {
				continue
			}
			walk(d.Pkg)
		}
	}
	walk(p)
	return out
}
