// Package builddir implements the per-package working-area layout
// (§4.2): work, composed staging, and the transient new/{staging,install}
// directories a build writes into.
package builddir

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir is a package's private scratch area.
type Dir struct {
	// Pwd is the process working directory builds are rooted at.
	Pwd string
	// NS is the namespace name.
	NS string
	// Pkg is the package name (may contain '/').
	Pkg string
}

// New creates a Dir for (pwd, ns, pkg) and ensures its directory tree
// exists. Creation is idempotent. If pkg contains '/', intermediate
// directories under staging/install are pre-created so that extracting a
// tar into them does not fail on a missing parent.
func New(pwd, ns, pkg string) (*Dir, error) {
	d := &Dir{Pwd: pwd, NS: ns, Pkg: pkg}
	for _, p := range []string{d.Work(), d.Staging(), d.NewStaging(), d.NewInstall(),
		filepath.Dir(d.StagingTarPath()), filepath.Dir(d.InstallTarPath())} {
		if err := os.MkdirAll(p, 0755); err != nil {
			return nil, fmt.Errorf("builddir: mkdir %s: %w", p, err)
		}
	}
	return d, nil
}

// base returns output/<ns>/<pkg>.
func (d *Dir) base() string {
	return filepath.Join(d.Pwd, "output", d.NS, d.Pkg)
}

// Work is the current-run work directory sources are extracted into and
// commands run from.
func (d *Dir) Work() string { return filepath.Join(d.base(), "work") }

// Staging is the composed sysroot of dependency staging, rebuilt before
// each build (§4.12 step 11).
func (d *Dir) Staging() string { return filepath.Join(d.base(), "staging") }

// NewStaging is the directory the build writes staging output into.
func (d *Dir) NewStaging() string { return filepath.Join(d.base(), "new", "staging") }

// NewInstall is the directory the build writes install output into.
func (d *Dir) NewInstall() string { return filepath.Join(d.base(), "new", "install") }

// ExtractionInfoPath is the finalised extraction fingerprint file.
func (d *Dir) ExtractionInfoPath() string { return filepath.Join(d.base(), ".extraction.info") }

// ExtractionInfoNewPath is the pending extraction fingerprint file.
func (d *Dir) ExtractionInfoNewPath() string { return filepath.Join(d.base(), ".extraction.info.new") }

// BuildInfoPath is the finalised build fingerprint file.
func (d *Dir) BuildInfoPath() string { return filepath.Join(d.base(), ".build.info") }

// BuildInfoNewPath is the pending build fingerprint file.
func (d *Dir) BuildInfoNewPath() string { return filepath.Join(d.base(), ".build.info.new") }

// OutputInfoPath is the hash-output package's output fingerprint file.
func (d *Dir) OutputInfoPath() string { return filepath.Join(d.base(), ".output.info") }

// BuildLogPath is the per-package log file used in --quietly mode.
func (d *Dir) BuildLogPath() string { return filepath.Join(d.base(), "build.log") }

// StagingTarPath is the published staging artefact path
// (output/<ns>/staging/<pkg>.tar).
func (d *Dir) StagingTarPath() string {
	return filepath.Join(d.Pwd, "output", d.NS, "staging", d.Pkg+".tar")
}

// InstallTarPath is the published install artefact path
// (output/<ns>/install/<pkg>.tar).
func (d *Dir) InstallTarPath() string {
	return filepath.Join(d.Pwd, "output", d.NS, "install", d.Pkg+".tar")
}

// Clean removes and re-creates Work.
func (d *Dir) Clean() error {
	if err := os.RemoveAll(d.Work()); err != nil {
		return fmt.Errorf("builddir: clean work: %w", err)
	}
	return os.MkdirAll(d.Work(), 0755)
}

// CleanStaging removes Staging. The caller is responsible for recreating it
// (the rebuild engine's prepareBuildDirs does so before composing staging).
func (d *Dir) CleanStaging() error {
	if err := os.RemoveAll(d.Staging()); err != nil {
		return fmt.Errorf("builddir: clean staging: %w", err)
	}
	return nil
}

// CleanNew removes and recreates new/staging and new/install, used at the
// start of each build (§4.12 step 11).
func (d *Dir) CleanNew() error {
	for _, p := range []string{d.NewStaging(), d.NewInstall()} {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("builddir: clean %s: %w", p, err)
		}
		if err := os.MkdirAll(p, 0755); err != nil {
			return fmt.Errorf("builddir: mkdir %s: %w", p, err)
		}
	}
	return nil
}

// EnsurePublishDirs makes sure output/<ns>/{staging,install} exist, so tar
// publication (§4.12 step 14) can write into them.
func EnsurePublishDirs(pwd, ns string) error {
	for _, p := range []string{
		filepath.Join(pwd, "output", ns, "staging"),
		filepath.Join(pwd, "output", ns, "install"),
	} {
		if err := os.MkdirAll(p, 0755); err != nil {
			return fmt.Errorf("builddir: mkdir %s: %w", p, err)
		}
	}
	return nil
}
