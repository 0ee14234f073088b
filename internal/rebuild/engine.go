package rebuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/buildsys/buildsys/internal/buildinfo"
	"github.com/buildsys/buildsys/internal/builddir"
	"github.com/buildsys/buildsys/internal/cachefetch"
	"github.com/buildsys/buildsys/internal/extract"
	"github.com/buildsys/buildsys/internal/fetch"
	"github.com/buildsys/buildsys/internal/hashstore"
	"github.com/buildsys/buildsys/internal/overlay"
	"github.com/buildsys/buildsys/internal/pkgns"
	"github.com/buildsys/buildsys/internal/runner"
	"golang.org/x/sync/errgroup"
	yaml "gopkg.in/yaml.v2"
)

// cacheManifest is the sidecar written into a package's output directory
// (output/<ns>/<pkg>/.cache-manifest.yaml, beside .build.info),
// letting an external cache-server populate its own index without
// re-parsing .build.info.
type cacheManifest struct {
	Namespace     string `yaml:"namespace"`
	Package       string `yaml:"package"`
	BuildInfoHash string `yaml:"buildinfo_hash"`
	HashOutput    bool   `yaml:"hash_output"`
}

// Engine drives Package::build (§4.12) for every package reachable from a
// base package, and the Composer policy (§4.13) it calls on to assemble
// staging/install sysroots. One Engine is shared by every worker the
// scheduler spawns; all per-package state lives on the pkgns.Package
// itself, guarded by its own Mu.
type Engine struct {
	Pwd     string
	Overlay *overlay.Path

	Fetch   *fetch.Engine
	Extract *extract.Engine
	Run     *runner.Runner

	// Cache is an optional remote build-cache client (--cache-server).
	Cache *cachefetch.Client

	// Forced restricts which packages run their build commands for real;
	// everything else is assumed already built and has its buildinfo_hash
	// adopted from disk (§6 forced mode). Nil means nothing is forced.
	Forced map[string]bool

	// ParallelExtraction fans the staging-compose extraction loop out across
	// goroutines instead of running it in declaration order; install-depends
	// extraction always runs in order. --parallel-packages disables this (§6), since a
	// bounded worker cap already limits total concurrency across
	// packages and stacking per-package fan-out on top defeats that cap.
	ParallelExtraction bool
}

// New returns an Engine rooted at pwd.
func New(pwd string, ov *overlay.Path, fe *fetch.Engine, ee *extract.Engine, r *runner.Runner) *Engine {
	return &Engine{Pwd: pwd, Overlay: ov, Fetch: fe, Extract: ee, Run: r}
}

// Build implements scheduler.Builder. locally makes a package that needs
// building be built here, never restored from the build cache, as used for
// dependencies a recipe declared with depend(..., true).
func (e *Engine) Build(p *pkgns.Package, locally bool) error {
	p.Mu.Lock()
	if (!locally && p.Built) || (locally && p.WasBuilt) {
		p.Mu.Unlock()
		return nil
	}
	p.Mu.Unlock()

	dir, err := builddir.New(e.Pwd, p.NS, p.Name)
	if err != nil {
		return err
	}

	if e.Forced != nil && !e.Forced[p.Name] {
		return e.adoptForced(p, dir)
	}

	if p.CleanBeforeBuild {
		if err := dir.Clean(); err != nil {
			return err
		}
	}

	ctx := context.Background()

	if err := e.prehashFetches(ctx, p, dir); err != nil {
		return fmt.Errorf("rebuild: %s: fetch hash: %w", p.Key(), err)
	}

	extractionRequired, err := e.prepareExtractionInfo(ctx, p, dir)
	if err != nil {
		return fmt.Errorf("rebuild: %s: extraction info: %w", p.Key(), err)
	}

	buildInfoHash, err := e.prepareBuildInfo(p, dir)
	if err != nil {
		return fmt.Errorf("rebuild: %s: build info: %w", p.Key(), err)
	}
	p.Mu.Lock()
	p.BuildInfoHash = buildInfoHash
	p.Mu.Unlock()

	shouldBuild, err := e.shouldBuild(p, dir, buildInfoHash)
	if err != nil {
		return err
	}

	if !shouldBuild {
		if err := os.Rename(dir.BuildInfoNewPath(), dir.BuildInfoPath()); err != nil {
			return err
		}
		p.Mu.Lock()
		p.Built = true
		p.Mu.Unlock()
		return nil
	}

	if !locally && e.Cache != nil && !p.DisableFetchFrom {
		outputInfoDst := ""
		if p.HashOutput {
			outputInfoDst = dir.OutputInfoPath()
		}
		ok, err := e.Cache.Restore(ctx, p.NS, p.Name, buildInfoHash, dir.StagingTarPath(), dir.InstallTarPath(), outputInfoDst)
		if err != nil {
			return fmt.Errorf("rebuild: %s: cache restore: %w", p.Key(), err)
		}
		if ok {
			if err := os.Rename(dir.BuildInfoNewPath(), dir.BuildInfoPath()); err != nil {
				return err
			}
			p.Mu.Lock()
			p.Built = true
			p.Mu.Unlock()
			return nil
		}
	}

	for _, d := range p.Dependencies {
		if !d.Locally {
			continue
		}
		if err := e.Build(d.Pkg, true); err != nil {
			return err
		}
	}

	if err := e.runFetches(ctx, p, dir); err != nil {
		return fmt.Errorf("rebuild: %s: fetch: %w", p.Key(), err)
	}

	if extractionRequired {
		if err := e.runExtractions(ctx, p, dir); err != nil {
			return fmt.Errorf("rebuild: %s: extract: %w", p.Key(), err)
		}
		if err := os.Rename(dir.ExtractionInfoNewPath(), dir.ExtractionInfoPath()); err != nil {
			return err
		}
	}

	if err := e.prepareBuildDirs(ctx, p, dir); err != nil {
		return fmt.Errorf("rebuild: %s: compose staging: %w", p.Key(), err)
	}

	if p.DepsExtract != nil {
		if err := e.extractInstallDepends(ctx, p, dir); err != nil {
			return fmt.Errorf("rebuild: %s: compose install deps: %w", p.Key(), err)
		}
	}

	if err := e.runCommands(ctx, p, dir); err != nil {
		return fmt.Errorf("rebuild: %s: build: %w", p.Key(), err)
	}

	if err := e.publish(ctx, p, dir); err != nil {
		return fmt.Errorf("rebuild: %s: publish: %w", p.Key(), err)
	}

	if !p.SuppressRemoveStaging {
		if err := dir.CleanStaging(); err != nil {
			return err
		}
	}

	if err := os.Rename(dir.BuildInfoNewPath(), dir.BuildInfoPath()); err != nil {
		return err
	}

	if p.HashOutput {
		h, err := hashstore.Directory(dir.NewInstall())
		if err != nil {
			return err
		}
		if err := os.WriteFile(dir.OutputInfoPath(), []byte(h+"\n"), 0644); err != nil {
			return err
		}
	}

	p.Mu.Lock()
	p.Built = true
	p.WasBuilt = true
	p.Mu.Unlock()
	return nil
}

// adoptForced handles a package excluded from --forced: it is assumed
// already built, and its buildinfo_hash is read back from the existing
// .build.info so dependents can still reference it.
func (e *Engine) adoptForced(p *pkgns.Package, dir *builddir.Dir) error {
	h, err := hashstore.File(dir.BuildInfoPath())
	if err != nil {
		return fmt.Errorf("rebuild: %s: forced mode requires an existing .build.info: %w", p.Key(), err)
	}
	p.Mu.Lock()
	p.BuildInfoHash = h
	p.Built = true
	p.Mu.Unlock()
	return nil
}

// prehashFetches resolves every declared fetch's content hash without
// fetching anything, so extraction/build info - and therefore the
// cache-restore decision in shouldBuild - can be computed before a single
// byte moves over the network. A Git unit whose refspec is symbolic and
// absent from the Digest file cannot be hashed this way; it is fetched
// immediately to learn it, same as the one case where the original falls
// back to a real fetch while only trying to compute a hash.
func (e *Engine) prehashFetches(ctx context.Context, p *pkgns.Package, dir *builddir.Dir) error {
	digestPath := filepath.Join(filepath.Dir(p.RecipePath), "Digest")
	for _, rec := range p.Fetches {
		u, err := e.resolveFetchUnit(rec.Unit)
		if err != nil {
			return err
		}
		hash, ok, err := e.Fetch.Prehash(digestPath, u)
		if err != nil {
			return err
		}
		if ok {
			rec.Hash = hash
			continue
		}
		res, err := e.Fetch.Fetch(ctx, p.Key(), digestPath, e.Pwd, dir.Work(), u)
		if err != nil {
			return err
		}
		rec.Hash = res.Hash
		if res.CodeUpdated {
			p.Mu.Lock()
			p.CodeUpdated = true
			p.Mu.Unlock()
		}
	}
	return nil
}

// runFetches executes every declared FetchRecord for real and records any
// code_updated it forces. Only reached once shouldBuild (and any cache
// restore) has already decided a build is actually needed (§4.12 step 9).
func (e *Engine) runFetches(ctx context.Context, p *pkgns.Package, dir *builddir.Dir) error {
	digestPath := filepath.Join(filepath.Dir(p.RecipePath), "Digest")
	for _, rec := range p.Fetches {
		u, err := e.resolveFetchUnit(rec.Unit)
		if err != nil {
			return err
		}
		res, err := e.Fetch.Fetch(ctx, p.Key(), digestPath, e.Pwd, dir.Work(), u)
		if err != nil {
			return err
		}
		rec.Hash = res.Hash
		if res.CodeUpdated {
			p.Mu.Lock()
			p.CodeUpdated = true
			p.Mu.Unlock()
		}
	}
	return nil
}

// resolveFetchUnit resolves the overlay-relative URI of Link/Copy units to
// an absolute path before handing them to the FetchEngine, which only
// understands a single root.
func (e *Engine) resolveFetchUnit(u fetch.Unit) (fetch.Unit, error) {
	switch v := u.(type) {
	case fetch.Link:
		abs, err := e.Overlay.Resolve(v.URI)
		if err != nil {
			return nil, err
		}
		return fetch.Link{URI: abs}, nil
	case fetch.Copy:
		abs, err := e.Overlay.Resolve(v.URI)
		if err != nil {
			return nil, err
		}
		return fetch.Copy{URI: abs}, nil
	default:
		return u, nil
	}
}

// prepareExtractionInfo fills in each ExtractionRecord's hash (from the
// fetch it depends on, or computed directly for overlay-resident units),
// writes .extraction.info.new, and reports whether extraction_required:
// code_updated, or the new fingerprint differs from the previous one
// (§4.5).
func (e *Engine) prepareExtractionInfo(ctx context.Context, p *pkgns.Package, dir *builddir.Dir) (bool, error) {
	fetchHash := map[string]string{}
	for _, rec := range p.Fetches {
		fetchHash[rec.Unit.RelativePath()] = rec.Hash
	}

	for _, rec := range p.Extractions {
		if err := e.hashExtractionUnit(ctx, rec, fetchHash); err != nil {
			return false, err
		}
	}

	f, err := os.OpenFile(dir.ExtractionInfoNewPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return false, err
	}
	for _, rec := range p.Extractions {
		if _, err := fmt.Fprintln(f, printExtraction(rec)); err != nil {
			f.Close()
			return false, err
		}
	}
	if err := f.Close(); err != nil {
		return false, err
	}

	same, err := buildinfo.SameContent(dir.ExtractionInfoPath(), dir.ExtractionInfoNewPath())
	if err != nil {
		return false, err
	}

	p.Mu.Lock()
	codeUpdated := p.CodeUpdated
	p.Mu.Unlock()

	return codeUpdated || !same, nil
}

// printExtraction renders a record's final line, substituting the
// resolved hash into the underlying unit first.
func printExtraction(rec *pkgns.ExtractionRecord) string {
	switch v := rec.Unit.(type) {
	case extract.Tar:
		v.Hash = rec.Hash
		return v.Print()
	case extract.Zip:
		v.Hash = rec.Hash
		return v.Print()
	case extract.Patch:
		v.Hash = rec.Hash
		return v.Print()
	case extract.FileCopy:
		v.Hash = rec.Hash
		return v.Print()
	case extract.FetchedFileCopy:
		v.Hash = rec.Hash
		return v.Print()
	default:
		return rec.Unit.Print()
	}
}

// hashExtractionUnit computes rec.Hash without requiring a second pass
// over already-fetched content where a fetch hash is available.
func (e *Engine) hashExtractionUnit(ctx context.Context, rec *pkgns.ExtractionRecord, fetchHash map[string]string) error {
	switch v := rec.Unit.(type) {
	case extract.Tar:
		rec.Hash = fetchHash[v.Path]
		if rec.Hash == "" {
			h, err := hashstore.File(e.absPath(v.Path))
			if err != nil {
				return err
			}
			rec.Hash = h
		}
	case extract.Zip:
		rec.Hash = fetchHash[v.Path]
		if rec.Hash == "" {
			h, err := hashstore.File(e.absPath(v.Path))
			if err != nil {
				return err
			}
			rec.Hash = h
		}
	case extract.Patch:
		h, err := hashstore.File(e.absPath(v.PatchPath))
		if err != nil {
			return err
		}
		rec.Hash = h
	case extract.FileCopy:
		abs, err := e.Overlay.Resolve(v.Path)
		if err != nil {
			return err
		}
		h, err := hashstore.File(abs)
		if err != nil {
			return err
		}
		rec.Hash = h
	case extract.FetchedFileCopy:
		h, err := hashstore.File(e.absPath(v.FetchPath))
		if err != nil {
			return err
		}
		rec.Hash = h
	case extract.LinkGitDir:
		head, dirty, err := extract.GitDirHashes(ctx, e.resolveGitSrc(v.Src))
		if err != nil {
			return err
		}
		rec.Unit = extract.LinkGitDir{Src: v.Src, To: v.To, HeadSHA: head, DirtySHA: dirty}
	case extract.CopyGitDir:
		head, dirty, err := extract.GitDirHashes(ctx, e.resolveGitSrc(v.Src))
		if err != nil {
			return err
		}
		rec.Unit = extract.CopyGitDir{Src: v.Src, To: v.To, HeadSHA: head, DirtySHA: dirty}
	case extract.GitFetchDir:
		head, dirty, err := extract.GitDirHashes(ctx, filepath.Join(e.Pwd, "source", v.Local))
		if err != nil {
			return err
		}
		rec.Unit = extract.GitFetchDir{Refspec: v.Refspec, Local: v.Local, To: v.To, HeadSHA: head, DirtySHA: dirty}
	}
	return nil
}

func (e *Engine) absPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.Pwd, p)
}

func (e *Engine) resolveGitSrc(src string) string {
	if filepath.IsAbs(src) {
		return src
	}
	abs, err := e.Overlay.Resolve(src)
	if err != nil {
		return filepath.Join(e.Pwd, src)
	}
	return abs
}

// runExtractions runs the extraction plan against the work dir, resolving
// the same overlay-relative paths prepareExtractionInfo hashed.
func (e *Engine) runExtractions(ctx context.Context, p *pkgns.Package, dir *builddir.Dir) error {
	for _, rec := range p.Extractions {
		u := rec.Unit
		switch v := u.(type) {
		case extract.FileCopy:
			abs, err := e.Overlay.Resolve(v.Path)
			if err != nil {
				return err
			}
			u = extract.FileCopy{Path: abs, ShortName: v.ShortName, Hash: v.Hash}
		case extract.LinkGitDir:
			u = extract.LinkGitDir{Src: e.resolveGitSrc(v.Src), To: v.To, HeadSHA: v.HeadSHA, DirtySHA: v.DirtySHA}
		case extract.CopyGitDir:
			u = extract.CopyGitDir{Src: e.resolveGitSrc(v.Src), To: v.To, HeadSHA: v.HeadSHA, DirtySHA: v.DirtySHA}
		}
		if err := e.Extract.Extract(ctx, p.Key(), e.Pwd, dir.Work(), u); err != nil {
			return err
		}
	}
	return nil
}

// prepareBuildInfo appends this build's ExtractionInfoFile and each
// dependency's Output/BuildInfoFile to p's BuildInfo (already seeded with
// PackageFile and Feature units during recipe interpretation), writes
// .build.info.new, and returns its hash.
func (e *Engine) prepareBuildInfo(p *pkgns.Package, dir *builddir.Dir) (string, error) {
	exHash, err := hashstore.File(dir.ExtractionInfoNewPath())
	if err != nil {
		return "", err
	}
	p.BuildInfo.Add(buildinfo.ExtractionInfoFile{Path: dir.ExtractionInfoNewPath(), Hash: exHash})

	for _, d := range p.Dependencies {
		depDir, err := builddir.New(e.Pwd, d.Pkg.NS, d.Pkg.Name)
		if err != nil {
			return "", err
		}
		if d.Pkg.HashOutput {
			h, err := hashstore.File(depDir.OutputInfoPath())
			if err != nil {
				return "", err
			}
			p.BuildInfo.Add(buildinfo.OutputInfoFile{Path: d.Pkg.Key(), Hash: h})
		} else {
			h, err := hashstore.File(depDir.BuildInfoPath())
			if err != nil {
				return "", err
			}
			p.BuildInfo.Add(buildinfo.BuildInfoFile{Path: d.Pkg.Key(), Hash: h})
		}
	}

	return p.BuildInfo.WriteFile(dir.BuildInfoNewPath())
}

// shouldBuild implements §4.12 step 7: code_updated, explicit
// installfile() overrides, a missing published tarball, or a changed
// buildinfo all force a (re)build.
func (e *Engine) shouldBuild(p *pkgns.Package, dir *builddir.Dir, buildInfoHash string) (bool, error) {
	p.Mu.Lock()
	codeUpdated := p.CodeUpdated
	p.Mu.Unlock()
	if codeUpdated || len(p.InstallFiles) > 0 {
		return true, nil
	}
	if _, err := os.Stat(dir.StagingTarPath()); os.IsNotExist(err) {
		return true, nil
	}
	if _, err := os.Stat(dir.InstallTarPath()); os.IsNotExist(err) {
		return true, nil
	}
	same, err := buildinfo.SameContent(dir.BuildInfoPath(), dir.BuildInfoNewPath())
	if err != nil {
		return false, err
	}
	return !same, nil
}

// prepareBuildDirs implements §4.12 step 11: reset new/staging and
// new/install, then recompose staging/ from the staging set.
func (e *Engine) prepareBuildDirs(ctx context.Context, p *pkgns.Package, dir *builddir.Dir) error {
	if err := dir.CleanNew(); err != nil {
		return err
	}
	if err := dir.CleanStaging(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir.Staging(), 0755); err != nil {
		return err
	}

	deps := stagingSet(p)
	compose := func(dep *pkgns.Package) error {
		depDir, err := builddir.New(e.Pwd, dep.NS, dep.Name)
		if err != nil {
			return err
		}
		if _, err := os.Stat(depDir.StagingTarPath()); os.IsNotExist(err) {
			return nil
		}
		return extractTarKeep(ctx, e.Run, p.Key(), depDir.StagingTarPath(), dir.Staging())
	}

	if !e.ParallelExtraction {
		for _, dep := range deps {
			if err := compose(dep); err != nil {
				return err
			}
		}
		return nil
	}

	g, _ := errgroup.WithContext(ctx)
	for _, dep := range deps {
		dep := dep
		g.Go(func() error { return compose(dep) })
	}
	return g.Wait()
}

// extractInstallDepends implements §4.12 step 12: a fetch(..., "deps")
// declaration populates DepsExtract.Path with the transitive (or direct
// only) install trees of this package's dependencies.
func (e *Engine) extractInstallDepends(ctx context.Context, p *pkgns.Package, dir *builddir.Dir) error {
	dest := p.DepsExtract.Path
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(dir.Work(), dest)
	}
	if err := os.RemoveAll(dest); err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}

	var deps []*pkgns.Package
	if p.DepsExtract.DirectOnly {
		for _, d := range p.Dependencies {
			deps = append(deps, d.Pkg)
		}
	} else {
		deps = installSet(p, false)
	}

	for _, dep := range deps {
		depDir, err := builddir.New(e.Pwd, dep.NS, dep.Name)
		if err != nil {
			return err
		}
		if _, err := os.Stat(depDir.InstallTarPath()); os.IsNotExist(err) {
			continue
		}
		if err := extractTarKeep(ctx, e.Run, p.Key(), depDir.InstallTarPath(), dest); err != nil {
			return err
		}
	}
	return nil
}

// runCommands runs every declared Command in order against the work dir,
// injecting BS_PACKAGE_NAME (already present in Command.Env, added by the
// interpreter) and stopping at the first failure.
func (e *Engine) runCommands(ctx context.Context, p *pkgns.Package, dir *builddir.Dir) error {
	for _, c := range p.Commands {
		runDir := dir.Work()
		if c.Dir != "" {
			runDir = filepath.Join(dir.Work(), c.Dir)
		}
		argv := append([]string{c.Program}, c.Args...)
		if err := e.Run.Run(ctx, p.Key(), runDir, argv, c.Env); err != nil {
			return fmt.Errorf("command %s: %w", c.Program, err)
		}
	}
	return nil
}

// publish implements §4.12 step 14: new/staging and new/install (or an
// explicit installfile() list) are packaged into the published per-package
// tars.
func (e *Engine) publish(ctx context.Context, p *pkgns.Package, dir *builddir.Dir) error {
	if err := builddir.EnsurePublishDirs(e.Pwd, p.NS); err != nil {
		return err
	}

	if err := createTar(ctx, e.Run, p.Key(), dir.NewStaging(), dir.StagingTarPath()); err != nil {
		return err
	}

	if len(p.InstallFiles) > 0 {
		if err := createTarFiles(ctx, e.Run, p.Key(), dir.Work(), dir.InstallTarPath(), p.InstallFiles); err != nil {
			return err
		}
	} else if err := createTar(ctx, e.Run, p.Key(), dir.NewInstall(), dir.InstallTarPath()); err != nil {
		return err
	}

	return e.writeCacheManifest(p, dir)
}

// writeCacheManifest writes the YAML sidecar an external cache server can
// read to populate its index without parsing .build.info itself.
func (e *Engine) writeCacheManifest(p *pkgns.Package, dir *builddir.Dir) error {
	p.Mu.Lock()
	hash := p.BuildInfoHash
	p.Mu.Unlock()

	data, err := yaml.Marshal(cacheManifest{
		Namespace:     p.NS,
		Package:       p.Name,
		BuildInfoHash: hash,
		HashOutput:    p.HashOutput,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(filepath.Dir(dir.BuildInfoPath()), ".cache-manifest.yaml"), data, 0644)
}
