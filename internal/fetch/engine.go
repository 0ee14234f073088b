// Package fetch implements FetchEngine (§4.4): acquisition of sources by
// download, symlink, copy, or git clone/checkout, with per-filename
// download serialisation and an optional tarball-cache mirror tried before
// the declared URI.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/buildsys/buildsys/internal/hashstore"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
)

// Engine acquires sources for a single build invocation (pwd-scoped).
type Engine struct {
	// Pwd is the process working directory fetches are rooted at.
	Pwd string

	// TarballCache is an optional URL prefix probed before the declared
	// URI for Download units (--tarball-cache).
	TarballCache string

	// HTTPClient performs downloads; defaults to http.DefaultClient.
	HTTPClient *http.Client

	reg *registry
}

// New returns an Engine rooted at pwd.
func New(pwd, tarballCache string) *Engine {
	return &Engine{
		Pwd:          pwd,
		TarballCache: tarballCache,
		HTTPClient:   http.DefaultClient,
		reg:          newRegistry(),
	}
}

func (e *Engine) client() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	return http.DefaultClient
}

// Result is what a successful Fetch produces.
type Result struct {
	// Hash is the content hash of the fetched artefact. Empty for
	// Link/Copy, by design (§3).
	Hash string
	// CodeUpdated is true when this fetch must force the owning
	// package's code_updated flag (Link and Copy always do).
	CodeUpdated bool
}

// Fetch dispatches to the method implied by u's type. digestPath is the
// recipe-adjacent Digest file (may not exist). overlayRoot is used to
// resolve Link/Copy URIs that are overlay-relative. workDir is the
// package's work directory (builddir.Dir.Work()).
func (e *Engine) Fetch(ctx context.Context, pkgName, digestPath, overlayRoot, workDir string, u Unit) (Result, error) {
	switch v := u.(type) {
	case Download:
		return e.download(ctx, pkgName, digestPath, workDir, v)
	case Link:
		return e.link(overlayRoot, workDir, v)
	case Copy:
		return e.copy(overlayRoot, workDir, v)
	case Git:
		return e.git(ctx, pkgName, digestPath, v)
	default:
		return Result{}, fmt.Errorf("fetch: unknown unit type %T", u)
	}
}

// Prehash reports u's content hash without performing a fetch, mirroring
// each FetchUnit's own HASH() method: a Download's hash always comes from
// its Digest entry (never the network), a Link or Copy never contributes
// one, and a Git unit resolves it from a "<remote>#<refspec>" Digest entry
// or, failing that, from the refspec itself when it is already a commit
// id. ok is false only for a Git unit whose refspec is symbolic and has no
// Digest entry - there, learning the hash requires Fetch to run for real.
func (e *Engine) Prehash(digestPath string, u Unit) (hash string, ok bool, err error) {
	digest, err := LoadDigest(digestPath)
	if err != nil {
		return "", false, err
	}
	switch v := u.(type) {
	case Download:
		final := v.finalName()
		h, present := digest[final]
		if !present {
			return "", false, ErrMissingHash{Filename: final}
		}
		return h, true, nil
	case Link:
		return "", true, nil
	case Copy:
		return "", true, nil
	case Git:
		key := v.Remote + "#" + v.Refspec
		if h, present := digest[key]; present {
			return h, true, nil
		}
		if isHexSHA(v.Refspec) {
			return v.Refspec, true, nil
		}
		return "", false, nil
	default:
		return "", false, fmt.Errorf("fetch: unknown unit type %T", u)
	}
}

func (e *Engine) download(ctx context.Context, pkgName, digestPath, workDir string, u Download) (Result, error) {
	final := u.finalName()
	dlDir := filepath.Join(e.Pwd, "dl")
	if err := os.MkdirAll(dlDir, 0755); err != nil {
		return Result{}, fmt.Errorf("fetch: mkdir dl: %w", err)
	}
	finalPath := filepath.Join(dlDir, final)

	obj := e.reg.get(final)
	obj.lock()
	defer obj.unlock()

	if _, err := os.Stat(finalPath); err != nil {
		if !os.IsNotExist(err) {
			return Result{}, fmt.Errorf("fetch: stat %s: %w", finalPath, err)
		}
		if err := e.fetchToFile(ctx, finalPath, final, u); err != nil {
			return Result{}, err
		}
	}

	digest, err := LoadDigest(digestPath)
	if err != nil {
		return Result{}, err
	}
	expected, hasDigest := digest[final]
	if !hasDigest {
		return Result{}, ErrMissingHash{Filename: final}
	}

	got, err := hashstore.File(finalPath)
	if err != nil {
		return Result{}, err
	}
	if got != expected {
		return Result{}, ErrHashMismatch{Filename: final, Expected: expected, Got: got}
	}
	if err := obj.claim(got); err != nil {
		return Result{}, err
	}

	return Result{Hash: got}, nil
}

// fetchToFile downloads u to finalPath, trying the tarball cache first,
// then the declared URI, then decompressing if requested. Downloads land
// in a .tmp file first and are renamed atomically on success.
func (e *Engine) fetchToFile(ctx context.Context, finalPath, final string, u Download) error {
	tmpPath := finalPath + ".tmp"

	fetched := false
	var cacheErr error
	if e.TarballCache != "" {
		url := strings.TrimSuffix(e.TarballCache, "/") + "/" + final
		if err := e.httpGet(ctx, url, tmpPath); err == nil {
			fetched = true
		} else {
			cacheErr = err
		}
	}
	if !fetched {
		if err := e.httpGet(ctx, u.URI, tmpPath); err != nil {
			return fmt.Errorf("fetch: download %s (cache attempt: %v): %w", u.URI, cacheErr, err)
		}
	}

	// A download to be decompressed keeps its compressed name until the
	// decompressor turns it into final.
	saved := final
	if u.Decompress {
		saved = u.FilenameOverride
		if saved == "" {
			saved = filepath.Base(u.URI)
		}
	}
	if err := os.Rename(tmpPath, filepath.Join(filepath.Dir(finalPath), saved)); err != nil {
		return fmt.Errorf("fetch: rename %s: %w", tmpPath, err)
	}

	if u.Decompress {
		ext := filepath.Ext(saved)
		var tool string
		switch ext {
		case ".bz2":
			tool = "bunzip2"
		case ".gz":
			tool = "gunzip"
		default:
			return fmt.Errorf("fetch: cannot guess decompression for %q", saved)
		}
		cmd := exec.CommandContext(ctx, tool, "-d", saved)
		cmd.Dir = filepath.Dir(finalPath)
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("fetch: %s %s: %w", tool, final, err)
		}
	}
	return nil
}

func (e *Engine) httpGet(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := e.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch: %s: status %s", url, resp.Status)
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}

// link symlinks the relative fetch path into the work dir. If the target
// already exists, it is removed and the link is retried once (§4.4, §7
// "one retry after target removal").
func (e *Engine) link(overlayRoot, workDir string, u Link) (Result, error) {
	src := filepath.Join(overlayRoot, u.URI)
	dst := filepath.Join(workDir, filepath.Base(u.URI))

	err := os.Symlink(src, dst)
	if err != nil && os.IsExist(err) {
		if rmErr := os.RemoveAll(dst); rmErr != nil {
			return Result{}, fmt.Errorf("fetch: remove existing link target %s: %w", dst, rmErr)
		}
		err = os.Symlink(src, dst)
	}
	if err != nil {
		return Result{}, fmt.Errorf("fetch: link %s: %w", src, err)
	}
	return Result{CodeUpdated: true}, nil
}

// copy recursively copies an overlay-relative path into the work dir,
// preserving attributes (cp -dpRuf semantics).
func (e *Engine) copy(overlayRoot, workDir string, u Copy) (Result, error) {
	src := filepath.Join(overlayRoot, u.URI)
	dst := filepath.Join(workDir, filepath.Base(u.URI))
	if err := copyTree(src, dst); err != nil {
		return Result{}, fmt.Errorf("fetch: copy %s: %w", src, err)
	}
	return Result{CodeUpdated: true}, nil
}

func (e *Engine) git(ctx context.Context, pkgName, digestPath string, u Git) (Result, error) {
	dir := filepath.Join(e.Pwd, "source", u.Local)

	obj := e.reg.get("git:" + u.Local)
	obj.lock()
	defer obj.unlock()

	isCommit := isHexSHA(u.Refspec)

	repo, err := git.PlainOpen(dir)
	if err != nil {
		if err != git.ErrRepositoryNotExists {
			return Result{}, fmt.Errorf("fetch: open %s: %w", dir, err)
		}
		repo, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:   u.Remote,
			Tags:  git.AllTags,
		})
		if err != nil {
			return Result{}, fmt.Errorf("fetch: clone %s: %w", u.Remote, err)
		}
	} else {
		if err := ensureOrigin(repo, u.Remote); err != nil {
			return Result{}, err
		}
		if !isCommit {
			if err := fetchAll(ctx, repo); err != nil {
				return Result{}, fmt.Errorf("fetch: fetch %s: %w", u.Remote, err)
			}
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return Result{}, fmt.Errorf("fetch: worktree %s: %w", dir, err)
	}

	hash, isBranch, err := resolveRefspec(repo, u.Refspec)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: resolve refspec %q: %w", u.Refspec, err)
	}

	if err := wt.Checkout(&git.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return Result{}, fmt.Errorf("fetch: checkout %s: %w", hash, err)
	}

	if isBranch {
		head, err := repo.Head()
		if err != nil {
			return Result{}, fmt.Errorf("fetch: head %s: %w", dir, err)
		}
		if head.Hash() != hash {
			return Result{}, fmt.Errorf("fetch: refspec %q is a branch but HEAD %s != branch tip %s", u.Refspec, head.Hash(), hash)
		}
	}

	headHash := hash.String()

	digest, err := LoadDigest(digestPath)
	if err == nil {
		key := u.Remote + "#" + u.Refspec
		if expected, ok := digest[key]; ok && expected != headHash {
			return Result{}, ErrHashMismatch{Filename: key, Expected: expected, Got: headHash}
		}
	}

	return Result{Hash: headHash}, nil
}

func ensureOrigin(repo *git.Repository, remote string) error {
	r, err := repo.Remote("origin")
	if err == git.ErrRemoteNotFound {
		_, err = repo.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{remote}})
		return err
	}
	if err != nil {
		return err
	}
	cfg := r.Config()
	if len(cfg.URLs) == 0 || cfg.URLs[0] != remote {
		cfg.URLs = []string{remote}
		return repo.Storer.SetConfig(&config.Config{Remotes: map[string]*config.RemoteConfig{"origin": cfg}})
	}
	return nil
}

func fetchAll(ctx context.Context, repo *git.Repository) error {
	err := repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		Tags:       git.AllTags,
		Force:      true,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return err
	}
	return nil
}

// resolveRefspec turns a refspec into a commit hash, reporting whether it
// named a branch (needed for the HEAD==branch-tip check in §4.4).
func resolveRefspec(repo *git.Repository, refspec string) (plumbing.Hash, bool, error) {
	if isHexSHA(refspec) {
		return plumbing.NewHash(refspec), false, nil
	}

	name := strings.TrimPrefix(refspec, "origin/")
	if ref, err := repo.Reference(plumbing.NewBranchReferenceName(name), true); err == nil {
		return ref.Hash(), true, nil
	}
	if ref, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", name), true); err == nil {
		return ref.Hash(), true, nil
	}
	if ref, err := repo.Reference(plumbing.NewTagReferenceName(refspec), true); err == nil {
		return ref.Hash(), false, nil
	}
	obj, err := repo.ResolveRevision(plumbing.Revision(refspec))
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("unresolvable refspec %q: %w", refspec, err)
	}
	return *obj, false, nil
}

func isHexSHA(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

func copyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}
	if info.IsDir() {
		if err := os.MkdirAll(dst, info.Mode()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := copyTree(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return err
			}
		}
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return os.Chtimes(dst, time.Now(), info.ModTime())
}
