package extract

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/buildsys/buildsys/internal/hashstore"
	"github.com/buildsys/buildsys/internal/runner"
	git "github.com/go-git/go-git/v5"
)

// Engine runs ExtractionUnits against a package's work directory. Tar and
// Patch extraction shell out through a runner.Runner, matching the spec's
// named external collaborators (tar, patch); Zip uses the standard
// archive/zip reader since no pack example wires a third-party zip decoder.
type Engine struct {
	Run *runner.Runner
}

// New returns an Engine that logs spawned commands through r.
func New(r *runner.Runner) *Engine {
	return &Engine{Run: r}
}

// Extract dispatches to the method implied by u's type, rooted at pwd (the
// process working directory, where dl/ and source/ live) with workDir as
// the destination (builddir.Dir.Work()).
func (e *Engine) Extract(ctx context.Context, pkgName, pwd, workDir string, u Unit) error {
	switch v := u.(type) {
	case Tar:
		return e.extractTar(ctx, pkgName, pwd, workDir, v)
	case Zip:
		return e.extractZip(pwd, workDir, v)
	case Patch:
		return e.applyPatch(ctx, pkgName, pwd, workDir, v)
	case FileCopy:
		return copyTree(filepath.Join(pwd, v.Path), filepath.Join(workDir, v.ShortName))
	case FetchedFileCopy:
		return copyTree(filepath.Join(pwd, v.FetchPath), filepath.Join(workDir, v.ShortName))
	case LinkGitDir:
		return linkTree(filepath.Join(pwd, v.Src), filepath.Join(workDir, v.To))
	case CopyGitDir:
		return copyTree(filepath.Join(pwd, v.Src), filepath.Join(workDir, v.To))
	case GitFetchDir:
		return copyTree(filepath.Join(pwd, "source", v.Local), filepath.Join(workDir, v.To))
	default:
		return fmt.Errorf("extract: unknown unit type %T", u)
	}
}

func (e *Engine) extractTar(ctx context.Context, pkgName, pwd, workDir string, u Tar) error {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("extract: mkdir %s: %w", workDir, err)
	}
	path := u.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(pwd, path)
	}
	return e.Run.Run(ctx, pkgName, workDir, []string{"tar", "-xf", path}, nil)
}

func (e *Engine) extractZip(pwd, workDir string, u Zip) error {
	path := u.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(pwd, path)
	}
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("extract: open zip %s: %w", path, err)
	}
	defer r.Close()

	for _, f := range r.File {
		dest := filepath.Join(workDir, f.Name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, f.Mode()); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if err := extractZipFile(f, dest); err != nil {
			return fmt.Errorf("extract: %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractZipFile(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

// applyPatch dry-runs the patch first (§4.5): a failing dry run reports
// the patch path and aborts without touching the tree.
func (e *Engine) applyPatch(ctx context.Context, pkgName, pwd, workDir string, u Patch) error {
	applyDir := filepath.Join(workDir, u.ApplyDir)
	if err := os.MkdirAll(applyDir, 0755); err != nil {
		return fmt.Errorf("extract: mkdir %s: %w", applyDir, err)
	}
	path := u.PatchPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(pwd, path)
	}
	level := fmt.Sprintf("-p%d", u.Level)

	dryRun := []string{"patch", "--dry-run", level, "-i", path}
	if err := e.Run.Run(ctx, pkgName, applyDir, dryRun, nil); err != nil {
		return fmt.Errorf("extract: Will fail to patch %s: %w", path, err)
	}

	argv := []string{"patch", level, "-i", path}
	return e.Run.Run(ctx, pkgName, applyDir, argv, nil)
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
	_, err = io.Copy(out, in)
	return err
}

func linkTree(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	err := os.Symlink(src, dst)
	if err != nil && os.IsExist(err) {
		if rmErr := os.RemoveAll(dst); rmErr != nil {
			return rmErr
		}
		err = os.Symlink(src, dst)
	}
	return err
}

// GitDirHashes computes the HEAD commit and, if the worktree at dir has
// uncommitted changes, a hash of `git diff HEAD`'s output (the "dirty
// hash" referenced in §4.5's GitDir grammar). dirtySHA is empty for a
// clean tree.
func GitDirHashes(ctx context.Context, dir string) (headSHA, dirtySHA string, err error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", "", fmt.Errorf("extract: open %s: %w", dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", "", fmt.Errorf("extract: head %s: %w", dir, err)
	}
	headSHA = head.Hash().String()

	wt, err := repo.Worktree()
	if err != nil {
		return "", "", fmt.Errorf("extract: worktree %s: %w", dir, err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", "", fmt.Errorf("extract: status %s: %w", dir, err)
	}
	if status.IsClean() {
		return headSHA, "", nil
	}

	cmd := exec.CommandContext(ctx, "git", "diff", "HEAD")
	cmd.Dir = dir
	var out strings.Builder
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", "", fmt.Errorf("extract: git diff HEAD in %s: %w", dir, err)
	}

	return headSHA, hashstore.Bytes([]byte(out.String())), nil
}
