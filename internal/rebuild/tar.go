package rebuild

import (
	"context"
	"os"

	"github.com/buildsys/buildsys/internal/runner"
)

// extractTarKeep extracts tarPath into destDir with tar's -k (keep
// existing files): the first writer of a given path wins and later
// conflicting writers are silently ignored (§4.13 Composer contract).
func extractTarKeep(ctx context.Context, r *runner.Runner, pkgName, tarPath, destDir string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}
	return r.Run(ctx, pkgName, destDir, []string{"tar", "-xkf", tarPath, "-C", destDir}, nil)
}

// createTar packages every entry under srcDir into destTar.
func createTar(ctx context.Context, r *runner.Runner, pkgName, srcDir, destTar string) error {
	return r.Run(ctx, pkgName, srcDir, []string{"tar", "-cf", destTar, "-C", srcDir, "."}, nil)
}

// createTarFiles packages the given srcDir-relative files into destTar,
// used when a recipe overrides the default install tar with an explicit
// installfile() list.
func createTarFiles(ctx context.Context, r *runner.Runner, pkgName, srcDir, destTar string, files []string) error {
	argv := append([]string{"tar", "-cf", destTar, "-C", srcDir}, files...)
	return r.Run(ctx, pkgName, srcDir, argv, nil)
}

// emptyTar creates an empty tar archive at destTar. The build pipeline does
// not call it; publication packages even an empty directory with createTar.
func emptyTar(ctx context.Context, r *runner.Runner, pkgName, destTar string) error {
	return r.Run(ctx, pkgName, "", []string{"tar", "-cf", destTar, "--files-from", os.DevNull}, nil)
}
