// Package runner implements CommandRunner (§4.3): the only way buildsys
// escapes the process to spawn external programs (tar, wget, patch, cp,
// ln, unzip, and recipe-declared build commands).
package runner

import (
	"context"
	"os"
	"os/exec"

	"github.com/buildsys/buildsys/internal/buildlog"
)

// Runner spawns external commands and streams their merged stdio to a
// buildlog.Handler.
type Runner struct {
	Log buildlog.Handler
}

// New returns a Runner logging through h. h is wrapped in a MutexHandler so
// concurrent Run calls from different scheduler workers are safe.
func New(h buildlog.Handler) *Runner {
	return &Runner{Log: buildlog.MutexHandler(h)}
}

// Run spawns argv[0] with the remaining elements of argv as arguments, at
// the given working directory, with env appended to the inherited
// environment. Stdout and stderr are merged into a single pipe and streamed
// line-by-line to the Runner's Handler, tagged pkg/StreamStdout (stderr is
// not distinguished once merged, matching §4.3's "single merged pipe").
// Run returns nil iff the child exits with status zero.
func (r *Runner) Run(ctx context.Context, pkg, dir string, argv []string, env []string) error {
	if len(argv) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)

	pr, pw, err := os.Pipe()
	if err != nil {
		return err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return err
	}
	pw.Close()

	done := make(chan error, 1)
	go func() {
		done <- buildlog.WriteLines(r.Log, pkg, buildlog.StreamStdout, pr)
	}()

	waitErr := cmd.Wait()
	pr.Close()
	logErr := <-done

	if waitErr != nil {
		return waitErr
	}
	return logErr
}

// Bash runs `bash -c command`, the same command shape the recipe
// interpreter's shell() call records for later execution through Run.
func (r *Runner) Bash(ctx context.Context, pkg, dir, command string, env []string) error {
	return r.Run(ctx, pkg, dir, []string{"bash", "-c", command}, env)
}
