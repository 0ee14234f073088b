package extract

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/buildsys/buildsys/internal/buildlog"
	"github.com/buildsys/buildsys/internal/runner"
	"github.com/stretchr/testify/require"
)

func newEngine() *Engine {
	return New(runner.New(buildlog.MultiHandler()))
}

func TestExtractTarFile(t *testing.T) {
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not available")
	}

	pwd := t.TempDir()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	content := []byte("hello")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "hello.txt", Mode: 0644, Size: int64(len(content))}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	tarPath := filepath.Join(pwd, "dl", "foo.tar")
	require.NoError(t, os.MkdirAll(filepath.Dir(tarPath), 0755))
	require.NoError(t, os.WriteFile(tarPath, buf.Bytes(), 0644))

	workDir := filepath.Join(pwd, "work")
	e := newEngine()
	require.NoError(t, e.Extract(context.Background(), "pkg", pwd, workDir, Tar{Path: "dl/foo.tar"}))

	data, err := os.ReadFile(filepath.Join(workDir, "hello.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestExtractFileCopy(t *testing.T) {
	pwd := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(pwd, "src.txt"), []byte("x"), 0644))
	workDir := filepath.Join(pwd, "work")
	require.NoError(t, os.MkdirAll(workDir, 0755))

	e := newEngine()
	require.NoError(t, e.Extract(context.Background(), "pkg", pwd, workDir, FileCopy{Path: "src.txt", ShortName: "src.txt"}))

	data, err := os.ReadFile(filepath.Join(workDir, "src.txt"))
	require.NoError(t, err)
	require.Equal(t, "x", string(data))
}

func TestExtractLinkGitDir(t *testing.T) {
	pwd := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(pwd, "source", "foo"), 0755))
	workDir := filepath.Join(pwd, "work")
	require.NoError(t, os.MkdirAll(workDir, 0755))

	e := newEngine()
	require.NoError(t, e.Extract(context.Background(), "pkg", pwd, workDir, LinkGitDir{Src: "source/foo", To: "foo"}))

	target, err := os.Readlink(filepath.Join(workDir, "foo"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(pwd, "source", "foo"), target)
}
