package buildlog

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTextHandlerFormatsPackageLine(t *testing.T) {
	var buf bytes.Buffer
	h := TextHandler(&buf)
	require.NoError(t, h.Log(Line{Package: "ns/pkg", Stream: StreamStdout, Text: "hello"}))
	require.Equal(t, "[ns/pkg][stdout] hello\n", buf.String())
}

func TestTextHandlerFormatsMetaLine(t *testing.T) {
	var buf bytes.Buffer
	h := TextHandler(&buf)
	require.NoError(t, h.Log(Line{Stream: StreamMeta, Text: "starting"}))
	require.Equal(t, "[meta] starting\n", buf.String())
}

func TestMultiHandlerFansOutInOrder(t *testing.T) {
	var a, b bytes.Buffer
	h := MultiHandler(TextHandler(&a), TextHandler(&b))
	require.NoError(t, h.Log(Line{Package: "p", Stream: StreamBuild, Text: "x"}))
	require.Equal(t, a.String(), b.String())
}

func TestQuietHandlerRoutesPackageLinesToPerPackageFile(t *testing.T) {
	dir := t.TempDir()
	var fallback bytes.Buffer

	q := NewQuietHandler(func(pkg string) string {
		return filepath.Join(dir, filepath.FromSlash(pkg)+".log")
	}, TextHandler(&fallback))
	defer q.Close()

	require.NoError(t, q.Log(Line{Package: "ns/pkg", Stream: StreamStdout, Text: "building"}))
	require.NoError(t, q.Log(Line{Stream: StreamMeta, Text: "scheduler event"}))

	data, err := os.ReadFile(filepath.Join(dir, "ns/pkg.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), "building")

	require.Contains(t, fallback.String(), "scheduler event")
	require.NotContains(t, fallback.String(), "building")
}

func TestQuietHandlerReusesOpenFileAcrossLines(t *testing.T) {
	dir := t.TempDir()
	q := NewQuietHandler(func(pkg string) string {
		return filepath.Join(dir, "build.log")
	}, TextHandler(&bytes.Buffer{}))
	defer q.Close()

	require.NoError(t, q.Log(Line{Package: "ns/pkg", Stream: StreamStdout, Text: "line one"}))
	require.NoError(t, q.Log(Line{Package: "ns/pkg", Stream: StreamStdout, Text: "line two"}))
	require.NoError(t, q.Close())

	data, err := os.ReadFile(filepath.Join(dir, "build.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), "line one")
	require.Contains(t, string(data), "line two")
}

func TestWriteLinesStreamsEachLine(t *testing.T) {
	var buf bytes.Buffer
	r := bytes.NewBufferString("first\nsecond\n")
	require.NoError(t, WriteLines(TextHandler(&buf), "ns/pkg", StreamStdout, r))
	require.Contains(t, buf.String(), "first")
	require.Contains(t, buf.String(), "second")
}
