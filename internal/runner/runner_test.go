package runner

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/buildsys/buildsys/internal/buildlog"
	"github.com/stretchr/testify/require"
)

func TestRunSuccessStreamsOutput(t *testing.T) {
	var buf bytes.Buffer
	r := New(buildlog.TextHandler(&buf))

	err := r.Run(context.Background(), "pkg/a", t.TempDir(), []string{"echo", "hello"}, nil)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "hello")
}

func TestRunNonZeroExit(t *testing.T) {
	r := New(buildlog.TextHandler(&bytes.Buffer{}))
	err := r.Run(context.Background(), "pkg/a", t.TempDir(), []string{"sh", "-c", "exit 3"}, nil)
	require.Error(t, err)
}

func TestBashQuotesCommand(t *testing.T) {
	var buf bytes.Buffer
	r := New(buildlog.TextHandler(&buf))
	err := r.Bash(context.Background(), "pkg/a", t.TempDir(), "echo $BS_PACKAGE_NAME", []string{"BS_PACKAGE_NAME=a"})
	require.NoError(t, err)
	require.True(t, strings.Contains(buf.String(), "a"))
}
