package cachefetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRestoreSucceedsWhenUsable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/host/gcc/abc123/usable", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("1")) })
	mux.HandleFunc("/host/gcc/abc123/staging.tar", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("staging")) })
	mux.HandleFunc("/host/gcc/abc123/install.tar", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("install")) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL)
	dir := t.TempDir()
	stagingDst := filepath.Join(dir, "staging.tar")
	installDst := filepath.Join(dir, "install.tar")

	ok, err := c.Restore(context.Background(), "host", "gcc", "abc123", stagingDst, installDst, "")
	require.NoError(t, err)
	require.True(t, ok)

	data, err := os.ReadFile(stagingDst)
	require.NoError(t, err)
	require.Equal(t, "staging", string(data))
}

func TestRestoreMissesWhenNotUsable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := New(srv.URL)
	dir := t.TempDir()

	ok, err := c.Restore(context.Background(), "host", "gcc", "abc123", filepath.Join(dir, "s.tar"), filepath.Join(dir, "i.tar"), "")
	require.NoError(t, err)
	require.False(t, ok)
}
