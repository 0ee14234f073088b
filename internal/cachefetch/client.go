// Package cachefetch implements the remote build-cache client (§6 "Cache
// URL scheme"): fetch-from retrieval of a previously built artefact set,
// indexed by buildinfo hash.
package cachefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// Client probes and downloads from a cache server rooted at BaseURL,
// laid out as <cache>/<ns>/<pkg>/<buildinfo_hash>/{usable,staging.tar,
// install.tar,output.info}.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New returns a Client rooted at baseURL.
func New(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimSuffix(baseURL, "/"), HTTP: http.DefaultClient}
}

func (c *Client) client() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) url(ns, pkg, hash, file string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", c.BaseURL, ns, pkg, hash, file)
}

// Restore attempts a cache fetch-from: it first probes "usable", and only
// if present downloads staging.tar to stagingDst, install.tar to
// installDst, and (if outputInfoDst is non-empty) output.info to
// outputInfoDst. All four must succeed for a usable restore; Restore
// reports (false, nil) on cache-miss, which is not an error (§7).
func (c *Client) Restore(ctx context.Context, ns, pkg, hash, stagingDst, installDst, outputInfoDst string) (bool, error) {
	if ok, err := c.probe(ctx, c.url(ns, pkg, hash, "usable")); err != nil {
		return false, err
	} else if !ok {
		return false, nil
	}

	if err := c.download(ctx, c.url(ns, pkg, hash, "staging.tar"), stagingDst); err != nil {
		return false, nil
	}
	if err := c.download(ctx, c.url(ns, pkg, hash, "install.tar"), installDst); err != nil {
		return false, nil
	}
	if outputInfoDst != "" {
		if err := c.download(ctx, c.url(ns, pkg, hash, "output.info"), outputInfoDst); err != nil {
			return false, nil
		}
	}
	return true, nil
}

func (c *Client) probe(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (c *Client) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cachefetch: %s: status %s", url, resp.Status)
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}
