package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/davidmdm/x/xerr"
)

// HTTPSource downloads modules over http and https.
type HTTPSource struct {
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// Supports reports whether location is an http(s) URL.
func (s HTTPSource) Supports(location string) bool {
	uri, err := url.Parse(location)
	return err == nil && (uri.Scheme == "http" || uri.Scheme == "https")
}

// Fetch downloads location. A 4xx or 5xx status is an error.
func (s HTTPSource) Fetch(ctx context.Context, location string) (wasm []byte, err error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get response: %w", err)
	}
	defer func() {
		err = xerr.MultiErrFrom("", err, resp.Body.Close())
	}()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("unexpected statuscode fetching %s: %d", location, resp.StatusCode)
	}

	// The transport decompresses transparently when it negotiated gzip itself.
	if !resp.Uncompressed && (resp.Header.Get("Content-Encoding") == "gzip" || strings.HasSuffix(req.URL.Path, ".gz")) {
		return io.ReadAll(gzipReader(resp.Body))
	}

	return io.ReadAll(resp.Body)
}
