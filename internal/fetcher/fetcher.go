// Package fetcher downloads remote documents over HTTP with pacing and
// retry on transient failures.
package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads a URL.
type Fetcher interface {
	// Download fetches the URL and returns the response body. The caller
	// closes it.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}
