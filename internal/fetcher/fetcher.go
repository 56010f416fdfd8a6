// Package fetcher downloads EDGAR content under the SEC's rate limits.
package fetcher

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned for HTTP 404 responses. A missing daily index is
// a normal condition (weekends, holidays), not a failure.
var ErrNotFound = eris.New("fetcher: not found")

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Get fetches the URL and returns the decompressed response body.
	Get(ctx context.Context, url string) ([]byte, error)

	// Head performs a HEAD request and returns the Content-Length in
	// bytes, or 0 when the server does not report one.
	Head(ctx context.Context, url string) (int64, error)
}
