package driven

import (
	"context"
	"errors"
	"io"
	"net/http"
)

// ErrUpstreamStatus indicates the origin answered with a non-2xx status.
var ErrUpstreamStatus = errors.New("upstream returned unexpected status")

// UpstreamResponse is an open response from the origin. Callers must close Body.
type UpstreamResponse struct {
	// URL is the final URL after redirects; playlists resolve against it.
	URL        string
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Upstream fetches resources from origin servers.
type Upstream interface {
	Fetch(ctx context.Context, url string, headers map[string]string) (*UpstreamResponse, error)
}
