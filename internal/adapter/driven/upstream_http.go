package driven

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/alorle/hls-proxy/internal/port/driven"
)

// DefaultUserAgent is sent when the caller does not forward one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// UpstreamHTTPAdapter implements the Upstream port with a plain HTTP client.
type UpstreamHTTPAdapter struct {
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
}

// NewUpstreamHTTPAdapter creates an adapter whose requests give up after
// timeout and follow at most maxRedirects redirects.
func NewUpstreamHTTPAdapter(timeout time.Duration, maxRedirects int, userAgent string, logger *slog.Logger) *UpstreamHTTPAdapter {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &UpstreamHTTPAdapter{
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Fetch requests rawURL with the given headers. Non-2xx answers are drained,
// closed and reported as ErrUpstreamStatus.
func (a *UpstreamHTTPAdapter) Fetch(ctx context.Context, rawURL string, headers map[string]string) (*driven.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	a.logger.Debug("fetching upstream", "url", rawURL)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		a.logger.Warn("upstream returned error", "url", rawURL, "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("%w: %d from %s", driven.ErrUpstreamStatus, resp.StatusCode, rawURL)
	}

	body := resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("failed to open gzip body: %w", err)
		}
		body = &gzipBody{Reader: gz, raw: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
	}

	return &driven.UpstreamResponse{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// gzipBody closes both the decompressor and the underlying connection body.
type gzipBody struct {
	*gzip.Reader
	raw io.ReadCloser
}

func (b *gzipBody) Close() error {
	return errors.Join(b.Reader.Close(), b.raw.Close())
}
