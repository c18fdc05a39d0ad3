package application

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/text/encoding/unicode"

	"github.com/alorle/hls-proxy/internal/hls"
	"github.com/alorle/hls-proxy/internal/port/driven"
	"github.com/alorle/hls-proxy/metrics"
)

var (
	// ErrMissingDestination is returned when a request carries no destination URL.
	ErrMissingDestination = errors.New("missing destination url")
	// ErrInvalidDestination is returned when the destination is not an absolute http(s) URL.
	ErrInvalidDestination = errors.New("invalid destination url")
)

// PlaylistContentType is the media type of every rewritten playlist.
const PlaylistContentType = "application/vnd.apple.mpegurl"

const (
	modeBulk      = "bulk"
	modeStreaming = "streaming"
)

// ManifestRequest describes one manifest endpoint call.
type ManifestRequest struct {
	// Destination is the origin URL to fetch.
	Destination string
	// Query is the incoming query with any token already expanded.
	Query url.Values
	// ProxyBase is the absolute URL of the manifest endpoint as the player sees it.
	ProxyBase string
}

// ManifestConfig holds the process-wide rewrite settings.
type ManifestConfig struct {
	Policy hls.RoutingPolicy
	// ExternalBase is the third-party proxy used by the stremio policy.
	ExternalBase string
	// Streaming selects the incremental processor over the bulk one.
	Streaming bool
}

// ManifestService fetches playlists from the origin and rewrites them so
// every reference points back through the proxy.
type ManifestService struct {
	upstream  driven.Upstream
	encoder   driven.ProxyURLEncoder
	external  driven.ExternalProxyEncoder
	scheduler driven.PrefetchScheduler
	segments  *SegmentService
	cfg       ManifestConfig
	logger    *slog.Logger
}

// NewManifestService creates a new ManifestService. scheduler and segments
// may be nil.
func NewManifestService(
	upstream driven.Upstream,
	encoder driven.ProxyURLEncoder,
	external driven.ExternalProxyEncoder,
	scheduler driven.PrefetchScheduler,
	segments *SegmentService,
	cfg ManifestConfig,
	logger *slog.Logger,
) *ManifestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManifestService{
		upstream:  upstream,
		encoder:   encoder,
		external:  external,
		scheduler: scheduler,
		segments:  segments,
		cfg:       cfg,
		logger:    logger,
	}
}

// Manifest is an open manifest endpoint response. Playlists are rewritten
// while being written out; anything else is copied unchanged.
type Manifest struct {
	// ContentType is PlaylistContentType for playlists and the origin's
	// content type otherwise.
	ContentType string
	// Playlist reports whether the body is rewritten.
	Playlist bool
	// Cached is true when a non-playlist body comes from the segment store.
	Cached bool

	body     io.ReadCloser
	rewriter *hls.Rewriter
	service  *ManifestService
}

// Open fetches req.Destination and prepares the response without writing
// anything yet, so callers can set headers first.
func (s *ManifestService) Open(ctx context.Context, req ManifestRequest) (*Manifest, error) {
	if err := validateDestination(req.Destination); err != nil {
		return nil, err
	}

	hctx := hls.ContextFromQuery(req.Query)

	if s.segments != nil && !hls.IsPlaylistURL(req.Destination) {
		if seg, ok := s.segments.Lookup(ctx, req.Destination); ok {
			return &Manifest{ContentType: seg.ContentType, Cached: true, body: seg.Body}, nil
		}
	}

	resp, err := s.upstream.Fetch(ctx, req.Destination, hctx.Headers)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(resp.Body)
	body := struct {
		io.Reader
		io.Closer
	}{br, resp.Body}

	contentType := resp.Header.Get("Content-Type")
	if !isPlaylist(contentType, resp.URL, br) {
		return &Manifest{ContentType: contentType, body: body}, nil
	}

	// Relative references resolve against where the playlist actually came from.
	hctx.BaseURL = resp.URL
	if hctx.BaseURL == "" {
		hctx.BaseURL = req.Destination
	}

	return &Manifest{
		ContentType: PlaylistContentType,
		Playlist:    true,
		body:        body,
		rewriter:    hls.NewRewriter(s.options(req.ProxyBase), hctx),
		service:     s,
	}, nil
}

// Rewrite opens req.Destination and writes the rewritten playlist to w.
func (s *ManifestService) Rewrite(ctx context.Context, req ManifestRequest, w io.Writer) error {
	m, err := s.Open(ctx, req)
	if err != nil {
		return err
	}
	defer m.Close()

	return m.WriteTo(ctx, w)
}

// Variants fetches the master playlist at req.Destination and returns its
// stream variants in file order.
func (s *ManifestService) Variants(ctx context.Context, req ManifestRequest) ([]hls.Variant, error) {
	if err := validateDestination(req.Destination); err != nil {
		return nil, err
	}

	hctx := hls.ContextFromQuery(req.Query)
	resp, err := s.upstream.Fetch(ctx, req.Destination, hctx.Headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	text, err := readPlaylist(resp.Body)
	if err != nil {
		return nil, err
	}

	base := resp.URL
	if base == "" {
		base = req.Destination
	}
	return hls.ParseVariants(text, base), nil
}

// WriteTo writes the response body to w, rewriting it when it is a playlist.
// An error after the first write leaves w holding a truncated response.
func (m *Manifest) WriteTo(ctx context.Context, w io.Writer) error {
	if !m.Playlist {
		if _, err := io.Copy(w, m.body); err != nil {
			return fmt.Errorf("failed to copy response: %w", err)
		}
		return nil
	}

	mode := modeBulk
	if m.service.cfg.Streaming {
		mode = modeStreaming
	}

	err := m.rewrite(ctx, w, mode)
	if err != nil {
		metrics.RecordManifestRewritten(mode, "error")
		return err
	}
	metrics.RecordManifestRewritten(mode, "ok")
	return nil
}

// Close releases the origin response.
func (m *Manifest) Close() error {
	if m.body == nil {
		return nil
	}
	return m.body.Close()
}

func (m *Manifest) rewrite(ctx context.Context, w io.Writer, mode string) error {
	scheduler := m.service.scheduler

	if mode == modeStreaming {
		sp := hls.NewStreamProcessor(m.rewriter, scheduler)
		return sp.Pipe(ctx, m.body, func(chunk string) error {
			_, err := io.WriteString(w, chunk)
			return err
		})
	}

	text, err := readPlaylist(m.body)
	if err != nil {
		return err
	}
	out, err := hls.NewProcessor(m.rewriter, scheduler).Process(text)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

func (s *ManifestService) options(proxyBase string) hls.Options {
	return hls.Options{
		Policy:       s.cfg.Policy,
		ProxyBase:    proxyBase,
		ExternalBase: s.cfg.ExternalBase,
		Encoder:      s.encoder,
		External:     s.external,
	}
}

// readPlaylist reads a whole playlist, replacing invalid UTF-8 the same way
// the streaming processor does.
func readPlaylist(r io.Reader) (string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read playlist: %w", err)
	}
	decoded, err := unicode.UTF8.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("failed to decode playlist: %w", err)
	}
	return string(decoded), nil
}

// isPlaylist decides from the content type, then the URL, then the first
// bytes of the body.
func isPlaylist(contentType, finalURL string, br *bufio.Reader) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "mpegurl") {
		return true
	}
	if finalURL != "" && hls.IsPlaylistURL(finalURL) {
		return true
	}

	head, _ := br.Peek(64)
	head = bytes.TrimPrefix(head, []byte("\xef\xbb\xbf"))
	return bytes.HasPrefix(bytes.TrimLeft(head, " \t\r\n"), []byte("#EXTM3U"))
}

func validateDestination(destination string) error {
	if destination == "" {
		return ErrMissingDestination
	}
	u, err := url.Parse(destination)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDestination, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidDestination, destination)
	}
	return nil
}
