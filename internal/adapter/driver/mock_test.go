package driver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/alorle/hls-proxy/internal/adapter/driven"
	"github.com/alorle/hls-proxy/internal/application"
	"github.com/alorle/hls-proxy/internal/hls"
	portdriven "github.com/alorle/hls-proxy/internal/port/driven"
)

// mockUpstream serves canned bodies keyed by URL and records request headers.
type mockUpstream struct {
	bodies      map[string]string
	contentType string
	lastHeaders map[string]string
}

func (m *mockUpstream) Fetch(ctx context.Context, rawURL string, headers map[string]string) (*portdriven.UpstreamResponse, error) {
	m.lastHeaders = headers
	body, ok := m.bodies[rawURL]
	if !ok {
		return nil, fmt.Errorf("%w: 404 from %s", portdriven.ErrUpstreamStatus, rawURL)
	}
	header := http.Header{}
	if m.contentType != "" {
		header.Set("Content-Type", m.contentType)
	}
	return &portdriven.UpstreamResponse{
		URL:        rawURL,
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

// mockSegmentStore holds at most the segments it was built with.
type mockSegmentStore struct {
	segments map[string]portdriven.Segment
	pingErr  error
}

func (m *mockSegmentStore) Get(ctx context.Context, rawURL string) (portdriven.Segment, error) {
	seg, ok := m.segments[rawURL]
	if !ok {
		return portdriven.Segment{}, portdriven.ErrSegmentNotFound
	}
	return seg, nil
}

func (m *mockSegmentStore) Put(ctx context.Context, seg portdriven.Segment) error {
	m.segments[seg.URL] = seg
	return nil
}

func (m *mockSegmentStore) DeleteExpired(ctx context.Context) (int, error) { return 0, nil }

func (m *mockSegmentStore) Ping(ctx context.Context) error { return m.pingErr }

func newTestCodec(key string) *driven.ProxyURLCodec {
	codec, err := driven.NewProxyURLCodec(key)
	if err != nil {
		panic(err)
	}
	return codec
}

func newTestManifestService(upstream portdriven.Upstream, codec *driven.ProxyURLCodec, store portdriven.SegmentStore, streaming bool) *application.ManifestService {
	var segments *application.SegmentService
	if store != nil {
		segments = application.NewSegmentService(store, upstream, nil)
	}
	return application.NewManifestService(upstream, codec, driven.NewStremioEncoder(), nil, segments, application.ManifestConfig{
		Policy:    hls.RoutingProxy,
		Streaming: streaming,
	}, nil)
}
