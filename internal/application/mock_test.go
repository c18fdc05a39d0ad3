package application

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alorle/hls-proxy/internal/port/driven"
)

// mockUpstream serves canned bodies keyed by URL.
type mockUpstream struct {
	mu        sync.Mutex
	responses map[string]mockResponse
	calls     []string
	fetchFunc func(ctx context.Context, url string, headers map[string]string) (*driven.UpstreamResponse, error)
}

type mockResponse struct {
	body        string
	contentType string
	// finalURL simulates a redirect when set.
	finalURL string
	err      error
}

func newMockUpstream(responses map[string]mockResponse) *mockUpstream {
	return &mockUpstream{responses: responses}
}

func (m *mockUpstream) Fetch(ctx context.Context, rawURL string, headers map[string]string) (*driven.UpstreamResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, rawURL)
	m.mu.Unlock()

	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, rawURL, headers)
	}

	resp, ok := m.responses[rawURL]
	if !ok {
		return nil, fmt.Errorf("%w: 404 from %s", driven.ErrUpstreamStatus, rawURL)
	}
	if resp.err != nil {
		return nil, resp.err
	}

	final := resp.finalURL
	if final == "" {
		final = rawURL
	}
	header := http.Header{}
	if resp.contentType != "" {
		header.Set("Content-Type", resp.contentType)
	}
	return &driven.UpstreamResponse{
		URL:        final,
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(resp.body)),
	}, nil
}

func (m *mockUpstream) callCount(rawURL string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == rawURL {
			n++
		}
	}
	return n
}

// mockSegmentStore is an in-memory driven.SegmentStore.
type mockSegmentStore struct {
	mu       sync.Mutex
	segments map[string]driven.Segment
	getErr   error
	pingErr  error
	swept    int
}

func newMockSegmentStore() *mockSegmentStore {
	return &mockSegmentStore{segments: map[string]driven.Segment{}}
}

func (m *mockSegmentStore) Get(ctx context.Context, rawURL string) (driven.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return driven.Segment{}, m.getErr
	}
	seg, ok := m.segments[rawURL]
	if !ok {
		return driven.Segment{}, driven.ErrSegmentNotFound
	}
	return seg, nil
}

func (m *mockSegmentStore) Put(ctx context.Context, seg driven.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seg.StoredAt.IsZero() {
		seg.StoredAt = time.Now()
	}
	m.segments[seg.URL] = seg
	return nil
}

func (m *mockSegmentStore) DeleteExpired(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swept++
	return 0, nil
}

func (m *mockSegmentStore) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockSegmentStore) urls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	urls := make([]string, 0, len(m.segments))
	for u := range m.segments {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// mockEncoder produces readable proxy URLs: base?d=<destination>.
type mockEncoder struct{}

func (mockEncoder) Encode(proxyBase, destination string, params url.Values, encrypt bool) (string, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("d", destination)
	return proxyBase + "?" + q.Encode(), nil
}

type mockExternal struct{}

func (mockExternal) Encode(externalBase, destination string, headers map[string]string) string {
	return externalBase + "/proxy/d=" + url.QueryEscape(destination)
}

// mockScheduler records scheduled playlists.
type mockScheduler struct {
	mu   sync.Mutex
	urls []string
}

func (m *mockScheduler) Schedule(playlistURL string, headers map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urls = append(m.urls, playlistURL)
}

func (m *mockScheduler) scheduled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.urls...)
}
