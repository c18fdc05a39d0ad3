package application

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/alorle/hls-proxy/internal/hls"
	"github.com/alorle/hls-proxy/internal/port/driven"
)

const (
	testProxyBase = "http://proxy.local/proxy/hls/manifest.m3u8"
	testOrigin    = "https://cdn.example.com/live/index.m3u8"
)

const testMediaPlaylist = "#EXTM3U\n" +
	"#EXT-X-TARGETDURATION:4\n" +
	"#EXT-X-KEY:METHOD=AES-128,URI=\"key.bin\"\n" +
	"#EXTINF:4,\n" +
	"seg1.ts\n" +
	"#EXTINF:4,\n" +
	"seg2.ts\n"

func proxied(dest string) string {
	return testProxyBase + "?d=" + url.QueryEscape(dest)
}

func newTestManifestService(upstream driven.Upstream, scheduler driven.PrefetchScheduler, segments *SegmentService, streaming bool) *ManifestService {
	return NewManifestService(upstream, mockEncoder{}, mockExternal{}, scheduler, segments, ManifestConfig{
		Policy:    hls.RoutingProxy,
		Streaming: streaming,
	}, nil)
}

func TestManifestService_Rewrite(t *testing.T) {
	want := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-TARGETDURATION:4",
		`#EXT-X-KEY:METHOD=AES-128,URI="` + proxied("https://cdn.example.com/live/key.bin") + `"`,
		"#EXTINF:4,",
		proxied("https://cdn.example.com/live/seg1.ts"),
		"#EXTINF:4,",
		proxied("https://cdn.example.com/live/seg2.ts"),
		"",
	}, "\n")

	for _, streaming := range []bool{false, true} {
		name := "bulk"
		if streaming {
			name = "streaming"
		}
		t.Run(name, func(t *testing.T) {
			upstream := newMockUpstream(map[string]mockResponse{
				testOrigin: {body: testMediaPlaylist, contentType: "application/vnd.apple.mpegurl"},
			})
			service := newTestManifestService(upstream, nil, nil, streaming)

			var out bytes.Buffer
			err := service.Rewrite(context.Background(), ManifestRequest{
				Destination: testOrigin,
				Query:       url.Values{"d": {testOrigin}},
				ProxyBase:   testProxyBase,
			}, &out)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if out.String() != want {
				t.Errorf("unexpected output:\n%s\nwant:\n%s", out.String(), want)
			}
		})
	}
}

func TestManifestService_ResolvesAgainstFinalURL(t *testing.T) {
	upstream := newMockUpstream(map[string]mockResponse{
		testOrigin: {
			body:     "#EXTM3U\nseg1.ts\n",
			finalURL: "https://edge.example.com/redirected/index.m3u8",
		},
	})
	scheduler := &mockScheduler{}
	service := newTestManifestService(upstream, scheduler, nil, false)

	var out bytes.Buffer
	err := service.Rewrite(context.Background(), ManifestRequest{Destination: testOrigin, ProxyBase: testProxyBase}, &out)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !strings.Contains(out.String(), url.QueryEscape("https://edge.example.com/redirected/seg1.ts")) {
		t.Errorf("expected segment resolved against final URL, got %q", out.String())
	}
	if got := scheduler.scheduled(); len(got) != 1 || got[0] != "https://edge.example.com/redirected/index.m3u8" {
		t.Errorf("expected prefetch of final URL, got %v", got)
	}
}

func TestManifestService_Open(t *testing.T) {
	t.Run("detects playlist by body", func(t *testing.T) {
		upstream := newMockUpstream(map[string]mockResponse{
			"https://cdn.example.com/live/playlist": {body: "\xef\xbb\xbf#EXTM3U\nseg.ts\n", contentType: "text/plain"},
		})
		service := newTestManifestService(upstream, nil, nil, false)

		m, err := service.Open(context.Background(), ManifestRequest{Destination: "https://cdn.example.com/live/playlist", ProxyBase: testProxyBase})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		defer m.Close()

		if !m.Playlist {
			t.Error("expected body sniffing to detect playlist")
		}
		if m.ContentType != PlaylistContentType {
			t.Errorf("expected %s, got %s", PlaylistContentType, m.ContentType)
		}
	})

	t.Run("copies non-playlist content unchanged", func(t *testing.T) {
		segURL := "https://cdn.example.com/live/seg1.ts"
		upstream := newMockUpstream(map[string]mockResponse{
			segURL: {body: "\x47binary", contentType: "video/mp2t"},
		})
		service := newTestManifestService(upstream, nil, nil, false)

		m, err := service.Open(context.Background(), ManifestRequest{Destination: segURL, ProxyBase: testProxyBase})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		defer m.Close()

		if m.Playlist {
			t.Fatal("expected segment not to be treated as playlist")
		}
		var out bytes.Buffer
		if err := m.WriteTo(context.Background(), &out); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if out.String() != "\x47binary" || m.ContentType != "video/mp2t" {
			t.Errorf("unexpected passthrough %q (%s)", out.String(), m.ContentType)
		}
	})

	t.Run("serves cached segments without fetching", func(t *testing.T) {
		segURL := "https://cdn.example.com/live/seg1.ts"
		store := newMockSegmentStore()
		_ = store.Put(context.Background(), driven.Segment{URL: segURL, ContentType: "video/mp2t", Data: []byte("cached")})
		upstream := newMockUpstream(nil)
		segments := NewSegmentService(store, upstream, nil)
		service := newTestManifestService(upstream, nil, segments, false)

		m, err := service.Open(context.Background(), ManifestRequest{Destination: segURL, ProxyBase: testProxyBase})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		defer m.Close()

		if !m.Cached {
			t.Error("expected cached response")
		}
		if upstream.callCount(segURL) != 0 {
			t.Error("expected no upstream fetch on cache hit")
		}
	})
}

func TestManifestService_Errors(t *testing.T) {
	tests := []struct {
		name        string
		destination string
		want        error
	}{
		{"missing destination", "", ErrMissingDestination},
		{"relative destination", "/live/index.m3u8", ErrInvalidDestination},
		{"unsupported scheme", "ftp://cdn.example.com/index.m3u8", ErrInvalidDestination},
		{"upstream failure", "https://cdn.example.com/missing.m3u8", driven.ErrUpstreamStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := newTestManifestService(newMockUpstream(nil), nil, nil, false)

			var out bytes.Buffer
			err := service.Rewrite(context.Background(), ManifestRequest{Destination: tt.destination, ProxyBase: testProxyBase}, &out)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if out.Len() != 0 {
				t.Errorf("expected no output, got %q", out.String())
			}
		})
	}
}

func TestManifestService_EncodeFailure(t *testing.T) {
	upstream := newMockUpstream(map[string]mockResponse{
		testOrigin: {body: testMediaPlaylist},
	})
	service := NewManifestService(upstream, failingEncoder{}, nil, nil, nil, ManifestConfig{}, nil)

	var out bytes.Buffer
	err := service.Rewrite(context.Background(), ManifestRequest{Destination: testOrigin, ProxyBase: testProxyBase}, &out)
	if !errors.Is(err, hls.ErrEncode) {
		t.Errorf("expected ErrEncode, got %v", err)
	}
}

type failingEncoder struct{}

func (failingEncoder) Encode(proxyBase, destination string, params url.Values, encrypt bool) (string, error) {
	return "", errors.New("boom")
}

func TestManifestService_Variants(t *testing.T) {
	master := "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360\n" +
		"low/index.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=2400000,RESOLUTION=1280x720,CODECS=\"avc1.4d401f,mp4a.40.2\"\n" +
		"high/index.m3u8\n"
	upstream := newMockUpstream(map[string]mockResponse{
		testOrigin: {body: master},
	})
	service := newTestManifestService(upstream, nil, nil, false)

	variants, err := service.Variants(context.Background(), ManifestRequest{Destination: testOrigin})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(variants) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(variants))
	}
	if variants[1].URL != "https://cdn.example.com/live/high/index.m3u8" {
		t.Errorf("unexpected variant URL %s", variants[1].URL)
	}
	if variants[1].Bandwidth() != 2400000 {
		t.Errorf("expected bandwidth 2400000, got %d", variants[1].Bandwidth())
	}
	if variants[0].Resolution == nil || variants[0].Resolution.Height != 360 {
		t.Errorf("expected 640x360 resolution, got %+v", variants[0].Resolution)
	}
}
