package hls

import (
	"net/url"
	"sort"
	"strings"
	"sync"
)

const testProxyBase = "http://proxy.local/proxy/hls/manifest.m3u8"

type mockEncoder struct {
	EncodeFunc func(proxyBase, destination string, params url.Values, encrypt bool) (string, error)
}

func (m *mockEncoder) Encode(proxyBase, destination string, params url.Values, encrypt bool) (string, error) {
	if m.EncodeFunc != nil {
		return m.EncodeFunc(proxyBase, destination, params, encrypt)
	}
	return plainEncode(proxyBase, destination, params, encrypt)
}

// plainEncode mirrors the shape of the production codec closely enough for
// assertions: sorted params with d set to the destination.
func plainEncode(proxyBase, destination string, params url.Values, encrypt bool) (string, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("d", destination)
	if encrypt {
		q.Set("enc", "1")
	}
	return proxyBase + "?" + q.Encode(), nil
}

type mockExternal struct {
	EncodeFunc func(externalBase, destination string, headers map[string]string) string
}

func (m *mockExternal) Encode(externalBase, destination string, headers map[string]string) string {
	if m.EncodeFunc != nil {
		return m.EncodeFunc(externalBase, destination, headers)
	}
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString(externalBase + "/ext?d=" + destination)
	for _, k := range names {
		b.WriteString("&h=" + k + ":" + headers[k])
	}
	return b.String()
}

type scheduledJob struct {
	url     string
	headers map[string]string
}

type mockScheduler struct {
	mu   sync.Mutex
	jobs []scheduledJob
}

func (m *mockScheduler) Schedule(playlistURL string, headers map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, scheduledJob{url: playlistURL, headers: headers})
}

func (m *mockScheduler) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func wrapped(dest string) string {
	s, _ := plainEncode(testProxyBase, dest, url.Values{}, false)
	return s
}
