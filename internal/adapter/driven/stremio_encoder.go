package driven

import (
	"net/url"
	"sort"
	"strings"
)

// StremioEncoder builds URLs for a MediaFlow-compatible Stremio proxy. The
// origin and request headers are packed into the first path segment and the
// destination path and query follow unchanged:
//
//	{base}/proxy/d=<origin>&h=<Name>:<Value>/<path>?<query>
type StremioEncoder struct{}

// NewStremioEncoder creates a StremioEncoder.
func NewStremioEncoder() *StremioEncoder {
	return &StremioEncoder{}
}

// Encode implements ExternalProxyEncoder. A destination that cannot be parsed
// is returned as-is.
func (e *StremioEncoder) Encode(externalBase, destination string, headers map[string]string) string {
	u, err := url.Parse(destination)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return destination
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(externalBase, "/"))
	b.WriteString("/proxy/d=")
	b.WriteString(url.QueryEscape(u.Scheme + "://" + u.Host))

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString("&h=")
		b.WriteString(url.QueryEscape(name))
		b.WriteString(":")
		b.WriteString(url.QueryEscape(headers[name]))
	}

	path := u.EscapedPath()
	if !strings.HasPrefix(path, "/") {
		b.WriteString("/")
	}
	b.WriteString(path)
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	return b.String()
}
