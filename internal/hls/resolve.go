package hls

import (
	"net/url"
	"strings"
)

// ResolveURL turns a playlist reference into an absolute URL using the
// playlist's own URL as base.
//
// A reference starting with a single "/" is joined to the scheme and
// authority of base, ignoring the base path. Anything else follows regular
// reference resolution. Absolute references are returned untouched. A
// reference that net/url rejects is retried with stray "%" escaped and
// otherwise joined to the base directory as text. Only an unparsable base
// yields raw as-is.
func ResolveURL(raw, base string) string {
	if hasScheme(raw) {
		return raw
	}

	b, err := url.Parse(base)
	if err != nil {
		return raw
	}

	switch {
	case strings.HasPrefix(raw, "//"):
		if b.Scheme == "" {
			return raw
		}
		return b.Scheme + ":" + raw
	case strings.HasPrefix(raw, "/"):
		if b.Scheme == "" || b.Host == "" {
			return raw
		}
		return b.Scheme + "://" + b.Host + raw
	}

	ref, err := url.Parse(raw)
	if err != nil {
		ref, err = url.Parse(escapeStrayPercent(raw))
	}
	if err != nil {
		return joinBaseDir(b, raw)
	}
	return b.ResolveReference(ref).String()
}

// hasScheme reports whether raw starts with an RFC 3986 scheme followed by ":".
func hasScheme(raw string) bool {
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z':
		case '0' <= c && c <= '9' || c == '+' || c == '-' || c == '.':
			if i == 0 {
				return false
			}
		case c == ':':
			return i > 0
		default:
			return false
		}
	}
	return false
}

// escapeStrayPercent escapes every "%" that does not start a valid escape.
func escapeStrayPercent(raw string) string {
	if !strings.Contains(raw, "%") {
		return raw
	}
	var b strings.Builder
	b.Grow(len(raw) + 8)
	for i := 0; i < len(raw); i++ {
		if raw[i] == '%' && (i+2 >= len(raw) || !isHex(raw[i+1]) || !isHex(raw[i+2])) {
			b.WriteString("%25")
			continue
		}
		b.WriteByte(raw[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

// joinBaseDir appends raw to the directory of base without any parsing of raw.
func joinBaseDir(b *url.URL, raw string) string {
	dir := "/"
	if i := strings.LastIndexByte(b.EscapedPath(), '/'); i >= 0 {
		dir = b.EscapedPath()[:i+1]
	}
	if b.Scheme == "" || b.Host == "" {
		return dir + raw
	}
	return b.Scheme + "://" + b.Host + dir + raw
}

// playlistExtensions are the path suffixes that mark a nested playlist.
var playlistExtensions = []string{".m3u", ".m3u8", ".m3u_plus"}

// IsPlaylistURL reports whether the path component of u ends in a playlist
// extension. Query and fragment are ignored.
func IsPlaylistURL(u string) bool {
	p := u
	if parsed, err := url.Parse(u); err == nil {
		p = parsed.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	p = strings.ToLower(p)
	for _, ext := range playlistExtensions {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}
