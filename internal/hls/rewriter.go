package hls

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/alorle/hls-proxy/internal/port/driven"
	"github.com/alorle/hls-proxy/metrics"
)

// ErrEncode is returned when a URL could not be turned into a proxy URL.
var ErrEncode = errors.New("failed to encode proxy url")

var keyURIRegex = regexp.MustCompile(`URI="([^"]+)"`)

const keyURIMarker = `URI="`

// Line kinds and routes reported to metrics.
const (
	kindKey     = "key"
	kindContent = "content"

	routeProxy     = "proxy"
	routeDirect    = "direct"
	routeStremio   = "stremio"
	routeUnchanged = "unchanged"
)

// Options is the process-wide configuration of a Rewriter.
type Options struct {
	Policy RoutingPolicy
	// ProxyBase is the absolute URL of this service's manifest endpoint.
	ProxyBase string
	// ExternalBase is the third-party proxy used by RoutingStremio.
	ExternalBase string

	Encoder  driven.ProxyURLEncoder
	External driven.ExternalProxyEncoder
}

// Rewriter rewrites single playlist lines for one request.
type Rewriter struct {
	opts Options
	ctx  Context
}

// NewRewriter creates a Rewriter bound to the request context c.
func NewRewriter(opts Options, c Context) *Rewriter {
	if opts.Policy == "" {
		opts.Policy = RoutingProxy
	}
	return &Rewriter{opts: opts, ctx: c}
}

// Context returns the request context the rewriter was created with.
func (r *Rewriter) Context() Context {
	return r.ctx
}

// RewriteLine classifies a single line without its terminator and returns the
// rewritten line. Lines carrying a URI attribute are key lines, blank lines
// and other tags pass through, and everything else is a content URL.
//
// The only error is a wrapped ErrEncode from the proxy URL encoder.
func (r *Rewriter) RewriteLine(line string) (string, error) {
	if strings.Contains(line, keyURIMarker) {
		return r.rewriteKeyLine(line)
	}

	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return line, nil
	}

	return r.rewriteContentLine(trimmed)
}

func (r *Rewriter) rewriteKeyLine(line string) (string, error) {
	loc := keyURIRegex.FindStringSubmatchIndex(line)
	if loc == nil {
		return line, nil
	}
	original := line[loc[2]:loc[3]]

	base := r.ctx.BaseURL
	if r.ctx.KeyURL != "" {
		base = r.ctx.KeyURL
	}
	resolved := ResolveURL(original, base)

	replacement := resolved
	route := routeDirect
	if !r.ctx.NoProxy {
		encoded, err := r.encode(resolved)
		if err != nil {
			return "", err
		}
		replacement = encoded
		route = routeProxy
	}

	metrics.RecordLineRewritten(kindKey, route)
	return line[:loc[2]] + replacement + line[loc[3]:], nil
}

func (r *Rewriter) rewriteContentLine(line string) (string, error) {
	resolved := ResolveURL(line, r.ctx.BaseURL)
	playlist := IsPlaylistURL(resolved)

	var (
		out   string
		route string
		err   error
	)
	switch {
	case r.ctx.NoProxy:
		out, route = resolved, routeDirect
	case r.ctx.KeyOnlyProxy && !playlist:
		out, route = resolved, routeDirect
	case r.ctx.ForcePlaylistProxy || playlist:
		out, err = r.encode(resolved)
		route = routeProxy
	case r.opts.Policy == RoutingDirect:
		out, route = resolved, routeDirect
	case r.opts.Policy == RoutingStremio && r.opts.ExternalBase != "" && r.opts.External != nil:
		out = r.opts.External.Encode(r.opts.ExternalBase, resolved, r.ctx.Headers)
		route = routeStremio
	default:
		out, err = r.encode(resolved)
		route = routeProxy
	}
	if err != nil {
		return "", err
	}

	if out == line {
		route = routeUnchanged
	}
	metrics.RecordLineRewritten(kindContent, route)
	return out, nil
}

func (r *Rewriter) encode(destination string) (string, error) {
	encoded, err := r.opts.Encoder.Encode(r.opts.ProxyBase, destination, r.ctx.Params, r.ctx.Encrypt)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrEncode, destination, err)
	}
	return encoded, nil
}
