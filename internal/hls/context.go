package hls

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Query parameters understood by the manifest endpoint.
const (
	ParamDestination        = "d"
	ParamToken              = "token"
	ParamKeyURL             = "key_url"
	ParamKeyOnlyProxy       = "key_only_proxy"
	ParamNoProxy            = "no_proxy"
	ParamForcePlaylistProxy = "force_playlist_proxy"
	ParamEncrypted          = "has_encrypted"

	// HeaderParamPrefix marks params carrying upstream request headers.
	HeaderParamPrefix = "h_"
	// ResponseHeaderParamPrefix marks params carrying headers to set on the
	// proxied response.
	ResponseHeaderParamPrefix = "r_"
)

// controlParams never leave this service inside a proxied URL.
var controlParams = map[string]bool{
	ParamEncrypted:          true,
	ParamForcePlaylistProxy: true,
	ParamDestination:        true,
	ParamToken:              true,
}

// Context is the per-request state of one playlist rewrite. It is built once
// and never mutated while a playlist is being processed.
type Context struct {
	// BaseURL is the URL the playlist was fetched from.
	BaseURL string
	// KeyURL, when set, replaces BaseURL for resolving key URIs.
	KeyURL string

	NoProxy            bool
	KeyOnlyProxy       bool
	ForcePlaylistProxy bool
	Encrypt            bool

	// Params are forwarded verbatim into every proxied URL.
	Params url.Values
	// Headers are the upstream request headers, taken from h_ params with
	// the prefix removed.
	Headers map[string]string
}

// ContextFromQuery splits an incoming query into routing flags, forwarded
// params and upstream headers. Control params and r_ params are dropped from
// the forwarded set.
func ContextFromQuery(q url.Values) Context {
	c := Context{
		KeyURL:             q.Get(ParamKeyURL),
		NoProxy:            parseFlag(q.Get(ParamNoProxy)),
		KeyOnlyProxy:       parseFlag(q.Get(ParamKeyOnlyProxy)),
		ForcePlaylistProxy: parseFlag(q.Get(ParamForcePlaylistProxy)),
		Encrypt:            parseFlag(q.Get(ParamEncrypted)),
		Params:             url.Values{},
		Headers:            map[string]string{},
	}

	for key, values := range q {
		if controlParams[key] || strings.HasPrefix(key, ResponseHeaderParamPrefix) {
			continue
		}
		c.Params[key] = append([]string(nil), values...)

		if name, ok := strings.CutPrefix(key, HeaderParamPrefix); ok && name != "" && len(values) > 0 {
			c.Headers[name] = values[0]
		}
	}

	return c
}

// ResponseHeaders returns the r_ params of q as header name -> value.
func ResponseHeaders(q url.Values) map[string]string {
	headers := make(map[string]string)
	for key, values := range q {
		if name, ok := strings.CutPrefix(key, ResponseHeaderParamPrefix); ok && name != "" && len(values) > 0 {
			headers[name] = values[0]
		}
	}
	return headers
}

func parseFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "on":
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// RoutingPolicy decides where ordinary content lines are sent.
type RoutingPolicy string

const (
	// RoutingProxy rewrites every content URL through this service.
	RoutingProxy RoutingPolicy = "proxy"
	// RoutingDirect leaves resolved content URLs pointing at the origin.
	RoutingDirect RoutingPolicy = "direct"
	// RoutingStremio forwards content through a configured third-party
	// proxy, and behaves like RoutingProxy when none is configured.
	RoutingStremio RoutingPolicy = "stremio"
)

// ParseRoutingPolicy parses a configured policy name. An empty name is RoutingProxy.
func ParseRoutingPolicy(s string) (RoutingPolicy, error) {
	switch p := RoutingPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return RoutingProxy, nil
	case RoutingProxy, RoutingDirect, RoutingStremio:
		return p, nil
	default:
		return "", fmt.Errorf("unknown routing policy %q", s)
	}
}
