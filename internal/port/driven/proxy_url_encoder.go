package driven

import "net/url"

// ProxyURLEncoder builds the URL a player should request instead of the
// origin URL. Implementations must be deterministic for equal inputs.
type ProxyURLEncoder interface {
	// Encode wraps destination behind proxyBase. params are the already
	// stripped query parameters to forward; encrypt asks for an opaque token
	// instead of a readable query string.
	Encode(proxyBase, destination string, params url.Values, encrypt bool) (string, error)
}

// ExternalProxyEncoder builds URLs for a third-party proxy that fetches the
// destination on the player's behalf.
type ExternalProxyEncoder interface {
	Encode(externalBase, destination string, headers map[string]string) string
}
