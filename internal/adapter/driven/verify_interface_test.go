package driven

import (
	port "github.com/alorle/hls-proxy/internal/port/driven"
)

// Compile-time check that ProxyURLCodec implements ProxyURLEncoder interface
var _ port.ProxyURLEncoder = (*ProxyURLCodec)(nil)

// Compile-time check that StremioEncoder implements ExternalProxyEncoder interface
var _ port.ExternalProxyEncoder = (*StremioEncoder)(nil)

// Compile-time check that UpstreamHTTPAdapter implements Upstream interface
var _ port.Upstream = (*UpstreamHTTPAdapter)(nil)

// Compile-time check that SegmentBoltDBStore implements SegmentStore interface
var _ port.SegmentStore = (*SegmentBoltDBStore)(nil)
