package driver

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/alorle/hls-proxy/internal/adapter/driven"
	"github.com/alorle/hls-proxy/internal/application"
	"github.com/alorle/hls-proxy/internal/hls"
	portdriven "github.com/alorle/hls-proxy/internal/port/driven"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// QueryDecoder expands token queries back into plain params.
type QueryDecoder interface {
	Decode(query url.Values) (url.Values, error)
}

// WithRequestID tags every request with an ID, reusing the caller's
// X-Request-ID when present, and echoes it on the response.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

// decodeQuery returns the request query with any token expanded.
func decodeQuery(decoder QueryDecoder, r *http.Request) (url.Values, error) {
	q := r.URL.Query()
	if decoder == nil {
		return q, nil
	}
	return decoder.Decode(q)
}

// statusForError maps service errors to an HTTP status and client message.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, application.ErrMissingDestination):
		return http.StatusBadRequest, "missing 'd' query parameter"
	case errors.Is(err, application.ErrInvalidDestination):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, driven.ErrInvalidToken), errors.Is(err, driven.ErrEncryptionDisabled):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, hls.ErrEncode):
		return http.StatusInternalServerError, "failed to rewrite playlist"
	case errors.Is(err, portdriven.ErrUpstreamStatus):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusBadGateway, "upstream request failed"
	}
}

// proxyBaseURL returns the absolute URL of path as seen by the player.
// publicURL wins over the request's own scheme and host.
func proxyBaseURL(r *http.Request, publicURL, path string) string {
	if publicURL != "" {
		return strings.TrimRight(publicURL, "/") + path
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}

	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}

	return scheme + "://" + host + path
}

// applyResponseHeaders copies the r_ params of q onto the response.
func applyResponseHeaders(w http.ResponseWriter, q url.Values) {
	for name, value := range hls.ResponseHeaders(q) {
		w.Header().Set(name, value)
	}
}

func isClientGone(r *http.Request, err error) bool {
	return r.Context().Err() != nil || errors.Is(err, context.Canceled)
}
