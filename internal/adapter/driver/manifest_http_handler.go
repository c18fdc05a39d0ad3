package driver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alorle/hls-proxy/internal/application"
	"github.com/alorle/hls-proxy/internal/hls"
	"github.com/alorle/hls-proxy/internal/streaming"
	"github.com/alorle/hls-proxy/logging"
)

// ManifestPath is where the manifest endpoint is mounted. Rewritten
// playlists point back here.
const ManifestPath = "/proxy/hls/manifest.m3u8"

// ManifestHTTPHandler handles HTTP requests for rewritten playlists.
type ManifestHTTPHandler struct {
	service      *application.ManifestService
	decoder      QueryDecoder
	publicURL    string
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewManifestHTTPHandler creates a new HTTP handler for the manifest endpoint.
func NewManifestHTTPHandler(service *application.ManifestService, decoder QueryDecoder, publicURL string, writeTimeout time.Duration, logger *slog.Logger) *ManifestHTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManifestHTTPHandler{
		service:      service,
		decoder:      decoder,
		publicURL:    publicURL,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// ServeHTTP handles GET /proxy/hls/manifest.m3u8?d={url}
func (h *ManifestHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		logging.WriteJSONError(w, h.logger, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reqID := requestID(r)
	q, err := decodeQuery(h.decoder, r)
	if err != nil {
		status, msg := statusForError(err)
		logging.WriteJSONError(w, h.logger, msg, status, "request_id", reqID, "error", err)
		return
	}

	destination := q.Get(hls.ParamDestination)
	m, err := h.service.Open(r.Context(), application.ManifestRequest{
		Destination: destination,
		Query:       q,
		ProxyBase:   proxyBaseURL(r, h.publicURL, ManifestPath),
	})
	if err != nil {
		if isClientGone(r, err) {
			return
		}
		status, msg := statusForError(err)
		logging.WriteJSONError(w, h.logger, msg, status, "request_id", reqID, "destination", destination, "error", err)
		return
	}
	defer m.Close()

	if m.ContentType != "" {
		w.Header().Set("Content-Type", m.ContentType)
	}
	if m.Playlist {
		w.Header().Set("Cache-Control", "no-cache")
	}
	applyResponseHeaders(w, q)

	// No WriteHeader yet: a bulk rewrite that fails can still answer with an error.
	tw := streaming.NewTimeoutWriter(w, h.writeTimeout, h.logger, reqID)
	if err := m.WriteTo(r.Context(), tw); err != nil {
		if tw.BytesWritten() == 0 && !isClientGone(r, err) {
			status, msg := statusForError(err)
			logging.WriteJSONError(w, h.logger, msg, status, "request_id", reqID, "destination", destination, "error", err)
			return
		}
		h.logger.Warn("manifest response aborted",
			"request_id", reqID,
			"destination", destination,
			"bytes_written", tw.BytesWritten(),
			"error", err)
		// The status line is already out; drop the connection so the player
		// sees a truncated response instead of a short playlist.
		panic(http.ErrAbortHandler)
	}

	h.logger.Debug("manifest served",
		"request_id", reqID,
		"destination", destination,
		"playlist", m.Playlist,
		"cached", m.Cached,
		"bytes_written", tw.BytesWritten())
}
