package driver

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alorle/hls-proxy/internal/application"
	"github.com/alorle/hls-proxy/internal/hls"
	"github.com/alorle/hls-proxy/internal/streaming"
	"github.com/alorle/hls-proxy/logging"
)

// StreamHTTPHandler serves media segments, preferring prefetched copies.
type StreamHTTPHandler struct {
	service      *application.SegmentService
	decoder      QueryDecoder
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewStreamHTTPHandler creates a new HTTP handler for segment requests.
func NewStreamHTTPHandler(service *application.SegmentService, decoder QueryDecoder, writeTimeout time.Duration, logger *slog.Logger) *StreamHTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHTTPHandler{
		service:      service,
		decoder:      decoder,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// ServeHTTP handles GET /proxy/stream?d={url}
func (h *StreamHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
	headers := hls.ContextFromQuery(q).Headers

	seg, err := h.service.Open(r.Context(), destination, headers)
	if err != nil {
		if isClientGone(r, err) {
			return
		}
		status, msg := statusForError(err)
		logging.WriteJSONError(w, h.logger, msg, status, "request_id", reqID, "destination", destination, "error", err)
		return
	}
	defer seg.Body.Close()

	contentType := seg.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if seg.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	applyResponseHeaders(w, q)
	w.WriteHeader(http.StatusOK)

	tw := streaming.NewTimeoutWriter(w, h.writeTimeout, h.logger, reqID)
	if _, err := io.Copy(tw, seg.Body); err != nil {
		// Headers are already sent, so the only option is to stop writing.
		h.logger.Warn("segment response aborted",
			"request_id", reqID,
			"destination", destination,
			"bytes_written", tw.BytesWritten(),
			"error", err)
		return
	}

	h.logger.Debug("segment served",
		"request_id", reqID,
		"destination", destination,
		"cached", seg.Cached,
		"bytes_written", tw.BytesWritten())
}
