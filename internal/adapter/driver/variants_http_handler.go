package driver

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/alorle/hls-proxy/internal/application"
	"github.com/alorle/hls-proxy/internal/hls"
	"github.com/alorle/hls-proxy/logging"
)

// VariantsHTTPHandler handles HTTP requests listing master playlist variants.
type VariantsHTTPHandler struct {
	service *application.ManifestService
	decoder QueryDecoder
	logger  *slog.Logger
}

// NewVariantsHTTPHandler creates a new HTTP handler for variant listings.
func NewVariantsHTTPHandler(service *application.ManifestService, decoder QueryDecoder, logger *slog.Logger) *VariantsHTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VariantsHTTPHandler{service: service, decoder: decoder, logger: logger}
}

type variantsResponse struct {
	Variants []hls.Variant `json:"variants"`
}

// ServeHTTP handles GET /proxy/hls/variants?d={url}[&sort=bandwidth]
func (h *VariantsHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
	variants, err := h.service.Variants(r.Context(), application.ManifestRequest{
		Destination: destination,
		Query:       q,
	})
	if err != nil {
		if isClientGone(r, err) {
			return
		}
		status, msg := statusForError(err)
		logging.WriteJSONError(w, h.logger, msg, status, "request_id", reqID, "destination", destination, "error", err)
		return
	}

	if q.Get("sort") == "bandwidth" {
		sort.SliceStable(variants, func(i, j int) bool {
			return variants[i].Bandwidth() > variants[j].Bandwidth()
		})
	}
	if variants == nil {
		variants = []hls.Variant{}
	}

	logging.WriteJSONSuccess(w, h.logger, variantsResponse{Variants: variants},
		"request_id", reqID, "destination", destination, "variants", len(variants))
}
