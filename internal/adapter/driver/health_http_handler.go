package driver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alorle/hls-proxy/internal/application"
	"github.com/alorle/hls-proxy/logging"
)

// HealthHTTPHandler handles HTTP requests for health checks.
type HealthHTTPHandler struct {
	service *application.HealthService
	logger  *slog.Logger
}

// NewHealthHTTPHandler creates a new HTTP handler for health checks.
func NewHealthHTTPHandler(service *application.HealthService, logger *slog.Logger) *HealthHTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHTTPHandler{service: service, logger: logger}
}

type componentResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// healthResponse represents the JSON response for health check endpoint.
type healthResponse struct {
	Status        string            `json:"status"`
	SegmentStore  componentResponse `json:"segment_store"`
	PrefetchQueue componentResponse `json:"prefetch_queue"`
	OpenCircuits  []string          `json:"open_circuits,omitempty"`
}

// ServeHTTP handles GET /health
func (h *HealthHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		logging.WriteJSONError(w, h.logger, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.service.Check(r.Context())

	resp := healthResponse{
		Status:        status.Status,
		SegmentStore:  componentResponse(status.SegmentStore),
		PrefetchQueue: componentResponse(status.PrefetchQueue),
		OpenCircuits:  status.OpenCircuits,
	}

	httpStatus := http.StatusOK
	if status.Status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("failed to encode health response", "error", err)
	}
}
