package logging

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HTTPErrorResponse represents a standard JSON error response
type HTTPErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSONError writes a JSON error response and logs it with the given
// key/value context. 5xx responses log at ERROR, the rest at WARN.
func WriteJSONError(w http.ResponseWriter, logger *slog.Logger, message string, statusCode int, args ...any) {
	if logger != nil {
		fields := append([]any{"status_code", statusCode, "message", message}, args...)
		if statusCode >= http.StatusInternalServerError {
			logger.Error("http error response", fields...)
		} else {
			logger.Warn("http error response", fields...)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(HTTPErrorResponse{Error: message}); err != nil && logger != nil {
		logger.Warn("failed to encode error response", "error", err)
	}
}

// WriteJSONSuccess writes a JSON success response with status 200
func WriteJSONSuccess(w http.ResponseWriter, logger *slog.Logger, data any, args ...any) {
	if logger != nil && len(args) > 0 {
		logger.Debug("http success response", args...)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil && logger != nil {
		logger.Warn("failed to encode success response", "error", err)
	}
}
