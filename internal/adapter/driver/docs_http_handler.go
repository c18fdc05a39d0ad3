package driver

import (
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/alorle/hls-proxy/logging"
)

// NewDocumentationHandler serves the OpenAPI document as JSON.
func NewDocumentationHandler(swagger *openapi3.T, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			logging.WriteJSONError(w, logger, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		logging.WriteJSONSuccess(w, logger, swagger)
	})
}
