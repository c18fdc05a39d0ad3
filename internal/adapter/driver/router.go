package driver

import (
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	nethttpmiddleware "github.com/oapi-codegen/nethttp-middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alorle/hls-proxy/logging"
)

// Routes served by the proxy besides ManifestPath.
const (
	VariantsPath = "/proxy/hls/variants"
	StreamPath   = "/proxy/stream"
	HealthPath   = "/health"
	MetricsPath  = "/metrics"
	DocsPath     = "/openapi.json"
)

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Manifest http.Handler
	Variants http.Handler
	Stream   http.Handler
	Health   http.Handler
}

// NewRequestValidator returns middleware that checks requests against
// swagger and answers with a JSON error when they do not conform.
func NewRequestValidator(swagger *openapi3.T, logger *slog.Logger) func(http.Handler) http.Handler {
	// Match paths only; the public host is not known here. The published
	// document keeps its servers.
	doc := *swagger
	doc.Servers = nil

	return nethttpmiddleware.OapiRequestValidatorWithOptions(&doc, &nethttpmiddleware.Options{
		ErrorHandler: func(w http.ResponseWriter, message string, statusCode int) {
			logging.WriteJSONError(w, logger, message, statusCode)
		},
	})
}

// NewRouter mounts every endpoint. /proxy/ routes go through the request
// validator; the whole tree is tagged with request IDs.
func NewRouter(h Handlers, swagger *openapi3.T, logger *slog.Logger) http.Handler {
	validate := NewRequestValidator(swagger, logger)

	mux := http.NewServeMux()
	mux.Handle(ManifestPath, validate(h.Manifest))
	mux.Handle(VariantsPath, validate(h.Variants))
	mux.Handle(StreamPath, validate(h.Stream))
	mux.Handle(HealthPath, h.Health)
	mux.Handle(MetricsPath, promhttp.Handler())
	mux.Handle(DocsPath, NewDocumentationHandler(swagger, logger))

	return WithRequestID(mux)
}
