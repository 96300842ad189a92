package handler

import (
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/toolboxhq/keygate/internal/openapi"
)

// OpenAPIHandler serves the generated OpenAPI document. The document is
// built on first request and reused.
type OpenAPIHandler struct {
	version string
	baseURL string

	once sync.Once
	doc  *openapi3.T
}

// NewOpenAPIHandler creates a new OpenAPIHandler.
func NewOpenAPIHandler(version, baseURL string) *OpenAPIHandler {
	return &OpenAPIHandler{version: version, baseURL: baseURL}
}

// ServeSpec returns the OpenAPI document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	h.once.Do(func() {
		h.doc = openapi.Generate(h.version, h.baseURL)
	})
	writeJSON(w, http.StatusOK, h.doc)
}
