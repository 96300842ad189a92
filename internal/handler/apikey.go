package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/toolboxhq/keygate/internal/metrics"
	"github.com/toolboxhq/keygate/internal/model"
	"github.com/toolboxhq/keygate/internal/service"
)

// APIKeyHandler serves API-key issuance, verification, usage and revocation.
type APIKeyHandler struct {
	keys    *service.APIKeyService
	metrics *metrics.Metrics
}

// NewAPIKeyHandler creates a new APIKeyHandler. m may be nil.
func NewAPIKeyHandler(keys *service.APIKeyService, m *metrics.Metrics) *APIKeyHandler {
	return &APIKeyHandler{keys: keys, metrics: m}
}

type generateAPIKeyRequest struct {
	Service string `json:"service" validate:"required,max=128"`
}

// keyData is the issued record plus the raw key, which is shown only here.
type keyData struct {
	Key string `json:"api_key"`
	*model.APIKey
}

type generateAPIKeyResponse struct {
	Success bool    `json:"success"`
	APIKey  string  `json:"api_key"`
	Message string  `json:"message"`
	KeyData keyData `json:"key_data"`
}

// Generate issues a new API key for a service.
// POST /generate-api-key
func (h *APIKeyHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateAPIKeyRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	raw, rec, err := h.keys.Issue(r.Context(), req.Service)
	if err != nil {
		writeServiceError(w, err, "Failed to generate API key")
		return
	}
	h.metrics.Issued(metrics.KindAPIKey)

	writeJSON(w, http.StatusOK, generateAPIKeyResponse{
		Success: true,
		APIKey:  raw,
		Message: "API key generated for " + rec.Service,
		KeyData: keyData{Key: raw, APIKey: rec},
	})
}

type verifyAPIKeyRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

type verifyAPIKeyResponse struct {
	Success    bool       `json:"success"`
	Message    string     `json:"message"`
	Service    string     `json:"service"`
	UsageCount int64      `json:"usage_count"`
	LastUsed   *time.Time `json:"last_used"`
}

// Verify checks an API key and counts the use.
// POST /verify-api-key
func (h *APIKeyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyAPIKeyRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	rec, err := h.keys.Verify(r.Context(), req.APIKey)
	h.metrics.Verification(metrics.KindAPIKey, err)
	if err != nil {
		writeServiceError(w, err, "Failed to verify API key")
		return
	}

	writeJSON(w, http.StatusOK, verifyAPIKeyResponse{
		Success:    true,
		Message:    "API key verified",
		Service:    rec.Service,
		UsageCount: rec.UsageCount,
		LastUsed:   rec.LastUsed,
	})
}

type apiUsageResponse struct {
	APIKey     string    `json:"api_key"`
	Service    string    `json:"service"`
	UsageCount int64     `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsed   string    `json:"last_used"`
}

// Usage reports an API key's counters without counting a use.
// GET /api-usage/{key}
func (h *APIKeyHandler) Usage(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "key")
	rec, err := h.keys.Usage(r.Context(), raw)
	if err != nil {
		writeServiceError(w, err, "Failed to load API key")
		return
	}

	writeJSON(w, http.StatusOK, apiUsageResponse{
		APIKey:     raw,
		Service:    rec.Service,
		UsageCount: rec.UsageCount,
		CreatedAt:  rec.CreatedAt,
		LastUsed:   rec.LastUsedString(),
	})
}

// Revoke deactivates an API key. The key comes from ?api_key= or the JSON
// body.
// POST /revoke-api-key
func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	raw := keyFromRequest(r, "api_key")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "api_key is required",
			map[string]interface{}{"reason": model.ReasonInvalidInput})
		return
	}

	if err := h.keys.Revoke(r.Context(), raw); err != nil {
		writeServiceError(w, err, "Failed to revoke API key")
		return
	}
	h.metrics.Revoked(metrics.KindAPIKey)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "API key revoked",
	})
}
