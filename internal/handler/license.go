package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/toolboxhq/keygate/internal/metrics"
	"github.com/toolboxhq/keygate/internal/model"
	"github.com/toolboxhq/keygate/internal/service"
)

// LicenseHandler serves license issuance, verification and revocation.
type LicenseHandler struct {
	licenses *service.LicenseService
	metrics  *metrics.Metrics
}

// NewLicenseHandler creates a new LicenseHandler. m may be nil.
func NewLicenseHandler(licenses *service.LicenseService, m *metrics.Metrics) *LicenseHandler {
	return &LicenseHandler{licenses: licenses, metrics: m}
}

type generateLicenseRequest struct {
	Email       string `json:"email" validate:"required,max=320"`
	Name        string `json:"name" validate:"max=200"`
	LicenseType string `json:"license_type" validate:"max=64"`
}

type generateLicenseResponse struct {
	Success     bool           `json:"success"`
	LicenseKey  string         `json:"license_key"`
	Message     string         `json:"message"`
	LicenseData *model.License `json:"license_data"`
}

// Generate issues a new license.
// POST /generate-license
func (h *LicenseHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateLicenseRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	lic, err := h.licenses.Issue(r.Context(), req.Email, req.Name, req.LicenseType)
	if err != nil {
		writeServiceError(w, err, "Failed to generate license")
		return
	}
	h.metrics.Issued(metrics.KindLicense)

	writeJSON(w, http.StatusOK, generateLicenseResponse{
		Success:     true,
		LicenseKey:  lic.Key,
		Message:     "License generated successfully",
		LicenseData: lic,
	})
}

type verifyLicenseRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	Email      string `json:"email" validate:"required"`
}

type verifyLicenseResponse struct {
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	LicenseType string    `json:"license_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	UsageCount  int64     `json:"usage_count"`
}

// Verify checks a license against its owner's email and counts the use.
// POST /verify-license
func (h *LicenseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyLicenseRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	lic, err := h.licenses.Verify(r.Context(), req.LicenseKey, req.Email)
	h.metrics.Verification(metrics.KindLicense, err)
	if err != nil {
		writeServiceError(w, err, "Failed to verify license")
		return
	}

	writeJSON(w, http.StatusOK, verifyLicenseResponse{
		Success:     true,
		Message:     "License verified",
		LicenseType: lic.Type,
		ExpiresAt:   lic.ExpiresAt,
		UsageCount:  lic.UsageCount,
	})
}

// Info returns the full license record.
// GET /license-info/{key}
func (h *LicenseHandler) Info(w http.ResponseWriter, r *http.Request) {
	lic, err := h.licenses.Info(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeServiceError(w, err, "Failed to load license")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"license_data": lic,
	})
}

// Revoke deactivates a license. The key comes from ?license_key= or the
// JSON body.
// POST /revoke-license
func (h *LicenseHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r, "license_key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "license_key is required",
			map[string]interface{}{"reason": model.ReasonInvalidInput})
		return
	}

	if err := h.licenses.Revoke(r.Context(), key); err != nil {
		writeServiceError(w, err, "Failed to revoke license")
		return
	}
	h.metrics.Revoked(metrics.KindLicense)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "License revoked",
	})
}
