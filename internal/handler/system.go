package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/toolboxhq/keygate/internal/metrics"
	"github.com/toolboxhq/keygate/internal/model"
	"github.com/toolboxhq/keygate/internal/service"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler serves the service banner, health, stats and the feature gate.
type SystemHandler struct {
	store   service.StatsStore
	pinger  Pinger
	gate    *service.Gate
	metrics *metrics.Metrics
	version string
	now     func() time.Time
}

// NewSystemHandler creates a new SystemHandler. m may be nil.
func NewSystemHandler(store service.StatsStore, pinger Pinger, gate *service.Gate, m *metrics.Metrics, version string) *SystemHandler {
	return &SystemHandler{
		store:   store,
		pinger:  pinger,
		gate:    gate,
		metrics: m,
		version: version,
		now:     time.Now,
	}
}

// Root returns the service banner.
// GET /
func (h *SystemHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "keygate license API",
		"version": h.version,
		"status":  "running",
	})
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
}

// Health reports process and store health. A failed store ping turns the
// response into 503.
// GET /health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC(),
		Version:   h.version,
		Services: map[string]string{
			"database": "connected",
			"api":      "running",
		},
	}
	status := http.StatusOK
	if err := h.pinger.Ping(r.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Services["database"] = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Stats returns aggregate counts across licenses and API keys.
// GET /stats
func (h *SystemHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := service.CollectStats(r.Context(), h.store, h.now())
	if err != nil {
		writeServiceError(w, err, "Failed to collect stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type limitsResponse struct {
	Success  bool                `json:"success"`
	Email    string              `json:"email,omitempty"`
	Limits   model.Limits        `json:"limits"`
	Features model.FeatureStatus `json:"features"`
	Decision *model.Decision     `json:"decision,omitempty"`
}

// Limits returns the feature-gate caps for an email. With ?kind=&count= it
// also returns the decision for that operation.
// GET /limits
func (h *SystemHandler) Limits(w http.ResponseWriter, r *http.Request) {
	email := queryString(r, "email")
	l, err := h.gate.Limits(r.Context(), email)
	if err != nil {
		writeServiceError(w, err, "Failed to load limits")
		return
	}

	resp := limitsResponse{
		Success:  true,
		Email:    email,
		Limits:   l,
		Features: l.Features(),
	}

	if kind := queryString(r, "kind"); kind != "" {
		count, err := strconv.Atoi(queryString(r, "count"))
		if err != nil || count < 0 {
			writeError(w, http.StatusBadRequest, "count must be a non-negative integer",
				map[string]interface{}{"reason": model.ReasonInvalidInput})
			return
		}
		if !validKind(kind) {
			writeError(w, http.StatusBadRequest, "unknown gate kind "+strconv.Quote(kind),
				map[string]interface{}{"reason": model.ReasonInvalidInput})
			return
		}
		d := service.Decide(l, kind, count)
		h.metrics.GateDecision(kind, d.Allowed)
		resp.Decision = &d
	}

	writeJSON(w, http.StatusOK, resp)
}

func validKind(kind string) bool {
	for _, k := range service.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
