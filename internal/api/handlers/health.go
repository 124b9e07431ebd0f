package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/voxrelay/internal/infra/llm"
)

const readinessTimeout = 5 * time.Second

// ProviderChecker is the part of llm.LLMProvider the readiness probe needs.
type ProviderChecker interface {
	ModelInfo() llm.ModelMeta
	HealthCheck(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	provider ProviderChecker
	active   func() int
}

// NewHealthHandler creates the probes. active reports open relay sessions and may be nil.
func NewHealthHandler(provider ProviderChecker, active func() int) *HealthHandler {
	return &HealthHandler{provider: provider, active: active}
}

// Live handles GET /health.
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready. It answers 503 while the provider is unreachable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	meta := h.provider.ModelInfo()
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	if err := h.provider.HealthCheck(ctx); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("provider", meta.Provider).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "unavailable",
			"provider": meta.Provider,
			"error":    err.Error(),
		})
		return
	}

	body := map[string]any{
		"status":   "ready",
		"provider": meta.Provider,
		"model":    meta.ID,
	}
	if h.active != nil {
		body["connections"] = h.active()
	}
	writeJSON(w, http.StatusOK, body)
}
