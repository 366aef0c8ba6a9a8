package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/avdeyev/holst/pkg/api"
)

// Pinger проверяет доступность зависимости.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler обрабатывает health check запросы
type HealthHandler struct {
	logger  *slog.Logger
	probes  map[string]Pinger
	version string
}

// NewHealthHandler создает новый handler для health check.
// probes - именованные зависимости (storage, bus), опрашиваемые на
// каждый запрос.
func NewHealthHandler(logger *slog.Logger, version string, probes map[string]Pinger) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		version: version,
		probes:  probes,
	}
}

// Health обрабатывает GET /api/v1/health
// Health check endpoint для мониторинга
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{
		Status:  "ok",
		Version: h.version,
		Probes:  make(map[string]string, len(h.probes)),
	}

	status := http.StatusOK
	for name, probe := range h.probes {
		if err := probe.Ping(r.Context()); err != nil {
			h.logger.Warn("health probe failed", "probe", name, "error", err)
			resp.Probes[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Probes[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode health response", slog.Any("error", err))
	}
}
