package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
)

// HealthChecker defines the interface for health checking components
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SystemHealthReporter exposes the aggregate health of the data sources
type SystemHealthReporter interface {
	GetSystemHealth() entities.SystemHealthMetrics
}

// HealthHandler handles process health probes
type HealthHandler struct {
	storage     HealthChecker
	checkpoints HealthChecker
	sources     SystemHealthReporter
}

// NewHealthHandler creates a new health handler. checkpoints and sources may be nil.
func NewHealthHandler(storage, checkpoints HealthChecker, sources SystemHealthReporter) *HealthHandler {
	return &HealthHandler{
		storage:     storage,
		checkpoints: checkpoints,
		sources:     sources,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  make(map[string]string),
	}

	if err := h.storage.HealthCheck(ctx); err != nil {
		response.Status = "unhealthy"
		response.Services["storage"] = "unhealthy: " + err.Error()
	} else {
		response.Services["storage"] = "healthy"
	}

	if h.checkpoints != nil {
		if err := h.checkpoints.HealthCheck(ctx); err != nil {
			response.degrade()
			response.Services["checkpoint"] = "unhealthy: " + err.Error()
		} else {
			response.Services["checkpoint"] = "healthy"
		}
	}

	if h.sources != nil {
		status := h.sources.GetSystemHealth().Status
		if status == "" {
			status = entities.HealthStatusUnknown
		}
		if status == entities.HealthStatusDegraded || status == entities.HealthStatusUnhealthy {
			response.degrade()
		}
		response.Services["data_sources"] = string(status)
	}

	status := http.StatusOK
	if response.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

func (r *HealthResponse) degrade() {
	if r.Status == "healthy" {
		r.Status = "degraded"
	}
}

// Ready handles GET /ready (Kubernetes readiness probe)
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.storage.HealthCheck(ctx); err != nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Live handles GET /live (Kubernetes liveness probe)
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}
