package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bimakw/solana-ingestor/internal/application/services"
	"github.com/bimakw/solana-ingestor/internal/domain/entities"
)

const defaultBackfillPriority = 1

// IngestionHandler exposes control and status of the ingestion service
type IngestionHandler struct {
	service *services.IngestionService
	health  *services.HealthMonitor
	logger  *zap.Logger
}

// NewIngestionHandler creates a new ingestion handler
func NewIngestionHandler(service *services.IngestionService, health *services.HealthMonitor, logger *zap.Logger) *IngestionHandler {
	return &IngestionHandler{
		service: service,
		health:  health,
		logger:  logger,
	}
}

// RegisterRoutes registers the ingestion routes
func (h *IngestionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.GetStatus)
	r.Get("/sources", h.GetSources)
	r.Get("/health", h.GetSystemHealth)
	r.Post("/sources/{id}/enable", h.EnableSource)
	r.Post("/sources/{id}/disable", h.DisableSource)
	r.Post("/backfill", h.EnqueueBackfill)
	r.Post("/ingestion/pause", h.Pause)
	r.Post("/ingestion/resume", h.Resume)
}

// GetStatus handles GET /status
func (h *IngestionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.service.GetStatus())
}

// SourcesResponse lists the configured data sources
type SourcesResponse struct {
	Sources []services.DataSourceStatus `json:"sources"`
	Total   int                         `json:"total"`
}

// GetSources handles GET /sources
func (h *IngestionHandler) GetSources(w http.ResponseWriter, r *http.Request) {
	list := h.service.DataSources()
	h.respondJSON(w, http.StatusOK, SourcesResponse{Sources: list, Total: len(list)})
}

// GetSystemHealth handles GET /health, the aggregate data source health
func (h *IngestionHandler) GetSystemHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.health.GetSystemHealth())
}

// EnableSource handles POST /sources/{id}/enable
func (h *IngestionHandler) EnableSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.EnableDataSource(r.Context(), id); err != nil {
		h.sourceError(w, id, "enable", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "enabled"})
}

// DisableSource handles POST /sources/{id}/disable
func (h *IngestionHandler) DisableSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.DisableDataSource(r.Context(), id); err != nil {
		h.sourceError(w, id, "disable", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "disabled"})
}

func (h *IngestionHandler) sourceError(w http.ResponseWriter, id, action string, err error) {
	if errors.Is(err, services.ErrUnknownDataSource) {
		h.respondError(w, http.StatusNotFound, "Data source not found")
		return
	}
	h.logger.Error("Failed to "+action+" data source", zap.String("source_id", id), zap.Error(err))
	h.respondError(w, http.StatusBadGateway, "Failed to "+action+" data source")
}

// BackfillRequest is the body of POST /backfill
type BackfillRequest struct {
	FromSlot *uint64 `json:"from_slot"`
	ToSlot   *uint64 `json:"to_slot"`
	Priority int     `json:"priority"`
}

// BackfillResponse reports whether a range was queued
type BackfillResponse struct {
	Range    entities.SlotRange `json:"range"`
	Priority int                `json:"priority"`
	Queued   bool               `json:"queued"`
}

// EnqueueBackfill handles POST /backfill
func (h *IngestionHandler) EnqueueBackfill(w http.ResponseWriter, r *http.Request) {
	var req BackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.FromSlot == nil || req.ToSlot == nil {
		h.respondError(w, http.StatusBadRequest, "from_slot and to_slot are required")
		return
	}

	rng, err := entities.NewSlotRange(*req.FromSlot, *req.ToSlot)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Priority <= 0 {
		req.Priority = defaultBackfillPriority
	}

	queued, err := h.service.EnqueueBackfill(rng, req.Priority)
	if err != nil {
		if errors.Is(err, services.ErrNotInitialized) {
			h.respondError(w, http.StatusServiceUnavailable, "Ingestion not initialized")
			return
		}
		h.logger.Error("Failed to enqueue backfill", zap.Stringer("range", rng), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Failed to enqueue backfill")
		return
	}

	status := http.StatusAccepted
	if !queued {
		// overlapping range or full queue
		status = http.StatusConflict
	}
	h.respondJSON(w, status, BackfillResponse{Range: rng, Priority: req.Priority, Queued: queued})
}

// Pause handles POST /ingestion/pause
func (h *IngestionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Pause(); err != nil {
		h.respondError(w, http.StatusConflict, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, h.service.GetStatus())
}

// Resume handles POST /ingestion/resume
func (h *IngestionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	// Resume may start the service, whose loops must outlive this request
	if err := h.service.Resume(context.WithoutCancel(r.Context())); err != nil {
		if errors.Is(err, services.ErrNotInitialized) {
			h.respondError(w, http.StatusServiceUnavailable, "Ingestion not initialized")
			return
		}
		h.logger.Error("Failed to resume ingestion", zap.Error(err))
		h.respondError(w, http.StatusConflict, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, h.service.GetStatus())
}

func (h *IngestionHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *IngestionHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
