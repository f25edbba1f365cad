package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
	"github.com/bimakw/solana-ingestor/internal/domain/repositories"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
	defaultPathDepth  = 3
	maxPathDepth      = 10
)

// StorageHandler serves read queries against hybrid storage
type StorageHandler struct {
	storage repositories.HybridStorage
	logger  *zap.Logger
}

// NewStorageHandler creates a new storage handler
func NewStorageHandler(storage repositories.HybridStorage, logger *zap.Logger) *StorageHandler {
	return &StorageHandler{
		storage: storage,
		logger:  logger,
	}
}

// RegisterRoutes registers the storage routes
func (h *StorageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/transactions", h.GetTransactions)
	r.Get("/transactions/metadata", h.GetTransactionsMetadata)
	r.Get("/graph/nodes/{id}", h.GetNode)
	r.Get("/graph/path", h.FindPath)
}

// TransactionsResponse wraps stored transaction entries
type TransactionsResponse struct {
	Entries []entities.TimeSeriesEntry `json:"entries"`
	Total   int                        `json:"total"`
}

// GetTransactions handles GET /transactions
func (h *StorageHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	query := entities.TimeSeriesQuery{
		Tags:  entities.Tags{},
		Order: entities.SortDesc,
		Limit: defaultQueryLimit,
	}

	for param, tag := range map[string]string{
		"signature": entities.TagSignature,
		"source":    entities.TagSource,
		"origin":    entities.TagOrigin,
	} {
		if v := params.Get(param); v != "" {
			query.Tags[tag] = v
		}
	}
	if v := params.Get("slot"); v != "" {
		slot, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid slot")
			return
		}
		query.Tags[entities.TagSlot] = entities.SlotTag(slot)
	}
	if v := params.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid from time")
			return
		}
		query.From = &t
	}
	if v := params.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid to time")
			return
		}
		query.To = &t
	}
	switch params.Get("order") {
	case "", "desc":
	case "asc":
		query.Order = entities.SortAsc
	default:
		h.respondError(w, http.StatusBadRequest, "Invalid order")
		return
	}
	if v := params.Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 && l <= maxQueryLimit {
			query.Limit = l
		}
	}

	entries, err := h.storage.TimeSeries().Query(r.Context(), entities.MeasurementTransactions, query)
	if err != nil {
		h.storageError(w, "Failed to query transactions", err)
		return
	}

	h.respondJSON(w, http.StatusOK, TransactionsResponse{Entries: entries, Total: len(entries)})
}

// GetTransactionsMetadata handles GET /transactions/metadata
func (h *StorageHandler) GetTransactionsMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := h.storage.TimeSeries().GetMetadata(r.Context(), entities.MeasurementTransactions)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "No transactions stored")
			return
		}
		h.storageError(w, "Failed to get transaction metadata", err)
		return
	}
	h.respondJSON(w, http.StatusOK, meta)
}

// GetNode handles GET /graph/nodes/{id}
func (h *StorageHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	node, err := h.storage.Graph().GetNode(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNodeNotFound) {
			h.respondError(w, http.StatusNotFound, "Node not found")
			return
		}
		h.storageError(w, "Failed to get node", err)
		return
	}
	h.respondJSON(w, http.StatusOK, node)
}

// FindPath handles GET /graph/path?source=..&target=..&max_depth=..
func (h *StorageHandler) FindPath(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	source, target := params.Get("source"), params.Get("target")
	if source == "" || target == "" {
		h.respondError(w, http.StatusBadRequest, "source and target are required")
		return
	}

	depth := defaultPathDepth
	if v := params.Get("max_depth"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 1 || d > maxPathDepth {
			h.respondError(w, http.StatusBadRequest, "Invalid max_depth")
			return
		}
		depth = d
	}

	path, err := h.storage.Graph().FindPathBetweenNodes(r.Context(), source, target, depth)
	if err != nil {
		if errors.Is(err, repositories.ErrNodeNotFound) {
			h.respondError(w, http.StatusNotFound, "Node not found")
			return
		}
		h.storageError(w, "Failed to find path", err)
		return
	}
	if path == nil {
		h.respondError(w, http.StatusNotFound, "No path found")
		return
	}
	h.respondJSON(w, http.StatusOK, path)
}

func (h *StorageHandler) storageError(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, zap.Error(err))
	if repositories.IsUnavailable(err) {
		h.respondError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}
	h.respondError(w, http.StatusInternalServerError, message)
}

func (h *StorageHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *StorageHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
