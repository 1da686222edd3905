package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// StoreMemoryRequest for POST /api/v1/memory/store
type StoreMemoryRequest struct {
	UserID      string                 `json:"user_id"`
	Messages    []services.ChatMessage `json:"messages"`
	DatabaseURI string                 `json:"database_uri,omitempty"`
}

// RetrieveMemoryRequest for POST /api/v1/memory/retrieve
type RetrieveMemoryRequest struct {
	UserID      string `json:"user_id"`
	Query       string `json:"query"`
	DatabaseURI string `json:"database_uri,omitempty"`
}

// ============================================================================
// Handler
// ============================================================================

// MemoryHandler handles personal memory HTTP requests.
type MemoryHandler struct {
	memory services.MemoryService
	logger *zap.Logger
}

// NewMemoryHandler creates a new memory handler.
func NewMemoryHandler(memory services.MemoryService, logger *zap.Logger) *MemoryHandler {
	return &MemoryHandler{memory: memory, logger: logger}
}

// RegisterRoutes registers the memory handler's routes on the given mux.
func (h *MemoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/memory/store", h.Store)
	mux.HandleFunc("POST /api/v1/memory/retrieve", h.Retrieve)
}

// Store handles POST /api/v1/memory/store
func (h *MemoryHandler) Store(w http.ResponseWriter, r *http.Request) {
	var req StoreMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.memory.Store(r.Context(), req.UserID, req.Messages, req.DatabaseURI)
	if err != nil {
		h.logger.Error("Failed to store memory",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		h.writeMemoryError(w, "store_memory_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Retrieve handles POST /api/v1/memory/retrieve
func (h *MemoryHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrieveMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	retrieval, err := h.memory.Retrieve(r.Context(), req.UserID, req.Query, req.DatabaseURI)
	if err != nil {
		h.logger.Error("Failed to retrieve memory",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		h.writeMemoryError(w, "retrieve_memory_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: retrieval}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *MemoryHandler) writeMemoryError(w http.ResponseWriter, code string, err error) {
	var writeErr error
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		writeErr = ErrorResponse(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		writeErr = ErrorResponse(w, http.StatusBadRequest, "store_unavailable", err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		writeErr = ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	default:
		writeErr = ErrorResponse(w, http.StatusInternalServerError, code, err.Error())
	}
	if writeErr != nil {
		h.logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}
