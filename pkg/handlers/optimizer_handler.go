package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// OptimizeRequest for POST /api/v1/graph/optimize
type OptimizeRequest struct {
	TopicName   string `json:"topic_name"`
	Query       string `json:"query"`
	DatabaseURI string `json:"database_uri,omitempty"`
}

// ============================================================================
// Handler
// ============================================================================

// OptimizerRunner executes one optimization pass over a topic's graph and
// returns its report. Implemented in main with the wired optimizer stack.
type OptimizerRunner func(ctx context.Context, topicName, query, tenantURI string) (*services.OptimizeReport, error)

// OptimizerHandler triggers graph quality optimization passes. Runs are
// serialized because the optimizer checkpoints to a single state file.
type OptimizerHandler struct {
	run    OptimizerRunner
	mu     sync.Mutex
	logger *zap.Logger
}

// NewOptimizerHandler creates a new optimizer handler.
func NewOptimizerHandler(run OptimizerRunner, logger *zap.Logger) *OptimizerHandler {
	return &OptimizerHandler{run: run, logger: logger}
}

// RegisterRoutes registers the optimizer handler's routes on the given mux.
func (h *OptimizerHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/graph/optimize", h.Optimize)
}

// Optimize handles POST /api/v1/graph/optimize
func (h *OptimizerHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "validation_error", "query is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	h.mu.Lock()
	report, err := h.run(r.Context(), req.TopicName, req.Query, req.DatabaseURI)
	h.mu.Unlock()
	if err != nil {
		h.logger.Error("Optimization pass failed",
			zap.String("topic_name", req.TopicName),
			zap.Error(err))
		h.writeOptimizeError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: report}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *OptimizerHandler) writeOptimizeError(w http.ResponseWriter, err error) {
	var writeErr error
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		writeErr = ErrorResponse(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		writeErr = ErrorResponse(w, http.StatusBadRequest, "store_unavailable", err.Error())
	default:
		writeErr = ErrorResponse(w, http.StatusInternalServerError, "optimize_failed", err.Error())
	}
	if writeErr != nil {
		h.logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}
