package handlers

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
	"github.com/chronicle-ai/chronicle-engine/pkg/repositories"
	"github.com/chronicle-ai/chronicle-engine/pkg/services"
)

// maxMultipartMemory bounds how much of an upload request is buffered in
// memory before spilling to disk.
const maxMultipartMemory = 32 << 20

// ============================================================================
// Request/Response Types
// ============================================================================

// TopicListResponse for GET /api/v1/knowledge/topics
type TopicListResponse struct {
	Topics []*models.TopicStatusSummary `json:"topics"`
	Total  int                          `json:"total"`
}

// ============================================================================
// Handler
// ============================================================================

// KnowledgeHandler handles document ingestion and build queue inspection.
type KnowledgeHandler struct {
	upload     services.UploadService
	statusRepo repositories.BuildStatusRepository
	stores     services.StoreResolver
	logger     *zap.Logger
}

// NewKnowledgeHandler creates a new knowledge handler.
func NewKnowledgeHandler(
	upload services.UploadService,
	statusRepo repositories.BuildStatusRepository,
	stores services.StoreResolver,
	logger *zap.Logger,
) *KnowledgeHandler {
	return &KnowledgeHandler{
		upload:     upload,
		statusRepo: statusRepo,
		stores:     stores,
		logger:     logger,
	}
}

// RegisterRoutes registers the knowledge handler's routes on the given mux.
func (h *KnowledgeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/knowledge/upload", h.Upload)
	mux.HandleFunc("GET /api/v1/knowledge/topics", h.ListTopics)
}

// Upload handles POST /api/v1/knowledge/upload
// Multipart form: files[] + links[] (paired by position) + topic_name,
// optionally database_uri to ingest into a tenant store.
func (h *KnowledgeHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Expected multipart form data"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	topicName := r.FormValue("topic_name")
	tenantURI := r.FormValue("database_uri")
	links := r.MultipartForm.Value["links"]

	files, ok := h.readUploadFiles(w, r)
	if !ok {
		return
	}

	result, err := h.upload.Upload(r.Context(), files, links, topicName, tenantURI)
	if err != nil {
		h.logger.Error("Upload batch rejected",
			zap.String("topic", topicName),
			zap.Int("files", len(files)),
			zap.Error(err))
		h.writeUploadError(w, err)
		return
	}

	status := http.StatusOK
	if result.UploadedCount == 0 {
		status = http.StatusBadRequest
	}
	if err := WriteJSON(w, status, ApiResponse{Success: result.UploadedCount > 0, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListTopics handles GET /api/v1/knowledge/topics
// Aggregates the build queue per (topic, store) from the local status table,
// optionally filtered to one store via ?database_uri=.
func (h *KnowledgeHandler) ListTopics(w http.ResponseWriter, r *http.Request) {
	var filter *string
	if r.URL.Query().Has("database_uri") {
		uri := r.URL.Query().Get("database_uri")
		filter = &uri
	}

	// Status rows for every store are mirrored into the local store.
	ctx, err := h.stores.WithScope(r.Context(), "")
	if err != nil {
		h.logger.Error("Failed to scope to local store", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "list_topics_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	summaries, err := h.statusRepo.ListTopicSummaries(ctx, filter)
	if err != nil {
		h.logger.Error("Failed to list topic summaries", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "list_topics_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := TopicListResponse{
		Topics: summaries,
		Total:  len(summaries),
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// readUploadFiles drains the multipart file parts into memory. Reads stop one
// byte past the size cap so oversize files are still detected without
// buffering arbitrarily large bodies.
func (h *KnowledgeHandler) readUploadFiles(w http.ResponseWriter, r *http.Request) ([]services.UploadFile, bool) {
	headers := r.MultipartForm.File["files"]
	files := make([]services.UploadFile, 0, len(headers))
	for _, header := range headers {
		part, err := header.Open()
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Failed to read uploaded file "+header.Filename); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return nil, false
		}
		content, err := io.ReadAll(io.LimitReader(part, services.MaxUploadFileSize+1))
		_ = part.Close()
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Failed to read uploaded file "+header.Filename); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return nil, false
		}
		files = append(files, services.UploadFile{Name: header.Filename, Content: content})
	}
	return files, true
}

func (h *KnowledgeHandler) writeUploadError(w http.ResponseWriter, err error) {
	var writeErr error
	switch {
	case errors.Is(err, apperrors.ErrFileTooLarge):
		writeErr = ErrorResponse(w, http.StatusRequestEntityTooLarge, "file_too_large", err.Error())
	case errors.Is(err, apperrors.ErrValidation):
		writeErr = ErrorResponse(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		writeErr = ErrorResponse(w, http.StatusBadRequest, "store_unavailable", err.Error())
	default:
		writeErr = ErrorResponse(w, http.StatusInternalServerError, "upload_failed", err.Error())
	}
	if writeErr != nil {
		h.logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}
