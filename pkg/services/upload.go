package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
	"github.com/chronicle-ai/chronicle-engine/pkg/repositories"
)

// MaxUploadFileSize caps a single uploaded file at 10 MiB.
const MaxUploadFileSize = 10 * 1024 * 1024

// allowedUploadExtensions maps accepted extensions to the file type reported
// back to the caller.
var allowedUploadExtensions = map[string]string{
	".pdf": "pdf",
	".md":  "markdown",
	".txt": "document",
	".sql": "sql",
}

// UploadFile is one file in an upload batch.
type UploadFile struct {
	Name    string
	Content []byte
}

// UploadedDocument describes one ingested file.
type UploadedDocument struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	FilePath string    `json:"file_path"`
	DocLink  string    `json:"doc_link"`
	FileType string    `json:"file_type"`
	Status   string    `json:"status"`
}

// UploadFailure records why one file in a batch was not ingested.
type UploadFailure struct {
	File   string `json:"file"`
	Link   string `json:"link"`
	Reason string `json:"reason"`
}

// UploadResult summarizes an upload batch.
type UploadResult struct {
	UploadedCount int                 `json:"uploaded_count"`
	TotalCount    int                 `json:"total_count"`
	Documents     []*UploadedDocument `json:"documents"`
	Failed        []*UploadFailure    `json:"failed"`
	SuccessRate   float64             `json:"success_rate"`
}

// StoreResolver resolves graph store URIs into scoped contexts that
// repositories read their pool from. *database.StoreRegistry satisfies it.
type StoreResolver interface {
	IsLocal(uri string) bool
	WithScope(ctx context.Context, uri string) (context.Context, error)
	Validate(ctx context.Context, uri string) error
}

// UploadService accepts document batches and queues graph builds for them.
type UploadService interface {
	// Upload validates the whole batch up front, then saves, ingests and
	// schedules a pending build for each file. Batch-level validation
	// failures abort before any file is written; a failure on an individual
	// file is recorded in the result and the rest of the batch continues.
	// A batch where every file failed still returns a result, so callers
	// can report the per-file reasons.
	Upload(ctx context.Context, files []UploadFile, links []string, topicName, tenantURI string) (*UploadResult, error)
}

type uploadService struct {
	knowledge  KnowledgeService
	statusRepo repositories.BuildStatusRepository
	stores     StoreResolver
	uploadDir  string
	logger     *zap.Logger
}

// NewUploadService creates an UploadService writing files under uploadDir.
func NewUploadService(
	knowledge KnowledgeService,
	statusRepo repositories.BuildStatusRepository,
	stores StoreResolver,
	uploadDir string,
	logger *zap.Logger,
) UploadService {
	return &uploadService{
		knowledge:  knowledge,
		statusRepo: statusRepo,
		stores:     stores,
		uploadDir:  uploadDir,
		logger:     logger.Named("upload"),
	}
}

var _ UploadService = (*uploadService)(nil)

func (s *uploadService) Upload(ctx context.Context, files []UploadFile, links []string, topicName, tenantURI string) (*UploadResult, error) {
	if err := validateUploadBatch(files, links, topicName); err != nil {
		return nil, err
	}

	if !s.stores.IsLocal(tenantURI) {
		if err := s.stores.Validate(ctx, tenantURI); err != nil {
			s.logger.Warn("Tenant store rejected upload batch",
				zap.String("topic", topicName),
				zap.Error(err))
			return nil, err
		}
	}

	result := &UploadResult{TotalCount: len(files)}
	for i, file := range files {
		link := links[i]

		doc, err := s.processFile(ctx, file, link, topicName, tenantURI)
		if err != nil {
			s.logger.Error("Failed to process uploaded file",
				zap.String("file", file.Name),
				zap.String("link", link),
				zap.Error(err))
			result.Failed = append(result.Failed, &UploadFailure{File: file.Name, Link: link, Reason: err.Error()})
			continue
		}

		result.Documents = append(result.Documents, doc)
		s.logger.Info("Processed uploaded document",
			zap.String("file", file.Name),
			zap.String("link", link),
			zap.String("source_id", doc.ID.String()))
	}

	result.UploadedCount = len(result.Documents)
	if result.TotalCount > 0 {
		result.SuccessRate = float64(result.UploadedCount) / float64(result.TotalCount)
	}

	s.logger.Info("Upload batch completed",
		zap.String("topic", topicName),
		zap.Int("uploaded", result.UploadedCount),
		zap.Int("total", result.TotalCount))
	return result, nil
}

// validateUploadBatch rejects a batch before any file touches disk. Oversize
// files fail here too, so a partial batch is never left behind.
func validateUploadBatch(files []UploadFile, links []string, topicName string) error {
	if len(files) == 0 {
		return fmt.Errorf("%w: no files provided", apperrors.ErrValidation)
	}
	if len(files) != len(links) {
		return fmt.Errorf("%w: number of files (%d) must match number of links (%d)",
			apperrors.ErrValidation, len(files), len(links))
	}

	seen := make(map[string]bool, len(links))
	for _, link := range links {
		if seen[link] {
			return fmt.Errorf("%w: all links must be unique", apperrors.ErrValidation)
		}
		seen[link] = true
	}

	if strings.TrimSpace(topicName) == "" {
		return fmt.Errorf("%w: topic name is required", apperrors.ErrValidation)
	}

	for _, file := range files {
		if file.Name == "" {
			return fmt.Errorf("%w: file must have a filename", apperrors.ErrValidation)
		}
		if file.Name != filepath.Base(file.Name) {
			return fmt.Errorf("%w: file name %q must not contain path separators",
				apperrors.ErrValidation, file.Name)
		}
		ext := strings.ToLower(filepath.Ext(file.Name))
		if _, ok := allowedUploadExtensions[ext]; !ok {
			return fmt.Errorf("%w: file type %q not supported, allowed: .pdf, .md, .txt, .sql",
				apperrors.ErrValidation, ext)
		}
		if len(file.Content) > MaxUploadFileSize {
			return fmt.Errorf("%w: %s exceeds the %dMB limit",
				apperrors.ErrFileTooLarge, file.Name, MaxUploadFileSize/(1024*1024))
		}
	}
	return nil
}

func (s *uploadService) processFile(ctx context.Context, file UploadFile, link, topicName, tenantURI string) (*UploadedDocument, error) {
	path, err := s.saveFile(file, topicName)
	if err != nil {
		return nil, err
	}

	tenantCtx, err := s.stores.WithScope(ctx, tenantURI)
	if err != nil {
		return nil, err
	}

	attributes := map[string]any{
		models.AttrTopicName:              topicName,
		models.BlockAttrDocLink:           link,
		models.SourceAttrOriginalFilename: file.Name,
		models.SourceAttrUploadedAt:       time.Now().UTC().Format(time.RFC3339),
	}
	source, err := s.knowledge.Ingest(tenantCtx, path, attributes)
	if err != nil {
		return nil, err
	}

	// Blocks are split at ingestion time so retrieval and the reconcile
	// sweep see them before the graph build runs.
	if _, err := s.knowledge.SplitBlocks(tenantCtx, source.ID); err != nil {
		return nil, err
	}

	if err := s.scheduleBuild(ctx, source.ID, topicName, tenantURI); err != nil {
		return nil, err
	}

	return &UploadedDocument{
		ID:       source.ID,
		Name:     source.Name,
		FilePath: path,
		DocLink:  link,
		FileType: allowedUploadExtensions[strings.ToLower(filepath.Ext(file.Name))],
		Status:   "processed",
	}, nil
}

// saveFile writes the upload under <uploadDir>/<topic>/<name>/<name>. A file
// already on disk is reused as-is, so re-uploads dedupe by filename.
func (s *uploadService) saveFile(file UploadFile, topicName string) (string, error) {
	dir := filepath.Join(s.uploadDir, topicName, file.Name)
	path := filepath.Join(dir, file.Name)

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating upload directory: %w", err)
	}
	if err := os.WriteFile(path, file.Content, 0o644); err != nil {
		return "", fmt.Errorf("saving %s: %w", file.Name, err)
	}
	return path, nil
}

// scheduleBuild queues the document as pending: one row in the target store,
// then a mirror row in the local store carrying the tenant URI, which is the
// form the scheduler drains.
func (s *uploadService) scheduleBuild(ctx context.Context, sourceID uuid.UUID, topicName, tenantURI string) error {
	tenantCtx, err := s.stores.WithScope(ctx, tenantURI)
	if err != nil {
		return err
	}

	status := &models.GraphBuildStatus{
		TopicName: topicName,
		SourceID:  sourceID,
		Status:    models.BuildStatusPending,
	}
	if err := s.statusRepo.Schedule(tenantCtx, status); err != nil {
		return fmt.Errorf("scheduling build: %w", err)
	}

	if s.stores.IsLocal(tenantURI) {
		return nil
	}

	localCtx, err := s.stores.WithScope(ctx, "")
	if err != nil {
		return err
	}
	mirror := &models.GraphBuildStatus{
		TopicName:           topicName,
		SourceID:            sourceID,
		ExternalDatabaseURI: tenantURI,
		Status:              models.BuildStatusPending,
	}
	if err := s.statusRepo.Schedule(localCtx, mirror); err != nil {
		return fmt.Errorf("scheduling local build mirror: %w", err)
	}
	return nil
}
