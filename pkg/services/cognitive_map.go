package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/llm"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
	"github.com/chronicle-ai/chronicle-engine/pkg/prompts"
	"github.com/chronicle-ai/chronicle-engine/pkg/repositories"
)

// CognitiveMapService runs the first pipeline stage: a per-document
// structural read that later stages use to ground extraction.
type CognitiveMapService interface {
	// GenerateMap returns the cognitive map for one source, serving it from
	// the per-topic cache unless force is set. Force regenerates the map and
	// overwrites the cached row.
	GenerateMap(ctx context.Context, source *models.SourceData, topicName string, force bool) (*models.CognitiveMap, error)

	// GenerateMaps builds maps for all sources with bounded concurrency.
	// Results preserve input order. Any document failing fails the batch.
	GenerateMaps(ctx context.Context, sources []*models.SourceData, topicName string, force bool) ([]*models.CognitiveMap, error)
}

type cognitiveMapService struct {
	summaryRepo repositories.DocumentSummaryRepository
	contentRepo repositories.ContentRepository
	llmClient   llm.Generator
	workerPool  *llm.WorkerPool
	logger      *zap.Logger
}

// NewCognitiveMapService creates a CognitiveMapService.
func NewCognitiveMapService(
	summaryRepo repositories.DocumentSummaryRepository,
	contentRepo repositories.ContentRepository,
	llmClient llm.Generator,
	workerPool *llm.WorkerPool,
	logger *zap.Logger,
) CognitiveMapService {
	return &cognitiveMapService{
		summaryRepo: summaryRepo,
		contentRepo: contentRepo,
		llmClient:   llmClient,
		workerPool:  workerPool,
		logger:      logger.Named("cognitive-map"),
	}
}

var _ CognitiveMapService = (*cognitiveMapService)(nil)

func (s *cognitiveMapService) GenerateMap(ctx context.Context, source *models.SourceData, topicName string, force bool) (*models.CognitiveMap, error) {
	cached, err := s.summaryRepo.GetByDocumentAndTopic(ctx, source.ID, topicName, models.DocumentTypeCognitiveMap)
	if err == nil && !force {
		s.logger.Info("Using cached cognitive map",
			zap.String("source_id", source.ID.String()),
			zap.String("topic", topicName))
		return models.CognitiveMapFromSummary(cached, source.Name), nil
	}
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		// The cache is advisory. A failed lookup falls through to generation.
		s.logger.Warn("Cognitive map cache lookup failed",
			zap.String("source_id", source.ID.String()),
			zap.Error(err))
	}

	entry, err := s.contentRepo.Get(ctx, source.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("loading content for source %s: %w", source.ID, err)
	}

	prompt := prompts.BuildCognitiveMapPrompt(topicName, prompts.DocumentContext{
		Name:       source.Name,
		Content:    string(entry.Content),
		Attributes: source.Attributes,
	})
	response, err := s.llmClient.GenerateResponse(ctx, prompt, "", 0)
	if err != nil {
		return nil, fmt.Errorf("cognitive map call for %q failed: %w", source.Name, err)
	}

	data, err := llm.ParseWithRepair[map[string]any](ctx, s.llmClient, response, llm.FormatObject)
	if err != nil {
		return nil, fmt.Errorf("parsing cognitive map for %q: %w", source.Name, err)
	}

	m := models.ParseCognitiveMap(data, source.ID, source.Name)
	if m.Summary == "" {
		m.Summary = "Summary generation failed"
	}
	if m.StructuralPatterns == "" {
		m.StructuralPatterns = "unknown"
	}

	if err := s.summaryRepo.Upsert(ctx, m.ToSummary(topicName)); err != nil {
		return nil, fmt.Errorf("caching cognitive map for %q: %w", source.Name, err)
	}

	s.logger.Info("Cognitive map generated",
		zap.String("source_id", source.ID.String()),
		zap.String("topic", topicName))
	return m, nil
}

func (s *cognitiveMapService) GenerateMaps(ctx context.Context, sources []*models.SourceData, topicName string, force bool) ([]*models.CognitiveMap, error) {
	if len(sources) == 0 {
		return nil, nil
	}

	// Each item writes a distinct slot, so input order survives the pool's
	// completion-order results.
	ordered := make([]*models.CognitiveMap, len(sources))
	workItems := make([]llm.WorkItem[*models.CognitiveMap], 0, len(sources))
	for i, source := range sources {
		workItems = append(workItems, llm.WorkItem[*models.CognitiveMap]{
			ID: source.ID.String(),
			Execute: func(ctx context.Context) (*models.CognitiveMap, error) {
				m, err := s.GenerateMap(ctx, source, topicName, force)
				if err != nil {
					return nil, err
				}
				ordered[i] = m
				return m, nil
			},
		})
	}

	results := llm.Process(ctx, s.workerPool, workItems, func(completed, total int) {
		s.logger.Info("Cognitive map progress",
			zap.Int("completed", completed),
			zap.Int("total", total))
	})

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			s.logger.Error("Failed to generate cognitive map",
				zap.String("source_id", r.ID),
				zap.Error(r.Err))
		}
	}
	if failed > 0 {
		return nil, fmt.Errorf("failed to generate cognitive maps for %d of %d documents", failed, len(sources))
	}

	return ordered, nil
}
