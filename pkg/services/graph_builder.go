package services

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/llm"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
	"github.com/chronicle-ai/chronicle-engine/pkg/prompts"
	"github.com/chronicle-ai/chronicle-engine/pkg/repositories"
)

// BuildResult summarizes one build run for a topic.
type BuildResult struct {
	TopicName            string    `json:"topic_name"`
	BlueprintID          uuid.UUID `json:"blueprint_id"`
	DocumentsProcessed   int       `json:"documents_processed"`
	DocumentsSkipped     int       `json:"documents_skipped"`
	TripletsExtracted    int       `json:"triplets_extracted"`
	EntitiesCreated      int       `json:"entities_created"`
	RelationshipsCreated int       `json:"relationships_created"`
	EnhancedEntities     int       `json:"enhanced_entities"`
	EnhancedRels         int       `json:"enhanced_relationships"`
}

// GraphBuilderService runs the five-stage build pipeline for one topic:
// cognitive maps, analysis blueprint, triplet extraction, materialization,
// and reasoning enhancement.
type GraphBuilderService interface {
	// Build processes the given sources end to end. Extraction and
	// materialization are skipped for documents that already have graph
	// mappings for the topic; enhancement runs for every document. Any
	// stage failure aborts the build with apperrors.ErrBuild.
	Build(ctx context.Context, topicName string, sources []*models.SourceData) (*BuildResult, error)
}

type graphBuilderService struct {
	mapSvc          CognitiveMapService
	blueprintSvc    BlueprintService
	materializer    MaterializerService
	enhancer        EnhancementService
	contentRepo     repositories.ContentRepository
	mappingRepo     repositories.GraphMappingRepository
	llmClient       llm.Generator
	qualityStandard string
	logger          *zap.Logger
}

// NewGraphBuilderService creates a GraphBuilderService.
func NewGraphBuilderService(
	mapSvc CognitiveMapService,
	blueprintSvc BlueprintService,
	materializer MaterializerService,
	enhancer EnhancementService,
	contentRepo repositories.ContentRepository,
	mappingRepo repositories.GraphMappingRepository,
	llmClient llm.Generator,
	qualityStandard string,
	logger *zap.Logger,
) GraphBuilderService {
	return &graphBuilderService{
		mapSvc:          mapSvc,
		blueprintSvc:    blueprintSvc,
		materializer:    materializer,
		enhancer:        enhancer,
		contentRepo:     contentRepo,
		mappingRepo:     mappingRepo,
		llmClient:       llmClient,
		qualityStandard: qualityStandard,
		logger:          logger.Named("graph-builder"),
	}
}

var _ GraphBuilderService = (*graphBuilderService)(nil)

func (s *graphBuilderService) Build(ctx context.Context, topicName string, sources []*models.SourceData) (*BuildResult, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no sources to build for topic %q", apperrors.ErrBuild, topicName)
	}

	s.logger.Info("Building narrative knowledge graph",
		zap.String("topic", topicName),
		zap.Int("documents", len(sources)))

	maps, err := s.mapSvc.GenerateMaps(ctx, sources, topicName, false)
	if err != nil {
		return nil, fmt.Errorf("%w: generating cognitive maps for %q: %v", apperrors.ErrBuild, topicName, err)
	}

	blueprint, err := s.blueprintSvc.GenerateBlueprint(ctx, topicName, maps, false)
	if err != nil {
		return nil, fmt.Errorf("%w: generating blueprint for %q: %v", apperrors.ErrBuild, topicName, err)
	}

	result := &BuildResult{
		TopicName:          topicName,
		BlueprintID:        blueprint.ID,
		DocumentsProcessed: len(sources),
	}

	for i, source := range sources {
		mapped, err := s.mappingRepo.ExistsForSourceAndTopic(ctx, source.ID, topicName)
		if err != nil {
			return nil, fmt.Errorf("%w: checking mappings for source %s: %v", apperrors.ErrBuild, source.ID, err)
		}
		if mapped {
			s.logger.Info("Document already materialized for topic, skipping extraction",
				zap.String("source", source.Name),
				zap.String("topic", topicName))
			result.DocumentsSkipped++
		} else {
			triplets, err := s.extractTriplets(ctx, source, topicName, blueprint, maps[i])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", apperrors.ErrBuild, err)
			}
			result.TripletsExtracted += len(triplets)

			entities, rels, err := s.materializer.MaterializeTriplets(ctx, triplets, source.ID)
			if err != nil {
				return nil, fmt.Errorf("%w: materializing %q: %v", apperrors.ErrBuild, source.Name, err)
			}
			result.EntitiesCreated += entities
			result.RelationshipsCreated += rels
		}

		// The reasoning stage runs for every document, including ones whose
		// extraction was skipped: re-runs can still discover connections
		// against knowledge added since.
		enhancedEntities, enhancedRels, err := s.enhancer.EnhanceSource(ctx, source, topicName, blueprint, maps[i])
		if err != nil {
			return nil, fmt.Errorf("%w: enhancing %q: %v", apperrors.ErrBuild, source.Name, err)
		}
		result.EnhancedEntities += enhancedEntities
		result.EnhancedRels += enhancedRels
	}

	s.logger.Info("Graph build completed",
		zap.String("topic", topicName),
		zap.Int("documents", result.DocumentsProcessed),
		zap.Int("skipped", result.DocumentsSkipped),
		zap.Int("triplets", result.TripletsExtracted),
		zap.Int("entities_created", result.EntitiesCreated),
		zap.Int("relationships_created", result.RelationshipsCreated),
		zap.Int("enhanced_entities", result.EnhancedEntities),
		zap.Int("enhanced_relationships", result.EnhancedRels))
	return result, nil
}

// extractTriplets runs one extraction call for a document and stamps the
// parsed triplets with their topic and category.
func (s *graphBuilderService) extractTriplets(ctx context.Context, source *models.SourceData, topicName string, blueprint *models.AnalysisBlueprint, cognitiveMap *models.CognitiveMap) ([]*models.Triplet, error) {
	entry, err := s.contentRepo.Get(ctx, source.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("loading content for source %s: %w", source.ID, err)
	}

	prompt := prompts.BuildExtractTripletsPrompt(topicName, blueprint, cognitiveMap, prompts.DocumentContext{
		Name:       source.Name,
		Content:    string(entry.Content),
		Attributes: source.Attributes,
	}, s.qualityStandard)

	response, err := s.llmClient.GenerateResponse(ctx, prompt, "", 0)
	if err != nil {
		return nil, fmt.Errorf("extraction call for %q failed: %w", source.Name, err)
	}

	triplets, err := llm.ParseWithRepair[[]*models.Triplet](ctx, s.llmClient, response, llm.FormatArray)
	if err != nil {
		return nil, fmt.Errorf("parsing triplets for %q: %w", source.Name, err)
	}

	for _, triplet := range triplets {
		triplet.TopicName = topicName
		triplet.Category = models.CategoryNarrative
	}

	s.logger.Info("Extracted triplets",
		zap.String("source", source.Name),
		zap.Int("triplets", len(triplets)))
	return triplets, nil
}

// LoadQualityStandard reads the knowledge graph quality standards document
// used by the extraction and reasoning prompts. A missing or unreadable file
// falls back to the built-in default.
func LoadQualityStandard(path string, logger *zap.Logger) string {
	if path == "" {
		return prompts.DefaultQualityStandard
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Quality standard file not readable, using built-in default",
			zap.String("path", path),
			zap.Error(err))
		return prompts.DefaultQualityStandard
	}
	return string(data)
}
