package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/jsonutil"
	"github.com/chronicle-ai/chronicle-engine/pkg/llm"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
	"github.com/chronicle-ai/chronicle-engine/pkg/prompts"
	"github.com/chronicle-ai/chronicle-engine/pkg/repositories"
	"github.com/chronicle-ai/chronicle-engine/pkg/retry"
)

// EnhancementService runs the final pipeline stage: detective-style
// reasoning that connects facts scattered across a document and the graph
// built so far, then applies the discoveries.
type EnhancementService interface {
	// EnhanceSource reasons over one document with the build artifacts
	// already in hand. Returns entities and relationships created.
	EnhanceSource(ctx context.Context, source *models.SourceData, topicName string, blueprint *models.AnalysisBlueprint, cognitiveMap *models.CognitiveMap) (int, int, error)

	// EnhanceDocument re-runs enhancement for one stored document. It
	// re-reads the persisted blueprint and cognitive map and never
	// re-extracts; both artifacts are optional context when absent.
	EnhanceDocument(ctx context.Context, sourceID uuid.UUID, topicName string) (int, int, error)
}

type enhancementService struct {
	sourceRepo      repositories.SourceRepository
	contentRepo     repositories.ContentRepository
	summaryRepo     repositories.DocumentSummaryRepository
	blueprintRepo   repositories.BlueprintRepository
	entityRepo      repositories.EntityRepository
	relRepo         repositories.RelationshipRepository
	graphRepo       repositories.GraphRepository
	querySvc        GraphQueryService
	llmClient       llm.Generator
	embed           EmbedFunc
	qualityStandard string
	logger          *zap.Logger
}

// NewEnhancementService creates an EnhancementService.
func NewEnhancementService(
	sourceRepo repositories.SourceRepository,
	contentRepo repositories.ContentRepository,
	summaryRepo repositories.DocumentSummaryRepository,
	blueprintRepo repositories.BlueprintRepository,
	entityRepo repositories.EntityRepository,
	relRepo repositories.RelationshipRepository,
	graphRepo repositories.GraphRepository,
	querySvc GraphQueryService,
	llmClient llm.Generator,
	embed EmbedFunc,
	qualityStandard string,
	logger *zap.Logger,
) EnhancementService {
	return &enhancementService{
		sourceRepo:      sourceRepo,
		contentRepo:     contentRepo,
		summaryRepo:     summaryRepo,
		blueprintRepo:   blueprintRepo,
		entityRepo:      entityRepo,
		relRepo:         relRepo,
		graphRepo:       graphRepo,
		querySvc:        querySvc,
		llmClient:       llmClient,
		embed:           embed,
		qualityStandard: qualityStandard,
		logger:          logger.Named("enhancement"),
	}
}

var _ EnhancementService = (*enhancementService)(nil)

func (s *enhancementService) EnhanceSource(ctx context.Context, source *models.SourceData, topicName string, blueprint *models.AnalysisBlueprint, cognitiveMap *models.CognitiveMap) (int, int, error) {
	entry, err := s.contentRepo.Get(ctx, source.ContentHash)
	if err != nil {
		return 0, 0, fmt.Errorf("loading content for source %s: %w", source.ID, err)
	}

	existing, err := s.querySvc.SourceSubgraph(ctx, source.ID, topicName)
	if err != nil {
		return 0, 0, fmt.Errorf("querying existing knowledge for %q: %w", source.Name, err)
	}

	reasoningContext := prompts.BuildReasoningContext(prompts.DocumentContext{
		Name:       source.Name,
		Content:    string(entry.Content),
		Attributes: source.Attributes,
	}, blueprint, cognitiveMap, existing)
	prompt := prompts.BuildReasoningPrompt(topicName, reasoningContext, s.qualityStandard)

	s.logger.Info("Performing knowledge reasoning",
		zap.String("source", source.Name),
		zap.String("topic", topicName))
	response, err := s.llmClient.GenerateResponse(ctx, prompt, "", 0)
	if err != nil {
		return 0, 0, fmt.Errorf("reasoning call for %q failed: %w", source.Name, err)
	}

	result, err := llm.ParseWithRepair[models.ReasoningResult](ctx, s.llmClient, response, llm.FormatObject)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing reasoning results for %q: %w", source.Name, err)
	}
	for i := range result.EnhancedRelationships {
		result.EnhancedRelationships[i].TopicName = topicName
	}

	s.logger.Info("Knowledge reasoning completed",
		zap.String("source", source.Name),
		zap.Int("enhanced_relationships", len(result.EnhancedRelationships)))

	return s.applyDiscoveries(ctx, result.EnhancedRelationships, source.ID)
}

func (s *enhancementService) EnhanceDocument(ctx context.Context, sourceID uuid.UUID, topicName string) (int, int, error) {
	source, err := s.sourceRepo.GetByID(ctx, sourceID)
	if err != nil {
		return 0, 0, fmt.Errorf("loading source %s: %w", sourceID, err)
	}

	blueprint, err := s.blueprintRepo.GetByTopic(ctx, topicName)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return 0, 0, fmt.Errorf("loading blueprint for topic %q: %w", topicName, err)
	}

	var cognitiveMap *models.CognitiveMap
	summary, err := s.summaryRepo.GetByDocumentAndTopic(ctx, sourceID, topicName, models.DocumentTypeCognitiveMap)
	switch {
	case err == nil:
		cognitiveMap = models.CognitiveMapFromSummary(summary, source.Name)
	case errors.Is(err, apperrors.ErrNotFound):
		// Reasoning still works without the per-document map.
	default:
		return 0, 0, fmt.Errorf("loading cognitive map for source %s: %w", sourceID, err)
	}

	return s.EnhanceSource(ctx, source, topicName, blueprint, cognitiveMap)
}

// applyDiscoveries persists each discovery in its own transaction, retried
// on lost connections. The first unrecoverable failure aborts the run.
func (s *enhancementService) applyDiscoveries(ctx context.Context, discoveries []models.EnhancedRelationship, sourceID uuid.UUID) (int, int, error) {
	entitiesCreated := 0
	relationshipsCreated := 0

	// Entity IDs resolved so far in this run, keyed by name. Only committed
	// writes populate it, so a retried transaction never sees an ID from a
	// rolled-back attempt.
	cache := make(map[string]uuid.UUID)

	for _, d := range discoveries {
		var write *repositories.EnhancementWrite
		err := retry.DoIfConnectionLost(ctx, func() error {
			w, err := s.buildEnhancementWrite(ctx, &d, sourceID, cache)
			if err != nil {
				return err
			}
			if err := s.graphRepo.ApplyEnhancement(ctx, w); err != nil {
				return err
			}
			write = w
			return nil
		})
		if err != nil {
			s.logger.Error("Failed to apply reasoning discovery",
				zap.String("subject", d.Subject.Name),
				zap.String("predicate", d.Predicate),
				zap.String("object", d.Object.Name),
				zap.Error(err))
			return entitiesCreated, relationshipsCreated,
				fmt.Errorf("applying discovery %q -[%s]-> %q: %w", d.Subject.Name, d.Predicate, d.Object.Name, err)
		}

		if write.NewSubject != nil {
			entitiesCreated++
		}
		cache[d.Subject.Name] = write.SubjectID
		if write.NewObject != nil {
			entitiesCreated++
		}
		cache[d.Object.Name] = write.ObjectID
		if write.NewRelationship != nil {
			relationshipsCreated++
		}
	}

	s.logger.Info("Applied reasoning discoveries",
		zap.String("source_id", sourceID.String()),
		zap.Int("discoveries", len(discoveries)),
		zap.Int("entities_created", entitiesCreated),
		zap.Int("relationships_created", relationshipsCreated))
	return entitiesCreated, relationshipsCreated, nil
}

// buildEnhancementWrite resolves both endpoints and the relationship against
// the store and assembles the atomic write for one discovery.
func (s *enhancementService) buildEnhancementWrite(ctx context.Context, d *models.EnhancedRelationship, sourceID uuid.UUID, cache map[string]uuid.UUID) (*repositories.EnhancementWrite, error) {
	write := &repositories.EnhancementWrite{
		SourceID:          sourceID,
		MappingAttributes: map[string]any{models.AttrTopicName: d.TopicName},
	}

	subjectID, newSubject, updatedSubject, err := s.resolveEnhancedEntity(ctx, d.Subject, d.TopicName, cache)
	if err != nil {
		return nil, err
	}
	write.SubjectID, write.NewSubject, write.UpdatedSubject = subjectID, newSubject, updatedSubject

	if d.Object.Name == d.Subject.Name {
		// Self-referencing discovery: both endpoints are the same entity.
		write.ObjectID = subjectID
	} else {
		objectID, newObject, updatedObject, err := s.resolveEnhancedEntity(ctx, d.Object, d.TopicName, cache)
		if err != nil {
			return nil, err
		}
		write.ObjectID, write.NewObject, write.UpdatedObject = objectID, newObject, updatedObject
	}

	existing, err := s.relRepo.GetByEndpointsAndDesc(ctx, write.SubjectID, write.ObjectID, d.Predicate)
	switch {
	case err == nil:
		write.RelationshipID = existing.ID
		write.UpdatedRelAttributes = jsonutil.MergeAttributes(existing.Attributes, d.RelationshipAttributes)

	case errors.Is(err, apperrors.ErrNotFound):
		embedding, err := s.embed(ctx, d.Predicate)
		if err != nil {
			return nil, fmt.Errorf("embedding relationship %q: %w", d.Predicate, err)
		}
		write.NewRelationship = &models.Relationship{
			ID:                        uuid.New(),
			RelationshipDesc:          d.Predicate,
			RelationshipDescEmbedding: embedding,
			Attributes: jsonutil.MergeAttributes(d.RelationshipAttributes, map[string]any{
				models.AttrTopicName: d.TopicName,
			}),
		}

	default:
		return nil, fmt.Errorf("resolving relationship %q: %w", d.Predicate, err)
	}

	return write, nil
}

// resolveEnhancedEntity returns the endpoint's entity ID plus at most one of
// a pending insert or a pending in-place update. Existing entities are
// updated only when the model flagged the description for rewrite.
func (s *enhancementService) resolveEnhancedEntity(ctx context.Context, endpoint models.EnhancedEntity, topicName string, cache map[string]uuid.UUID) (uuid.UUID, *models.Entity, *models.Entity, error) {
	if id, ok := cache[endpoint.Name]; ok {
		return id, nil, nil, nil
	}

	existing, err := s.entityRepo.GetByNameAndTopic(ctx, endpoint.Name, topicName)
	switch {
	case err == nil:
		if !endpoint.RequiresDescriptionUpdate {
			return existing.ID, nil, nil, nil
		}
		embedding, err := s.embed(ctx, endpoint.Description)
		if err != nil {
			return uuid.Nil, nil, nil, fmt.Errorf("embedding entity %q: %w", endpoint.Name, err)
		}
		updated := &models.Entity{
			ID:                   existing.ID,
			Name:                 existing.Name,
			Description:          endpoint.Description,
			DescriptionEmbedding: embedding,
			Attributes:           jsonutil.MergeAttributes(existing.Attributes, endpoint.Attributes),
			CreatedAt:            existing.CreatedAt,
		}
		s.logger.Info("Enhancing existing entity",
			zap.String("entity", endpoint.Name),
			zap.String("justification", endpoint.UpdateJustification))
		return existing.ID, nil, updated, nil

	case errors.Is(err, apperrors.ErrNotFound):
		embedText := endpoint.Description
		if embedText == "" {
			embedText = endpoint.Name
		}
		embedding, err := s.embed(ctx, embedText)
		if err != nil {
			return uuid.Nil, nil, nil, fmt.Errorf("embedding entity %q: %w", endpoint.Name, err)
		}
		entity := &models.Entity{
			ID:                   uuid.New(),
			Name:                 endpoint.Name,
			Description:          endpoint.Description,
			DescriptionEmbedding: embedding,
			Attributes: jsonutil.MergeAttributes(endpoint.Attributes, map[string]any{
				models.AttrTopicName: topicName,
			}),
		}
		return entity.ID, entity, nil, nil

	default:
		return uuid.Nil, nil, nil, fmt.Errorf("resolving entity %q: %w", endpoint.Name, err)
	}
}
