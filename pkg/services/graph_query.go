package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/jsonutil"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
	"github.com/chronicle-ai/chronicle-engine/pkg/repositories"
)

// Defaults for vector retrieval. The optimizer overrides both from its own
// config; interactive callers usually take these as-is.
const (
	DefaultSearchTopK          = 10
	DefaultSimilarityThreshold = 0.6
)

// GraphQueryService is the shared read path over a topic's graph: vector
// retrieval for prompts and tools, and per-source subgraph hydration.
type GraphQueryService interface {
	// SearchSubgraph returns the relationships most similar to the query
	// text, endpoints hydrated, as a prompt-ready payload. Results are
	// ordered by descending similarity and cut at threshold and topK.
	SearchSubgraph(ctx context.Context, topicName, query string, topK int, threshold float64) (*models.GraphPayload, error)

	// SourceSubgraph returns every graph element mapped to the source,
	// optionally filtered to one topic (empty topicName means all).
	SourceSubgraph(ctx context.Context, sourceID uuid.UUID, topicName string) (*models.GraphPayload, error)

	// SearchBlocks returns the topic's knowledge blocks most similar to the
	// query text, ordered by descending similarity.
	SearchBlocks(ctx context.Context, topicName, query string, topK int, threshold float64) ([]*models.KnowledgeBlock, error)
}

type graphQueryService struct {
	entityRepo  repositories.EntityRepository
	relRepo     repositories.RelationshipRepository
	blockRepo   repositories.KnowledgeBlockRepository
	mappingRepo repositories.GraphMappingRepository
	embed       EmbedFunc
	logger      *zap.Logger
}

// NewGraphQueryService creates a GraphQueryService.
func NewGraphQueryService(
	entityRepo repositories.EntityRepository,
	relRepo repositories.RelationshipRepository,
	blockRepo repositories.KnowledgeBlockRepository,
	mappingRepo repositories.GraphMappingRepository,
	embed EmbedFunc,
	logger *zap.Logger,
) GraphQueryService {
	return &graphQueryService{
		entityRepo:  entityRepo,
		relRepo:     relRepo,
		blockRepo:   blockRepo,
		mappingRepo: mappingRepo,
		embed:       embed,
		logger:      logger.Named("graph-query"),
	}
}

var _ GraphQueryService = (*graphQueryService)(nil)

func (s *graphQueryService) SearchSubgraph(ctx context.Context, topicName, query string, topK int, threshold float64) (*models.GraphPayload, error) {
	if topK <= 0 {
		topK = DefaultSearchTopK
	}

	queryVec, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rels, err := s.relRepo.ListWithEmbeddings(ctx, topicName)
	if err != nil {
		return nil, fmt.Errorf("listing relationships for topic %q: %w", topicName, err)
	}

	type scoredRel struct {
		rel   *models.Relationship
		score float64
	}
	candidates := make([]scoredRel, 0, len(rels))
	for _, rel := range rels {
		if len(rel.RelationshipDescEmbedding) == 0 {
			continue
		}
		candidates = append(candidates, scoredRel{rel, CosineSimilarity(queryVec, rel.RelationshipDescEmbedding)})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > topK*5 {
		candidates = candidates[:topK*5]
	}

	matched := make([]*models.Relationship, 0, topK)
	for _, c := range candidates {
		if c.score < threshold {
			continue
		}
		matched = append(matched, c.rel)
		if len(matched) == topK {
			break
		}
	}

	s.logger.Debug("Subgraph search completed",
		zap.String("topic", topicName),
		zap.Int("candidates", len(candidates)),
		zap.Int("matched", len(matched)))
	return s.hydrateRelationships(ctx, matched)
}

func (s *graphQueryService) SourceSubgraph(ctx context.Context, sourceID uuid.UUID, topicName string) (*models.GraphPayload, error) {
	mappings, err := s.mappingRepo.ListBySource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("listing graph mappings for source %s: %w", sourceID, err)
	}

	var entityIDs, relIDs []uuid.UUID
	for _, mapping := range mappings {
		if topicName != "" && jsonutil.GetString(mapping.Attributes, models.AttrTopicName) != topicName {
			continue
		}
		switch mapping.GraphElementType {
		case models.GraphElementEntity:
			entityIDs = append(entityIDs, mapping.GraphElementID)
		case models.GraphElementRelationship:
			relIDs = append(relIDs, mapping.GraphElementID)
		}
	}

	payload := &models.GraphPayload{
		Entities:      []models.EntitySummary{},
		Relationships: []models.RelationshipSummary{},
	}

	entities, err := s.entityRepo.GetByIDs(ctx, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("loading entities for source %s: %w", sourceID, err)
	}
	names := make(map[uuid.UUID]string, len(entities))
	for _, entity := range entities {
		names[entity.ID] = entity.Name
		payload.Entities = append(payload.Entities, entitySummary(entity))
	}

	rels, err := s.relRepo.GetByIDs(ctx, relIDs)
	if err != nil {
		return nil, fmt.Errorf("loading relationships for source %s: %w", sourceID, err)
	}

	// Endpoints contributed by other sources are resolved for their names
	// without joining the payload's entity list.
	var missing []uuid.UUID
	for _, rel := range rels {
		for _, id := range []uuid.UUID{rel.SourceEntityID, rel.TargetEntityID} {
			if _, ok := names[id]; !ok {
				missing = append(missing, id)
			}
		}
	}
	if len(missing) > 0 {
		extra, err := s.entityRepo.GetByIDs(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("loading relationship endpoints: %w", err)
		}
		for _, entity := range extra {
			names[entity.ID] = entity.Name
		}
	}

	for _, rel := range rels {
		sourceName, okSource := names[rel.SourceEntityID]
		targetName, okTarget := names[rel.TargetEntityID]
		if !okSource || !okTarget {
			continue
		}
		payload.Relationships = append(payload.Relationships, models.RelationshipSummary{
			ID:           rel.ID.String(),
			SourceEntity: sourceName,
			TargetEntity: targetName,
			Description:  rel.RelationshipDesc,
			Attributes:   rel.Attributes,
		})
	}

	return payload, nil
}

func (s *graphQueryService) SearchBlocks(ctx context.Context, topicName, query string, topK int, threshold float64) ([]*models.KnowledgeBlock, error) {
	if topK <= 0 {
		topK = DefaultSearchTopK
	}

	queryVec, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	blocks, err := s.blockRepo.ListWithEmbeddingsByTopic(ctx, topicName)
	if err != nil {
		return nil, fmt.Errorf("listing blocks for topic %q: %w", topicName, err)
	}

	type scoredBlock struct {
		block *models.KnowledgeBlock
		score float64
	}
	candidates := make([]scoredBlock, 0, len(blocks))
	for _, block := range blocks {
		if len(block.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, scoredBlock{block, CosineSimilarity(queryVec, block.Embedding)})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	matched := make([]*models.KnowledgeBlock, 0, topK)
	for _, c := range candidates {
		if c.score < threshold {
			continue
		}
		matched = append(matched, c.block)
		if len(matched) == topK {
			break
		}
	}
	return matched, nil
}

// hydrateRelationships loads both endpoints of every relationship and builds
// the prompt-facing payload. Relationships with a missing endpoint are
// dropped, matching an inner join on entities.
func (s *graphQueryService) hydrateRelationships(ctx context.Context, rels []*models.Relationship) (*models.GraphPayload, error) {
	payload := &models.GraphPayload{
		Entities:      []models.EntitySummary{},
		Relationships: []models.RelationshipSummary{},
	}
	if len(rels) == 0 {
		return payload, nil
	}

	seen := make(map[uuid.UUID]bool, len(rels)*2)
	ids := make([]uuid.UUID, 0, len(rels)*2)
	for _, rel := range rels {
		for _, id := range []uuid.UUID{rel.SourceEntityID, rel.TargetEntityID} {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	entities, err := s.entityRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading relationship endpoints: %w", err)
	}
	byID := make(map[uuid.UUID]*models.Entity, len(entities))
	for _, entity := range entities {
		byID[entity.ID] = entity
		payload.Entities = append(payload.Entities, entitySummary(entity))
	}

	for _, rel := range rels {
		source, okSource := byID[rel.SourceEntityID]
		target, okTarget := byID[rel.TargetEntityID]
		if !okSource || !okTarget {
			continue
		}
		payload.Relationships = append(payload.Relationships, models.RelationshipSummary{
			ID:           rel.ID.String(),
			SourceEntity: source.Name,
			TargetEntity: target.Name,
			Description:  rel.RelationshipDesc,
			Attributes:   rel.Attributes,
		})
	}

	return payload, nil
}

func entitySummary(entity *models.Entity) models.EntitySummary {
	return models.EntitySummary{
		ID:          entity.ID.String(),
		Name:        entity.Name,
		Description: entity.Description,
		Attributes:  entity.Attributes,
	}
}
