package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/jsonutil"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
	"github.com/chronicle-ai/chronicle-engine/pkg/repositories"
	"github.com/chronicle-ai/chronicle-engine/pkg/retry"
)

// MaterializerService runs the fourth pipeline stage: converting extracted
// triplets into entity and relationship rows with provenance mappings.
type MaterializerService interface {
	// MaterializeTriplets writes all triplets for one source into the graph,
	// one transaction per triplet. Returns the number of entities and
	// relationships created; elements that already exist get provenance
	// rows only.
	MaterializeTriplets(ctx context.Context, triplets []*models.Triplet, sourceID uuid.UUID) (int, int, error)
}

type materializerService struct {
	entityRepo repositories.EntityRepository
	relRepo    repositories.RelationshipRepository
	graphRepo  repositories.GraphRepository
	embed      EmbedFunc
	logger     *zap.Logger
}

// NewMaterializerService creates a MaterializerService.
func NewMaterializerService(
	entityRepo repositories.EntityRepository,
	relRepo repositories.RelationshipRepository,
	graphRepo repositories.GraphRepository,
	embed EmbedFunc,
	logger *zap.Logger,
) MaterializerService {
	return &materializerService{
		entityRepo: entityRepo,
		relRepo:    relRepo,
		graphRepo:  graphRepo,
		embed:      embed,
		logger:     logger.Named("materializer"),
	}
}

var _ MaterializerService = (*materializerService)(nil)

func (s *materializerService) MaterializeTriplets(ctx context.Context, triplets []*models.Triplet, sourceID uuid.UUID) (int, int, error) {
	entitiesCreated := 0
	relationshipsCreated := 0

	// Entity IDs resolved so far in this build, keyed by name. Only
	// committed writes populate it, so a retried transaction never sees an
	// ID from a rolled-back attempt.
	cache := make(map[string]uuid.UUID)

	for _, t := range triplets {
		var write *repositories.TripletWrite
		err := retry.DoIfConnectionLost(ctx, func() error {
			w, err := s.buildTripletWrite(ctx, t, sourceID, cache)
			if err != nil {
				return err
			}
			if err := s.graphRepo.ApplyTriplet(ctx, w); err != nil {
				return err
			}
			write = w
			return nil
		})
		if err != nil {
			s.logger.Error("Failed to materialize triplet",
				zap.String("subject", t.Subject.Name),
				zap.String("predicate", t.Predicate),
				zap.String("object", t.Object.Name),
				zap.Error(err))
			return entitiesCreated, relationshipsCreated,
				fmt.Errorf("materializing triplet %q -[%s]-> %q: %w", t.Subject.Name, t.Predicate, t.Object.Name, err)
		}

		if write.NewSubject != nil {
			cache[write.NewSubject.Name] = write.NewSubject.ID
			entitiesCreated++
		} else {
			cache[t.Subject.Name] = write.SubjectID
		}
		if write.NewObject != nil {
			cache[write.NewObject.Name] = write.NewObject.ID
			entitiesCreated++
		} else {
			cache[t.Object.Name] = write.ObjectID
		}
		if write.NewRelationship != nil {
			relationshipsCreated++
		}
	}

	s.logger.Info("Materialized triplets",
		zap.String("source_id", sourceID.String()),
		zap.Int("triplets", len(triplets)),
		zap.Int("entities_created", entitiesCreated),
		zap.Int("relationships_created", relationshipsCreated))
	return entitiesCreated, relationshipsCreated, nil
}

// buildTripletWrite resolves both endpoints and the relationship against the
// store and assembles the atomic write for one triplet.
func (s *materializerService) buildTripletWrite(ctx context.Context, t *models.Triplet, sourceID uuid.UUID, cache map[string]uuid.UUID) (*repositories.TripletWrite, error) {
	write := &repositories.TripletWrite{
		SourceID:          sourceID,
		MappingAttributes: map[string]any{models.AttrTopicName: t.TopicName},
	}

	subjectID, newSubject, err := s.resolveEntity(ctx, t.Subject, t.TopicName, t.Category, cache)
	if err != nil {
		return nil, err
	}
	write.SubjectID, write.NewSubject = subjectID, newSubject

	if t.Object.Name == t.Subject.Name {
		// Self-referencing triplet: both endpoints are the same entity.
		write.ObjectID = subjectID
	} else {
		objectID, newObject, err := s.resolveEntity(ctx, t.Object, t.TopicName, t.Category, cache)
		if err != nil {
			return nil, err
		}
		write.ObjectID, write.NewObject = objectID, newObject
	}

	existing, err := s.relRepo.GetByEndpointsAndDesc(ctx, write.SubjectID, write.ObjectID, t.Predicate)
	switch {
	case err == nil:
		write.RelationshipID = existing.ID

	case errors.Is(err, apperrors.ErrNotFound):
		embedding, err := s.embed(ctx, t.Predicate)
		if err != nil {
			return nil, fmt.Errorf("embedding relationship %q: %w", t.Predicate, err)
		}
		write.NewRelationship = &models.Relationship{
			ID:                        uuid.New(),
			RelationshipDesc:          t.Predicate,
			RelationshipDescEmbedding: embedding,
			Attributes: jsonutil.MergeAttributes(map[string]any{
				models.AttrTopicName: t.TopicName,
				models.AttrCategory:  t.Category,
			}, t.RelationshipAttributes),
		}

	default:
		return nil, fmt.Errorf("resolving relationship %q: %w", t.Predicate, err)
	}

	return write, nil
}

// resolveEntity returns the ID of an existing entity matching the endpoint by
// (name, topic), or a fully-built pending entity when none exists yet.
func (s *materializerService) resolveEntity(ctx context.Context, endpoint models.TripletEntity, topicName, category string, cache map[string]uuid.UUID) (uuid.UUID, *models.Entity, error) {
	if id, ok := cache[endpoint.Name]; ok {
		return id, nil, nil
	}

	existing, err := s.entityRepo.GetByNameAndTopic(ctx, endpoint.Name, topicName)
	if err == nil {
		return existing.ID, nil, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return uuid.Nil, nil, fmt.Errorf("resolving entity %q: %w", endpoint.Name, err)
	}

	embedText := endpoint.Description
	if embedText == "" {
		embedText = endpoint.Name
	}
	embedding, err := s.embed(ctx, embedText)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("embedding entity %q: %w", endpoint.Name, err)
	}

	entity := &models.Entity{
		ID:                   uuid.New(),
		Name:                 endpoint.Name,
		Description:          endpoint.Description,
		DescriptionEmbedding: embedding,
		Attributes: jsonutil.MergeAttributes(endpoint.Attributes, map[string]any{
			models.AttrTopicName: topicName,
			models.AttrCategory:  category,
		}),
	}
	return entity.ID, entity, nil
}
