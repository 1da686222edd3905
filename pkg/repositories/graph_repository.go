package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chronicle-ai/chronicle-engine/pkg/database"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
)

// TripletWrite is one extracted triplet prepared for atomic persistence.
// Entities and relationships the caller resolved against the store arrive as
// bare IDs; elements that do not exist yet arrive as fully-built rows with
// embeddings and pre-assigned IDs.
type TripletWrite struct {
	SourceID uuid.UUID

	// SubjectID references an existing entity; ignored when NewSubject is set.
	SubjectID  uuid.UUID
	NewSubject *models.Entity

	// ObjectID references an existing entity; ignored when NewObject is set.
	ObjectID  uuid.UUID
	NewObject *models.Entity

	// RelationshipID references an existing edge; ignored when
	// NewRelationship is set.
	RelationshipID  uuid.UUID
	NewRelationship *models.Relationship

	// MappingAttributes are stamped on every provenance row this write
	// creates (topic_name at minimum).
	MappingAttributes map[string]any
}

// EnhancementWrite is one reasoning discovery prepared for atomic
// persistence. Endpoints arrive in one of three shapes: a bare ID for an
// untouched existing entity, NewX for an entity the reasoning introduced, or
// UpdatedX for an existing entity whose description and attributes the
// reasoning improved.
type EnhancementWrite struct {
	SourceID uuid.UUID

	SubjectID      uuid.UUID
	NewSubject     *models.Entity
	UpdatedSubject *models.Entity

	ObjectID      uuid.UUID
	NewObject     *models.Entity
	UpdatedObject *models.Entity

	// RelationshipID and UpdatedRelAttributes merge new attributes into an
	// existing edge; reasoning never rewrites an edge's description.
	// NewRelationship inserts the edge instead.
	RelationshipID       uuid.UUID
	NewRelationship      *models.Relationship
	UpdatedRelAttributes map[string]any

	// MappingAttributes are stamped on every provenance row this write
	// creates. Updated edges get no new provenance row.
	MappingAttributes map[string]any
}

// GraphRepository owns the multi-table graph writes that must be atomic:
// materializing one triplet, applying one reasoning enhancement, and the
// optimizer's merge operations.
type GraphRepository interface {
	ApplyTriplet(ctx context.Context, write *TripletWrite) error
	ApplyEnhancement(ctx context.Context, write *EnhancementWrite) error
	MergeEntities(ctx context.Context, merged *models.Entity, originalIDs []uuid.UUID) error
	MergeRelationships(ctx context.Context, merged *models.Relationship, originalIDs []uuid.UUID) error
}

type graphRepository struct{}

// NewGraphRepository creates a new GraphRepository.
func NewGraphRepository() GraphRepository {
	return &graphRepository{}
}

var _ GraphRepository = (*graphRepository)(nil)

// ApplyTriplet persists one triplet in a single transaction: missing
// entities, the relationship, and provenance rows for all three elements.
func (r *graphRepository) ApplyTriplet(ctx context.Context, write *TripletWrite) error {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return fmt.Errorf("no store scope in context")
	}

	mappingAttrs, err := marshalAttributes(write.MappingAttributes)
	if err != nil {
		return err
	}

	tx, err := scope.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	subjectID := write.SubjectID
	if write.NewSubject != nil {
		if err := insertEntityTx(ctx, tx, write.NewSubject); err != nil {
			return err
		}
		subjectID = write.NewSubject.ID
	}

	objectID := write.ObjectID
	if write.NewObject != nil {
		if err := insertEntityTx(ctx, tx, write.NewObject); err != nil {
			return err
		}
		objectID = write.NewObject.ID
	}

	if err := ensureMappingTx(ctx, tx, write.SourceID, subjectID, models.GraphElementEntity, mappingAttrs); err != nil {
		return err
	}
	if err := ensureMappingTx(ctx, tx, write.SourceID, objectID, models.GraphElementEntity, mappingAttrs); err != nil {
		return err
	}

	relationshipID := write.RelationshipID
	if write.NewRelationship != nil {
		write.NewRelationship.SourceEntityID = subjectID
		write.NewRelationship.TargetEntityID = objectID
		if err := insertRelationshipTx(ctx, tx, write.NewRelationship); err != nil {
			return err
		}
		relationshipID = write.NewRelationship.ID
	}

	if err := ensureMappingTx(ctx, tx, write.SourceID, relationshipID, models.GraphElementRelationship, mappingAttrs); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ApplyEnhancement persists one reasoning discovery in a single
// transaction: endpoint inserts or in-place updates, the relationship
// insert or attribute merge, and provenance rows for created elements.
func (r *graphRepository) ApplyEnhancement(ctx context.Context, write *EnhancementWrite) error {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return fmt.Errorf("no store scope in context")
	}

	mappingAttrs, err := marshalAttributes(write.MappingAttributes)
	if err != nil {
		return err
	}

	tx, err := scope.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	subjectID, err := applyEndpointTx(ctx, tx, write.SubjectID, write.NewSubject, write.UpdatedSubject)
	if err != nil {
		return err
	}
	objectID, err := applyEndpointTx(ctx, tx, write.ObjectID, write.NewObject, write.UpdatedObject)
	if err != nil {
		return err
	}

	if err := ensureMappingTx(ctx, tx, write.SourceID, subjectID, models.GraphElementEntity, mappingAttrs); err != nil {
		return err
	}
	if err := ensureMappingTx(ctx, tx, write.SourceID, objectID, models.GraphElementEntity, mappingAttrs); err != nil {
		return err
	}

	switch {
	case write.NewRelationship != nil:
		write.NewRelationship.SourceEntityID = subjectID
		write.NewRelationship.TargetEntityID = objectID
		if err := insertRelationshipTx(ctx, tx, write.NewRelationship); err != nil {
			return err
		}
		if err := ensureMappingTx(ctx, tx, write.SourceID, write.NewRelationship.ID, models.GraphElementRelationship, mappingAttrs); err != nil {
			return err
		}
	case write.UpdatedRelAttributes != nil:
		attrs, err := marshalAttributes(write.UpdatedRelAttributes)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE relationships SET attributes = $1 WHERE id = $2`, attrs, write.RelationshipID)
		if err != nil {
			return fmt.Errorf("failed to update relationship attributes: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// MergeEntities replaces a set of duplicate entities with one merged entity.
// Relationships and provenance rows pointing at the originals are repointed
// at the merged entity before the originals are deleted.
func (r *graphRepository) MergeEntities(ctx context.Context, merged *models.Entity, originalIDs []uuid.UUID) error {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return fmt.Errorf("no store scope in context")
	}

	if len(originalIDs) == 0 {
		return fmt.Errorf("no entities to merge")
	}

	tx, err := scope.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if err := insertEntityTx(ctx, tx, merged); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE relationships SET source_entity_id = $1 WHERE source_entity_id = ANY($2)`,
		merged.ID, originalIDs,
	)
	if err != nil {
		return fmt.Errorf("failed to repoint relationship sources: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE relationships SET target_entity_id = $1 WHERE target_entity_id = ANY($2)`,
		merged.ID, originalIDs,
	)
	if err != nil {
		return fmt.Errorf("failed to repoint relationship targets: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE source_graph_mappings SET graph_element_id = $1 WHERE graph_element_id = ANY($2) AND graph_element_type = $3`,
		merged.ID, originalIDs, models.GraphElementEntity,
	)
	if err != nil {
		return fmt.Errorf("failed to repoint entity mappings: %w", err)
	}

	_, err = tx.Exec(ctx, `DELETE FROM entities WHERE id = ANY($1)`, originalIDs)
	if err != nil {
		return fmt.Errorf("failed to delete merged entities: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// MergeRelationships replaces a set of duplicate relationships with one
// merged relationship, repointing provenance rows.
func (r *graphRepository) MergeRelationships(ctx context.Context, merged *models.Relationship, originalIDs []uuid.UUID) error {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return fmt.Errorf("no store scope in context")
	}

	if len(originalIDs) == 0 {
		return fmt.Errorf("no relationships to merge")
	}

	tx, err := scope.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if err := insertRelationshipTx(ctx, tx, merged); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE source_graph_mappings SET graph_element_id = $1 WHERE graph_element_id = ANY($2) AND graph_element_type = $3`,
		merged.ID, originalIDs, models.GraphElementRelationship,
	)
	if err != nil {
		return fmt.Errorf("failed to repoint relationship mappings: %w", err)
	}

	_, err = tx.Exec(ctx, `DELETE FROM relationships WHERE id = ANY($1)`, originalIDs)
	if err != nil {
		return fmt.Errorf("failed to delete merged relationships: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ============================================================================
// Helper Functions - Transactional Inserts
// ============================================================================

// applyEndpointTx resolves one endpoint of an enhancement write to its
// entity ID, inserting or updating the row as instructed.
func applyEndpointTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, created, updated *models.Entity) (uuid.UUID, error) {
	switch {
	case created != nil:
		if err := insertEntityTx(ctx, tx, created); err != nil {
			return uuid.Nil, err
		}
		return created.ID, nil
	case updated != nil:
		if err := updateEntityTx(ctx, tx, updated); err != nil {
			return uuid.Nil, err
		}
		return updated.ID, nil
	default:
		return id, nil
	}
}

func insertEntityTx(ctx context.Context, tx pgx.Tx, entity *models.Entity) error {
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now()
	}

	attrs, err := marshalAttributes(entity.Attributes)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO entities (id, name, description, description_embedding, attributes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entity.ID, entity.Name, entity.Description, entity.DescriptionEmbedding, attrs, entity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert entity: %w", err)
	}

	return nil
}

func updateEntityTx(ctx context.Context, tx pgx.Tx, entity *models.Entity) error {
	attrs, err := marshalAttributes(entity.Attributes)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE entities SET description = $1, description_embedding = $2, attributes = $3 WHERE id = $4`,
		entity.Description, entity.DescriptionEmbedding, attrs, entity.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}

	return nil
}

func insertRelationshipTx(ctx context.Context, tx pgx.Tx, rel *models.Relationship) error {
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now()
	}

	attrs, err := marshalAttributes(rel.Attributes)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO relationships (id, source_entity_id, target_entity_id, relationship_desc, relationship_desc_embedding, attributes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rel.ID, rel.SourceEntityID, rel.TargetEntityID, rel.RelationshipDesc,
		rel.RelationshipDescEmbedding, attrs, rel.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert relationship: %w", err)
	}

	return nil
}

func ensureMappingTx(ctx context.Context, tx pgx.Tx, sourceID, elementID uuid.UUID, elementType string, attrs []byte) error {
	_, err := tx.Exec(ctx, ensureGraphMappingQuery,
		uuid.New(), sourceID, elementID, elementType, attrs, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to ensure graph mapping: %w", err)
	}
	return nil
}
