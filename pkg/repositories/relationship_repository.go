package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/database"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
)

// RelationshipRepository provides data access for graph relationships.
type RelationshipRepository interface {
	Create(ctx context.Context, rel *models.Relationship) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Relationship, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Relationship, error)
	GetByEndpointsAndDesc(ctx context.Context, sourceEntityID, targetEntityID uuid.UUID, desc string) (*models.Relationship, error)
	ListByEntityIDs(ctx context.Context, entityIDs []uuid.UUID) ([]*models.Relationship, error)
	ListWithEmbeddings(ctx context.Context, topicName string) ([]*models.Relationship, error)
	Update(ctx context.Context, rel *models.Relationship) error
}

type relationshipRepository struct{}

// NewRelationshipRepository creates a new RelationshipRepository.
func NewRelationshipRepository() RelationshipRepository {
	return &relationshipRepository{}
}

var _ RelationshipRepository = (*relationshipRepository)(nil)

func (r *relationshipRepository) Create(ctx context.Context, rel *models.Relationship) error {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return fmt.Errorf("no store scope in context")
	}

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

	query := `
		INSERT INTO relationships (id, source_entity_id, target_entity_id, relationship_desc, relationship_desc_embedding, attributes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = scope.Pool.Exec(ctx, query,
		rel.ID, rel.SourceEntityID, rel.TargetEntityID, rel.RelationshipDesc,
		rel.RelationshipDescEmbedding, attrs, rel.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create relationship: %w", err)
	}

	return nil
}

func (r *relationshipRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Relationship, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT id, source_entity_id, target_entity_id, relationship_desc, relationship_desc_embedding, attributes, created_at
		FROM relationships
		WHERE id = $1`

	rel, err := scanRelationshipRow(scope.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return rel, nil
}

func (r *relationshipRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Relationship, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	if len(ids) == 0 {
		return []*models.Relationship{}, nil
	}

	query := `
		SELECT id, source_entity_id, target_entity_id, relationship_desc, relationship_desc_embedding, attributes, created_at
		FROM relationships
		WHERE id = ANY($1)
		ORDER BY created_at`

	rows, err := scope.Pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	return collectRelationships(rows)
}

func (r *relationshipRepository) GetByEndpointsAndDesc(ctx context.Context, sourceEntityID, targetEntityID uuid.UUID, desc string) (*models.Relationship, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT id, source_entity_id, target_entity_id, relationship_desc, relationship_desc_embedding, attributes, created_at
		FROM relationships
		WHERE source_entity_id = $1 AND target_entity_id = $2 AND relationship_desc = $3
		ORDER BY created_at
		LIMIT 1`

	rel, err := scanRelationshipRow(scope.Pool.QueryRow(ctx, query, sourceEntityID, targetEntityID, desc))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return rel, nil
}

// ListByEntityIDs returns every relationship touching any of the given
// entities, as source or target.
func (r *relationshipRepository) ListByEntityIDs(ctx context.Context, entityIDs []uuid.UUID) ([]*models.Relationship, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	if len(entityIDs) == 0 {
		return []*models.Relationship{}, nil
	}

	query := `
		SELECT id, source_entity_id, target_entity_id, relationship_desc, relationship_desc_embedding, attributes, created_at
		FROM relationships
		WHERE source_entity_id = ANY($1) OR target_entity_id = ANY($1)
		ORDER BY created_at`

	rows, err := scope.Pool.Query(ctx, query, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships by entities: %w", err)
	}
	defer rows.Close()

	return collectRelationships(rows)
}

// ListWithEmbeddings returns relationships eligible for vector search. Empty
// topicName searches across all topics.
func (r *relationshipRepository) ListWithEmbeddings(ctx context.Context, topicName string) ([]*models.Relationship, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT id, source_entity_id, target_entity_id, relationship_desc, relationship_desc_embedding, attributes, created_at
		FROM relationships
		WHERE relationship_desc_embedding IS NOT NULL
		ORDER BY created_at`
	args := []any{}

	if topicName != "" {
		query = `
			SELECT id, source_entity_id, target_entity_id, relationship_desc, relationship_desc_embedding, attributes, created_at
			FROM relationships
			WHERE relationship_desc_embedding IS NOT NULL AND attributes->>'topic_name' = $1
			ORDER BY created_at`
		args = append(args, topicName)
	}

	rows, err := scope.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships with embeddings: %w", err)
	}
	defer rows.Close()

	return collectRelationships(rows)
}

func (r *relationshipRepository) Update(ctx context.Context, rel *models.Relationship) error {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return fmt.Errorf("no store scope in context")
	}

	attrs, err := marshalAttributes(rel.Attributes)
	if err != nil {
		return err
	}

	query := `
		UPDATE relationships
		SET relationship_desc = $1, relationship_desc_embedding = $2, attributes = $3
		WHERE id = $4`

	result, err := scope.Pool.Exec(ctx, query,
		rel.RelationshipDesc, rel.RelationshipDescEmbedding, attrs, rel.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update relationship: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("relationship not found: %s", rel.ID)
	}

	return nil
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanRelationshipRow(row pgx.Row) (*models.Relationship, error) {
	var rel models.Relationship
	var attrs []byte

	err := row.Scan(
		&rel.ID, &rel.SourceEntityID, &rel.TargetEntityID, &rel.RelationshipDesc,
		&rel.RelationshipDescEmbedding, &attrs, &rel.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan relationship: %w", err)
	}

	rel.Attributes, err = unmarshalAttributes(attrs)
	if err != nil {
		return nil, err
	}

	return &rel, nil
}

func collectRelationships(rows pgx.Rows) ([]*models.Relationship, error) {
	var relationships []*models.Relationship
	for rows.Next() {
		rel, err := scanRelationshipRow(rows)
		if err != nil {
			return nil, err
		}
		relationships = append(relationships, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relationships: %w", err)
	}
	return relationships, nil
}
