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

// EntityRepository provides data access for graph entities.
type EntityRepository interface {
	Create(ctx context.Context, entity *models.Entity) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Entity, error)
	GetByNameAndTopic(ctx context.Context, name, topicName string) (*models.Entity, error)
	ListByTopic(ctx context.Context, topicName string) ([]*models.Entity, error)
	ListWithEmbeddings(ctx context.Context, topicName string) ([]*models.Entity, error)
	Update(ctx context.Context, entity *models.Entity) error
}

type entityRepository struct{}

// NewEntityRepository creates a new EntityRepository.
func NewEntityRepository() EntityRepository {
	return &entityRepository{}
}

var _ EntityRepository = (*entityRepository)(nil)

func (r *entityRepository) Create(ctx context.Context, entity *models.Entity) error {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return fmt.Errorf("no store scope in context")
	}

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

	query := `
		INSERT INTO entities (id, name, description, description_embedding, attributes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = scope.Pool.Exec(ctx, query,
		entity.ID, entity.Name, entity.Description, entity.DescriptionEmbedding, attrs, entity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}

	return nil
}

func (r *entityRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT id, name, description, description_embedding, attributes, created_at
		FROM entities
		WHERE id = $1`

	entity, err := scanEntityRow(scope.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return entity, nil
}

func (r *entityRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Entity, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	if len(ids) == 0 {
		return []*models.Entity{}, nil
	}

	query := `
		SELECT id, name, description, description_embedding, attributes, created_at
		FROM entities
		WHERE id = ANY($1)
		ORDER BY created_at`

	rows, err := scope.Pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

func (r *entityRepository) GetByNameAndTopic(ctx context.Context, name, topicName string) (*models.Entity, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT id, name, description, description_embedding, attributes, created_at
		FROM entities
		WHERE name = $1 AND attributes->>'topic_name' = $2
		ORDER BY created_at
		LIMIT 1`

	entity, err := scanEntityRow(scope.Pool.QueryRow(ctx, query, name, topicName))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return entity, nil
}

func (r *entityRepository) ListByTopic(ctx context.Context, topicName string) ([]*models.Entity, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT id, name, description, description_embedding, attributes, created_at
		FROM entities
		WHERE attributes->>'topic_name' = $1
		ORDER BY created_at`

	rows, err := scope.Pool.Query(ctx, query, topicName)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities by topic: %w", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

// ListWithEmbeddings returns entities eligible for vector search. Empty
// topicName searches across all topics.
func (r *entityRepository) ListWithEmbeddings(ctx context.Context, topicName string) ([]*models.Entity, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT id, name, description, description_embedding, attributes, created_at
		FROM entities
		WHERE description_embedding IS NOT NULL
		ORDER BY created_at`
	args := []any{}

	if topicName != "" {
		query = `
			SELECT id, name, description, description_embedding, attributes, created_at
			FROM entities
			WHERE description_embedding IS NOT NULL AND attributes->>'topic_name' = $1
			ORDER BY created_at`
		args = append(args, topicName)
	}

	rows, err := scope.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities with embeddings: %w", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

func (r *entityRepository) Update(ctx context.Context, entity *models.Entity) error {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return fmt.Errorf("no store scope in context")
	}

	attrs, err := marshalAttributes(entity.Attributes)
	if err != nil {
		return err
	}

	query := `
		UPDATE entities
		SET name = $1, description = $2, description_embedding = $3, attributes = $4
		WHERE id = $5`

	result, err := scope.Pool.Exec(ctx, query,
		entity.Name, entity.Description, entity.DescriptionEmbedding, attrs, entity.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("entity not found: %s", entity.ID)
	}

	return nil
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanEntityRow(row pgx.Row) (*models.Entity, error) {
	var entity models.Entity
	var attrs []byte

	err := row.Scan(
		&entity.ID, &entity.Name, &entity.Description, &entity.DescriptionEmbedding,
		&attrs, &entity.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	entity.Attributes, err = unmarshalAttributes(attrs)
	if err != nil {
		return nil, err
	}

	return &entity, nil
}

func collectEntities(rows pgx.Rows) ([]*models.Entity, error) {
	var entities []*models.Entity
	for rows.Next() {
		entity, err := scanEntityRow(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}
	return entities, nil
}
