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

// KnowledgeBlockRepository provides data access for knowledge blocks.
type KnowledgeBlockRepository interface {
	Create(ctx context.Context, block *models.KnowledgeBlock) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.KnowledgeBlock, error)
	GetByHash(ctx context.Context, hash string) (*models.KnowledgeBlock, error)
	ListBySource(ctx context.Context, sourceID uuid.UUID) ([]*models.KnowledgeBlock, error)
	ListWithEmbeddingsByTopic(ctx context.Context, topicName string) ([]*models.KnowledgeBlock, error)
}

type knowledgeBlockRepository struct{}

// NewKnowledgeBlockRepository creates a new KnowledgeBlockRepository.
func NewKnowledgeBlockRepository() KnowledgeBlockRepository {
	return &knowledgeBlockRepository{}
}

var _ KnowledgeBlockRepository = (*knowledgeBlockRepository)(nil)

func (r *knowledgeBlockRepository) Create(ctx context.Context, block *models.KnowledgeBlock) error {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return fmt.Errorf("no store scope in context")
	}

	if block.ID == uuid.Nil {
		block.ID = uuid.New()
	}
	if block.CreatedAt.IsZero() {
		block.CreatedAt = time.Now()
	}
	if block.Hash == "" {
		block.Hash = models.BlockHash(block.Name, block.Content, block.Context)
	}

	attrs, err := marshalAttributes(block.Attributes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO knowledge_blocks (id, name, context, content, kind, embedding, hash, attributes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = scope.Pool.Exec(ctx, query,
		block.ID, block.Name, block.Context, block.Content, block.Kind,
		block.Embedding, block.Hash, attrs, block.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create knowledge block: %w", err)
	}

	return nil
}

func (r *knowledgeBlockRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.KnowledgeBlock, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT id, name, context, content, kind, embedding, hash, attributes, created_at
		FROM knowledge_blocks
		WHERE id = $1`

	block, err := scanKnowledgeBlockRow(scope.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return block, nil
}

func (r *knowledgeBlockRepository) GetByHash(ctx context.Context, hash string) (*models.KnowledgeBlock, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT id, name, context, content, kind, embedding, hash, attributes, created_at
		FROM knowledge_blocks
		WHERE hash = $1`

	block, err := scanKnowledgeBlockRow(scope.Pool.QueryRow(ctx, query, hash))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return block, nil
}

func (r *knowledgeBlockRepository) ListBySource(ctx context.Context, sourceID uuid.UUID) ([]*models.KnowledgeBlock, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT k.id, k.name, k.context, k.content, k.kind, k.embedding, k.hash, k.attributes, k.created_at
		FROM knowledge_blocks k
		JOIN block_source_mappings m ON m.block_id = k.id
		WHERE m.source_id = $1
		ORDER BY m.position_in_source`

	rows, err := scope.Pool.Query(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge blocks by source: %w", err)
	}
	defer rows.Close()

	return collectKnowledgeBlocks(rows)
}

func (r *knowledgeBlockRepository) ListWithEmbeddingsByTopic(ctx context.Context, topicName string) ([]*models.KnowledgeBlock, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT id, name, context, content, kind, embedding, hash, attributes, created_at
		FROM knowledge_blocks
		WHERE attributes->>'topic_name' = $1 AND embedding IS NOT NULL
		ORDER BY created_at`

	rows, err := scope.Pool.Query(ctx, query, topicName)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge blocks by topic: %w", err)
	}
	defer rows.Close()

	return collectKnowledgeBlocks(rows)
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanKnowledgeBlockRow(row pgx.Row) (*models.KnowledgeBlock, error) {
	var block models.KnowledgeBlock
	var attrs []byte

	err := row.Scan(
		&block.ID, &block.Name, &block.Context, &block.Content, &block.Kind,
		&block.Embedding, &block.Hash, &attrs, &block.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan knowledge block: %w", err)
	}

	block.Attributes, err = unmarshalAttributes(attrs)
	if err != nil {
		return nil, err
	}

	return &block, nil
}

func collectKnowledgeBlocks(rows pgx.Rows) ([]*models.KnowledgeBlock, error) {
	var blocks []*models.KnowledgeBlock
	for rows.Next() {
		block, err := scanKnowledgeBlockRow(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating knowledge blocks: %w", err)
	}
	return blocks, nil
}
