package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chronicle-ai/chronicle-engine/pkg/database"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
)

// BlockSourceMappingRepository provides data access for block-to-source
// provenance rows.
type BlockSourceMappingRepository interface {
	Ensure(ctx context.Context, mapping *models.BlockSourceMapping) error
	ListBySource(ctx context.Context, sourceID uuid.UUID) ([]*models.BlockSourceMapping, error)
}

type blockSourceMappingRepository struct{}

// NewBlockSourceMappingRepository creates a new BlockSourceMappingRepository.
func NewBlockSourceMappingRepository() BlockSourceMappingRepository {
	return &blockSourceMappingRepository{}
}

var _ BlockSourceMappingRepository = (*blockSourceMappingRepository)(nil)

// Ensure links a block to a source. Re-splitting a document hits the same
// (block, source) pairs again; those are left untouched.
func (r *blockSourceMappingRepository) Ensure(ctx context.Context, mapping *models.BlockSourceMapping) error {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return fmt.Errorf("no store scope in context")
	}

	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO block_source_mappings (id, block_id, source_id, position_in_source, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (block_id, source_id) DO NOTHING`

	_, err := scope.Pool.Exec(ctx, query,
		mapping.ID, mapping.BlockID, mapping.SourceID, mapping.PositionInSource, mapping.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure block source mapping: %w", err)
	}

	return nil
}

func (r *blockSourceMappingRepository) ListBySource(ctx context.Context, sourceID uuid.UUID) ([]*models.BlockSourceMapping, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT id, block_id, source_id, position_in_source, created_at
		FROM block_source_mappings
		WHERE source_id = $1
		ORDER BY position_in_source`

	rows, err := scope.Pool.Query(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query block source mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*models.BlockSourceMapping
	for rows.Next() {
		var m models.BlockSourceMapping
		err := rows.Scan(&m.ID, &m.BlockID, &m.SourceID, &m.PositionInSource, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan block source mapping: %w", err)
		}
		mappings = append(mappings, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating block source mappings: %w", err)
	}

	return mappings, nil
}
