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

// BlueprintRepository provides data access for per-topic analysis blueprints.
// Blueprints are append-only: regeneration inserts a new row and reads take
// the latest.
type BlueprintRepository interface {
	Create(ctx context.Context, bp *models.AnalysisBlueprint) error
	GetByTopic(ctx context.Context, topicName string) (*models.AnalysisBlueprint, error)
}

type blueprintRepository struct{}

// NewBlueprintRepository creates a new BlueprintRepository.
func NewBlueprintRepository() BlueprintRepository {
	return &blueprintRepository{}
}

var _ BlueprintRepository = (*blueprintRepository)(nil)

// Create inserts a new blueprint row for the topic. Earlier rows are kept;
// GetByTopic resolves the latest.
func (r *blueprintRepository) Create(ctx context.Context, bp *models.AnalysisBlueprint) error {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return fmt.Errorf("no store scope in context")
	}

	if bp.ID == uuid.Nil {
		bp.ID = uuid.New()
	}
	if bp.CreatedAt.IsZero() {
		bp.CreatedAt = time.Now()
	}

	items, err := marshalAttributes(bp.ProcessingItems)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO analysis_blueprints (id, topic_name, processing_items, processing_instructions, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = scope.Pool.Exec(ctx, query,
		bp.ID, bp.TopicName, items, bp.ProcessingInstructions, bp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert blueprint: %w", err)
	}

	return nil
}

func (r *blueprintRepository) GetByTopic(ctx context.Context, topicName string) (*models.AnalysisBlueprint, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT id, topic_name, processing_items, processing_instructions, created_at
		FROM analysis_blueprints
		WHERE topic_name = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var bp models.AnalysisBlueprint
	var items []byte
	err := scope.Pool.QueryRow(ctx, query, topicName).Scan(
		&bp.ID, &bp.TopicName, &items, &bp.ProcessingInstructions, &bp.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get blueprint: %w", err)
	}

	bp.ProcessingItems, err = unmarshalAttributes(items)
	if err != nil {
		return nil, err
	}

	return &bp, nil
}
