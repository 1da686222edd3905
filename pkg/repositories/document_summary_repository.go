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

// DocumentSummaryRepository provides data access for cached per-document
// analyses (cognitive maps).
type DocumentSummaryRepository interface {
	Upsert(ctx context.Context, summary *models.DocumentSummary) error
	GetByDocumentAndTopic(ctx context.Context, documentID uuid.UUID, topicName, documentType string) (*models.DocumentSummary, error)
}

type documentSummaryRepository struct{}

// NewDocumentSummaryRepository creates a new DocumentSummaryRepository.
func NewDocumentSummaryRepository() DocumentSummaryRepository {
	return &documentSummaryRepository{}
}

var _ DocumentSummaryRepository = (*documentSummaryRepository)(nil)

func (r *documentSummaryRepository) Upsert(ctx context.Context, summary *models.DocumentSummary) error {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return fmt.Errorf("no store scope in context")
	}

	if summary.ID == uuid.Nil {
		summary.ID = uuid.New()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now()
	}
	if summary.DocumentType == "" {
		summary.DocumentType = models.DocumentTypeCognitiveMap
	}

	keyEntities, err := marshalStringList(summary.KeyEntities)
	if err != nil {
		return err
	}
	mainThemes, err := marshalStringList(summary.MainThemes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO document_summaries (
			id, document_id, topic_name, summary_content, key_entities,
			main_themes, business_context, document_type, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (document_id, topic_name)
		DO UPDATE SET
			summary_content = EXCLUDED.summary_content,
			key_entities = EXCLUDED.key_entities,
			main_themes = EXCLUDED.main_themes,
			business_context = EXCLUDED.business_context,
			document_type = EXCLUDED.document_type
		RETURNING id, created_at`

	err = scope.Pool.QueryRow(ctx, query,
		summary.ID, summary.DocumentID, summary.TopicName, summary.SummaryContent,
		keyEntities, mainThemes, summary.BusinessContext, summary.DocumentType, summary.CreatedAt,
	).Scan(&summary.ID, &summary.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert document summary: %w", err)
	}

	return nil
}

func (r *documentSummaryRepository) GetByDocumentAndTopic(ctx context.Context, documentID uuid.UUID, topicName, documentType string) (*models.DocumentSummary, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT id, document_id, topic_name, summary_content, key_entities,
		       main_themes, business_context, document_type, created_at
		FROM document_summaries
		WHERE document_id = $1 AND topic_name = $2 AND document_type = $3`

	var summary models.DocumentSummary
	var keyEntities, mainThemes []byte
	err := scope.Pool.QueryRow(ctx, query, documentID, topicName, documentType).Scan(
		&summary.ID, &summary.DocumentID, &summary.TopicName, &summary.SummaryContent,
		&keyEntities, &mainThemes, &summary.BusinessContext, &summary.DocumentType, &summary.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document summary: %w", err)
	}

	summary.KeyEntities, err = unmarshalStringList(keyEntities)
	if err != nil {
		return nil, err
	}
	summary.MainThemes, err = unmarshalStringList(mainThemes)
	if err != nil {
		return nil, err
	}

	return &summary, nil
}
