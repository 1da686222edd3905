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

// SourceRepository provides data access for registered source documents.
type SourceRepository interface {
	Create(ctx context.Context, src *models.SourceData) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SourceData, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.SourceData, error)
	GetByLink(ctx context.Context, link string) (*models.SourceData, error)
	GetByContentHash(ctx context.Context, contentHash []byte) (*models.SourceData, error)
	ListUnmappedWithBlocks(ctx context.Context) ([]*models.SourceData, error)
}

type sourceRepository struct{}

// NewSourceRepository creates a new SourceRepository.
func NewSourceRepository() SourceRepository {
	return &sourceRepository{}
}

var _ SourceRepository = (*sourceRepository)(nil)

func (r *sourceRepository) Create(ctx context.Context, src *models.SourceData) error {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return fmt.Errorf("no store scope in context")
	}

	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now()
	}

	attrs, err := marshalAttributes(src.Attributes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO source_data (id, name, link, mime, content_hash, attributes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = scope.Pool.Exec(ctx, query,
		src.ID, src.Name, src.Link, src.Mime, src.ContentHash, attrs, src.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}

	return nil
}

func (r *sourceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SourceData, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT id, name, link, mime, content_hash, attributes, created_at
		FROM source_data
		WHERE id = $1`

	src, err := scanSourceRow(scope.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return src, nil
}

func (r *sourceRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.SourceData, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	if len(ids) == 0 {
		return []*models.SourceData{}, nil
	}

	query := `
		SELECT id, name, link, mime, content_hash, attributes, created_at
		FROM source_data
		WHERE id = ANY($1)
		ORDER BY created_at`

	rows, err := scope.Pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	return collectSources(rows)
}

func (r *sourceRepository) GetByLink(ctx context.Context, link string) (*models.SourceData, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT id, name, link, mime, content_hash, attributes, created_at
		FROM source_data
		WHERE link = $1`

	src, err := scanSourceRow(scope.Pool.QueryRow(ctx, query, link))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return src, nil
}

func (r *sourceRepository) GetByContentHash(ctx context.Context, contentHash []byte) (*models.SourceData, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	// Multiple sources may share the same content; the earliest registration
	// is the canonical one for dedup purposes.
	query := `
		SELECT id, name, link, mime, content_hash, attributes, created_at
		FROM source_data
		WHERE content_hash = $1
		ORDER BY created_at
		LIMIT 1`

	src, err := scanSourceRow(scope.Pool.QueryRow(ctx, query, contentHash))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return src, nil
}

// ListUnmappedWithBlocks returns sources that produced knowledge blocks but
// have no graph elements yet. The scheduler's reconcile pass re-enqueues
// these after a crash between splitting and graph build.
func (r *sourceRepository) ListUnmappedWithBlocks(ctx context.Context) ([]*models.SourceData, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT s.id, s.name, s.link, s.mime, s.content_hash, s.attributes, s.created_at
		FROM source_data s
		WHERE EXISTS (
			SELECT 1 FROM block_source_mappings b WHERE b.source_id = s.id
		)
		AND NOT EXISTS (
			SELECT 1 FROM source_graph_mappings g WHERE g.source_id = s.id
		)
		ORDER BY s.created_at`

	rows, err := scope.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unmapped sources: %w", err)
	}
	defer rows.Close()

	return collectSources(rows)
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanSourceRow(row pgx.Row) (*models.SourceData, error) {
	var src models.SourceData
	var attrs []byte

	err := row.Scan(
		&src.ID, &src.Name, &src.Link, &src.Mime, &src.ContentHash, &attrs, &src.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan source: %w", err)
	}

	src.Attributes, err = unmarshalAttributes(attrs)
	if err != nil {
		return nil, err
	}

	return &src, nil
}

func collectSources(rows pgx.Rows) ([]*models.SourceData, error) {
	var sources []*models.SourceData
	for rows.Next() {
		src, err := scanSourceRow(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sources: %w", err)
	}
	return sources, nil
}
