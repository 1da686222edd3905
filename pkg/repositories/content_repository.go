package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/database"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
)

// ContentRepository provides data access for the content-addressed store.
type ContentRepository interface {
	Put(ctx context.Context, entry *models.ContentEntry) error
	Get(ctx context.Context, contentHash []byte) (*models.ContentEntry, error)
	Exists(ctx context.Context, contentHash []byte) (bool, error)
}

type contentRepository struct{}

// NewContentRepository creates a new ContentRepository.
func NewContentRepository() ContentRepository {
	return &contentRepository{}
}

var _ ContentRepository = (*contentRepository)(nil)

// Put stores a content entry. Identical bytes hash to the same key, so a
// second upload of the same document is a no-op.
func (r *contentRepository) Put(ctx context.Context, entry *models.ContentEntry) error {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return fmt.Errorf("no store scope in context")
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO content_store (content_hash, content, size, mime, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (content_hash) DO NOTHING`

	_, err := scope.Pool.Exec(ctx, query,
		entry.ContentHash, entry.Content, entry.Size, entry.Mime, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store content: %w", err)
	}

	return nil
}

func (r *contentRepository) Get(ctx context.Context, contentHash []byte) (*models.ContentEntry, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT content_hash, content, size, mime, created_at
		FROM content_store
		WHERE content_hash = $1`

	var entry models.ContentEntry
	err := scope.Pool.QueryRow(ctx, query, contentHash).Scan(
		&entry.ContentHash, &entry.Content, &entry.Size, &entry.Mime, &entry.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get content: %w", err)
	}

	return &entry, nil
}

func (r *contentRepository) Exists(ctx context.Context, contentHash []byte) (bool, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return false, fmt.Errorf("no store scope in context")
	}

	query := `SELECT EXISTS (SELECT 1 FROM content_store WHERE content_hash = $1)`

	var exists bool
	if err := scope.Pool.QueryRow(ctx, query, contentHash).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check content existence: %w", err)
	}

	return exists, nil
}
