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

// BuildStatusRepository provides data access for the graph build queue.
type BuildStatusRepository interface {
	Schedule(ctx context.Context, status *models.GraphBuildStatus) error
	Get(ctx context.Context, topicName string, sourceID uuid.UUID, externalDatabaseURI string) (*models.GraphBuildStatus, error)
	NextScheduled(ctx context.Context) (*models.GraphBuildStatus, error)
	ListActiveByJob(ctx context.Context, topicName, externalDatabaseURI string) ([]*models.GraphBuildStatus, error)
	UpdateStatus(ctx context.Context, topicName, externalDatabaseURI string, sourceIDs []uuid.UUID, status string, errorMessage *string) error
	ListTopicSummaries(ctx context.Context, externalDatabaseURI *string) ([]*models.TopicStatusSummary, error)
}

type buildStatusRepository struct{}

// NewBuildStatusRepository creates a new BuildStatusRepository.
func NewBuildStatusRepository() BuildStatusRepository {
	return &buildStatusRepository{}
}

var _ BuildStatusRepository = (*buildStatusRepository)(nil)

// Schedule enqueues a build for (topic, source, store). A row that already
// exists for the key is left in its last state: a re-upload of the same link
// neither requeues a completed build nor clears a recorded failure.
func (r *buildStatusRepository) Schedule(ctx context.Context, status *models.GraphBuildStatus) error {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return fmt.Errorf("no store scope in context")
	}

	now := time.Now()
	if status.CreatedAt.IsZero() {
		status.CreatedAt = now
	}
	if status.ScheduledAt.IsZero() {
		status.ScheduledAt = now
	}
	status.UpdatedAt = now
	if status.Status == "" {
		status.Status = models.BuildStatusPending
	}

	query := `
		INSERT INTO graph_build_status (
			topic_name, source_id, external_database_uri, storage_directory,
			status, created_at, updated_at, scheduled_at, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (topic_name, source_id, external_database_uri)
		DO NOTHING`

	_, err := scope.Pool.Exec(ctx, query,
		status.TopicName, status.SourceID, status.ExternalDatabaseURI, status.StorageDirectory,
		status.Status, status.CreatedAt, status.UpdatedAt, status.ScheduledAt, status.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to schedule build: %w", err)
	}

	return nil
}

func (r *buildStatusRepository) Get(ctx context.Context, topicName string, sourceID uuid.UUID, externalDatabaseURI string) (*models.GraphBuildStatus, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT topic_name, source_id, external_database_uri, storage_directory,
		       status, created_at, updated_at, scheduled_at, error_message
		FROM graph_build_status
		WHERE topic_name = $1 AND source_id = $2 AND external_database_uri = $3`

	status, err := scanBuildStatusRow(scope.Pool.QueryRow(ctx, query, topicName, sourceID, externalDatabaseURI))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return status, nil
}

// NextScheduled returns the oldest row still waiting for work. Processing
// rows are included so a build interrupted by a crash is picked up again.
func (r *buildStatusRepository) NextScheduled(ctx context.Context) (*models.GraphBuildStatus, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT topic_name, source_id, external_database_uri, storage_directory,
		       status, created_at, updated_at, scheduled_at, error_message
		FROM graph_build_status
		WHERE status IN ($1, $2)
		ORDER BY scheduled_at
		LIMIT 1`

	status, err := scanBuildStatusRow(scope.Pool.QueryRow(ctx, query,
		models.BuildStatusPending, models.BuildStatusProcessing))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil // Queue empty
		}
		return nil, err
	}

	return status, nil
}

// ListActiveByJob returns every pending or processing row sharing a job key.
// The scheduler batches all of a topic's waiting sources into one build.
func (r *buildStatusRepository) ListActiveByJob(ctx context.Context, topicName, externalDatabaseURI string) ([]*models.GraphBuildStatus, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT topic_name, source_id, external_database_uri, storage_directory,
		       status, created_at, updated_at, scheduled_at, error_message
		FROM graph_build_status
		WHERE topic_name = $1 AND external_database_uri = $2 AND status IN ($3, $4)
		ORDER BY scheduled_at`

	rows, err := scope.Pool.Query(ctx, query, topicName, externalDatabaseURI,
		models.BuildStatusPending, models.BuildStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to query build statuses: %w", err)
	}
	defer rows.Close()

	var statuses []*models.GraphBuildStatus
	for rows.Next() {
		status, err := scanBuildStatusRow(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating build statuses: %w", err)
	}

	return statuses, nil
}

func (r *buildStatusRepository) UpdateStatus(ctx context.Context, topicName, externalDatabaseURI string, sourceIDs []uuid.UUID, status string, errorMessage *string) error {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return fmt.Errorf("no store scope in context")
	}

	if len(sourceIDs) == 0 {
		return nil
	}

	query := `
		UPDATE graph_build_status
		SET status = $1, error_message = $2, updated_at = $3
		WHERE topic_name = $4 AND external_database_uri = $5 AND source_id = ANY($6)`

	_, err := scope.Pool.Exec(ctx, query,
		status, errorMessage, time.Now(), topicName, externalDatabaseURI, sourceIDs,
	)
	if err != nil {
		return fmt.Errorf("failed to update build status: %w", err)
	}

	return nil
}

// ListTopicSummaries aggregates the queue per (topic, store). A nil filter
// returns every store's topics; a non-nil filter restricts to one store
// ("" being the engine's local store).
func (r *buildStatusRepository) ListTopicSummaries(ctx context.Context, externalDatabaseURI *string) ([]*models.TopicStatusSummary, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT topic_name, external_database_uri,
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'processing'),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       MAX(updated_at)
		FROM graph_build_status
		GROUP BY topic_name, external_database_uri
		ORDER BY topic_name, external_database_uri`
	args := []any{}

	if externalDatabaseURI != nil {
		query = `
			SELECT topic_name, external_database_uri,
			       COUNT(*) FILTER (WHERE status = 'pending'),
			       COUNT(*) FILTER (WHERE status = 'processing'),
			       COUNT(*) FILTER (WHERE status = 'completed'),
			       COUNT(*) FILTER (WHERE status = 'failed'),
			       MAX(updated_at)
			FROM graph_build_status
			WHERE external_database_uri = $1
			GROUP BY topic_name, external_database_uri
			ORDER BY topic_name`
		args = append(args, *externalDatabaseURI)
	}

	rows, err := scope.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query topic summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*models.TopicStatusSummary
	for rows.Next() {
		var s models.TopicStatusSummary
		err := rows.Scan(&s.TopicName, &s.ExternalDatabaseURI,
			&s.Pending, &s.Processing, &s.Completed, &s.Failed, &s.LatestUpdate)
		if err != nil {
			return nil, fmt.Errorf("failed to scan topic summary: %w", err)
		}
		summaries = append(summaries, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating topic summaries: %w", err)
	}

	return summaries, nil
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanBuildStatusRow(row pgx.Row) (*models.GraphBuildStatus, error) {
	var status models.GraphBuildStatus

	err := row.Scan(
		&status.TopicName, &status.SourceID, &status.ExternalDatabaseURI, &status.StorageDirectory,
		&status.Status, &status.CreatedAt, &status.UpdatedAt, &status.ScheduledAt, &status.ErrorMessage,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan build status: %w", err)
	}

	return &status, nil
}
