package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chronicle-ai/chronicle-engine/pkg/database"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
)

// GraphMappingRepository provides data access for source-to-graph-element
// provenance rows.
type GraphMappingRepository interface {
	Ensure(ctx context.Context, mapping *models.SourceGraphMapping) error
	ExistsForSourceAndTopic(ctx context.Context, sourceID uuid.UUID, topicName string) (bool, error)
	ListBySource(ctx context.Context, sourceID uuid.UUID) ([]*models.SourceGraphMapping, error)
	ListByElementIDs(ctx context.Context, elementIDs []uuid.UUID, elementType string) ([]*models.SourceGraphMapping, error)
}

type graphMappingRepository struct{}

// NewGraphMappingRepository creates a new GraphMappingRepository.
func NewGraphMappingRepository() GraphMappingRepository {
	return &graphMappingRepository{}
}

var _ GraphMappingRepository = (*graphMappingRepository)(nil)

// Ensure records that a source contributed a graph element. Seeing the same
// element again from the same source leaves the existing row in place.
func (r *graphMappingRepository) Ensure(ctx context.Context, mapping *models.SourceGraphMapping) error {
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

	attrs, err := marshalAttributes(mapping.Attributes)
	if err != nil {
		return err
	}

	_, err = scope.Pool.Exec(ctx, ensureGraphMappingQuery,
		mapping.ID, mapping.SourceID, mapping.GraphElementID, mapping.GraphElementType,
		attrs, mapping.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure graph mapping: %w", err)
	}

	return nil
}

// ExistsForSourceAndTopic reports whether the source already contributed any
// graph element under the topic. The build pipeline uses this to skip
// re-extracting documents on resumed runs.
func (r *graphMappingRepository) ExistsForSourceAndTopic(ctx context.Context, sourceID uuid.UUID, topicName string) (bool, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return false, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM source_graph_mappings
			WHERE source_id = $1 AND attributes->>'topic_name' = $2
		)`

	var exists bool
	if err := scope.Pool.QueryRow(ctx, query, sourceID, topicName).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check graph mappings: %w", err)
	}

	return exists, nil
}

func (r *graphMappingRepository) ListBySource(ctx context.Context, sourceID uuid.UUID) ([]*models.SourceGraphMapping, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}

	query := `
		SELECT id, source_id, graph_element_id, graph_element_type, attributes, created_at
		FROM source_graph_mappings
		WHERE source_id = $1
		ORDER BY created_at`

	rows, err := scope.Pool.Query(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query graph mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*models.SourceGraphMapping
	for rows.Next() {
		var m models.SourceGraphMapping
		var attrs []byte
		err := rows.Scan(&m.ID, &m.SourceID, &m.GraphElementID, &m.GraphElementType, &attrs, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan graph mapping: %w", err)
		}
		m.Attributes, err = unmarshalAttributes(attrs)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating graph mappings: %w", err)
	}

	return mappings, nil
}

// ListByElementIDs returns the provenance rows for a set of graph elements
// of one type. The optimizer walks these to collect source evidence for the
// elements an issue touches.
func (r *graphMappingRepository) ListByElementIDs(ctx context.Context, elementIDs []uuid.UUID, elementType string) ([]*models.SourceGraphMapping, error) {
	scope, ok := database.GetStoreScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no store scope in context")
	}
	if len(elementIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, source_id, graph_element_id, graph_element_type, attributes, created_at
		FROM source_graph_mappings
		WHERE graph_element_id = ANY($1) AND graph_element_type = $2
		ORDER BY created_at`

	rows, err := scope.Pool.Query(ctx, query, elementIDs, elementType)
	if err != nil {
		return nil, fmt.Errorf("failed to query graph mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*models.SourceGraphMapping
	for rows.Next() {
		var m models.SourceGraphMapping
		var attrs []byte
		err := rows.Scan(&m.ID, &m.SourceID, &m.GraphElementID, &m.GraphElementType, &attrs, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan graph mapping: %w", err)
		}
		m.Attributes, err = unmarshalAttributes(attrs)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating graph mappings: %w", err)
	}

	return mappings, nil
}

// ensureGraphMappingQuery inserts a mapping unless the (source, element)
// pair is already recorded. The table has no unique constraint because the
// optimizer repoints graph_element_id during merges.
const ensureGraphMappingQuery = `
	INSERT INTO source_graph_mappings (id, source_id, graph_element_id, graph_element_type, attributes, created_at)
	SELECT $1, $2, $3, $4, $5, $6
	WHERE NOT EXISTS (
		SELECT 1 FROM source_graph_mappings
		WHERE source_id = $2 AND graph_element_id = $3 AND graph_element_type = $4
	)`
