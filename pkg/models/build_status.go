package models

import (
	"time"

	"github.com/google/uuid"
)

// Build statuses for graph_build_status rows
const (
	BuildStatusPending    = "pending"
	BuildStatusProcessing = "processing"
	BuildStatusCompleted  = "completed"
	BuildStatusFailed     = "failed"
)

// GraphBuildStatus is one build-queue row keyed by (topic, source, store).
// Rows in a tenant store carry ExternalDatabaseURI = ""; the engine's local
// store mirrors tenant rows with the tenant URI filled in, which is the form
// the scheduler drains.
type GraphBuildStatus struct {
	TopicName           string    `json:"topic_name"`
	SourceID            uuid.UUID `json:"source_id"`
	ExternalDatabaseURI string    `json:"external_database_uri"`
	StorageDirectory    *string   `json:"storage_directory,omitempty"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
	ScheduledAt         time.Time `json:"scheduled_at"`
	ErrorMessage        *string   `json:"error_message,omitempty"`
}

// IsTerminal reports whether the build reached a final state.
func (s *GraphBuildStatus) IsTerminal() bool {
	return s.Status == BuildStatusCompleted || s.Status == BuildStatusFailed
}

// TopicStatusSummary aggregates build-queue rows per (topic, store) for the
// topics listing.
type TopicStatusSummary struct {
	TopicName           string    `json:"topic_name"`
	ExternalDatabaseURI string    `json:"external_database_uri,omitempty"`
	Pending             int64     `json:"pending"`
	Processing          int64     `json:"processing"`
	Completed           int64     `json:"completed"`
	Failed              int64     `json:"failed"`
	LatestUpdate        time.Time `json:"latest_update"`
}
