package models

import (
	"time"

	"github.com/google/uuid"
)

// SourceData describes one registered document: where it came from, what kind
// of bytes it holds, and which content-store entry backs it. The link is
// unique per store, so re-registering the same location updates the existing
// row instead of creating a duplicate.
type SourceData struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Link        string         `json:"link"` // upload path or external locator, unique per store
	Mime        string         `json:"mime"`
	ContentHash []byte         `json:"content_hash"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Source attribute keys written during ingest.
const (
	SourceAttrOriginalFilename = "original_filename"
	SourceAttrUploadedAt       = "uploaded_at"
)
