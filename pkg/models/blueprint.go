package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisBlueprint is the per-topic extraction strategy synthesized from all
// cognitive maps before triplet extraction begins. ProcessingItems holds the
// structured payload (canonical_entities, key_patterns, global_timeline,
// document_count); ProcessingInstructions is the flattened text form fed into
// extraction prompts.
type AnalysisBlueprint struct {
	ID                     uuid.UUID      `json:"id"`
	TopicName              string         `json:"topic_name"`
	ProcessingItems        map[string]any `json:"processing_items"`
	ProcessingInstructions string         `json:"processing_instructions"`
	CreatedAt              time.Time      `json:"created_at"`
}

// Keys inside AnalysisBlueprint.ProcessingItems.
const (
	BlueprintItemCanonicalEntities = "canonical_entities"
	BlueprintItemKeyPatterns       = "key_patterns"
	BlueprintItemGlobalTimeline    = "global_timeline"
	BlueprintItemDocumentCount     = "document_count"
)
