package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/chronicle-ai/chronicle-engine/pkg/jsonutil"
)

// DocumentTypeCognitiveMap marks document_summaries rows that cache a
// per-document cognitive map rather than a plain summary.
const DocumentTypeCognitiveMap = "cognitive_map"

// DocumentSummary is the persisted form of a per-document, per-topic analysis.
// For cognitive maps, BusinessContext holds a JSON object with the timeline
// and structural patterns that have no dedicated columns.
type DocumentSummary struct {
	ID              uuid.UUID `json:"id"`
	DocumentID      uuid.UUID `json:"document_id"`
	TopicName       string    `json:"topic_name"`
	SummaryContent  string    `json:"summary_content"`
	KeyEntities     []string  `json:"key_entities"`
	MainThemes      []string  `json:"main_themes"`
	BusinessContext string    `json:"business_context"`
	DocumentType    string    `json:"document_type"`
	CreatedAt       time.Time `json:"created_at"`
}

// CognitiveMap is the working form of a document's first-pass analysis: what
// the document is about, who appears in it, and how it is organized. It is
// produced by the map stage, cached as a DocumentSummary, and consumed by
// blueprint generation and extraction.
type CognitiveMap struct {
	SourceID           uuid.UUID `json:"source_id"`
	SourceName         string    `json:"source_name"`
	Summary            string    `json:"summary"`
	KeyEntities        []string  `json:"key_entities"`
	ThemeKeywords      []string  `json:"theme_keywords"`
	ImportantTimeline  []any     `json:"important_timeline"`
	StructuralPatterns string    `json:"structural_patterns"`
}

// businessContextPayload is the JSON shape stored in
// DocumentSummary.BusinessContext for cognitive maps.
type businessContextPayload struct {
	ImportantTimeline  []any  `json:"important_timeline"`
	StructuralPatterns string `json:"structural_patterns"`
}

// ToSummary converts a cognitive map into its persisted DocumentSummary form.
func (m *CognitiveMap) ToSummary(topicName string) *DocumentSummary {
	ctx, err := json.Marshal(businessContextPayload{
		ImportantTimeline:  m.ImportantTimeline,
		StructuralPatterns: m.StructuralPatterns,
	})
	if err != nil {
		ctx = []byte("{}")
	}
	return &DocumentSummary{
		DocumentID:      m.SourceID,
		TopicName:       topicName,
		SummaryContent:  m.Summary,
		KeyEntities:     m.KeyEntities,
		MainThemes:      m.ThemeKeywords,
		BusinessContext: string(ctx),
		DocumentType:    DocumentTypeCognitiveMap,
	}
}

// CognitiveMapFromSummary rehydrates a cached cognitive map. Malformed
// business context degrades to empty fields rather than failing the build.
func CognitiveMapFromSummary(summary *DocumentSummary, sourceName string) *CognitiveMap {
	var payload businessContextPayload
	if summary.BusinessContext != "" {
		if err := json.Unmarshal([]byte(summary.BusinessContext), &payload); err != nil {
			payload = businessContextPayload{}
		}
	}
	patterns := payload.StructuralPatterns
	if patterns == "" {
		patterns = "unknown"
	}
	return &CognitiveMap{
		SourceID:           summary.DocumentID,
		SourceName:         sourceName,
		Summary:            summary.SummaryContent,
		KeyEntities:        summary.KeyEntities,
		ThemeKeywords:      summary.MainThemes,
		ImportantTimeline:  payload.ImportantTimeline,
		StructuralPatterns: patterns,
	}
}

// ParseCognitiveMap builds a CognitiveMap from a decoded LLM response,
// coercing loosely typed fields the model tends to vary.
func ParseCognitiveMap(data map[string]any, sourceID uuid.UUID, sourceName string) *CognitiveMap {
	timeline, _ := data["important_timeline"].([]any)
	return &CognitiveMap{
		SourceID:           sourceID,
		SourceName:         sourceName,
		Summary:            jsonutil.GetString(data, "summary"),
		KeyEntities:        jsonutil.GetStringSlice(data, "key_entities"),
		ThemeKeywords:      jsonutil.GetStringSlice(data, "theme_keywords"),
		ImportantTimeline:  timeline,
		StructuralPatterns: jsonutil.GetString(data, "structural_patterns"),
	}
}
