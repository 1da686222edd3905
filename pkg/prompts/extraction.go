package prompts

import (
	"fmt"
	"strings"

	"github.com/chronicle-ai/chronicle-engine/pkg/models"
)

// DefaultQualityStandard backs the extraction and reasoning prompts when no
// quality standards document is configured or the configured file cannot be
// read.
const DefaultQualityStandard = "A high-quality knowledge graph should be:\n\n" + qualityObjectives

// tripletSchemaExample shows the model the triplet array shape, including
// the temporal and contextual relationship attributes.
const tripletSchemaExample = `[
    {
        "subject": {
            "name": "Entity name",
            "description": "What IS this entity? Focus on intrinsic properties and characteristics.",
            "attributes": {
                "entity_type": "A specific and concise type for the entity, determined by LLM (e.g., 'Company', 'Software Framework', 'API Endpoint').",
                "domain": "Standardized domain label (e.g., 'database', 'finance').",
                "searchable_keywords": ["keyword1", "keyword2"],
                "aliases": ["alternative_name1"],
                "usage_context": "Natural language description of primary use cases."
            }
        },
        "predicate": "Rich narrative describing HOW entities interact with full context",
        "object": {
            "name": "Entity name",
            "description": "What IS this entity? Focus on intrinsic properties and characteristics.",
            "attributes": {
                "entity_type": "A specific and concise type for the entity, determined by LLM (e.g., 'Company', 'Software Framework', 'API Endpoint').",
                "domain": "Standardized domain label (e.g., 'database', 'finance').",
                "searchable_keywords": ["keyword1", "keyword2"],
                "aliases": ["alternative_name1"],
                "usage_context": "Natural language description of primary use cases."
            }
        },
        "relationship_attributes": {
            "fact_time": "ISO 8601 UTC timestamp for single point events (e.g., '2025-06-25T11:30:00Z') OR",
            "fact_time_range": {"start": "ISO timestamp", "end": "ISO timestamp or null"} for time ranges,
            "temporal_context": "The valid time frame for the relationship. This could be a specific date, a time range from source text for evidence traceability",
            "condition": "(if available) Natural language description of circumstances under which the relationship holds.",
            "scope": "(if available). Natural language description of the applicable range or context (e.g., versioning, environment).",
            "prerequisite": "Optional. A natural language description of required preconditions.",
            "impact": "Optional. A natural language description of the effects or consequences.",
            "sentiment": "positive|negative|neutral",
            "confidence": "high|medium|low based on evidence strength"
        }
    }
]`

// BuildExtractTripletsPrompt creates the prompt for the extraction stage:
// one call per document, guided by the global blueprint, the document's
// cognitive map, and the quality standards text. The response is a JSON
// array of narrative triplets.
func BuildExtractTripletsPrompt(
	topicName string,
	blueprint *models.AnalysisBlueprint,
	cognitiveMap *models.CognitiveMap,
	doc DocumentContext,
	qualityStandard string,
) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("You are an expert knowledge extractor working on %s documents.\n\n", topicName))

	b.WriteString("**Global Blueprint (Cross-Document Context):**\n")
	b.WriteString(formatBlueprintContext(blueprint))
	b.WriteString("\n\n")

	b.WriteString("**Processing Instructions:**\n")
	if blueprint != nil {
		b.WriteString(blueprint.ProcessingInstructions)
	}
	b.WriteString("\n\n")

	b.WriteString("**Document Cognitive Map:**\n")
	b.WriteString(formatCognitiveMapContext(cognitiveMap))
	b.WriteString("\n\n")

	b.WriteString("<KNOWLEDGE GRAPH QUALITY STANDARDS>\n")
	b.WriteString(qualityStandard)
	b.WriteString("\n</KNOWLEDGE GRAPH QUALITY STANDARDS>\n\n")

	b.WriteString("**EXTRACTION FOCUS:**\n")
	b.WriteString("1. Use canonical entity names from global blueprint when available\n")
	b.WriteString("2. Align extracted facts with global patterns and timeline\n")
	b.WriteString("3. Focus on relationships that provide business insights and deep context\n")
	b.WriteString("4. Extract triplets that reveal WHY, HOW, WHEN details for meaningful connections\n\n")

	b.WriteString("<document_content>\n")
	b.WriteString(FormatDocument(doc))
	b.WriteString("\n</document_content>\n\n")

	b.WriteString("Return a JSON array of enhanced triplets (surround with ```json and ```):\n\n")
	b.WriteString("```json\n")
	b.WriteString(tripletSchemaExample)
	b.WriteString("\n```\n\n")

	b.WriteString("**EXTRACTION FOCUS**: Only extract triplets that contain valuable knowledge with clear textual support.\n\n")
	b.WriteString(fmt.Sprintf("Now, please generate the narrative triplets for %s in valid JSON format.", topicName))

	return b.String()
}

// formatBlueprintContext renders the structured blueprint items for prompt
// embedding. A nil blueprint or empty items leave the section blank.
func formatBlueprintContext(blueprint *models.AnalysisBlueprint) string {
	if blueprint == nil || len(blueprint.ProcessingItems) == 0 {
		return ""
	}

	canonical := blueprint.ProcessingItems[models.BlueprintItemCanonicalEntities]
	if canonical == nil {
		canonical = map[string]any{}
	}
	patterns := blueprint.ProcessingItems[models.BlueprintItemKeyPatterns]
	if patterns == nil {
		patterns = map[string]any{}
	}
	timeline := blueprint.ProcessingItems[models.BlueprintItemGlobalTimeline]
	if timeline == nil {
		timeline = []any{}
	}

	var b strings.Builder
	b.WriteString("**Global Blueprint:**\n")
	b.WriteString(fmt.Sprintf("- Canonical Entities: %s\n", indentJSON(canonical)))
	b.WriteString(fmt.Sprintf("- Key Patterns: %s\n", indentJSON(patterns)))
	b.WriteString(fmt.Sprintf("- Global Timeline: %s\n", indentJSON(timeline)))
	return b.String()
}

// formatCognitiveMapContext renders the document's cognitive map summary for
// prompt embedding. A nil map leaves the section blank.
func formatCognitiveMapContext(cognitiveMap *models.CognitiveMap) string {
	if cognitiveMap == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("**Document Cognitive Map:**\n")
	b.WriteString(fmt.Sprintf("- Summary: %s\n", cognitiveMap.Summary))
	b.WriteString(fmt.Sprintf("- Key Entities: %s\n", compactJSON(cognitiveMap.KeyEntities)))
	b.WriteString(fmt.Sprintf("- Themes: %s\n", compactJSON(cognitiveMap.ThemeKeywords)))
	b.WriteString(fmt.Sprintf("- Timeline: %s\n", compactJSON(cognitiveMap.ImportantTimeline)))
	return b.String()
}
