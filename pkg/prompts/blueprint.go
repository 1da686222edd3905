package prompts

import (
	"fmt"
	"strings"

	"github.com/chronicle-ai/chronicle-engine/pkg/models"
)

// blueprintSchemaExample shows the model the blueprint shape: canonical
// entity normalization, cross-document patterns, a unified timeline, and
// free-form processing instructions.
const blueprintSchemaExample = `{
"canonical_entities": {
    "normalized_name_1": {
        "aliases": ["variation1", "variation2", "variation3"],
        "entity_type": "Person|Organization|System|Concept|Event",
        "primary_source": "most_authoritative_document_name",
        "description": "unified description combining insights from all documents"
    },
    "normalized_name_2": {
        "aliases": ["Google", "谷歌", "Google Inc."],
        "entity_type": "Organization",
        "primary_source": "official_press_release.pdf",
        "description": "Global technology company, search engine provider"
    }
},
"key_patterns": {
    "relationship_patterns": [
        "Rich natural language descriptions of meaningful relationship patterns across documents",
        "For example: 'Leadership transitions often trigger organizational restructuring within 3-6 months, affecting both technology adoption and team dynamics'",
        "Another example: 'When companies face external pressure, they tend to accelerate digital transformation while simultaneously tightening internal controls'"
    ],
    "temporal_patterns": [
        "Natural language descriptions of time-based patterns",
        "For example: 'Strategic decisions typically follow a cycle of problem identification, stakeholder consultation, pilot testing, and full implementation spanning 6-12 months'"
    ],
    "narrative_themes": [
        "Cross-document narrative themes that provide rich context",
        "For example: 'The tension between innovation speed and operational stability appears as a recurring challenge across multiple business units'"
    ]
},
"global_timeline": [
    {
        "period": "2023-Q1",
        "key_events": ["Event1 from doc_A", "Event2 from doc_B"],
        "cross_document_connections": ["How events relate across documents"]
    },
    {
        "period": "2023-Q2",
        "key_events": ["Major decision point", "System launch"],
        "cross_document_connections": ["Impact chain across multiple documents"]
    }
],
"processing_instructions": {
    "conflict_handling": "Guidelines for resolving contradictory information between documents",
    "quality_focus": "What aspects to prioritize for high-quality extraction",
    "extraction_emphasis": "Areas that deserve special attention during detailed analysis",
    "cross_document_insights": "How to leverage the global context for deeper understanding"
}
}`

// BuildAnalysisBlueprintPrompt creates the prompt for the blueprint stage:
// one call over every cognitive map for the topic, producing the
// cross-document coordination strategy that extraction follows.
func BuildAnalysisBlueprintPrompt(topicName string, cognitiveMaps []*models.CognitiveMap) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("You are a master strategist analyzing cognitive maps from %d documents for %q.\n\n", len(cognitiveMaps), topicName))
	b.WriteString("Your task is to generate a GLOBAL BLUEPRINT that provides cross-document coordination and God's-eye view insights that no single document can provide.\n\n")

	b.WriteString("<cognitive_maps_collection>\n")
	b.WriteString(indentJSON(cognitiveMaps))
	b.WriteString("\n</cognitive_maps_collection>\n\n")

	b.WriteString("Generate a comprehensive global blueprint in JSON format with the following structure (surround by ```json and ```):\n\n")
	b.WriteString("```json\n")
	b.WriteString(blueprintSchemaExample)
	b.WriteString("\n```\n\n")

	b.WriteString(`**CRITICAL REQUIREMENTS:**

1. **Canonical Entities**: Identify entities mentioned across multiple documents with different names (e.g., "Google" vs "谷歌" vs "Google Inc."). Create normalized names and track all variations.

2. **Rich Relationship Patterns**: Instead of atomic patterns like "A-relation-B", describe meaningful, context-rich relationship patterns in natural language that capture the complexity and nuance of real-world interactions.

3. **Global Timeline**: Integrate timeline events from all documents into a coherent chronological framework, identifying cross-document event sequences.

4. **Flexible Processing Instructions**: Provide guidance on conflict handling, quality focus, extraction emphasis, and cross-document insights without rigid schemas.

5. **Cross-Document Insights**: Focus on patterns, themes, and relationships that only become visible when analyzing all documents together.


**Focus on providing insights that are IMPOSSIBLE to derive from any single document alone.**

`)
	b.WriteString(fmt.Sprintf("Generate the global blueprint for %q.", topicName))

	return b.String()
}
