package prompts

import (
	"fmt"
	"strings"

	"github.com/chronicle-ai/chronicle-engine/pkg/models"
)

// reasoningSchemaExample shows the model the enhancement shape. Entities
// carry update-tracking fields on top of the extraction schema, and every
// relationship attribute set must include a justification.
const reasoningSchemaExample = `{
    "enhanced_relationships": [
        {
            "subject": {
                "name": "Entity name",
                "description": "What IS this entity? (intrinsic properties only)",
                "attributes": {
                    "entity_type": "A specific and concise type for the entity, determined by LLM (e.g., 'Company', 'Software Framework').",
                    "domain": "Standardized domain label (e.g., 'database', 'finance').",
                    "searchable_keywords": ["keyword1", "keyword2"],
                    "aliases": ["alternative_name1"],
                    "usage_context": "Natural language description of primary use cases."
                },
                "requires_description_update": true/false,
                "update_justification": "Explanation if description needs updating"
            },
            "predicate": "How entities interact with full context",
            "object": {
                "name": "Entity name",
                "description": "What IS this entity? (intrinsic properties only)",
                "attributes": {
                    "entity_type": "A specific and concise type for the entity, determined by LLM (e.g., 'Company', 'Software Framework').",
                    "domain": "Standardized domain label (e.g., 'database', 'finance').",
                    "searchable_keywords": ["keyword1", "keyword2"],
                    "aliases": ["alternative_name1"],
                    "usage_context": "Natural language description of primary use cases."
                },
                "requires_description_update": true/false,
                "update_justification": "Explanation if description needs updating"
            },
            "relationship_attributes": {
                "fact_time": "ISO 8601 UTC timestamp for single point events (e.g., '2025-06-25T11:30:00Z') OR",
                "fact_time_range": {"start": "ISO timestamp", "end": "ISO timestamp or null"} for time ranges,
                "temporal_context": "The valid time frame for the relationship. This could be a specific date, a time range from source text for evidence traceability",
                "condition": "(if available) Inferred condition under which the relationship holds.",
                "scope": "(if available) Inferred applicable scope for the relationship.",
                "prerequisite": "Optional. Inferred preconditions for the relationship.",
                "impact": "Optional. Inferred impact or consequences of the relationship.",
                "sentiment": "positive|negative|neutral",
                "confidence": "high|medium|low",
                "justification": "Clear explanation of reasoning process with reference to supporting evidence in the text"
            }
        }
    ]
}`

// BuildReasoningContext assembles the context block for the reasoning stage:
// document, blueprint, cognitive map, and the already-materialized subgraph.
// Nil sections are omitted.
func BuildReasoningContext(
	doc DocumentContext,
	blueprint *models.AnalysisBlueprint,
	cognitiveMap *models.CognitiveMap,
	existing *models.GraphPayload,
) string {
	var b strings.Builder

	b.WriteString("**Document Information:**\n")
	b.WriteString(fmt.Sprintf("- Name: %s\n", doc.Name))
	b.WriteString(fmt.Sprintf("- Content: %s\n", doc.Content))
	b.WriteString(fmt.Sprintf("- Attributes: %s\n", compactJSON(doc.Attributes)))
	b.WriteString("\n")

	if blueprint != nil {
		b.WriteString("**Global Blueprint Context:**\n")
		if blueprint.ProcessingInstructions != "" {
			b.WriteString(fmt.Sprintf("- Processing Instructions: %s\n", blueprint.ProcessingInstructions))
		}
		if len(blueprint.ProcessingItems) > 0 {
			b.WriteString(fmt.Sprintf("- Processing Items: %s\n", indentJSON(blueprint.ProcessingItems)))
		}
		b.WriteString("\n")
	}

	if cognitiveMap != nil {
		b.WriteString("**Document Cognitive Map:**\n")
		b.WriteString(indentJSON(cognitiveMap))
		b.WriteString("\n\n")
	}

	if existing != nil {
		b.WriteString("**Existing Knowledge in Graph:**\n")
		b.WriteString(fmt.Sprintf("- Total Entities: %d\n", len(existing.Entities)))
		b.WriteString(fmt.Sprintf("- Total Relationships: %d\n", len(existing.Relationships)))

		if len(existing.Entities) > 0 {
			b.WriteString("- Entities:\n")
			for _, entity := range existing.Entities {
				b.WriteString(fmt.Sprintf("  * %s: %s | attributes: %s\n",
					entity.Name, entity.Description, compactJSON(entity.Attributes)))
			}
		}

		if len(existing.Relationships) > 0 {
			b.WriteString("- Relationships:\n")
			for _, rel := range existing.Relationships {
				b.WriteString(fmt.Sprintf("  * %s -> %s -> %s | attributes: %s\n",
					rel.SourceEntity, rel.Description, rel.TargetEntity, compactJSON(rel.Attributes)))
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}

// BuildReasoningPrompt creates the prompt for the reasoning stage: infer
// connections and description enhancements strictly grounded in the provided
// context. The response is a JSON object holding enhanced_relationships.
func BuildReasoningPrompt(topicName, reasoningContext, qualityStandard string) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("You are an expert knowledge detective working on %q analysis.\n\n", topicName))
	b.WriteString("Your primary mission is to **complete missing information** and **enhance entity descriptions** through **logical reasoning and inference**.\n")
	b.WriteString("Crucially, all of your reasoning must be **strictly grounded in the explicit facts** presented in the text. Your goal is not to invent, but to **synthesize and connect scattered information** to create a more complete and valuable knowledge graph.\n\n")

	b.WriteString(reasoningContext)
	b.WriteString("\n")

	b.WriteString("<KNOWLEDGE GRAPH QUALITY STANDARDS>\n")
	b.WriteString(qualityStandard)
	b.WriteString("\n</KNOWLEDGE GRAPH QUALITY STANDARDS>\n\n")

	b.WriteString(`**REASONING TASKS:**

1.  **Enhance Entity Descriptions**: Add explicitly stated properties about entities based on direct text evidence
2.  **Discover Explicit Relationships**: Find relationships clearly evidenced in specific text spans
3.  **Connect Clear Facts**: Link entities when connections are explicitly stated in the text

**OUTPUT FORMAT:**

`)
	b.WriteString("Return a JSON object with your reasoning discoveries in the following format (surround with ```json and ```):\n\n")
	b.WriteString("```json\n")
	b.WriteString(reasoningSchemaExample)
	b.WriteString("\n```\n\n")

	b.WriteString("**IMPLEMENTATION NOTES:**\n")
	b.WriteString("- **Entity Enhancement Tracking**: Set `requires_description_update` to `true` only for existing entities when adding intrinsic properties. For new entities, always set to `false`.\n")
	b.WriteString("- **Confidence Scoring**: Include confidence levels with clear justification based on evidence strength.\n\n")

	b.WriteString("Begin your detective work and discover the hidden knowledge!")

	return b.String()
}
