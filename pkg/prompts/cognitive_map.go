package prompts

import (
	"fmt"
	"strings"
)

// BuildCognitiveMapPrompt creates the prompt for the first pipeline stage:
// a quick structural read of one document, focused on the given topic. The
// response is a single JSON object with summary, key entities, theme
// keywords, timeline, and structural pattern fields.
func BuildCognitiveMapPrompt(topicName string, doc DocumentContext) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Analyze this document to create a cognitive map that identifies its basic structure. This will serve as the foundation for deeper knowledge extraction related to %q.\n\n", topicName))

	b.WriteString("<document>\n")
	b.WriteString(FormatDocument(doc))
	b.WriteString("\n</document>\n\n")

	b.WriteString("Create a cognitive map in JSON format that captures the document's basic structure (surrounding by ```json and ```):\n\n")
	b.WriteString("```json\n")
	b.WriteString(`{
    "summary": "Brief 2-3 sentence overview of the document's main content and purpose",
    "key_entities": ["entity1", "entity2", "entity3"],
    "theme_keywords": ["keyword1", "keyword2", "keyword3"],
    "important_timeline": ["event1: date1", "event2: date2", "event3: date3"],
    "structural_patterns": "document_organization_pattern"
}`)
	b.WriteString("\n```\n\n")

	b.WriteString("Focus on:\n")
	b.WriteString("1. **Summary**: Core purpose and main content in 2-3 sentences\n")
	b.WriteString("2. **Key Entities**: Most important people, organizations, systems, concepts (5-10 items)\n")
	b.WriteString(fmt.Sprintf("3. **Theme Keywords**: Main topics and concepts relevant to %s (5-8 items)\n", topicName))
	b.WriteString("4. **Important Timeline**: Sequential events with their timeframes (if document contains temporal progression)\n")
	b.WriteString("5. **Structural Patterns**: How the document is organized (e.g., \"chronological\", \"hierarchical\", \"process_flow\", \"problem_solution\", \"comparison\")\n\n")

	b.WriteString("Guidelines:\n")
	b.WriteString("- Extract explicit time references (dates, quarters, versions)\n")
	b.WriteString("- Identify implicit temporal markers (before/after relationships)\n")
	b.WriteString(fmt.Sprintf("- Focus on entities and themes most relevant to %s\n", topicName))
	b.WriteString("- Keep it concise but comprehensive for structure identification\n\n")

	b.WriteString("Return only the JSON, no other text.")

	return b.String()
}
