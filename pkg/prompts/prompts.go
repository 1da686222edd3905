// Package prompts builds the LLM prompt strings used across the knowledge
// pipeline: cognitive mapping, blueprint generation, triplet extraction,
// reasoning enhancement, block splitting, and graph quality optimization.
// Builders are pure string assembly; callers own token budgets and parsing.
package prompts

import (
	"encoding/json"
	"fmt"
)

// DocumentContext carries the source document fields embedded in pipeline
// prompts.
type DocumentContext struct {
	Name       string
	Content    string
	Attributes map[string]any
}

// FormatDocument renders a document the way extraction and mapping prompts
// expect it: name, body, then the attribute object.
func FormatDocument(doc DocumentContext) string {
	return fmt.Sprintf("Document: %s\n\n%s\n\nDocument attributes: %s",
		doc.Name, doc.Content, compactJSON(doc.Attributes))
}

// indentJSON marshals v with two-space indentation for prompt embedding.
// Marshal failures degrade to an empty object rather than breaking the prompt.
func indentJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
