package prompts

import (
	"fmt"
	"strings"
)

// ChunkContext is one pre-split block offered to the thematic merge planner.
type ChunkContext struct {
	Title   string
	Content string
}

// mergeChunkPayload is the JSON form of one numbered chunk in the prompt.
type mergeChunkPayload struct {
	OriginalTitle string `json:"original_title"`
	Content       string `json:"content"`
}

// BuildThematicMergePrompt creates the prompt that plans how fragmented
// blocks regroup into coherent topics. The response is a JSON object with a
// topics array of {new_title, chunk_index_range} entries; indices are
// one-based and ranges are inclusive.
func BuildThematicMergePrompt(chunks []ChunkContext, maxTokens int) string {
	var numbered strings.Builder
	for i, chunk := range chunks {
		numbered.WriteString(fmt.Sprintf("%d: %s\n", i+1,
			compactJSON(mergeChunkPayload{OriginalTitle: chunk.Title, Content: chunk.Content})))
	}

	var b strings.Builder

	b.WriteString(`You are an expert technical writer and information architect. Your mission is to transform a fragmented series of document chunks into a well-structured, coherent document by grouping them into meaningful topics.

### CONTEXT
I have a document that has been pre-processed into numbered chunks. These chunks are out of their original, larger context, making the document hard to read. Your task is to reverse this fragmentation by creating logical topic groups.

### STEP-BY-STEP THINKING PROCESS TO FOLLOW
To ensure the highest quality result, please follow this exact thinking process:

1.  **Holistic Comprehension**: First, read through ALL the numbered chunks below. Before grouping, form a mental summary of the entire document's purpose and subject matter. What is this document about as a whole?

2.  **Theme Identification**: Based on your overall understanding, identify the main themes, concepts, or stages discussed across the chunks. A theme could be a project phase (e.g., "Initial Setup & Configuration"), a specific feature (e.g., "User Authentication Logic"), or a core concept (e.g., "Data Privacy Principles").

3.  **Grouping and Mapping**: For each theme you identified, create a group and map the relevant chunk indices to it.
    * **Justify your grouping**: The chunks in a group must be strongly related and form a continuous, logical narrative or explanation.
    * **Encourage overlaps**: It is highly encouraged to include a chunk in multiple groups if it serves as a natural bridge between two different topics (e.g., a chunk that concludes one feature and introduces the next).

4.  **Title Synthesis**: For each group, create a new, highly descriptive title. The title should accurately synthesize the core content of the chunks within that group. Avoid generic titles.

5.  **Constraint Verification**: Finally, review your generated topic groups against the critical constraints below.
    * If a group is semantically perfect but exceeds the token limit, try to split it into two or more smaller, still-coherent sub-topics. **Semantic integrity is more important than creating the largest possible groups.**

### CRITICAL CONSTRAINTS
`)
	b.WriteString(fmt.Sprintf("1.  **Complete Coverage**: EVERY chunk from 1 to %d MUST be included in AT LEAST ONE topic group. No chunks left behind.\n", len(chunks)))
	b.WriteString("2.  **Overlaps Allowed**: A chunk can be included in multiple topics.\n")
	b.WriteString("3.  **Title Quality**: Titles must be new, descriptive, and reflect the specific content of the group.\n")
	b.WriteString(fmt.Sprintf("4.  **Size Constraint**: The total token count of the content within any single merged group must NOT exceed %d tokens.\n", maxTokens))
	b.WriteString("5.  **Output Format**: Your final output MUST BE ONLY a JSON object, enclosed in ```json and ```. Do not include any explanations or text outside the JSON block.\n\n")

	b.WriteString("### NUMBERED CHUNKS TO MERGE\n")
	b.WriteString("<chunks>\n")
	b.WriteString(numbered.String())
	b.WriteString("</chunks>\n\n")

	b.WriteString("### CHUNK INDEX RANGE SPECIFICATION\n")
	b.WriteString("**IMPORTANT**: Use `chunk_index_range` to specify continuous chunk ranges:\n\n")
	b.WriteString("1. **Single chunk**: `[5, 5]` (only chunk 5)\n")
	b.WriteString("2. **Continuous range**: `[3, 11]` (chunks 3 through 11)\n\n")

	b.WriteString("### EXAMPLE JSON RESPONSE (surrounding by ```json and ```)\n")
	b.WriteString("```json\n")
	b.WriteString(`{
  "topics": [
    {
      "new_title": "Full Introduction and Project Goals",
      "chunk_index_range": [1, 2]
    },
    {
      "new_title": "Core Feature Details and Implementation",
      "chunk_index_range": [3, 11]
    },
    {
      "new_title": "Final Summary",
      "chunk_index_range": [12, 12]
    }
  ]
}`)
	b.WriteString("\n```\n")
	b.WriteString("Note: [3, 11] means chunks 3, 4, 5, 6, 7, 8, 9, 10, 11. For single chunks use [N, N].\n\n")

	b.WriteString("Now, apply the thinking process to the provided chunks and generate the final JSON output.")

	return b.String()
}
