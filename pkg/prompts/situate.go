package prompts

import "strings"

// BuildSituateContextPrompt creates the contextual-retrieval prompt: given
// the whole document and one block, ask for a short context sentence that
// situates the block for search. The response is plain text, not JSON.
func BuildSituateContextPrompt(docContent, chunkContent string) string {
	var b strings.Builder

	b.WriteString("<document>\n")
	b.WriteString(docContent)
	b.WriteString("\n</document>\n\n")

	b.WriteString("Here is the chunk we want to situate within the whole document\n")
	b.WriteString("<chunk>\n")
	b.WriteString(chunkContent)
	b.WriteString("\n</chunk>\n\n")

	b.WriteString("Please give a short succinct context to situate this chunk within the overall document for the purposes of improving search retrieval of the chunk.\n")
	b.WriteString("Answer only with the succinct context and nothing else.")

	return b.String()
}
