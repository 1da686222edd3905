package llm

// EstimateTokens approximates the token count of a text as len/4. The
// pipeline only uses this for split thresholds and prompt budgets, where a
// rough, model-independent estimate is enough.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// TruncateToTokens trims text to approximately maxTokens, appending a marker
// when truncation happened. Text within budget is returned unchanged.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 || EstimateTokens(text) <= maxTokens {
		return text
	}
	limit := maxTokens * 4
	if limit > len(text) {
		limit = len(text)
	}
	return text[:limit] + "\n...[truncated]"
}
