package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
)

// Format declares the JSON shape a caller expects from a model response.
type Format string

const (
	FormatAuto   Format = "auto"
	FormatObject Format = "object"
	FormatArray  Format = "array"
)

// thinkTagPattern matches <think>...</think> tags that may appear at the start of LLM responses.
var thinkTagPattern = regexp.MustCompile(`(?s)^[\s]*<think>.*?</think>[\s]*`)

// thinkContentPattern extracts the content inside <think>...</think> tags.
var thinkContentPattern = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// fencedJSONPattern matches the first ```json fenced code block.
var fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// ExtractThinking extracts the content from <think>...</think> tags in an LLM response.
// Returns empty string if no thinking tags are found.
func ExtractThinking(response string) string {
	matches := thinkContentPattern.FindStringSubmatch(response)
	if len(matches) >= 2 {
		return strings.TrimSpace(matches[1])
	}
	return ""
}

// StripThinking removes a leading <think>...</think> section from a plain text
// response and trims the remainder.
func StripThinking(response string) string {
	return strings.TrimSpace(thinkTagPattern.ReplaceAllString(response, ""))
}

// ExtractJSON extracts JSON content from an LLM response that may contain
// <think> tags, markdown code blocks, or other formatting. A ```json fenced
// block wins over bare JSON found elsewhere in the response.
func ExtractJSON(response string, format Format) (string, error) {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")

	if m := fencedJSONPattern.FindStringSubmatch(cleaned); len(m) >= 2 {
		return scrubControlChars(m[1]), nil
	}

	switch format {
	case FormatObject:
		if jsonStr, ok := extractBalancedJSON(cleaned, '{', '}'); ok {
			return scrubControlChars(jsonStr), nil
		}
	case FormatArray:
		if jsonStr, ok := extractBalancedJSON(cleaned, '[', ']'); ok {
			return scrubControlChars(jsonStr), nil
		}
	default:
		objStart := strings.IndexByte(cleaned, '{')
		arrStart := strings.IndexByte(cleaned, '[')

		if objStart >= 0 && (arrStart < 0 || objStart < arrStart) {
			if jsonStr, ok := extractBalancedJSON(cleaned, '{', '}'); ok {
				return scrubControlChars(jsonStr), nil
			}
		}
		if arrStart >= 0 {
			if jsonStr, ok := extractBalancedJSON(cleaned, '[', ']'); ok {
				return scrubControlChars(jsonStr), nil
			}
		}
	}

	// Last resort: check if the entire cleaned response is valid JSON
	trimmed := strings.TrimSpace(cleaned)
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}

	return "", fmt.Errorf("%w: no valid JSON found in response", apperrors.ErrJSONParse)
}

// extractBalancedJSON finds the first balanced JSON structure starting with openChar.
// It handles nested structures by counting bracket depth.
func extractBalancedJSON(s string, openChar, closeChar byte) (string, bool) {
	start := strings.IndexByte(s, openChar)
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}

		if c == '\\' && inString {
			escaped = true
			continue
		}

		if c == '"' {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		if c == openChar {
			depth++
		} else if c == closeChar {
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}

// scrubControlChars drops control characters that break json.Unmarshal.
// Tabs and carriage returns survive; raw newlines are dropped, which also
// heals unescaped newlines inside string values.
func scrubControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 0x20 || r == '\t' || r == '\r' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FixEscapeErrors repairs the two escape mistakes models actually make:
// raw control characters inside strings, and backslashes that do not start a
// valid JSON escape sequence.
func FixEscapeErrors(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\\':
			if validEscapeAt(s, i) {
				b.WriteByte(c)
			} else {
				b.WriteString(`\\`)
			}
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}

// validEscapeAt reports whether the backslash at s[i] begins a valid JSON
// escape sequence.
func validEscapeAt(s string, i int) bool {
	if i+1 >= len(s) {
		return false
	}
	switch s[i+1] {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		return true
	case 'u':
		if i+5 >= len(s) {
			return false
		}
		for j := i + 2; j <= i+5; j++ {
			if !isHexDigit(s[j]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// ParseJSONResponse extracts JSON from a response and unmarshals it into the target.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	jsonStr, err := ExtractJSON(response, FormatAuto)
	if err != nil {
		return result, err
	}

	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("%w: %v", apperrors.ErrJSONParse, err)
	}

	return result, nil
}

// ParseWithRepair parses a model response into T, recovering from the usual
// failure modes in order: extract and parse directly, retry after escape
// fixing, then ask the model itself to repair or regenerate the JSON. A nil
// client disables the repair pass.
func ParseWithRepair[T any](ctx context.Context, client Generator, response string, format Format) (T, error) {
	var result T

	jsonStr, extractErr := ExtractJSON(response, format)
	if extractErr != nil {
		// No JSON structure found at all: regenerate from the prose
		if client == nil {
			return result, extractErr
		}
		regenerated, repairErr := regenerateJSON(ctx, client, response, format)
		if repairErr != nil {
			return result, repairErr
		}
		if err := json.Unmarshal([]byte(regenerated), &result); err != nil {
			return result, fmt.Errorf("%w: regenerated JSON invalid: %v", apperrors.ErrJSONParse, err)
		}
		return result, nil
	}

	parseErr := json.Unmarshal([]byte(jsonStr), &result)
	if parseErr == nil {
		return result, nil
	}

	if err := json.Unmarshal([]byte(FixEscapeErrors(jsonStr)), &result); err == nil {
		return result, nil
	}

	if client == nil {
		return result, fmt.Errorf("%w: %v", apperrors.ErrJSONParse, parseErr)
	}

	repaired, repairErr := repairJSON(ctx, client, jsonStr, parseErr.Error(), format)
	if repairErr != nil {
		return result, repairErr
	}
	if err := json.Unmarshal([]byte(repaired), &result); err != nil {
		return result, fmt.Errorf("%w: repaired JSON still invalid: %v", apperrors.ErrJSONParse, err)
	}
	return result, nil
}

// repairJSON asks the model to fix broken JSON while preserving its content.
func repairJSON(ctx context.Context, client Generator, brokenJSON, errMsg string, format Format) (string, error) {
	prompt := fmt.Sprintf(`The following JSON has errors and needs to be fixed:

Broken JSON:
%s

Error: %s

Please return ONLY the corrected JSON without any explanation. Fix the errors while preserving all the original data and structure.

Return only valid JSON:`, brokenJSON, errMsg)

	response, err := client.GenerateResponse(ctx, prompt, "", 0.0)
	if err != nil {
		return "", fmt.Errorf("%w: repair call failed: %v", apperrors.ErrJSONParse, err)
	}

	fixed, err := ExtractJSON(response, format)
	if err != nil {
		return "", fmt.Errorf("%w: repair response held no JSON", apperrors.ErrJSONParse)
	}
	if !json.Valid([]byte(fixed)) {
		return "", fmt.Errorf("%w: repair produced invalid JSON", apperrors.ErrJSONParse)
	}
	return fixed, nil
}

// regenerateJSON asks the model to produce JSON from a response that held none.
func regenerateJSON(ctx context.Context, client Generator, originalResponse string, format Format) (string, error) {
	shape := string(format)
	if format == FormatAuto {
		shape = "object"
	}

	prompt := fmt.Sprintf(`The following response does not contain valid JSON. Please extract the information and provide it as a valid JSON %s:

Original response:
%s

Error: No JSON structure found

Please return ONLY valid JSON %s without any explanation or additional text.`, shape, originalResponse, shape)

	response, err := client.GenerateResponse(ctx, prompt, "", 0.0)
	if err != nil {
		return "", fmt.Errorf("%w: regeneration call failed: %v", apperrors.ErrJSONParse, err)
	}

	fixed, err := ExtractJSON(response, format)
	if err != nil {
		return "", fmt.Errorf("%w: regeneration response held no JSON", apperrors.ErrJSONParse)
	}
	if !json.Valid([]byte(fixed)) {
		return "", fmt.Errorf("%w: regeneration produced invalid JSON", apperrors.ErrJSONParse)
	}
	return fixed, nil
}
