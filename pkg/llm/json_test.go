package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
)

func TestExtractJSON_PlainObject(t *testing.T) {
	got, err := ExtractJSON(`{"name": "test", "value": 42}`, FormatAuto)
	if err != nil {
		t.Fatalf("ExtractJSON() error = %v", err)
	}
	if got != `{"name": "test", "value": 42}` {
		t.Errorf("ExtractJSON() = %q", got)
	}
}

func TestExtractJSON_PlainArray(t *testing.T) {
	got, err := ExtractJSON(`[1, 2, 3]`, FormatAuto)
	if err != nil {
		t.Fatalf("ExtractJSON() error = %v", err)
	}
	if got != `[1, 2, 3]` {
		t.Errorf("ExtractJSON() = %q", got)
	}
}

func TestExtractJSON_FencedBlockWins(t *testing.T) {
	response := "Here is {\"decoy\": true} and the real answer:\n```json\n{\"real\": true}\n```"

	got, err := ExtractJSON(response, FormatAuto)
	if err != nil {
		t.Fatalf("ExtractJSON() error = %v", err)
	}
	if got != `{"real": true}` {
		t.Errorf("ExtractJSON() = %q, want fenced block content", got)
	}
}

func TestExtractJSON_FencedBlockMultiline(t *testing.T) {
	response := "```json\n[\n  {\"title\": \"A\"},\n  {\"title\": \"B\"}\n]\n```"

	got, err := ExtractJSON(response, FormatArray)
	if err != nil {
		t.Fatalf("ExtractJSON() error = %v", err)
	}
	var parsed []map[string]string
	if err := json.Unmarshal([]byte(got), &parsed); err != nil {
		t.Fatalf("extracted JSON does not parse: %v", err)
	}
	if len(parsed) != 2 || parsed[0]["title"] != "A" {
		t.Errorf("parsed = %v", parsed)
	}
}

func TestExtractJSON_WithThinkTags(t *testing.T) {
	response := `<think>
The user wants a JSON object. Let me construct it.
</think>
{"answer": "yes"}`

	got, err := ExtractJSON(response, FormatObject)
	if err != nil {
		t.Fatalf("ExtractJSON() error = %v", err)
	}
	if got != `{"answer": "yes"}` {
		t.Errorf("ExtractJSON() = %q", got)
	}
}

func TestExtractThinking(t *testing.T) {
	response := "<think>step by step</think>{\"x\": 1}"
	if got := ExtractThinking(response); got != "step by step" {
		t.Errorf("ExtractThinking() = %q", got)
	}
	if got := ExtractThinking(`{"x": 1}`); got != "" {
		t.Errorf("ExtractThinking() = %q, want empty", got)
	}
}

func TestExtractJSON_WithTextAroundJSON(t *testing.T) {
	response := `Sure! Here is the result you asked for:
{"status": "ok", "items": [1, 2]}
Let me know if you need anything else.`

	got, err := ExtractJSON(response, FormatObject)
	if err != nil {
		t.Fatalf("ExtractJSON() error = %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(got), &parsed); err != nil {
		t.Fatalf("extracted JSON does not parse: %v", err)
	}
	if parsed["status"] != "ok" {
		t.Errorf("parsed = %v", parsed)
	}
}

func TestExtractJSON_BracketsInStrings(t *testing.T) {
	response := `{"text": "an array looks like [1, 2] and an object like {}"}`

	got, err := ExtractJSON(response, FormatObject)
	if err != nil {
		t.Fatalf("ExtractJSON() error = %v", err)
	}
	if got != response {
		t.Errorf("ExtractJSON() = %q", got)
	}
}

func TestExtractJSON_EscapedQuotesInStrings(t *testing.T) {
	response := `{"quote": "she said \"hello\" loudly"}`

	got, err := ExtractJSON(response, FormatObject)
	if err != nil {
		t.Fatalf("ExtractJSON() error = %v", err)
	}
	if got != response {
		t.Errorf("ExtractJSON() = %q", got)
	}
}

func TestExtractJSON_FormatArraySkipsLeadingObject(t *testing.T) {
	response := `The config {"a": 1} precedes the list ["x", "y"]`

	got, err := ExtractJSON(response, FormatArray)
	if err != nil {
		t.Fatalf("ExtractJSON() error = %v", err)
	}
	if got != `["x", "y"]` {
		t.Errorf("ExtractJSON() = %q, want the array", got)
	}
}

func TestExtractJSON_NoJSON(t *testing.T) {
	_, err := ExtractJSON("no structured content here", FormatAuto)
	if err == nil {
		t.Fatal("ExtractJSON() expected error for prose input")
	}
	if !errors.Is(err, apperrors.ErrJSONParse) {
		t.Errorf("error should wrap ErrJSONParse, got %v", err)
	}
}

func TestExtractJSON_StripsControlCharacters(t *testing.T) {
	response := "```json\n{\"a\": \"line1\nline2\"}\n```"

	got, err := ExtractJSON(response, FormatObject)
	if err != nil {
		t.Fatalf("ExtractJSON() error = %v", err)
	}
	var parsed map[string]string
	if err := json.Unmarshal([]byte(got), &parsed); err != nil {
		t.Fatalf("scrubbed JSON does not parse: %v", err)
	}
	if parsed["a"] != "line1line2" {
		t.Errorf("parsed a = %q", parsed["a"])
	}
}

func TestFixEscapeErrors_InvalidEscape(t *testing.T) {
	broken := `{"path": "C:\Windows\Games"}`

	fixed := FixEscapeErrors(broken)

	var parsed map[string]string
	if err := json.Unmarshal([]byte(fixed), &parsed); err != nil {
		t.Fatalf("fixed JSON does not parse: %v", err)
	}
	if parsed["path"] != `C:\Windows\Games` {
		t.Errorf("path = %q", parsed["path"])
	}
}

func TestFixEscapeErrors_PreservesValidEscapes(t *testing.T) {
	valid := `{"a": "tab\there", "b": "unicode \u00e9", "c": "quote \" done"}`

	if got := FixEscapeErrors(valid); got != valid {
		t.Errorf("FixEscapeErrors() altered valid JSON:\n got %q\nwant %q", got, valid)
	}
}

func TestFixEscapeErrors_RawControlChars(t *testing.T) {
	broken := "{\"a\": \"line1\nline2\tend\"}"

	fixed := FixEscapeErrors(broken)

	var parsed map[string]string
	if err := json.Unmarshal([]byte(fixed), &parsed); err != nil {
		t.Fatalf("fixed JSON does not parse: %v", err)
	}
	if parsed["a"] != "line1\nline2\tend" {
		t.Errorf("a = %q", parsed["a"])
	}
}

func TestFixEscapeErrors_TrailingBackslash(t *testing.T) {
	fixed := FixEscapeErrors(`{"a": "ends with \`)
	if !strings.HasSuffix(fixed, `\\`) {
		t.Errorf("trailing backslash not doubled: %q", fixed)
	}
}

func TestParseJSONResponse_Object(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	got, err := ParseJSONResponse[payload](`The result is {"name": "alpha", "count": 3} as requested.`)
	if err != nil {
		t.Fatalf("ParseJSONResponse() error = %v", err)
	}
	if got.Name != "alpha" || got.Count != 3 {
		t.Errorf("ParseJSONResponse() = %+v", got)
	}
}

func TestParseWithRepair_DirectParse(t *testing.T) {
	got, err := ParseWithRepair[map[string]string](context.Background(), nil, `{"k": "v"}`, FormatObject)
	if err != nil {
		t.Fatalf("ParseWithRepair() error = %v", err)
	}
	if got["k"] != "v" {
		t.Errorf("ParseWithRepair() = %v", got)
	}
}

func TestParseWithRepair_EscapeFixPath(t *testing.T) {
	// Invalid escapes are healed without any LLM call.
	response := `{"dir": "D:\Work\Media"}`

	got, err := ParseWithRepair[map[string]string](context.Background(), nil, response, FormatObject)
	if err != nil {
		t.Fatalf("ParseWithRepair() error = %v", err)
	}
	if got["dir"] != `D:\Work\Media` {
		t.Errorf("dir = %q", got["dir"])
	}
}

func TestParseWithRepair_LLMRepair(t *testing.T) {
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (string, error) {
		if !strings.Contains(prompt, "needs to be fixed") {
			t.Errorf("unexpected repair prompt: %s", prompt)
		}
		return `{"items": ["a", "b"]}`, nil
	}

	// Truncated JSON: escape fixing cannot help, forcing the repair call.
	response := "```json\n{\"items\": [\"a\", \"b\"\n```"

	got, err := ParseWithRepair[map[string][]string](context.Background(), mock, response, FormatObject)
	if err != nil {
		t.Fatalf("ParseWithRepair() error = %v", err)
	}
	if len(got["items"]) != 2 {
		t.Errorf("ParseWithRepair() = %v", got)
	}
	if mock.GenerateResponseCalls != 1 {
		t.Errorf("expected 1 repair call, got %d", mock.GenerateResponseCalls)
	}
}

func TestParseWithRepair_RegenerateFromProse(t *testing.T) {
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (string, error) {
		if !strings.Contains(prompt, "does not contain valid JSON") {
			t.Errorf("unexpected regenerate prompt: %s", prompt)
		}
		return `["topic one", "topic two"]`, nil
	}

	got, err := ParseWithRepair[[]string](context.Background(), mock, "The topics are: topic one and topic two.", FormatArray)
	if err != nil {
		t.Fatalf("ParseWithRepair() error = %v", err)
	}
	if len(got) != 2 || got[0] != "topic one" {
		t.Errorf("ParseWithRepair() = %v", got)
	}
}

func TestParseWithRepair_NoClientNoJSON(t *testing.T) {
	_, err := ParseWithRepair[map[string]any](context.Background(), nil, "just words", FormatObject)
	if !errors.Is(err, apperrors.ErrJSONParse) {
		t.Errorf("expected ErrJSONParse, got %v", err)
	}
}

func TestParseWithRepair_RepairStillBroken(t *testing.T) {
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (string, error) {
		return "still not json", nil
	}

	_, err := ParseWithRepair[map[string]any](context.Background(), mock, "no json here either", FormatObject)
	if !errors.Is(err, apperrors.ErrJSONParse) {
		t.Errorf("expected ErrJSONParse, got %v", err)
	}
}
