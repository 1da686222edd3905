package jsonutil

import (
	"encoding/json"
	"testing"
)

func TestFlexibleStringValue(t *testing.T) {
	tests := []struct {
		name  string
		input json.RawMessage
		want  string
	}{
		{
			name:  "string value",
			input: json.RawMessage(`"hello"`),
			want:  "hello",
		},
		{
			name:  "integer value",
			input: json.RawMessage(`42`),
			want:  "42",
		},
		{
			name:  "float value",
			input: json.RawMessage(`3.14`),
			want:  "3.14",
		},
		{
			name:  "boolean true",
			input: json.RawMessage(`true`),
			want:  "true",
		},
		{
			name:  "boolean false",
			input: json.RawMessage(`false`),
			want:  "false",
		},
		{
			name:  "null value",
			input: json.RawMessage(`null`),
			want:  "",
		},
		{
			name:  "empty raw message",
			input: json.RawMessage{},
			want:  "",
		},
		{
			name:  "nil raw message",
			input: nil,
			want:  "",
		},
		{
			name:  "large integer preserves precision",
			input: json.RawMessage(`9007199254740992`),
			want:  "9007199254740992",
		},
		{
			name:  "nested object falls back to raw string",
			input: json.RawMessage(`{"key":"value"}`),
			want:  `{"key":"value"}`,
		},
		{
			name:  "array falls back to raw string",
			input: json.RawMessage(`[1,2,3]`),
			want:  `[1,2,3]`,
		},
		{
			name:  "negative integer",
			input: json.RawMessage(`-7`),
			want:  "-7",
		},
		{
			name:  "zero",
			input: json.RawMessage(`0`),
			want:  "0",
		},
		{
			name:  "empty string",
			input: json.RawMessage(`""`),
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlexibleStringValue(tt.input)
			if got != tt.want {
				t.Errorf("FlexibleStringValue(%s) = %q, want %q", string(tt.input), got, tt.want)
			}
		})
	}
}

func TestCoerceString(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"nil", nil, ""},
		{"string", "narrative", "narrative"},
		{"integer float64", float64(3), "3"},
		{"fractional float64", 0.75, "0.75"},
		{"bool", true, "true"},
		{"int", 12, "12"},
		{"unknown shape", []int{1}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CoerceString(tt.input); got != tt.want {
				t.Errorf("CoerceString(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCoerceStringSlice(t *testing.T) {
	got := CoerceStringSlice([]any{"a", float64(2), true, nil})
	want := []string{"a", "2", "true"}
	if len(got) != len(want) {
		t.Fatalf("CoerceStringSlice = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("CoerceStringSlice[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if got := CoerceStringSlice("solo"); len(got) != 1 || got[0] != "solo" {
		t.Errorf("scalar should coerce to single-element slice, got %v", got)
	}
	if got := CoerceStringSlice(nil); got != nil {
		t.Errorf("nil should coerce to nil, got %v", got)
	}
}

func TestCoerceBool(t *testing.T) {
	tests := []struct {
		input any
		want  bool
	}{
		{true, true},
		{false, false},
		{"true", true},
		{"yes", true},
		{"no", false},
		{float64(1), true},
		{float64(0), false},
		{nil, false},
	}

	for _, tt := range tests {
		if got := CoerceBool(tt.input); got != tt.want {
			t.Errorf("CoerceBool(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestGetString(t *testing.T) {
	attrs := map[string]any{
		"topic_name": "acme_history",
		"count":      float64(4),
	}

	if got := GetString(attrs, "topic_name"); got != "acme_history" {
		t.Errorf("GetString(topic_name) = %q", got)
	}
	if got := GetString(attrs, "count"); got != "4" {
		t.Errorf("GetString(count) = %q", got)
	}
	if got := GetString(attrs, "missing"); got != "" {
		t.Errorf("GetString(missing) = %q, want empty", got)
	}
	if got := GetString(nil, "any"); got != "" {
		t.Errorf("GetString on nil map = %q, want empty", got)
	}
}

func TestMergeAttributes(t *testing.T) {
	base := map[string]any{"topic_name": "t1", "category": "narrative", "keep": "old"}
	overlay := map[string]any{"keep": "new", "extra": true}

	merged := MergeAttributes(base, overlay)

	if merged["topic_name"] != "t1" {
		t.Errorf("expected base key preserved, got %v", merged["topic_name"])
	}
	if merged["keep"] != "new" {
		t.Errorf("expected overlay to win, got %v", merged["keep"])
	}
	if merged["extra"] != true {
		t.Errorf("expected overlay key added, got %v", merged["extra"])
	}
	if base["keep"] != "old" {
		t.Error("base map was mutated")
	}

	if got := MergeAttributes(nil, map[string]any{"a": 1}); got["a"] != 1 {
		t.Errorf("nil base should yield overlay copy, got %v", got)
	}
}
