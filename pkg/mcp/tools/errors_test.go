package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
)

// getTextContent extracts the text string from the first text content item
func getTextContent(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	// The Content slice contains mcp.Content interface types
	// We need to marshal and unmarshal to extract the text
	jsonBytes, _ := json.Marshal(result.Content[0])
	var textContent struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	json.Unmarshal(jsonBytes, &textContent)
	return textContent.Text
}

func TestNewErrorResult(t *testing.T) {
	result := NewErrorResult("test_error", "this is a test error")

	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	assert.True(t, result.IsError)

	text := getTextContent(result)
	var errResp ErrorResponse
	err := json.Unmarshal([]byte(text), &errResp)
	require.NoError(t, err)

	assert.True(t, errResp.Error, "error field should be true")
	assert.Equal(t, "test_error", errResp.Code)
	assert.Equal(t, "this is a test error", errResp.Message)
	assert.Nil(t, errResp.Details, "details should be nil when not provided")
}

func TestNewErrorResultWithDetails(t *testing.T) {
	details := map[string]any{
		"requested_topic":  "missing-topic",
		"available_topics": []string{"acme", "memory_alice"},
		"count":            2,
	}

	result := NewErrorResultWithDetails("topic_not_found", "topic 'missing-topic' has no built graph", details)

	require.NotNil(t, result)
	require.Len(t, result.Content, 1)

	text := getTextContent(result)
	var errResp ErrorResponse
	err := json.Unmarshal([]byte(text), &errResp)
	require.NoError(t, err)

	assert.True(t, errResp.Error, "error field should be true")
	assert.Equal(t, "topic_not_found", errResp.Code)
	assert.Equal(t, "topic 'missing-topic' has no built graph", errResp.Message)
	assert.NotNil(t, errResp.Details, "details should not be nil")

	detailsMap, ok := errResp.Details.(map[string]any)
	require.True(t, ok, "details should be a map")
	assert.Contains(t, detailsMap, "requested_topic")
	assert.Contains(t, detailsMap, "available_topics")
	assert.Equal(t, float64(2), detailsMap["count"]) // JSON numbers are float64
}

func TestErrorResponse_JSONStructure(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		details  any
		wantJSON string
	}{
		{
			name:     "simple error without details",
			code:     "not_found",
			message:  "resource not found",
			details:  nil,
			wantJSON: `{"error":true,"code":"not_found","message":"resource not found"}`,
		},
		{
			name:     "error with string details",
			code:     "invalid_parameters",
			message:  "bad request",
			details:  "parameter 'query' is required",
			wantJSON: `{"error":true,"code":"invalid_parameters","message":"bad request","details":"parameter 'query' is required"}`,
		},
		{
			name:    "error with structured details",
			code:    "validation_error",
			message: "validation failed",
			details: map[string]any{
				"field": "user_id",
				"issue": "contains path separators",
			},
			wantJSON: `{"error":true,"code":"validation_error","message":"validation failed","details":{"field":"user_id","issue":"contains path separators"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result *mcp.CallToolResult
			if tt.details == nil {
				result = NewErrorResult(tt.code, tt.message)
			} else {
				result = NewErrorResultWithDetails(tt.code, tt.message, tt.details)
			}

			text := getTextContent(result)

			var got, want map[string]any
			require.NoError(t, json.Unmarshal([]byte(text), &got))
			require.NoError(t, json.Unmarshal([]byte(tt.wantJSON), &want))

			assert.Equal(t, want, got)
		})
	}
}

func TestIsInputError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "validation sentinel",
			err:  fmt.Errorf("%w: topic_name is required", apperrors.ErrValidation),
			want: true,
		},
		{
			name: "not found sentinel",
			err:  fmt.Errorf("%w: no graph for topic", apperrors.ErrNotFound),
			want: true,
		},
		{
			name: "message pattern",
			err:  errors.New("user_id must not contain path separators"),
			want: true,
		},
		{
			name: "system failure",
			err:  errors.New("connection refused"),
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsInputError(tt.err))
		})
	}
}
