package tools

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// optionalString reads an optional string argument, trimmed, falling back to
// def when absent or not a string.
func optionalString(req mcp.CallToolRequest, name, def string) string {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return def
	}
	if raw, ok := args[name].(string); ok {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			return trimmed
		}
	}
	return def
}

// optionalInt reads an optional numeric argument, falling back to def when
// absent. JSON numbers arrive as float64.
func optionalInt(req mcp.CallToolRequest, name string, def int) int {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return def
	}
	if raw, ok := args[name].(float64); ok {
		return int(raw)
	}
	return def
}
