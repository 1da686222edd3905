package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/services"
)

// MemoryToolDeps contains dependencies for memory tools.
type MemoryToolDeps struct {
	Memory services.MemoryService
	Logger *zap.Logger
}

// RegisterMemoryTools registers the personal memory MCP tools.
func RegisterMemoryTools(s *server.MCPServer, deps *MemoryToolDeps) {
	registerRetrieveMemoryTool(s, deps)
}

// registerRetrieveMemoryTool adds the retrieve_memory tool over a user's
// memory topic.
func registerRetrieveMemoryTool(s *server.MCPServer, deps *MemoryToolDeps) {
	tool := mcp.NewTool(
		"retrieve_memory",
		mcp.WithDescription(
			"Recalls what a user's stored conversations say about a query. "+
				"Searches the user's personal memory graph and returns the "+
				"matching relationships plus the raw knowledge blocks they "+
				"were built from. "+
				"Example: retrieve_memory(user_id='alice', query='launch date').",
		),
		mcp.WithString(
			"user_id",
			mcp.Required(),
			mcp.Description("The user whose memory to search"),
		),
		mcp.WithString(
			"query",
			mcp.Required(),
			mcp.Description("Natural language recall query"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return nil, err
		}
		query, err := req.RequireString("query")
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(query) == "" {
			return NewErrorResult("invalid_parameters", "query parameter cannot be empty"), nil
		}

		retrieval, err := deps.Memory.Retrieve(ctx, userID, query, "")
		if err != nil {
			if IsInputError(err) {
				deps.Logger.Debug("retrieve_memory rejected input",
					zap.String("user_id", userID),
					zap.Error(err))
				return NewErrorResult("invalid_parameters", err.Error()), nil
			}
			return nil, fmt.Errorf("retrieving memory: %w", err)
		}

		jsonResult, err := json.Marshal(retrieval)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}
