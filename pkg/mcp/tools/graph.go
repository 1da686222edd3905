// Package tools provides MCP tool implementations for chronicle-engine.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/models"
	"github.com/chronicle-ai/chronicle-engine/pkg/repositories"
	"github.com/chronicle-ai/chronicle-engine/pkg/services"
)

// maxSearchTopK caps how many relationships a single tool call can pull.
const maxSearchTopK = 50

// GraphToolDeps contains dependencies for graph read tools.
type GraphToolDeps struct {
	Query      services.GraphQueryService
	StatusRepo repositories.BuildStatusRepository
	Stores     services.StoreResolver
	Logger     *zap.Logger
}

// RegisterGraphTools registers the read-only graph MCP tools.
func RegisterGraphTools(s *server.MCPServer, deps *GraphToolDeps) {
	registerSearchGraphTool(s, deps)
	registerListTopicsTool(s, deps)
}

// registerSearchGraphTool adds the search_graph tool for vector retrieval
// over the knowledge graph.
func registerSearchGraphTool(s *server.MCPServer, deps *GraphToolDeps) {
	tool := mcp.NewTool(
		"search_graph",
		mcp.WithDescription(
			"Vector search over the knowledge graph. Returns the relationships "+
				"most similar to the query with both endpoint entities hydrated, "+
				"ordered by descending similarity. "+
				"Example: search_graph(query='who acquired Initech', topic_name='acme') "+
				"returns the acquisition-related edges of the acme graph.",
		),
		mcp.WithString(
			"query",
			mcp.Required(),
			mcp.Description("Natural language search query"),
		),
		mcp.WithString(
			"topic_name",
			mcp.Description("Restrict the search to one topic (default: all topics)"),
		),
		mcp.WithNumber(
			"top_k",
			mcp.Description("Maximum number of relationships to return (default 10, max 50)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return nil, err
		}
		query = strings.TrimSpace(query)
		if query == "" {
			return NewErrorResult("invalid_parameters", "query parameter cannot be empty"), nil
		}

		topicName := optionalString(req, "topic_name", "")
		topK := optionalInt(req, "top_k", services.DefaultSearchTopK)
		if topK > maxSearchTopK {
			topK = maxSearchTopK
		}

		scoped, err := deps.Stores.WithScope(ctx, "")
		if err != nil {
			return nil, err
		}

		payload, err := deps.Query.SearchSubgraph(scoped, topicName, query, topK, services.DefaultSimilarityThreshold)
		if err != nil {
			if IsInputError(err) {
				deps.Logger.Debug("search_graph rejected input", zap.Error(err))
				return NewErrorResult("invalid_parameters", err.Error()), nil
			}
			return nil, fmt.Errorf("searching graph: %w", err)
		}

		result := searchGraphResult{
			Query:         query,
			TopicName:     topicName,
			Entities:      payload.Entities,
			Relationships: payload.Relationships,
			TotalCount:    len(payload.Relationships),
		}
		jsonResult, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}

// searchGraphResult contains the hydrated subgraph for a search.
type searchGraphResult struct {
	Query         string                       `json:"query"`
	TopicName     string                       `json:"topic_name,omitempty"`
	Entities      []models.EntitySummary       `json:"entities"`
	Relationships []models.RelationshipSummary `json:"relationships"`
	TotalCount    int                          `json:"total_count"`
}

// registerListTopicsTool adds the list_topics tool over the build queue
// aggregation.
func registerListTopicsTool(s *server.MCPServer, deps *GraphToolDeps) {
	tool := mcp.NewTool(
		"list_topics",
		mcp.WithDescription(
			"Lists every knowledge graph topic with its build queue counts "+
				"(pending, processing, completed, failed) and the time of the "+
				"latest build activity.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		scoped, err := deps.Stores.WithScope(ctx, "")
		if err != nil {
			return nil, err
		}

		summaries, err := deps.StatusRepo.ListTopicSummaries(scoped, nil)
		if err != nil {
			return nil, fmt.Errorf("listing topics: %w", err)
		}

		result := listTopicsResult{Topics: summaries, TotalCount: len(summaries)}
		jsonResult, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}

// listTopicsResult contains the per-topic build queue aggregation.
type listTopicsResult struct {
	Topics     []*models.TopicStatusSummary `json:"topics"`
	TotalCount int                          `json:"total_count"`
}
