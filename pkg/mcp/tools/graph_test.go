package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/models"
)

func newGraphToolServer(t *testing.T) (*server.MCPServer, *mockGraphQuery, *mockStatusRepo, *mockStores) {
	t.Helper()
	s := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	query := &mockGraphQuery{}
	statusRepo := &mockStatusRepo{}
	stores := &mockStores{}
	RegisterGraphTools(s, &GraphToolDeps{
		Query:      query,
		StatusRepo: statusRepo,
		Stores:     stores,
		Logger:     zap.NewNop(),
	})
	return s, query, statusRepo, stores
}

func TestSearchGraphTool_ReturnsHydratedSubgraph(t *testing.T) {
	s, query, _, stores := newGraphToolServer(t)
	query.payload = &models.GraphPayload{
		Entities: []models.EntitySummary{
			{ID: "e1", Name: "Initech"},
			{ID: "e2", Name: "Globex"},
		},
		Relationships: []models.RelationshipSummary{
			{ID: "r1", SourceEntity: "Globex", TargetEntity: "Initech", Description: "acquired"},
		},
	}

	response := callTool(t, s, "search_graph", map[string]any{
		"query":      "who acquired Initech",
		"topic_name": "acme",
		"top_k":      float64(5),
	})
	if response.Error != nil {
		t.Fatalf("unexpected protocol error: %s", response.Error.Message)
	}
	if response.Result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, response))
	}

	var result searchGraphResult
	if err := json.Unmarshal([]byte(toolText(t, response)), &result); err != nil {
		t.Fatalf("failed to parse result: %v", err)
	}
	if result.TotalCount != 1 {
		t.Errorf("expected 1 relationship, got %d", result.TotalCount)
	}
	if len(result.Entities) != 2 {
		t.Errorf("expected 2 entities, got %d", len(result.Entities))
	}
	if result.Relationships[0].Description != "acquired" {
		t.Errorf("unexpected relationship: %+v", result.Relationships[0])
	}

	if len(query.topics) != 1 || query.topics[0] != "acme" {
		t.Errorf("expected topic 'acme', got %v", query.topics)
	}
	if query.topKs[0] != 5 {
		t.Errorf("expected top_k 5, got %d", query.topKs[0])
	}
	if len(stores.scopedURIs) != 1 || stores.scopedURIs[0] != "" {
		t.Errorf("expected local store scope, got %v", stores.scopedURIs)
	}
}

func TestSearchGraphTool_DefaultsAndCaps(t *testing.T) {
	s, query, _, _ := newGraphToolServer(t)

	callTool(t, s, "search_graph", map[string]any{"query": "anything"})
	if query.topKs[0] != 10 {
		t.Errorf("expected default top_k 10, got %d", query.topKs[0])
	}
	if query.topics[0] != "" {
		t.Errorf("expected all-topics search, got %q", query.topics[0])
	}

	callTool(t, s, "search_graph", map[string]any{"query": "anything", "top_k": float64(500)})
	if query.topKs[1] != maxSearchTopK {
		t.Errorf("expected top_k capped at %d, got %d", maxSearchTopK, query.topKs[1])
	}
}

func TestSearchGraphTool_EmptyQueryIsToolError(t *testing.T) {
	s, query, _, _ := newGraphToolServer(t)

	response := callTool(t, s, "search_graph", map[string]any{"query": "   "})
	if !response.Result.IsError {
		t.Fatal("expected tool error for empty query")
	}

	var errResp ErrorResponse
	if err := json.Unmarshal([]byte(toolText(t, response)), &errResp); err != nil {
		t.Fatalf("failed to parse error: %v", err)
	}
	if errResp.Code != "invalid_parameters" {
		t.Errorf("expected invalid_parameters, got %s", errResp.Code)
	}
	if len(query.queries) != 0 {
		t.Error("search must not run on empty query")
	}
}

func TestSearchGraphTool_SystemFailureIsProtocolError(t *testing.T) {
	s, query, _, _ := newGraphToolServer(t)
	query.err = errors.New("embedding endpoint down")

	response := callTool(t, s, "search_graph", map[string]any{"query": "anything"})
	if !response.Result.IsError && response.Error == nil {
		t.Fatal("expected an error for system failure")
	}
}

func TestListTopicsTool_AggregatesQueue(t *testing.T) {
	s, _, statusRepo, _ := newGraphToolServer(t)
	statusRepo.summaries = []*models.TopicStatusSummary{
		{TopicName: "acme", Pending: 2, Completed: 5, LatestUpdate: time.Now().UTC()},
		{TopicName: "memory_alice", Completed: 1},
	}

	response := callTool(t, s, "list_topics", nil)
	if response.Result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, response))
	}

	var result listTopicsResult
	if err := json.Unmarshal([]byte(toolText(t, response)), &result); err != nil {
		t.Fatalf("failed to parse result: %v", err)
	}
	if result.TotalCount != 2 {
		t.Errorf("expected 2 topics, got %d", result.TotalCount)
	}
	if result.Topics[0].TopicName != "acme" || result.Topics[0].Pending != 2 {
		t.Errorf("unexpected first topic: %+v", result.Topics[0])
	}

	// Every store's summary rows live in the local status table.
	if len(statusRepo.filters) != 1 || statusRepo.filters[0] != nil {
		t.Errorf("expected unfiltered listing, got %v", statusRepo.filters)
	}
}

func TestGraphTools_AreListed(t *testing.T) {
	s, _, _, _ := newGraphToolServer(t)

	raw := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	rawBytes, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}

	var response struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rawBytes, &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	found := map[string]bool{}
	for _, tool := range response.Result.Tools {
		found[tool.Name] = true
	}
	if !found["search_graph"] || !found["list_topics"] {
		t.Errorf("expected search_graph and list_topics registered, got %v", found)
	}
}
