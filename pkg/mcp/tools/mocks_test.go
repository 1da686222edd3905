package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"

	"github.com/chronicle-ai/chronicle-engine/pkg/models"
	"github.com/chronicle-ai/chronicle-engine/pkg/services"
)

// ============================================================================
// Shared Mock Implementations
// ============================================================================

type mockGraphQuery struct {
	payload    *models.GraphPayload
	err        error
	topics     []string
	queries    []string
	topKs      []int
	thresholds []float64
}

func (m *mockGraphQuery) SearchSubgraph(ctx context.Context, topicName, query string, topK int, threshold float64) (*models.GraphPayload, error) {
	m.topics = append(m.topics, topicName)
	m.queries = append(m.queries, query)
	m.topKs = append(m.topKs, topK)
	m.thresholds = append(m.thresholds, threshold)
	if m.err != nil {
		return nil, m.err
	}
	if m.payload != nil {
		return m.payload, nil
	}
	return &models.GraphPayload{}, nil
}

func (m *mockGraphQuery) SourceSubgraph(ctx context.Context, sourceID uuid.UUID, topicName string) (*models.GraphPayload, error) {
	return &models.GraphPayload{}, nil
}

func (m *mockGraphQuery) SearchBlocks(ctx context.Context, topicName, query string, topK int, threshold float64) ([]*models.KnowledgeBlock, error) {
	return nil, nil
}

type mockStatusRepo struct {
	summaries []*models.TopicStatusSummary
	err       error
	filters   []*string
}

func (m *mockStatusRepo) Schedule(context.Context, *models.GraphBuildStatus) error { return nil }

func (m *mockStatusRepo) Get(context.Context, string, uuid.UUID, string) (*models.GraphBuildStatus, error) {
	return nil, nil
}

func (m *mockStatusRepo) NextScheduled(context.Context) (*models.GraphBuildStatus, error) {
	return nil, nil
}

func (m *mockStatusRepo) ListActiveByJob(context.Context, string, string) ([]*models.GraphBuildStatus, error) {
	return nil, nil
}

func (m *mockStatusRepo) UpdateStatus(context.Context, string, string, []uuid.UUID, string, *string) error {
	return nil
}

func (m *mockStatusRepo) ListTopicSummaries(ctx context.Context, externalDatabaseURI *string) ([]*models.TopicStatusSummary, error) {
	m.filters = append(m.filters, externalDatabaseURI)
	if m.err != nil {
		return nil, m.err
	}
	return m.summaries, nil
}

type mockStores struct {
	scopedURIs []string
	err        error
}

func (m *mockStores) IsLocal(uri string) bool { return uri == "" }

func (m *mockStores) WithScope(ctx context.Context, uri string) (context.Context, error) {
	m.scopedURIs = append(m.scopedURIs, uri)
	if m.err != nil {
		return nil, m.err
	}
	return ctx, nil
}

func (m *mockStores) Validate(ctx context.Context, uri string) error { return nil }

type mockMemory struct {
	retrieval *services.MemoryRetrieval
	err       error
	userIDs   []string
	queries   []string
}

func (m *mockMemory) Store(ctx context.Context, userID string, messages []services.ChatMessage, tenantURI string) (*services.UploadResult, error) {
	return &services.UploadResult{UploadedCount: 1, TotalCount: 1}, nil
}

func (m *mockMemory) Retrieve(ctx context.Context, userID, query, tenantURI string) (*services.MemoryRetrieval, error) {
	m.userIDs = append(m.userIDs, userID)
	m.queries = append(m.queries, query)
	if m.err != nil {
		return nil, m.err
	}
	if m.retrieval != nil {
		return m.retrieval, nil
	}
	return &services.MemoryRetrieval{UserID: userID, Subgraph: &models.GraphPayload{}}, nil
}

// ============================================================================
// JSON-RPC helpers
// ============================================================================

type toolCallResponse struct {
	Result struct {
		IsError bool `json:"isError"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// callTool drives a registered tool through the JSON-RPC surface and returns
// the parsed response.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) toolCallResponse {
	t.Helper()

	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	request := map[string]any{
		"jsonrpc": "2.0",
		"method":  "tools/call",
		"params":  params,
		"id":      1,
	}
	requestBytes, err := json.Marshal(request)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	raw := s.HandleMessage(context.Background(), requestBytes)
	rawBytes, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("failed to marshal response: %v", err)
	}

	var response toolCallResponse
	if err := json.Unmarshal(rawBytes, &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return response
}

// toolText returns the first text content of a tool call response.
func toolText(t *testing.T, response toolCallResponse) string {
	t.Helper()
	if len(response.Result.Content) == 0 {
		t.Fatal("expected content in tool response")
	}
	return response.Result.Content[0].Text
}
