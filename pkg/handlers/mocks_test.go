package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/chronicle-ai/chronicle-engine/pkg/models"
	"github.com/chronicle-ai/chronicle-engine/pkg/services"
)

// ============================================================================
// Shared Mock Implementations
// ============================================================================

type mockUploadService struct {
	files     []services.UploadFile
	links     []string
	topicName string
	tenantURI string
	result    *services.UploadResult
	err       error
}

func (m *mockUploadService) Upload(ctx context.Context, files []services.UploadFile, links []string, topicName, tenantURI string) (*services.UploadResult, error) {
	m.files = files
	m.links = links
	m.topicName = topicName
	m.tenantURI = tenantURI
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &services.UploadResult{UploadedCount: len(files), TotalCount: len(files), SuccessRate: 1}, nil
}

type mockStoreResolver struct {
	scopedURIs []string
	scopeErr   error
}

func (m *mockStoreResolver) IsLocal(uri string) bool { return uri == "" }

func (m *mockStoreResolver) WithScope(ctx context.Context, uri string) (context.Context, error) {
	m.scopedURIs = append(m.scopedURIs, uri)
	if m.scopeErr != nil {
		return nil, m.scopeErr
	}
	return ctx, nil
}

func (m *mockStoreResolver) Validate(ctx context.Context, uri string) error { return nil }

type mockBuildStatusRepo struct {
	summaries   []*models.TopicStatusSummary
	summaryErr  error
	listFilters []*string
}

func (m *mockBuildStatusRepo) Schedule(context.Context, *models.GraphBuildStatus) error { return nil }

func (m *mockBuildStatusRepo) Get(context.Context, string, uuid.UUID, string) (*models.GraphBuildStatus, error) {
	return nil, nil
}

func (m *mockBuildStatusRepo) NextScheduled(context.Context) (*models.GraphBuildStatus, error) {
	return nil, nil
}

func (m *mockBuildStatusRepo) ListActiveByJob(context.Context, string, string) ([]*models.GraphBuildStatus, error) {
	return nil, nil
}

func (m *mockBuildStatusRepo) UpdateStatus(context.Context, string, string, []uuid.UUID, string, *string) error {
	return nil
}

func (m *mockBuildStatusRepo) ListTopicSummaries(ctx context.Context, externalDatabaseURI *string) ([]*models.TopicStatusSummary, error) {
	m.listFilters = append(m.listFilters, externalDatabaseURI)
	if m.summaryErr != nil {
		return nil, m.summaryErr
	}
	return m.summaries, nil
}

type mockMemoryService struct {
	userID    string
	messages  []services.ChatMessage
	tenantURI string
	query     string
	result    *services.UploadResult
	retrieval *services.MemoryRetrieval
	storeErr  error
	fetchErr  error
}

func (m *mockMemoryService) Store(ctx context.Context, userID string, messages []services.ChatMessage, tenantURI string) (*services.UploadResult, error) {
	m.userID = userID
	m.messages = messages
	m.tenantURI = tenantURI
	if m.storeErr != nil {
		return nil, m.storeErr
	}
	if m.result != nil {
		return m.result, nil
	}
	return &services.UploadResult{UploadedCount: 1, TotalCount: 1, SuccessRate: 1}, nil
}

func (m *mockMemoryService) Retrieve(ctx context.Context, userID, query, tenantURI string) (*services.MemoryRetrieval, error) {
	m.userID = userID
	m.query = query
	m.tenantURI = tenantURI
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if m.retrieval != nil {
		return m.retrieval, nil
	}
	return &services.MemoryRetrieval{UserID: userID, Subgraph: &models.GraphPayload{}}, nil
}
