package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/llm"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
)

// ============================================================================
// Mock Implementations for Cognitive Map Tests
// ============================================================================

type mockSummaryRepo struct {
	summaries map[string]*models.DocumentSummary
	upserts   int
	upsertErr error
	getErr    error
}

func newMockSummaryRepo() *mockSummaryRepo {
	return &mockSummaryRepo{summaries: make(map[string]*models.DocumentSummary)}
}

func summaryKey(documentID uuid.UUID, topicName string) string {
	return documentID.String() + "/" + topicName
}

func (m *mockSummaryRepo) Upsert(ctx context.Context, summary *models.DocumentSummary) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if summary.ID == uuid.Nil {
		summary.ID = uuid.New()
	}
	m.summaries[summaryKey(summary.DocumentID, summary.TopicName)] = summary
	m.upserts++
	return nil
}

func (m *mockSummaryRepo) GetByDocumentAndTopic(ctx context.Context, documentID uuid.UUID, topicName, documentType string) (*models.DocumentSummary, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	summary, ok := m.summaries[summaryKey(documentID, topicName)]
	if !ok || summary.DocumentType != documentType {
		return nil, apperrors.ErrNotFound
	}
	return summary, nil
}

func newCognitiveTestService() (*cognitiveMapService, *mockSummaryRepo, *mockContentRepo, *llm.MockLLMClient) {
	summaryRepo := newMockSummaryRepo()
	contentRepo := newMockContentRepo()
	chat := llm.NewMockLLMClient()
	svc := &cognitiveMapService{
		summaryRepo: summaryRepo,
		contentRepo: contentRepo,
		llmClient:   chat,
		workerPool:  llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: 1}, zap.NewNop()),
		logger:      zap.NewNop(),
	}
	return svc, summaryRepo, contentRepo, chat
}

func seedMapSource(contentRepo *mockContentRepo, name, content string) *models.SourceData {
	contentBytes := []byte(content)
	hash := models.HashContent(contentBytes)
	contentRepo.entries[hex.EncodeToString(hash)] = &models.ContentEntry{
		ContentHash: hash,
		Content:     contentBytes,
		Size:        int64(len(contentBytes)),
		Mime:        MimeMarkdown,
	}
	return &models.SourceData{
		ID:          uuid.New(),
		Name:        name,
		Link:        "upload://acme/" + name + ".md",
		Mime:        MimeMarkdown,
		ContentHash: hash,
		Attributes:  map[string]any{models.AttrTopicName: "acme"},
	}
}

const mapResponse = `{
	"summary": "A report on Q3 revenue.",
	"key_entities": ["Acme Corp"],
	"theme_keywords": ["revenue"],
	"important_timeline": ["EMEA launch: 2025-07"],
	"structural_patterns": "chronological"
}`

// ============================================================================
// GenerateMap Tests
// ============================================================================

func TestGenerateMap_NewDocument(t *testing.T) {
	svc, summaryRepo, contentRepo, chat := newCognitiveTestService()
	source := seedMapSource(contentRepo, "q3-report", "# Q3\n\nRevenue grew.")
	chat.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		assert.Contains(t, prompt, "Document: q3-report")
		assert.Contains(t, prompt, "Revenue grew.")
		return mapResponse, nil
	}

	m, err := svc.GenerateMap(context.Background(), source, "acme", false)
	require.NoError(t, err)

	assert.Equal(t, source.ID, m.SourceID)
	assert.Equal(t, "q3-report", m.SourceName)
	assert.Equal(t, "A report on Q3 revenue.", m.Summary)
	assert.Equal(t, []string{"Acme Corp"}, m.KeyEntities)
	assert.Equal(t, "chronological", m.StructuralPatterns)
	assert.Equal(t, 1, chat.GenerateResponseCalls)

	cached, err := summaryRepo.GetByDocumentAndTopic(context.Background(), source.ID, "acme", models.DocumentTypeCognitiveMap)
	require.NoError(t, err)
	assert.Equal(t, "A report on Q3 revenue.", cached.SummaryContent)
	assert.Equal(t, models.DocumentTypeCognitiveMap, cached.DocumentType)
}

func TestGenerateMap_ServesFromCache(t *testing.T) {
	svc, summaryRepo, _, chat := newCognitiveTestService()
	source := &models.SourceData{ID: uuid.New(), Name: "q3-report"}
	cachedMap := &models.CognitiveMap{
		SourceID:           source.ID,
		SourceName:         source.Name,
		Summary:            "Cached summary.",
		StructuralPatterns: "thematic",
	}
	require.NoError(t, summaryRepo.Upsert(context.Background(), cachedMap.ToSummary("acme")))

	m, err := svc.GenerateMap(context.Background(), source, "acme", false)
	require.NoError(t, err)

	assert.Equal(t, "Cached summary.", m.Summary)
	assert.Equal(t, "thematic", m.StructuralPatterns)
	assert.Equal(t, 0, chat.GenerateResponseCalls)
}

func TestGenerateMap_ForceRegenerates(t *testing.T) {
	svc, summaryRepo, contentRepo, chat := newCognitiveTestService()
	source := seedMapSource(contentRepo, "q3-report", "# Q3\n\nRevenue grew.")
	stale := &models.CognitiveMap{SourceID: source.ID, SourceName: source.Name, Summary: "Stale summary."}
	require.NoError(t, summaryRepo.Upsert(context.Background(), stale.ToSummary("acme")))
	summaryRepo.upserts = 0
	chat.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		return mapResponse, nil
	}

	m, err := svc.GenerateMap(context.Background(), source, "acme", true)
	require.NoError(t, err)

	assert.Equal(t, "A report on Q3 revenue.", m.Summary)
	assert.Equal(t, 1, chat.GenerateResponseCalls)
	assert.Equal(t, 1, summaryRepo.upserts)

	cached, err := summaryRepo.GetByDocumentAndTopic(context.Background(), source.ID, "acme", models.DocumentTypeCognitiveMap)
	require.NoError(t, err)
	assert.Equal(t, "A report on Q3 revenue.", cached.SummaryContent)
}

func TestGenerateMap_AppliesDefaults(t *testing.T) {
	svc, _, contentRepo, chat := newCognitiveTestService()
	source := seedMapSource(contentRepo, "sparse", "# Sparse")
	chat.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		return "{}", nil
	}

	m, err := svc.GenerateMap(context.Background(), source, "acme", false)
	require.NoError(t, err)

	assert.Equal(t, "Summary generation failed", m.Summary)
	assert.Equal(t, "unknown", m.StructuralPatterns)
	assert.Empty(t, m.KeyEntities)
}

func TestGenerateMap_CacheLookupFailureRegenerates(t *testing.T) {
	svc, summaryRepo, contentRepo, chat := newCognitiveTestService()
	source := seedMapSource(contentRepo, "q3-report", "# Q3")
	summaryRepo.getErr = errors.New("connection reset")
	chat.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		return mapResponse, nil
	}

	m, err := svc.GenerateMap(context.Background(), source, "acme", false)
	require.NoError(t, err)

	assert.Equal(t, "A report on Q3 revenue.", m.Summary)
	assert.Equal(t, 1, chat.GenerateResponseCalls)
}

func TestGenerateMap_ParseFailure(t *testing.T) {
	svc, _, contentRepo, chat := newCognitiveTestService()
	source := seedMapSource(contentRepo, "garbled", "# Garbled")
	chat.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		return "the model refused to answer in JSON", nil
	}

	_, err := svc.GenerateMap(context.Background(), source, "acme", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing cognitive map")
}

func TestGenerateMap_MissingContent(t *testing.T) {
	svc, _, _, _ := newCognitiveTestService()
	source := &models.SourceData{ID: uuid.New(), Name: "lost", ContentHash: []byte{0x01}}

	_, err := svc.GenerateMap(context.Background(), source, "acme", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading content")
}

// ============================================================================
// GenerateMaps Tests
// ============================================================================

func TestGenerateMaps_PreservesOrder(t *testing.T) {
	svc, summaryRepo, contentRepo, chat := newCognitiveTestService()
	names := []string{"alpha", "beta", "gamma"}
	sources := make([]*models.SourceData, 0, len(names))
	for _, name := range names {
		sources = append(sources, seedMapSource(contentRepo, name, "# "+name))
	}
	chat.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		for _, name := range names {
			if strings.Contains(prompt, "Document: "+name) {
				return fmt.Sprintf(`{"summary": "About %s.", "structural_patterns": "thematic"}`, name), nil
			}
		}
		return "", errors.New("unexpected prompt")
	}

	maps, err := svc.GenerateMaps(context.Background(), sources, "acme", false)
	require.NoError(t, err)
	require.Len(t, maps, 3)

	for i, name := range names {
		assert.Equal(t, sources[i].ID, maps[i].SourceID)
		assert.Equal(t, "About "+name+".", maps[i].Summary)
	}
	assert.Equal(t, 3, summaryRepo.upserts)
}

func TestGenerateMaps_AnyFailureFailsBatch(t *testing.T) {
	svc, summaryRepo, contentRepo, chat := newCognitiveTestService()
	good := seedMapSource(contentRepo, "good", "# Good")
	// No content entry exists for this source, so its map generation fails.
	bad := &models.SourceData{ID: uuid.New(), Name: "bad", ContentHash: []byte{0xff}}
	chat.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		return mapResponse, nil
	}

	_, err := svc.GenerateMaps(context.Background(), []*models.SourceData{good, bad}, "acme", false)
	require.Error(t, err)

	assert.Contains(t, err.Error(), "1 of 2")
	assert.Equal(t, 1, summaryRepo.upserts)
}

func TestGenerateMaps_Empty(t *testing.T) {
	svc, _, _, _ := newCognitiveTestService()

	maps, err := svc.GenerateMaps(context.Background(), nil, "acme", false)
	require.NoError(t, err)
	assert.Nil(t, maps)
}
