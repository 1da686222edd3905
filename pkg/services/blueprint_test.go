package services

import (
	"context"
	"errors"
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
// Mock Implementations for Blueprint Tests
// ============================================================================

type mockBlueprintRepo struct {
	blueprints map[string]*models.AnalysisBlueprint
	creates    int
	createErr  error
	getErr     error
}

func newMockBlueprintRepo() *mockBlueprintRepo {
	return &mockBlueprintRepo{blueprints: make(map[string]*models.AnalysisBlueprint)}
}

func (m *mockBlueprintRepo) Create(ctx context.Context, bp *models.AnalysisBlueprint) error {
	if m.createErr != nil {
		return m.createErr
	}
	if bp.ID == uuid.Nil {
		bp.ID = uuid.New()
	}
	m.blueprints[bp.TopicName] = bp
	m.creates++
	return nil
}

func (m *mockBlueprintRepo) GetByTopic(ctx context.Context, topicName string) (*models.AnalysisBlueprint, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	bp, ok := m.blueprints[topicName]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return bp, nil
}

func newBlueprintTestService() (*blueprintService, *mockBlueprintRepo, *llm.MockLLMClient) {
	repo := newMockBlueprintRepo()
	chat := llm.NewMockLLMClient()
	svc := &blueprintService{
		blueprintRepo: repo,
		llmClient:     chat,
		logger:        zap.NewNop(),
	}
	return svc, repo, chat
}

func testCognitiveMaps() []*models.CognitiveMap {
	return []*models.CognitiveMap{
		{SourceID: uuid.New(), SourceName: "report-a", Summary: "First report."},
		{SourceID: uuid.New(), SourceName: "report-b", Summary: "Second report."},
	}
}

const blueprintResponse = `{
	"canonical_entities": {"Acme Corp": {"aliases": ["ACME"], "entity_type": "Organization"}},
	"key_patterns": {"relationship_patterns": ["Acquisitions trigger restructuring."]},
	"global_timeline": [{"period": "2025-Q3", "key_events": ["EMEA launch"]}],
	"processing_instructions": {
		"conflict_handling": "Prefer newer documents.",
		"quality_focus": "Precision over recall."
	}
}`

// ============================================================================
// GenerateBlueprint Tests
// ============================================================================

func TestGenerateBlueprint_NewTopic(t *testing.T) {
	svc, repo, chat := newBlueprintTestService()
	maps := testCognitiveMaps()
	chat.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		assert.Contains(t, prompt, "report-a")
		assert.Contains(t, prompt, "report-b")
		assert.Contains(t, prompt, `"acme"`)
		return blueprintResponse, nil
	}

	bp, err := svc.GenerateBlueprint(context.Background(), "acme", maps, false)
	require.NoError(t, err)

	assert.Equal(t, "acme", bp.TopicName)
	assert.Equal(t, 2, bp.ProcessingItems[models.BlueprintItemDocumentCount])

	canonical, ok := bp.ProcessingItems[models.BlueprintItemCanonicalEntities].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, canonical, "Acme Corp")

	assert.Contains(t, bp.ProcessingInstructions, "CONFLICT_HANDLING:\nPrefer newer documents.")
	assert.Contains(t, bp.ProcessingInstructions, "QUALITY_FOCUS:\nPrecision over recall.")
	assert.Equal(t, 1, repo.creates)
}

func TestGenerateBlueprint_ReusesExisting(t *testing.T) {
	svc, repo, chat := newBlueprintTestService()
	existing := &models.AnalysisBlueprint{ID: uuid.New(), TopicName: "acme", ProcessingInstructions: "KEEP:\nexisting"}
	repo.blueprints["acme"] = existing

	bp, err := svc.GenerateBlueprint(context.Background(), "acme", testCognitiveMaps(), false)
	require.NoError(t, err)

	assert.Equal(t, existing.ID, bp.ID)
	assert.Equal(t, 0, chat.GenerateResponseCalls)
	assert.Equal(t, 0, repo.creates)
}

func TestGenerateBlueprint_ForceRegenerates(t *testing.T) {
	svc, repo, chat := newBlueprintTestService()
	repo.blueprints["acme"] = &models.AnalysisBlueprint{ID: uuid.New(), TopicName: "acme", ProcessingInstructions: "stale"}
	chat.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		return blueprintResponse, nil
	}

	bp, err := svc.GenerateBlueprint(context.Background(), "acme", testCognitiveMaps(), true)
	require.NoError(t, err)

	assert.Contains(t, bp.ProcessingInstructions, "CONFLICT_HANDLING:")
	assert.Equal(t, 1, chat.GenerateResponseCalls)
	assert.Equal(t, 1, repo.creates)
}

func TestGenerateBlueprint_NoMaps(t *testing.T) {
	svc, _, _ := newBlueprintTestService()

	_, err := svc.GenerateBlueprint(context.Background(), "acme", nil, false)
	require.Error(t, err)

	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Contains(t, err.Error(), "no cognitive maps found")
}

func TestGenerateBlueprint_LLMFailure(t *testing.T) {
	svc, _, chat := newBlueprintTestService()
	chat.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		return "", errors.New("model overloaded")
	}

	_, err := svc.GenerateBlueprint(context.Background(), "acme", testCognitiveMaps(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blueprint call")
}

// ============================================================================
// flattenProcessingInstructions Tests
// ============================================================================

func TestFlattenProcessingInstructions_Sections(t *testing.T) {
	got := flattenProcessingInstructions(map[string]any{
		"conflict_handling":   "Prefer newer documents.",
		"quality_focus":       []any{"precision", "recall"},
		"extraction_emphasis": "",
		"custom_note":         "Check dates.",
	})

	want := "CONFLICT_HANDLING:\nPrefer newer documents.\n\nQUALITY_FOCUS:\n  - precision\n  - recall\n\nCUSTOM_NOTE:\nCheck dates.\n"
	assert.Equal(t, want, got)
}

func TestFlattenProcessingInstructions_PlainString(t *testing.T) {
	assert.Equal(t, "Just follow the timeline.", flattenProcessingInstructions("Just follow the timeline."))
}

func TestFlattenProcessingInstructions_UnusableValues(t *testing.T) {
	assert.Empty(t, flattenProcessingInstructions(nil))
	assert.Empty(t, flattenProcessingInstructions(42))
	assert.Empty(t, flattenProcessingInstructions(map[string]any{"conflict_handling": nil}))
}
