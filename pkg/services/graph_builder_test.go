package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/llm"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
	"github.com/chronicle-ai/chronicle-engine/pkg/prompts"
)

// ============================================================================
// Mock Implementations for Builder Tests
// ============================================================================

type mockMapStage struct {
	err  error
	maps []*models.CognitiveMap
}

func (m *mockMapStage) GenerateMap(ctx context.Context, source *models.SourceData, topicName string, force bool) (*models.CognitiveMap, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.CognitiveMap{SourceID: source.ID, SourceName: source.Name}, nil
}

func (m *mockMapStage) GenerateMaps(ctx context.Context, sources []*models.SourceData, topicName string, force bool) ([]*models.CognitiveMap, error) {
	if m.err != nil {
		return nil, m.err
	}
	maps := make([]*models.CognitiveMap, len(sources))
	for i, src := range sources {
		maps[i] = &models.CognitiveMap{
			SourceID:   src.ID,
			SourceName: src.Name,
			Summary:    "summary of " + src.Name,
		}
	}
	m.maps = maps
	return maps, nil
}

type mockBlueprintStage struct {
	err       error
	calls     int
	blueprint *models.AnalysisBlueprint
	gotMaps   []*models.CognitiveMap
}

func (m *mockBlueprintStage) GenerateBlueprint(ctx context.Context, topicName string, cognitiveMaps []*models.CognitiveMap, force bool) (*models.AnalysisBlueprint, error) {
	m.calls++
	m.gotMaps = cognitiveMaps
	if m.err != nil {
		return nil, m.err
	}
	if m.blueprint == nil {
		m.blueprint = &models.AnalysisBlueprint{
			ID:                     uuid.New(),
			TopicName:              topicName,
			ProcessingInstructions: "CONFLICT HANDLING:\n  - prefer newer facts",
		}
	}
	return m.blueprint, nil
}

type mockMaterializerStage struct {
	err       error
	entities  int
	rels      int
	batches   [][]*models.Triplet
	sourceIDs []uuid.UUID
}

func (m *mockMaterializerStage) MaterializeTriplets(ctx context.Context, triplets []*models.Triplet, sourceID uuid.UUID) (int, int, error) {
	if m.err != nil {
		return 0, 0, m.err
	}
	m.batches = append(m.batches, triplets)
	m.sourceIDs = append(m.sourceIDs, sourceID)
	return m.entities, m.rels, nil
}

type mockEnhancerStage struct {
	err        error
	entities   int
	rels       int
	sources    []*models.SourceData
	blueprints []*models.AnalysisBlueprint
	maps       []*models.CognitiveMap
}

func (m *mockEnhancerStage) EnhanceSource(ctx context.Context, source *models.SourceData, topicName string, blueprint *models.AnalysisBlueprint, cognitiveMap *models.CognitiveMap) (int, int, error) {
	if m.err != nil {
		return 0, 0, m.err
	}
	m.sources = append(m.sources, source)
	m.blueprints = append(m.blueprints, blueprint)
	m.maps = append(m.maps, cognitiveMap)
	return m.entities, m.rels, nil
}

func (m *mockEnhancerStage) EnhanceDocument(ctx context.Context, sourceID uuid.UUID, topicName string) (int, int, error) {
	return 0, 0, nil
}

type builderFixture struct {
	maps         *mockMapStage
	blueprints   *mockBlueprintStage
	materializer *mockMaterializerStage
	enhancer     *mockEnhancerStage
	contentRepo  *mockContentRepo
	mappingRepo  *mockSourceGraphMappingRepo
	chat         *llm.MockLLMClient
	svc          GraphBuilderService
}

func newBuilderFixture() *builderFixture {
	f := &builderFixture{
		maps:         &mockMapStage{},
		blueprints:   &mockBlueprintStage{},
		materializer: &mockMaterializerStage{},
		enhancer:     &mockEnhancerStage{},
		contentRepo:  newMockContentRepo(),
		mappingRepo:  &mockSourceGraphMappingRepo{},
		chat:         llm.NewMockLLMClient(),
	}
	f.svc = NewGraphBuilderService(
		f.maps, f.blueprints, f.materializer, f.enhancer,
		f.contentRepo, f.mappingRepo, f.chat, "Quality first.", zap.NewNop(),
	)
	return f
}

func seedBuilderSource(f *builderFixture, name, content string) *models.SourceData {
	hash := models.HashContent([]byte(content))
	src := &models.SourceData{
		ID:          uuid.New(),
		Name:        name,
		Link:        "uploads/acme/" + name,
		Mime:        "text/markdown",
		ContentHash: hash,
	}
	f.contentRepo.entries[hex.EncodeToString(hash)] = &models.ContentEntry{
		ContentHash: hash,
		Content:     []byte(content),
	}
	return src
}

func rawTriplet(subject, predicate, object string) *models.Triplet {
	return &models.Triplet{
		Subject:   models.TripletEntity{Name: subject, Description: subject + " description"},
		Predicate: predicate,
		Object:    models.TripletEntity{Name: object, Description: object + " description"},
	}
}

func extractionResponse(t *testing.T, triplets ...*models.Triplet) string {
	t.Helper()
	payload, err := json.Marshal(triplets)
	require.NoError(t, err)
	return string(payload)
}

// ============================================================================
// Build Tests
// ============================================================================

func TestBuild_RunsAllStages(t *testing.T) {
	f := newBuilderFixture()
	src1 := seedBuilderSource(f, "q1.md", "Acme Corp acquired Widget Inc.")
	src2 := seedBuilderSource(f, "q2.md", "Acme Corp hired Jane Doe.")
	f.materializer.entities, f.materializer.rels = 2, 1
	f.enhancer.entities, f.enhancer.rels = 1, 0

	responses := []string{
		extractionResponse(t, rawTriplet("Acme Corp", "acquired", "Widget Inc")),
		extractionResponse(t, rawTriplet("Acme Corp", "hired", "Jane Doe")),
	}
	call := 0
	f.chat.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (string, error) {
		call++
		return responses[call-1], nil
	}

	result, err := f.svc.Build(context.Background(), "acme", []*models.SourceData{src1, src2})
	require.NoError(t, err)

	assert.Equal(t, "acme", result.TopicName)
	assert.Equal(t, f.blueprints.blueprint.ID, result.BlueprintID)
	assert.Equal(t, 2, result.DocumentsProcessed)
	assert.Equal(t, 0, result.DocumentsSkipped)
	assert.Equal(t, 2, result.TripletsExtracted)
	assert.Equal(t, 4, result.EntitiesCreated)
	assert.Equal(t, 2, result.RelationshipsCreated)
	assert.Equal(t, 2, result.EnhancedEntities)
	assert.Equal(t, 0, result.EnhancedRels)

	// The blueprint was generated from the cognitive maps of both documents.
	assert.Equal(t, 1, f.blueprints.calls)
	require.Len(t, f.blueprints.gotMaps, 2)

	// Triplets reach the materializer stamped with topic and category.
	require.Len(t, f.materializer.batches, 2)
	stamped := f.materializer.batches[0][0]
	assert.Equal(t, "acme", stamped.TopicName)
	assert.Equal(t, models.CategoryNarrative, stamped.Category)
	assert.Equal(t, []uuid.UUID{src1.ID, src2.ID}, f.materializer.sourceIDs)

	// Enhancement receives the same blueprint and the per-document map.
	require.Len(t, f.enhancer.sources, 2)
	assert.Same(t, f.blueprints.blueprint, f.enhancer.blueprints[0])
	require.NotNil(t, f.enhancer.maps[1])
	assert.Equal(t, src2.ID, f.enhancer.maps[1].SourceID)

	// Extraction prompts carry blueprint instructions, quality standard and
	// the document body.
	require.Len(t, f.chat.Prompts, 2)
	assert.Contains(t, f.chat.Prompts[0], "prefer newer facts")
	assert.Contains(t, f.chat.Prompts[0], "Quality first.")
	assert.Contains(t, f.chat.Prompts[0], "Acme Corp acquired Widget Inc.")
	assert.Contains(t, f.chat.Prompts[1], "Acme Corp hired Jane Doe.")
}

func TestBuild_SkipsMappedDocuments(t *testing.T) {
	f := newBuilderFixture()
	src1 := seedBuilderSource(f, "q1.md", "Acme Corp acquired Widget Inc.")
	src2 := seedBuilderSource(f, "q2.md", "Acme Corp hired Jane Doe.")
	f.mappingRepo.mappings = append(f.mappingRepo.mappings, &models.SourceGraphMapping{
		ID:               uuid.New(),
		SourceID:         src1.ID,
		GraphElementID:   uuid.New(),
		GraphElementType: models.GraphElementEntity,
		Attributes:       map[string]any{models.AttrTopicName: "acme"},
	})

	response := extractionResponse(t, rawTriplet("Acme Corp", "hired", "Jane Doe"))
	f.chat.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (string, error) {
		return response, nil
	}

	result, err := f.svc.Build(context.Background(), "acme", []*models.SourceData{src1, src2})
	require.NoError(t, err)

	assert.Equal(t, 1, result.DocumentsSkipped)
	assert.Equal(t, 1, result.TripletsExtracted)
	// Only the unmapped document was extracted.
	assert.Equal(t, 1, f.chat.GenerateResponseCalls)
	require.Len(t, f.materializer.sourceIDs, 1)
	assert.Equal(t, src2.ID, f.materializer.sourceIDs[0])
	// Enhancement still covers both documents.
	require.Len(t, f.enhancer.sources, 2)
}

func TestBuild_NoSources(t *testing.T) {
	f := newBuilderFixture()

	_, err := f.svc.Build(context.Background(), "acme", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBuild)
	assert.Contains(t, err.Error(), "no sources")
}

func TestBuild_MapStageFailure(t *testing.T) {
	f := newBuilderFixture()
	src := seedBuilderSource(f, "q1.md", "Acme Corp acquired Widget Inc.")
	f.maps.err = errors.New("llm unavailable")

	_, err := f.svc.Build(context.Background(), "acme", []*models.SourceData{src})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBuild)
	assert.Contains(t, err.Error(), "generating cognitive maps")
}

func TestBuild_BlueprintFailure(t *testing.T) {
	f := newBuilderFixture()
	src := seedBuilderSource(f, "q1.md", "Acme Corp acquired Widget Inc.")
	f.blueprints.err = errors.New("llm unavailable")

	_, err := f.svc.Build(context.Background(), "acme", []*models.SourceData{src})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBuild)
	assert.Contains(t, err.Error(), "generating blueprint")
}

func TestBuild_ExtractionParseFailure(t *testing.T) {
	f := newBuilderFixture()
	src := seedBuilderSource(f, "q1.md", "Acme Corp acquired Widget Inc.")
	f.chat.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (string, error) {
		return "I could not find any triplets", nil
	}

	_, err := f.svc.Build(context.Background(), "acme", []*models.SourceData{src})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBuild)
	assert.Contains(t, err.Error(), "parsing triplets")
}

func TestBuild_MaterializeFailure(t *testing.T) {
	f := newBuilderFixture()
	src := seedBuilderSource(f, "q1.md", "Acme Corp acquired Widget Inc.")
	f.materializer.err = errors.New("transaction failed")

	response := extractionResponse(t, rawTriplet("Acme Corp", "acquired", "Widget Inc"))
	f.chat.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (string, error) {
		return response, nil
	}

	_, err := f.svc.Build(context.Background(), "acme", []*models.SourceData{src})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBuild)
	assert.Contains(t, err.Error(), "materializing")
	assert.Empty(t, f.enhancer.sources)
}

func TestBuild_EnhanceFailure(t *testing.T) {
	f := newBuilderFixture()
	src := seedBuilderSource(f, "q1.md", "Acme Corp acquired Widget Inc.")
	f.enhancer.err = errors.New("reasoning failed")

	response := extractionResponse(t, rawTriplet("Acme Corp", "acquired", "Widget Inc"))
	f.chat.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (string, error) {
		return response, nil
	}

	_, err := f.svc.Build(context.Background(), "acme", []*models.SourceData{src})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBuild)
	assert.Contains(t, err.Error(), "enhancing")
}

// ============================================================================
// LoadQualityStandard Tests
// ============================================================================

func TestLoadQualityStandard(t *testing.T) {
	logger := zap.NewNop()

	assert.Equal(t, prompts.DefaultQualityStandard, LoadQualityStandard("", logger))
	assert.Equal(t, prompts.DefaultQualityStandard, LoadQualityStandard(filepath.Join(t.TempDir(), "missing.md"), logger))

	path := filepath.Join(t.TempDir(), "standard.md")
	require.NoError(t, os.WriteFile(path, []byte("# Quality\nBe factual."), 0o644))
	assert.Equal(t, "# Quality\nBe factual.", LoadQualityStandard(path, logger))
}
