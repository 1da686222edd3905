//go:build integration

package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/database"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
	"github.com/chronicle-ai/chronicle-engine/pkg/testhelpers"
)

// blockTestContext holds test dependencies for knowledge block tests.
type blockTestContext struct {
	t        *testing.T
	engineDB *testhelpers.EngineDB
	blocks   KnowledgeBlockRepository
	mappings BlockSourceMappingRepository
	sources  SourceRepository
	contents ContentRepository
}

func setupBlockTest(t *testing.T) *blockTestContext {
	return &blockTestContext{
		t:        t,
		engineDB: testhelpers.GetEngineDB(t),
		blocks:   NewKnowledgeBlockRepository(),
		mappings: NewBlockSourceMappingRepository(),
		sources:  NewSourceRepository(),
		contents: NewContentRepository(),
	}
}

func (tc *blockTestContext) storeContext() context.Context {
	tc.t.Helper()
	return database.SetStoreScope(context.Background(), tc.engineDB.Scope())
}

func (tc *blockTestContext) createTestSource(ctx context.Context, link string) *models.SourceData {
	tc.t.Helper()

	content := []byte("block test document body for " + link)
	hash := models.HashContent(content)
	err := tc.contents.Put(ctx, &models.ContentEntry{
		ContentHash: hash,
		Content:     content,
		Size:        int64(len(content)),
		Mime:        "text/plain",
	})
	if err != nil {
		tc.t.Fatalf("failed to store content: %v", err)
	}

	src := &models.SourceData{
		Name:        "block test source",
		Link:        link,
		Mime:        "text/plain",
		ContentHash: hash,
	}
	if err := tc.sources.Create(ctx, src); err != nil {
		tc.t.Fatalf("failed to create source: %v", err)
	}
	return src
}

// ============================================================================
// Create / Get Tests
// ============================================================================

func TestKnowledgeBlockRepository_CreateAndGetByHash(t *testing.T) {
	tc := setupBlockTest(t)
	ctx := tc.storeContext()

	situating := "This block sits in the middle of the onboarding chapter."
	block := &models.KnowledgeBlock{
		Name:      "Onboarding - Step 1",
		Context:   &situating,
		Content:   "New accounts begin in the pending state.",
		Kind:      models.BlockKindParagraph,
		Embedding: []float32{0.1, 0.2, 0.3},
		Attributes: map[string]any{
			"topic_name": "block-repo-test",
			"position":   float64(0),
		},
	}

	if err := tc.blocks.Create(ctx, block); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if block.Hash == "" {
		t.Error("expected hash to be derived on create")
	}

	retrieved, err := tc.blocks.GetByHash(ctx, block.Hash)
	if err != nil {
		t.Fatalf("GetByHash failed: %v", err)
	}
	if retrieved == nil {
		t.Fatal("expected block, got nil")
	}
	if retrieved.ID != block.ID {
		t.Errorf("expected ID %v, got %v", block.ID, retrieved.ID)
	}
	if retrieved.Context == nil || *retrieved.Context != situating {
		t.Errorf("context round-trip mismatch: %v", retrieved.Context)
	}
	if len(retrieved.Embedding) != 3 {
		t.Fatalf("expected 3 embedding dims, got %d", len(retrieved.Embedding))
	}
	if retrieved.Embedding[1] != 0.2 {
		t.Errorf("embedding round-trip mismatch: %v", retrieved.Embedding)
	}
}

func TestKnowledgeBlockRepository_DuplicateHashRejected(t *testing.T) {
	tc := setupBlockTest(t)
	ctx := tc.storeContext()

	block := &models.KnowledgeBlock{
		Name:    "Duplicate hash block",
		Content: "identical content",
		Kind:    models.BlockKindParagraph,
	}
	if err := tc.blocks.Create(ctx, block); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}

	dup := &models.KnowledgeBlock{
		Name:    "Duplicate hash block",
		Content: "identical content",
		Kind:    models.BlockKindParagraph,
	}
	if err := tc.blocks.Create(ctx, dup); err == nil {
		t.Error("expected unique violation for duplicate hash")
	}
}

func TestKnowledgeBlockRepository_GetByIDNotFound(t *testing.T) {
	tc := setupBlockTest(t)
	ctx := tc.storeContext()

	_, err := tc.blocks.GetByID(ctx, uuid.New())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ============================================================================
// Source Mapping Tests
// ============================================================================

func TestKnowledgeBlockRepository_ListBySourceOrdered(t *testing.T) {
	tc := setupBlockTest(t)
	ctx := tc.storeContext()

	src := tc.createTestSource(ctx, "uploads/block-repo-test/ordered.txt")

	// Create blocks out of order; positions decide the listing order.
	inserts := []struct {
		name     string
		position int64
	}{
		{"ordered third", 2},
		{"ordered first", 0},
		{"ordered second", 1},
	}
	for _, in := range inserts {
		block := &models.KnowledgeBlock{
			Name:    in.name,
			Content: "content of " + in.name,
			Kind:    models.BlockKindParagraph,
		}
		if err := tc.blocks.Create(ctx, block); err != nil {
			t.Fatalf("failed to create block: %v", err)
		}

		err := tc.mappings.Ensure(ctx, &models.BlockSourceMapping{
			BlockID:          block.ID,
			SourceID:         src.ID,
			PositionInSource: in.position,
		})
		if err != nil {
			t.Fatalf("failed to map block: %v", err)
		}
	}

	blocks, err := tc.blocks.ListBySource(ctx, src.ID)
	if err != nil {
		t.Fatalf("ListBySource failed: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(blocks))
	}
	if blocks[0].Name != "ordered first" || blocks[1].Name != "ordered second" || blocks[2].Name != "ordered third" {
		t.Errorf("blocks out of position order: %s, %s, %s", blocks[0].Name, blocks[1].Name, blocks[2].Name)
	}
}

func TestBlockSourceMappingRepository_EnsureIdempotent(t *testing.T) {
	tc := setupBlockTest(t)
	ctx := tc.storeContext()

	src := tc.createTestSource(ctx, "uploads/block-repo-test/idempotent.txt")
	block := &models.KnowledgeBlock{
		Name:    "idempotent mapping block",
		Content: "idempotent mapping content",
		Kind:    models.BlockKindParagraph,
	}
	if err := tc.blocks.Create(ctx, block); err != nil {
		t.Fatalf("failed to create block: %v", err)
	}

	mapping := &models.BlockSourceMapping{BlockID: block.ID, SourceID: src.ID, PositionInSource: 4}
	if err := tc.mappings.Ensure(ctx, mapping); err != nil {
		t.Fatalf("first Ensure failed: %v", err)
	}
	if err := tc.mappings.Ensure(ctx, &models.BlockSourceMapping{BlockID: block.ID, SourceID: src.ID, PositionInSource: 9}); err != nil {
		t.Fatalf("second Ensure failed: %v", err)
	}

	mappings, err := tc.mappings.ListBySource(ctx, src.ID)
	if err != nil {
		t.Fatalf("ListBySource failed: %v", err)
	}
	if len(mappings) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(mappings))
	}
	if mappings[0].PositionInSource != 4 {
		t.Errorf("expected original position 4 preserved, got %d", mappings[0].PositionInSource)
	}
}

// ============================================================================
// Topic Search Tests
// ============================================================================

func TestKnowledgeBlockRepository_ListWithEmbeddingsByTopic(t *testing.T) {
	tc := setupBlockTest(t)
	ctx := tc.storeContext()

	embedded := &models.KnowledgeBlock{
		Name:       "embedded topic block",
		Content:    "embedded topic content",
		Kind:       models.BlockKindParagraph,
		Embedding:  []float32{0.5, 0.5},
		Attributes: map[string]any{"topic_name": "block-topic-search"},
	}
	if err := tc.blocks.Create(ctx, embedded); err != nil {
		t.Fatalf("failed to create embedded block: %v", err)
	}

	bare := &models.KnowledgeBlock{
		Name:       "bare topic block",
		Content:    "bare topic content",
		Kind:       models.BlockKindParagraph,
		Attributes: map[string]any{"topic_name": "block-topic-search"},
	}
	if err := tc.blocks.Create(ctx, bare); err != nil {
		t.Fatalf("failed to create bare block: %v", err)
	}

	otherTopic := &models.KnowledgeBlock{
		Name:       "other topic block",
		Content:    "other topic content",
		Kind:       models.BlockKindParagraph,
		Embedding:  []float32{0.5, 0.5},
		Attributes: map[string]any{"topic_name": "block-topic-other"},
	}
	if err := tc.blocks.Create(ctx, otherTopic); err != nil {
		t.Fatalf("failed to create other-topic block: %v", err)
	}

	blocks, err := tc.blocks.ListWithEmbeddingsByTopic(ctx, "block-topic-search")
	if err != nil {
		t.Fatalf("ListWithEmbeddingsByTopic failed: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if blocks[0].ID != embedded.ID {
		t.Errorf("expected embedded block, got %v", blocks[0].ID)
	}
}
