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

// summaryTestContext holds test dependencies for document summary tests.
type summaryTestContext struct {
	t        *testing.T
	engineDB *testhelpers.EngineDB
	repo     DocumentSummaryRepository
}

func setupSummaryTest(t *testing.T) *summaryTestContext {
	return &summaryTestContext{
		t:        t,
		engineDB: testhelpers.GetEngineDB(t),
		repo:     NewDocumentSummaryRepository(),
	}
}

func (tc *summaryTestContext) storeContext() context.Context {
	tc.t.Helper()
	return database.SetStoreScope(context.Background(), tc.engineDB.Scope())
}

// ============================================================================
// DocumentSummaryRepository Tests
// ============================================================================

func TestDocumentSummaryRepository_UpsertAndGet(t *testing.T) {
	tc := setupSummaryTest(t)
	ctx := tc.storeContext()

	documentID := uuid.New()
	summary := &models.DocumentSummary{
		DocumentID:      documentID,
		TopicName:       "summary-upsert-test",
		SummaryContent:  "A chronicle of the founding years.",
		KeyEntities:     []string{"Ada", "The Workshop"},
		MainThemes:      []string{"origins", "craft"},
		BusinessContext: `{"structural_patterns":"chronological"}`,
	}
	if err := tc.repo.Upsert(ctx, summary); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := tc.repo.GetByDocumentAndTopic(ctx, documentID, "summary-upsert-test", models.DocumentTypeCognitiveMap)
	if err != nil {
		t.Fatalf("GetByDocumentAndTopic failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected summary")
	}
	if got.DocumentType != models.DocumentTypeCognitiveMap {
		t.Errorf("expected default document type, got %s", got.DocumentType)
	}
	if len(got.KeyEntities) != 2 || got.KeyEntities[0] != "Ada" {
		t.Errorf("key entities mismatch: %v", got.KeyEntities)
	}
	if len(got.MainThemes) != 2 || got.MainThemes[1] != "craft" {
		t.Errorf("main themes mismatch: %v", got.MainThemes)
	}
	if got.BusinessContext != summary.BusinessContext {
		t.Errorf("business context mismatch: %q", got.BusinessContext)
	}
}

func TestDocumentSummaryRepository_UpsertUpdatesInPlace(t *testing.T) {
	tc := setupSummaryTest(t)
	ctx := tc.storeContext()

	documentID := uuid.New()
	first := &models.DocumentSummary{
		DocumentID:     documentID,
		TopicName:      "summary-update-test",
		SummaryContent: "first pass",
		KeyEntities:    []string{"Ada"},
	}
	if err := tc.repo.Upsert(ctx, first); err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}

	second := &models.DocumentSummary{
		DocumentID:     documentID,
		TopicName:      "summary-update-test",
		SummaryContent: "re-analyzed with a fresh map",
		KeyEntities:    []string{"Ada", "Brunel"},
		MainThemes:     []string{"expansion"},
	}
	if err := tc.repo.Upsert(ctx, second); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	// The conflict update keeps the original row identity.
	if second.ID != first.ID {
		t.Errorf("expected ID preserved across upsert, got %v and %v", first.ID, second.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("expected created_at preserved, got %v and %v", first.CreatedAt, second.CreatedAt)
	}

	got, err := tc.repo.GetByDocumentAndTopic(ctx, documentID, "summary-update-test", models.DocumentTypeCognitiveMap)
	if err != nil {
		t.Fatalf("GetByDocumentAndTopic failed: %v", err)
	}
	if got.SummaryContent != "re-analyzed with a fresh map" {
		t.Errorf("expected updated content, got %q", got.SummaryContent)
	}
	if len(got.KeyEntities) != 2 {
		t.Errorf("expected updated key entities, got %v", got.KeyEntities)
	}
}

func TestDocumentSummaryRepository_TopicsCachedIndependently(t *testing.T) {
	tc := setupSummaryTest(t)
	ctx := tc.storeContext()

	documentID := uuid.New()
	for _, topic := range []string{"summary-topic-a", "summary-topic-b"} {
		err := tc.repo.Upsert(ctx, &models.DocumentSummary{
			DocumentID:     documentID,
			TopicName:      topic,
			SummaryContent: "analysis for " + topic,
		})
		if err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	got, err := tc.repo.GetByDocumentAndTopic(ctx, documentID, "summary-topic-a", models.DocumentTypeCognitiveMap)
	if err != nil {
		t.Fatalf("GetByDocumentAndTopic failed: %v", err)
	}
	if got == nil || got.SummaryContent != "analysis for summary-topic-a" {
		t.Errorf("expected topic-a analysis, got %+v", got)
	}
}

func TestDocumentSummaryRepository_Get_NotFound(t *testing.T) {
	tc := setupSummaryTest(t)
	ctx := tc.storeContext()

	_, err := tc.repo.GetByDocumentAndTopic(ctx, uuid.New(), "summary-missing-test", models.DocumentTypeCognitiveMap)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown document, got %v", err)
	}

	// A row cached under another document type is not returned either.
	documentID := uuid.New()
	err = tc.repo.Upsert(ctx, &models.DocumentSummary{
		DocumentID:     documentID,
		TopicName:      "summary-missing-test",
		SummaryContent: "cached map",
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	_, err = tc.repo.GetByDocumentAndTopic(ctx, documentID, "summary-missing-test", "plain_summary")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound for mismatched document type, got %v", err)
	}
}
