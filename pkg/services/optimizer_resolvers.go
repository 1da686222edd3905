package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/jsonutil"
	"github.com/chronicle-ai/chronicle-engine/pkg/llm"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
	"github.com/chronicle-ai/chronicle-engine/pkg/prompts"
	"github.com/chronicle-ai/chronicle-engine/pkg/repositories"
)

// Prompt context budgets for resolver calls, in estimated tokens. Background
// material past the budget is dropped, never the issue payload itself.
const (
	resolverRelationshipTokenBudget = 30_000
	resolverSourceTokenBudget       = 70_000
)

// issueResolver applies one validated issue to the graph store. Each method
// owns the full read-refine-write cycle for its issue type; merges run as one
// transaction through the graph repository so provenance repointing and
// deletes land together.
type issueResolver struct {
	entityRepo  repositories.EntityRepository
	relRepo     repositories.RelationshipRepository
	graphRepo   repositories.GraphRepository
	mappingRepo repositories.GraphMappingRepository
	sourceRepo  repositories.SourceRepository
	contentRepo repositories.ContentRepository
	llmClient   llm.Generator
	embed       EmbedFunc
	logger      *zap.Logger
}

// resolverOutcome reports how one issue ended: applied to the graph, or
// skipped because the graph moved on underneath it (rows already merged away
// by an earlier issue, or preconditions no longer hold). Both outcomes mark
// the issue resolved; only errors leave it pending for a later run.
type resolverOutcome struct {
	Applied bool
	Skipped string // non-empty reason when not applied
}

func skipped(reason string) resolverOutcome { return resolverOutcome{Skipped: reason} }

// refinedEntity is the LLM response shape for entity refinement and merging.
type refinedEntity struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Attributes  map[string]any `json:"attributes"`
}

// refinedRelationship is the LLM response shape for relationship refinement.
type refinedRelationship struct {
	SourceEntityName string         `json:"source_entity_name"`
	TargetEntityName string         `json:"target_entity_name"`
	RelationshipDesc string         `json:"relationship_desc"`
	Attributes       map[string]any `json:"attributes"`
}

// mergedRelationship is the LLM response shape for relationship merging.
type mergedRelationship struct {
	SourceEntityID   string         `json:"source_entity_id"`
	TargetEntityID   string         `json:"target_entity_id"`
	RelationshipDesc string         `json:"relationship_desc"`
	Attributes       map[string]any `json:"attributes"`
}

// resolveEntityQuality rewrites one flawed entity in place: refine via LLM,
// re-embed the description, preserve the identity attributes.
func (r *issueResolver) resolveEntityQuality(ctx context.Context, issue *models.Issue) (resolverOutcome, error) {
	id, err := parseAffectedID(issue, 0)
	if err != nil {
		return skipped(err.Error()), nil
	}

	entity, err := r.entityRepo.GetByID(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return skipped(fmt.Sprintf("entity %s no longer exists", id)), nil
	}
	if err != nil {
		return resolverOutcome{}, fmt.Errorf("loading entity %s: %w", id, err)
	}

	relLines, err := r.relationshipLinesForEntities(ctx, []uuid.UUID{id})
	if err != nil {
		return resolverOutcome{}, err
	}
	sources, err := r.sourceExcerpts(ctx, []uuid.UUID{id}, models.GraphElementEntity)
	if err != nil {
		return resolverOutcome{}, err
	}

	prompt := prompts.BuildRefineEntityPrompt(prompts.PayloadForIssue(issue), entitySummary(entity), relLines, sources)
	response, err := r.llmClient.GenerateResponse(ctx, prompt, "", 0)
	if err != nil {
		return resolverOutcome{}, fmt.Errorf("entity refinement call for %s: %w", id, err)
	}
	refined, err := llm.ParseWithRepair[refinedEntity](ctx, r.llmClient, response, llm.FormatObject)
	if err != nil {
		return resolverOutcome{}, fmt.Errorf("parsing refined entity %s: %w", id, err)
	}
	if refined.Name == "" || refined.Description == "" {
		return resolverOutcome{}, fmt.Errorf("refined entity %s is missing name or description", id)
	}

	embedding, err := r.embed(ctx, refined.Description)
	if err != nil {
		return resolverOutcome{}, fmt.Errorf("embedding refined entity %s: %w", id, err)
	}

	entity.Name = refined.Name
	entity.Description = refined.Description
	entity.DescriptionEmbedding = embedding
	entity.Attributes = preserveIdentityAttributes(refined.Attributes, entity.Attributes)

	if err := r.entityRepo.Update(ctx, entity); err != nil {
		return resolverOutcome{}, fmt.Errorf("updating refined entity %s: %w", id, err)
	}

	r.logger.Info("Refined entity",
		zap.String("entity_id", id.String()),
		zap.String("name", entity.Name))
	return resolverOutcome{Applied: true}, nil
}

// resolveEntityRedundancy collapses a duplicate entity group into one merged
// entity, repointing every relationship endpoint and provenance row before
// the originals are deleted.
func (r *issueResolver) resolveEntityRedundancy(ctx context.Context, issue *models.Issue) (resolverOutcome, error) {
	ids, err := parseAffectedIDs(issue)
	if err != nil {
		return skipped(err.Error()), nil
	}

	entities, err := r.entityRepo.GetByIDs(ctx, ids)
	if err != nil {
		return resolverOutcome{}, fmt.Errorf("loading entities to merge: %w", err)
	}
	if len(entities) < 2 {
		// A prior merge already consumed some of this group.
		return skipped(fmt.Sprintf("only %d of %d entities still exist", len(entities), len(ids))), nil
	}

	liveIDs := make([]uuid.UUID, 0, len(entities))
	summaries := make([]models.EntitySummary, 0, len(entities))
	for _, entity := range entities {
		liveIDs = append(liveIDs, entity.ID)
		summaries = append(summaries, entitySummary(entity))
	}

	relLines, err := r.relationshipLinesForEntities(ctx, liveIDs)
	if err != nil {
		return resolverOutcome{}, err
	}
	sources, err := r.sourceExcerpts(ctx, liveIDs, models.GraphElementEntity)
	if err != nil {
		return resolverOutcome{}, err
	}

	prompt := prompts.BuildMergeEntitiesPrompt(prompts.PayloadForIssue(issue), summaries, relLines, sources)
	response, err := r.llmClient.GenerateResponse(ctx, prompt, "", 0)
	if err != nil {
		return resolverOutcome{}, fmt.Errorf("entity merge call: %w", err)
	}
	merged, err := llm.ParseWithRepair[refinedEntity](ctx, r.llmClient, response, llm.FormatObject)
	if err != nil {
		return resolverOutcome{}, fmt.Errorf("parsing merged entity: %w", err)
	}
	if merged.Name == "" {
		return resolverOutcome{}, fmt.Errorf("merged entity has no name")
	}

	embedText := merged.Description
	if embedText == "" {
		embedText = merged.Name
	}
	embedding, err := r.embed(ctx, embedText)
	if err != nil {
		return resolverOutcome{}, fmt.Errorf("embedding merged entity %q: %w", merged.Name, err)
	}

	entity := &models.Entity{
		ID:                   uuid.New(),
		Name:                 merged.Name,
		Description:          merged.Description,
		DescriptionEmbedding: embedding,
		Attributes:           preserveIdentityAttributes(merged.Attributes, firstIdentityAttributes(entities)),
	}

	if err := r.graphRepo.MergeEntities(ctx, entity, liveIDs); err != nil {
		return resolverOutcome{}, fmt.Errorf("merging %d entities into %q: %w", len(liveIDs), merged.Name, err)
	}

	r.logger.Info("Merged redundant entities",
		zap.Int("originals", len(liveIDs)),
		zap.String("merged_id", entity.ID.String()),
		zap.String("name", entity.Name))
	return resolverOutcome{Applied: true}, nil
}

// resolveRelationshipQuality rewrites one vague relationship description in
// place. The (source, target, desc) identity changes, so the description
// embedding is recomputed; endpoints never move.
func (r *issueResolver) resolveRelationshipQuality(ctx context.Context, issue *models.Issue) (resolverOutcome, error) {
	id, err := parseAffectedID(issue, 0)
	if err != nil {
		return skipped(err.Error()), nil
	}

	rel, err := r.relRepo.GetByID(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return skipped(fmt.Sprintf("relationship %s no longer exists", id)), nil
	}
	if err != nil {
		return resolverOutcome{}, fmt.Errorf("loading relationship %s: %w", id, err)
	}

	names, err := r.entityNames(ctx, []uuid.UUID{rel.SourceEntityID, rel.TargetEntityID})
	if err != nil {
		return resolverOutcome{}, err
	}
	relLine := prompts.FormatRelationshipLine(names[rel.SourceEntityID], names[rel.TargetEntityID], rel.RelationshipDesc)

	sources, err := r.sourceExcerpts(ctx, []uuid.UUID{id}, models.GraphElementRelationship)
	if err != nil {
		return resolverOutcome{}, err
	}

	prompt := prompts.BuildRefineRelationshipPrompt(prompts.PayloadForIssue(issue), []string{relLine}, sources)
	response, err := r.llmClient.GenerateResponse(ctx, prompt, "", 0)
	if err != nil {
		return resolverOutcome{}, fmt.Errorf("relationship refinement call for %s: %w", id, err)
	}
	refined, err := llm.ParseWithRepair[refinedRelationship](ctx, r.llmClient, response, llm.FormatObject)
	if err != nil {
		return resolverOutcome{}, fmt.Errorf("parsing refined relationship %s: %w", id, err)
	}
	if refined.RelationshipDesc == "" {
		return resolverOutcome{}, fmt.Errorf("refined relationship %s has no description", id)
	}

	embedding, err := r.embed(ctx, refined.RelationshipDesc)
	if err != nil {
		return resolverOutcome{}, fmt.Errorf("embedding refined relationship %s: %w", id, err)
	}

	rel.RelationshipDesc = refined.RelationshipDesc
	rel.RelationshipDescEmbedding = embedding
	rel.Attributes = preserveIdentityAttributes(refined.Attributes, rel.Attributes)

	if err := r.relRepo.Update(ctx, rel); err != nil {
		return resolverOutcome{}, fmt.Errorf("updating refined relationship %s: %w", id, err)
	}

	r.logger.Info("Refined relationship",
		zap.String("relationship_id", id.String()),
		zap.String("desc", rel.RelationshipDesc))
	return resolverOutcome{Applied: true}, nil
}

// resolveRelationshipRedundancy collapses a duplicate relationship group
// into one merged edge. The group must span at most two distinct entities; a
// wider group means the detection conflated different connections, and the
// issue is skipped rather than guessed at.
func (r *issueResolver) resolveRelationshipRedundancy(ctx context.Context, issue *models.Issue) (resolverOutcome, error) {
	ids, err := parseAffectedIDs(issue)
	if err != nil {
		return skipped(err.Error()), nil
	}

	rels, err := r.relRepo.GetByIDs(ctx, ids)
	if err != nil {
		return resolverOutcome{}, fmt.Errorf("loading relationships to merge: %w", err)
	}
	if len(rels) < 2 {
		return skipped(fmt.Sprintf("only %d of %d relationships still exist", len(rels), len(ids))), nil
	}

	endpointSet := make(map[uuid.UUID]bool)
	liveIDs := make([]uuid.UUID, 0, len(rels))
	for _, rel := range rels {
		endpointSet[rel.SourceEntityID] = true
		endpointSet[rel.TargetEntityID] = true
		liveIDs = append(liveIDs, rel.ID)
	}
	if len(endpointSet) > 2 {
		return skipped(fmt.Sprintf("relationships span %d distinct entities, expected at most 2", len(endpointSet))), nil
	}

	endpointIDs := make([]uuid.UUID, 0, len(endpointSet))
	for id := range endpointSet {
		endpointIDs = append(endpointIDs, id)
	}
	names, err := r.entityNames(ctx, endpointIDs)
	if err != nil {
		return resolverOutcome{}, err
	}

	relLines := make([]string, 0, len(rels))
	for _, rel := range rels {
		relLines = append(relLines, prompts.FormatMergeRelationshipLine(
			names[rel.SourceEntityID], rel.SourceEntityID.String(),
			names[rel.TargetEntityID], rel.TargetEntityID.String(),
			rel.RelationshipDesc,
		))
	}

	sources, err := r.sourceExcerpts(ctx, liveIDs, models.GraphElementRelationship)
	if err != nil {
		return resolverOutcome{}, err
	}

	prompt := prompts.BuildMergeRelationshipsPrompt(prompts.PayloadForIssue(issue), relLines, sources)
	response, err := r.llmClient.GenerateResponse(ctx, prompt, "", 0)
	if err != nil {
		return resolverOutcome{}, fmt.Errorf("relationship merge call: %w", err)
	}
	merged, err := llm.ParseWithRepair[mergedRelationship](ctx, r.llmClient, response, llm.FormatObject)
	if err != nil {
		return resolverOutcome{}, fmt.Errorf("parsing merged relationship: %w", err)
	}
	if merged.RelationshipDesc == "" {
		return resolverOutcome{}, fmt.Errorf("merged relationship has no description")
	}

	// The model must pick endpoints from the originals; anything else falls
	// back to the first original's endpoints.
	sourceID, errSource := uuid.Parse(merged.SourceEntityID)
	targetID, errTarget := uuid.Parse(merged.TargetEntityID)
	if errSource != nil || errTarget != nil || !endpointSet[sourceID] || !endpointSet[targetID] {
		r.logger.Warn("Merged relationship endpoints not among originals, falling back",
			zap.String("source", merged.SourceEntityID),
			zap.String("target", merged.TargetEntityID))
		sourceID = rels[0].SourceEntityID
		targetID = rels[0].TargetEntityID
	}

	embedding, err := r.embed(ctx, merged.RelationshipDesc)
	if err != nil {
		return resolverOutcome{}, fmt.Errorf("embedding merged relationship: %w", err)
	}

	rel := &models.Relationship{
		ID:                        uuid.New(),
		SourceEntityID:            sourceID,
		TargetEntityID:            targetID,
		RelationshipDesc:          merged.RelationshipDesc,
		RelationshipDescEmbedding: embedding,
		Attributes:                preserveIdentityAttributes(merged.Attributes, firstRelationshipIdentityAttributes(rels)),
	}

	if err := r.graphRepo.MergeRelationships(ctx, rel, liveIDs); err != nil {
		return resolverOutcome{}, fmt.Errorf("merging %d relationships: %w", len(liveIDs), err)
	}

	r.logger.Info("Merged redundant relationships",
		zap.Int("originals", len(liveIDs)),
		zap.String("merged_id", rel.ID.String()))
	return resolverOutcome{Applied: true}, nil
}

// ============================================================================
// Helper Functions - Resolver Context Gathering
// ============================================================================

// relationshipLinesForEntities formats every relationship touching the given
// entities, cut off at the relationship token budget.
func (r *issueResolver) relationshipLinesForEntities(ctx context.Context, entityIDs []uuid.UUID) ([]string, error) {
	rels, err := r.relRepo.ListByEntityIDs(ctx, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("listing relationships for entities: %w", err)
	}
	if len(rels) == 0 {
		return nil, nil
	}

	endpointIDs := make([]uuid.UUID, 0, len(rels)*2)
	seen := make(map[uuid.UUID]bool, len(rels)*2)
	for _, rel := range rels {
		for _, id := range []uuid.UUID{rel.SourceEntityID, rel.TargetEntityID} {
			if !seen[id] {
				seen[id] = true
				endpointIDs = append(endpointIDs, id)
			}
		}
	}
	names, err := r.entityNames(ctx, endpointIDs)
	if err != nil {
		return nil, err
	}

	var lines []string
	budget := resolverRelationshipTokenBudget
	for _, rel := range rels {
		line := prompts.FormatRelationshipLine(names[rel.SourceEntityID], names[rel.TargetEntityID], rel.RelationshipDesc)
		cost := llm.EstimateTokens(line)
		if cost > budget {
			break
		}
		budget -= cost
		lines = append(lines, line)
	}
	return lines, nil
}

// sourceExcerpts walks provenance rows for the affected elements and loads
// the contributing documents, newest mapping first, within the source token
// budget. The last document that fits is truncated to the remaining budget.
func (r *issueResolver) sourceExcerpts(ctx context.Context, elementIDs []uuid.UUID, elementType string) ([]prompts.SourceExcerpt, error) {
	mappings, err := r.mappingRepo.ListByElementIDs(ctx, elementIDs, elementType)
	if err != nil {
		return nil, fmt.Errorf("listing provenance for affected elements: %w", err)
	}
	if len(mappings) == 0 {
		return nil, nil
	}

	seen := make(map[uuid.UUID]bool, len(mappings))
	sourceIDs := make([]uuid.UUID, 0, len(mappings))
	for _, mapping := range mappings {
		if !seen[mapping.SourceID] {
			seen[mapping.SourceID] = true
			sourceIDs = append(sourceIDs, mapping.SourceID)
		}
	}

	sources, err := r.sourceRepo.GetByIDs(ctx, sourceIDs)
	if err != nil {
		return nil, fmt.Errorf("loading sources for affected elements: %w", err)
	}

	var excerpts []prompts.SourceExcerpt
	budget := resolverSourceTokenBudget
	for _, src := range sources {
		if budget <= 0 {
			break
		}
		entry, err := r.contentRepo.Get(ctx, src.ContentHash)
		if errors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading content for source %s: %w", src.ID, err)
		}

		content := llm.TruncateToTokens(string(entry.Content), budget)
		budget -= llm.EstimateTokens(content)
		excerpts = append(excerpts, prompts.SourceExcerpt{
			ID:         src.ID.String(),
			Name:       src.Name,
			Content:    content,
			Link:       src.Link,
			SourceType: src.Mime,
			Attributes: src.Attributes,
		})
	}
	return excerpts, nil
}

// entityNames resolves display names for a set of entity ids. Entities that
// vanished mid-run resolve to their id string so prompt lines stay readable.
func (r *issueResolver) entityNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	names := make(map[uuid.UUID]string, len(ids))
	for _, id := range ids {
		names[id] = id.String()
	}

	entities, err := r.entityRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading entity names: %w", err)
	}
	for _, entity := range entities {
		names[entity.ID] = entity.Name
	}
	return names, nil
}

// ============================================================================
// Helper Functions - Attribute Handling
// ============================================================================

// preserveIdentityAttributes lays the model's attributes over nothing, then
// pins topic_name and category back to their stored values. Refinement and
// merging may reshape every other attribute, but an element never changes
// topic or category.
func preserveIdentityAttributes(proposed, existing map[string]any) map[string]any {
	attrs := jsonutil.MergeAttributes(nil, proposed)
	if topic := jsonutil.GetString(existing, models.AttrTopicName); topic != "" {
		attrs[models.AttrTopicName] = topic
	}
	if category := jsonutil.GetString(existing, models.AttrCategory); category != "" {
		attrs[models.AttrCategory] = category
	}
	return attrs
}

// firstIdentityAttributes returns the first original's attributes that carry
// a topic, so a merged element inherits its group's identity.
func firstIdentityAttributes(entities []*models.Entity) map[string]any {
	for _, entity := range entities {
		if jsonutil.GetString(entity.Attributes, models.AttrTopicName) != "" {
			return entity.Attributes
		}
	}
	if len(entities) > 0 {
		return entities[0].Attributes
	}
	return nil
}

func firstRelationshipIdentityAttributes(rels []*models.Relationship) map[string]any {
	for _, rel := range rels {
		if jsonutil.GetString(rel.Attributes, models.AttrTopicName) != "" {
			return rel.Attributes
		}
	}
	if len(rels) > 0 {
		return rels[0].Attributes
	}
	return nil
}

// ============================================================================
// Helper Functions - Affected ID Parsing
// ============================================================================

func parseAffectedID(issue *models.Issue, index int) (uuid.UUID, error) {
	if index >= len(issue.AffectedIDs) {
		return uuid.Nil, fmt.Errorf("issue %s has no affected id at index %d", issue.IssueType, index)
	}
	id, err := uuid.Parse(issue.AffectedIDs[index])
	if err != nil {
		return uuid.Nil, fmt.Errorf("issue %s has malformed affected id %q", issue.IssueType, issue.AffectedIDs[index])
	}
	return id, nil
}

func parseAffectedIDs(issue *models.Issue) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(issue.AffectedIDs))
	for _, raw := range issue.AffectedIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("issue %s has malformed affected id %q", issue.IssueType, raw)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("issue %s has no affected ids", issue.IssueType)
	}
	return ids, nil
}
