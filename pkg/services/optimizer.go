package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/config"
	"github.com/chronicle-ai/chronicle-engine/pkg/jsonutil"
	"github.com/chronicle-ai/chronicle-engine/pkg/llm"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
	"github.com/chronicle-ai/chronicle-engine/pkg/prompts"
	"github.com/chronicle-ai/chronicle-engine/pkg/repositories"
)

// criticValidWeight is added to an issue's validation score for each critic
// that judges it valid. With the default 0.9 confidence threshold a single
// approving critic is enough to make the issue eligible for processing.
const criticValidWeight = 0.9

// GraphProvider supplies the subgraph snapshot an optimization pass works on.
type GraphProvider interface {
	Subgraph(ctx context.Context, query string) (*models.GraphPayload, error)
}

// vectorSearchGraphProvider retrieves the snapshot by relationship vector
// search within one topic.
type vectorSearchGraphProvider struct {
	query     GraphQueryService
	topicName string
	topK      int
	threshold float64
}

// NewVectorSearchGraphProvider creates a GraphProvider backed by relationship
// vector search over one topic's graph.
func NewVectorSearchGraphProvider(query GraphQueryService, topicName string, topK int, threshold float64) GraphProvider {
	return &vectorSearchGraphProvider{
		query:     query,
		topicName: topicName,
		topK:      topK,
		threshold: threshold,
	}
}

func (p *vectorSearchGraphProvider) Subgraph(ctx context.Context, query string) (*models.GraphPayload, error) {
	return p.query.SearchSubgraph(ctx, p.topicName, query, p.topK, p.threshold)
}

// OptimizeReport summarizes one optimization pass.
type OptimizeReport struct {
	IssuesDetected  int `json:"issues_detected"`  // new issues added this pass
	IssuesEvaluated int `json:"issues_evaluated"` // critic verdicts recorded this pass
	IssuesResolved  int `json:"issues_resolved"`  // issues settled, applied or skipped
	IssuesSkipped   int `json:"issues_skipped"`   // subset of resolved that were skipped
	IssuesFailed    int `json:"issues_failed"`    // issues left pending after an error
}

// GraphOptimizer runs the detect, critique, resolve cycle over a retrieved
// subgraph. One pass advances whichever phase has work: new issues are only
// detected once every tracked issue has been fully evaluated and nothing
// eligible is waiting, so repeated passes drain the backlog before widening
// it.
type GraphOptimizer struct {
	provider GraphProvider
	detector llm.Generator
	critics  map[string]llm.Generator
	resolver *issueResolver
	pool     *llm.WorkerPool
	cfg      config.OptimizerConfig
	logger   *zap.Logger
}

// NewGraphOptimizer creates a GraphOptimizer. The detector also serves as the
// resolver-side generation client; critics are a panel of independent models
// keyed by name.
func NewGraphOptimizer(
	provider GraphProvider,
	detector llm.Generator,
	critics map[string]llm.Generator,
	entityRepo repositories.EntityRepository,
	relRepo repositories.RelationshipRepository,
	graphRepo repositories.GraphRepository,
	mappingRepo repositories.GraphMappingRepository,
	sourceRepo repositories.SourceRepository,
	contentRepo repositories.ContentRepository,
	embed EmbedFunc,
	cfg config.OptimizerConfig,
	logger *zap.Logger,
) *GraphOptimizer {
	logger = logger.Named("graph-optimizer")
	return &GraphOptimizer{
		provider: provider,
		detector: detector,
		critics:  critics,
		resolver: &issueResolver{
			entityRepo:  entityRepo,
			relRepo:     relRepo,
			graphRepo:   graphRepo,
			mappingRepo: mappingRepo,
			sourceRepo:  sourceRepo,
			contentRepo: contentRepo,
			llmClient:   detector,
			embed:       embed,
			logger:      logger,
		},
		pool:   llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: cfg.MaxConcurrentIssues}, logger),
		cfg:    cfg,
		logger: logger,
	}
}

// Optimize runs one pass against the subgraph retrieved for query. State is
// checkpointed after detection, after critic evaluation, and after every
// processing batch, so a crashed pass resumes where it stopped.
func (o *GraphOptimizer) Optimize(ctx context.Context, query string) (*OptimizeReport, error) {
	state, err := LoadOptimizerState(o.cfg.StateFilePath)
	if err != nil {
		return nil, err
	}

	report := &OptimizeReport{}

	if o.detectionAllowed(state) {
		payload, err := o.provider.Subgraph(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("retrieving subgraph: %w", err)
		}
		if len(payload.Entities) == 0 && len(payload.Relationships) == 0 {
			o.logger.Info("Subgraph is empty, nothing to optimize", zap.String("query", query))
			return report, nil
		}

		detected, err := o.detectIssues(ctx, payload, state)
		if err != nil {
			return nil, err
		}
		report.IssuesDetected = detected
		if detected > 0 {
			if err := state.Save(); err != nil {
				return nil, err
			}
		}
	} else {
		o.logger.Info("Skipping detection, tracked issues still in flight",
			zap.Int("tracked", state.Len()))
	}

	evaluated, err := o.evaluateIssues(ctx, state)
	if err != nil {
		return nil, err
	}
	report.IssuesEvaluated = evaluated
	if evaluated > 0 {
		if err := state.Save(); err != nil {
			return nil, err
		}
	}

	if err := o.processIssues(ctx, state, report); err != nil {
		return nil, err
	}

	o.logger.Info("Optimization pass complete",
		zap.Int("detected", report.IssuesDetected),
		zap.Int("evaluated", report.IssuesEvaluated),
		zap.Int("resolved", report.IssuesResolved),
		zap.Int("skipped", report.IssuesSkipped),
		zap.Int("failed", report.IssuesFailed))
	return report, nil
}

// detectionAllowed gates detection on the backlog being settled: every
// tracked unresolved issue fully evaluated, and none of them eligible for
// processing. Detecting over a graph with eligible issues pending would
// re-flag the same defects the next phase is about to fix.
func (o *GraphOptimizer) detectionAllowed(state *OptimizerState) bool {
	for _, issue := range state.All() {
		if issue.IsResolved {
			continue
		}
		if len(issue.CriticEvaluations) < len(o.critics) {
			return false
		}
		if issue.ValidationScore >= o.cfg.ConfidenceThreshold {
			return false
		}
	}
	return true
}

// detectedIssue is the raw detection response item. Confidence and ids
// tolerate the scalar drift LLMs produce.
type detectedIssue struct {
	Reasoning   string `json:"reasoning"`
	Confidence  any    `json:"confidence"`
	IssueType   string `json:"issue_type"`
	AffectedIDs any    `json:"affected_ids"`
}

func (o *GraphOptimizer) detectIssues(ctx context.Context, payload *models.GraphPayload, state *OptimizerState) (int, error) {
	prompt := prompts.BuildDetectionPrompt(payload, duplicateNameHints(payload.Entities))
	system := prompts.BuildDetectionSystemMessage()

	var raw []detectedIssue
	err := o.withRetries(ctx, "detection", func() error {
		response, err := o.detector.GenerateResponse(ctx, prompt, system, 0)
		if err != nil {
			return err
		}
		raw, err = llm.ParseWithRepair[[]detectedIssue](ctx, o.detector, response, llm.FormatArray)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("quality issue detection: %w", err)
	}

	entityIDs := make(map[string]bool, len(payload.Entities))
	for _, entity := range payload.Entities {
		entityIDs[entity.ID] = true
	}
	relIDs := make(map[string]bool, len(payload.Relationships))
	for _, rel := range payload.Relationships {
		relIDs[rel.ID] = true
	}

	added := 0
	for _, item := range raw {
		issue := &models.Issue{
			IssueType:   item.IssueType,
			AffectedIDs: jsonutil.CoerceStringSlice(item.AffectedIDs),
			Reasoning:   item.Reasoning,
			Confidence:  confidenceValue(item.Confidence),
			SourceGraph: payload,
			CreatedAt:   time.Now(),
		}
		if reason := validateDetectedIssue(issue, entityIDs, relIDs); reason != "" {
			o.logger.Debug("Dropping detected issue",
				zap.String("issue_type", issue.IssueType),
				zap.String("reason", reason))
			continue
		}
		if state.Add(issue) {
			added++
		}
	}

	o.logger.Info("Detection complete",
		zap.Int("reported", len(raw)),
		zap.Int("added", added),
		zap.Int("tracked", state.Len()))
	return added, nil
}

// validateDetectedIssue checks a detection result against the snapshot it
// was found in. Returns a drop reason, or "" when the issue is usable.
func validateDetectedIssue(issue *models.Issue, entityIDs, relIDs map[string]bool) string {
	var idSet map[string]bool
	switch issue.IssueType {
	case models.IssueRedundancyEntity, models.IssueEntityQuality:
		idSet = entityIDs
	case models.IssueRedundancyRelationship, models.IssueRelationshipQuality:
		idSet = relIDs
	default:
		return fmt.Sprintf("unsupported issue type %q", issue.IssueType)
	}

	if issue.IsQualityIssue() {
		if len(issue.AffectedIDs) != 1 {
			return fmt.Sprintf("quality issue must affect exactly one id, got %d", len(issue.AffectedIDs))
		}
	} else if len(issue.AffectedIDs) < 2 {
		return fmt.Sprintf("redundancy issue must affect at least two ids, got %d", len(issue.AffectedIDs))
	}

	for _, id := range issue.AffectedIDs {
		if !idSet[id] {
			return fmt.Sprintf("affected id %s is not in the snapshot", id)
		}
	}
	return ""
}

// confidenceValue maps the detector's categorical confidence to a number.
// Numeric responses pass through clamped to [0,1].
func confidenceValue(raw any) float64 {
	switch strings.ToLower(jsonutil.CoerceString(raw)) {
	case "low":
		return 0.25
	case "moderate":
		return 0.5
	case "high":
		return 0.75
	case "very_high":
		return 1.0
	}
	f := jsonutil.CoerceFloat(raw)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// duplicateNameHints runs the heuristic duplicate pre-filter: entity names
// that collapse to the same lowercased singular form are surfaced to the
// detection model as starting points.
func duplicateNameHints(entities []models.EntitySummary) []string {
	buckets := make(map[string][]string)
	for _, entity := range entities {
		normalized := inflection.Singular(strings.ToLower(strings.TrimSpace(entity.Name)))
		if normalized == "" {
			continue
		}
		names := buckets[normalized]
		seen := false
		for _, name := range names {
			if name == entity.Name {
				seen = true
				break
			}
		}
		if !seen {
			buckets[normalized] = append(names, entity.Name)
		}
	}

	keys := make([]string, 0, len(buckets))
	for key, names := range buckets {
		if len(names) >= 2 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var hints []string
	for _, key := range keys {
		hints = append(hints, fmt.Sprintf("%s look like the same concept (normalized form %q)",
			strings.Join(buckets[key], ", "), key))
	}
	return hints
}

// evaluateIssues collects the missing critic verdicts for every unresolved
// issue. Each valid verdict adds criticValidWeight to the issue's validation
// score; a failed critic call leaves that verdict missing for the next pass.
func (o *GraphOptimizer) evaluateIssues(ctx context.Context, state *OptimizerState) (int, error) {
	criticNames := make([]string, 0, len(o.critics))
	for name := range o.critics {
		criticNames = append(criticNames, name)
	}
	sort.Strings(criticNames)

	evaluated := 0
	for _, issue := range state.All() {
		if issue.IsResolved {
			continue
		}
		for _, name := range criticNames {
			if issue.EvaluatedBy(name) {
				continue
			}

			prompt, err := prompts.BuildCriticPrompt(issue)
			if err != nil {
				return evaluated, fmt.Errorf("building critic prompt: %w", err)
			}

			critic := o.critics[name]
			var verdict models.CriticEvaluation
			err = o.withRetries(ctx, "critic "+name, func() error {
				response, err := critic.GenerateResponse(ctx, prompt, "", 0)
				if err != nil {
					return err
				}
				verdict, err = llm.ParseWithRepair[models.CriticEvaluation](ctx, critic, response, llm.FormatObject)
				return err
			})
			if err != nil {
				if ctx.Err() != nil {
					return evaluated, ctx.Err()
				}
				o.logger.Warn("Critic evaluation failed, leaving verdict pending",
					zap.String("critic", name),
					zap.String("issue_type", issue.IssueType),
					zap.Error(err))
				continue
			}

			if issue.CriticEvaluations == nil {
				issue.CriticEvaluations = make(map[string]models.CriticEvaluation)
			}
			issue.CriticEvaluations[name] = verdict
			if verdict.IsValid {
				issue.ValidationScore += criticValidWeight
			}
			evaluated++

			o.logger.Info("Critic verdict recorded",
				zap.String("critic", name),
				zap.String("issue_type", issue.IssueType),
				zap.Bool("is_valid", verdict.IsValid),
				zap.Float64("validation_score", issue.ValidationScore))
		}
	}
	return evaluated, nil
}

// issueWork is one resolver call plus the tracked issues it settles. Quality
// issues map one to one; transitively merged redundancy groups settle every
// issue in the group.
type issueWork struct {
	issue  *models.Issue
	covers []*models.Issue
	run    func(ctx context.Context, issue *models.Issue) (resolverOutcome, error)
}

// processIssues resolves every eligible issue, one issue type at a time.
// Quality fixes run before redundancy merges of the same element kind so
// merges consume the best available descriptions; entities settle before
// relationships because entity merges rewrite relationship endpoints.
func (o *GraphOptimizer) processIssues(ctx context.Context, state *OptimizerState, report *OptimizeReport) error {
	pending := state.Pending(o.cfg.ConfidenceThreshold)
	if len(pending) == 0 {
		return nil
	}

	byType := make(map[string][]*models.Issue)
	for _, issue := range pending {
		byType[issue.IssueType] = append(byType[issue.IssueType], issue)
	}

	order := []string{
		models.IssueEntityQuality,
		models.IssueRedundancyEntity,
		models.IssueRelationshipQuality,
		models.IssueRedundancyRelationship,
	}
	for _, issueType := range order {
		issues := byType[issueType]
		if len(issues) == 0 {
			continue
		}

		var work []issueWork
		if issueType == models.IssueEntityQuality || issueType == models.IssueRelationshipQuality {
			work = o.qualityWork(issueType, issues)
		} else {
			work = o.redundancyWork(issueType, issues)
		}

		if err := o.runWorkBatches(ctx, state, work, report); err != nil {
			return err
		}
	}
	return nil
}

// qualityWork splits quality issues into one resolver call per affected id.
// An id already covered by another issue in this batch is settled by that
// first fix; its duplicates resolve without a second rewrite.
func (o *GraphOptimizer) qualityWork(issueType string, issues []*models.Issue) []issueWork {
	run := o.resolver.resolveEntityQuality
	if issueType == models.IssueRelationshipQuality {
		run = o.resolver.resolveRelationshipQuality
	}

	claimed := make(map[string]bool)
	var work []issueWork
	for _, issue := range issues {
		fresh := false
		for _, id := range issue.AffectedIDs {
			if !claimed[id] {
				claimed[id] = true
				fresh = true
			}
		}
		if !fresh {
			// Every affected id is already being rewritten this pass.
			work = append(work, issueWork{
				issue:  issue,
				covers: []*models.Issue{issue},
				run: func(context.Context, *models.Issue) (resolverOutcome, error) {
					return skipped("element already rewritten by an earlier issue"), nil
				},
			})
			continue
		}
		work = append(work, issueWork{
			issue:  issue,
			covers: []*models.Issue{issue},
			run:    run,
		})
	}
	return work
}

// redundancyWork merges transitively overlapping redundancy groups to a
// fixpoint. Two groups sharing any affected id describe the same duplicate
// cluster and must merge in one resolver call, or the second call would
// reference rows the first already deleted.
func (o *GraphOptimizer) redundancyWork(issueType string, issues []*models.Issue) []issueWork {
	run := o.resolver.resolveEntityRedundancy
	if issueType == models.IssueRedundancyRelationship {
		run = o.resolver.resolveRelationshipRedundancy
	}

	type group struct {
		ids       map[string]bool
		reasoning []string
		covers    []*models.Issue
	}

	var groups []*group
	for _, issue := range issues {
		g := &group{ids: make(map[string]bool), covers: []*models.Issue{issue}}
		for _, id := range issue.AffectedIDs {
			g.ids[id] = true
		}
		g.reasoning = append(g.reasoning, issue.Reasoning)
		groups = append(groups, g)
	}

	for {
		merged := false
		for i := 0; i < len(groups) && !merged; i++ {
			for j := i + 1; j < len(groups); j++ {
				if !overlaps(groups[i].ids, groups[j].ids) {
					continue
				}
				for id := range groups[j].ids {
					groups[i].ids[id] = true
				}
				groups[i].reasoning = append(groups[i].reasoning, groups[j].reasoning...)
				groups[i].covers = append(groups[i].covers, groups[j].covers...)
				groups = append(groups[:j], groups[j+1:]...)
				merged = true
				break
			}
		}
		if !merged {
			break
		}
	}

	var work []issueWork
	for _, g := range groups {
		ids := make([]string, 0, len(g.ids))
		for id := range g.ids {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		first := g.covers[0]
		work = append(work, issueWork{
			issue: &models.Issue{
				IssueType:   issueType,
				AffectedIDs: ids,
				Reasoning:   strings.Join(g.reasoning, "\n\n"),
				SourceGraph: first.SourceGraph,
				CreatedAt:   first.CreatedAt,
			},
			covers: g.covers,
			run:    run,
		})
	}
	return work
}

func overlaps(a, b map[string]bool) bool {
	for id := range a {
		if b[id] {
			return true
		}
	}
	return false
}

// runWorkBatches executes work in batches of MaxConcurrentIssues, saving
// state after every batch so a crash never replays a completed merge.
func (o *GraphOptimizer) runWorkBatches(ctx context.Context, state *OptimizerState, work []issueWork, report *OptimizeReport) error {
	for start := 0; start < len(work); start += o.cfg.MaxConcurrentIssues {
		end := start + o.cfg.MaxConcurrentIssues
		if end > len(work) {
			end = len(work)
		}
		batch := work[start:end]

		items := make([]llm.WorkItem[resolverOutcome], len(batch))
		for i, w := range batch {
			w := w
			items[i] = llm.WorkItem[resolverOutcome]{
				ID: fmt.Sprintf("%s[%s]", w.issue.IssueType, strings.Join(w.issue.AffectedIDs, ",")),
				Execute: func(ctx context.Context) (resolverOutcome, error) {
					outcome, err := w.run(ctx, w.issue)
					if err != nil {
						return outcome, fmt.Errorf("%w: %v", apperrors.ErrOptimizer, err)
					}
					return outcome, nil
				},
			}
		}

		byID := make(map[string]issueWork, len(batch))
		for i, w := range batch {
			byID[items[i].ID] = w
		}

		results := llm.Process(ctx, o.pool, items, nil)
		for _, result := range results {
			w := byID[result.ID]
			if result.Err != nil {
				report.IssuesFailed += len(w.covers)
				o.logger.Error("Issue resolution failed",
					zap.String("work", result.ID),
					zap.Error(result.Err))
				continue
			}
			if result.Result.Skipped != "" {
				report.IssuesSkipped += len(w.covers)
				o.logger.Info("Issue skipped",
					zap.String("work", result.ID),
					zap.String("reason", result.Result.Skipped))
			}
			report.IssuesResolved += len(w.covers)
			for _, covered := range w.covers {
				covered.IsResolved = true
			}
		}

		if err := state.Save(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// withRetries runs call up to MaxRetries times. Context cancellation stops
// the retry loop immediately.
func (o *GraphOptimizer) withRetries(ctx context.Context, label string, call func() error) error {
	attempts := o.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = call(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt < attempts {
			o.logger.Warn("Retrying LLM call",
				zap.String("call", label),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
	}
	return err
}
