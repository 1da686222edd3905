package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/jsonutil"
	"github.com/chronicle-ai/chronicle-engine/pkg/llm"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
	"github.com/chronicle-ai/chronicle-engine/pkg/prompts"
	"github.com/chronicle-ai/chronicle-engine/pkg/repositories"
)

// BlueprintService runs the second pipeline stage: one call over every
// cognitive map for a topic, producing the cross-document extraction
// strategy that stage three follows.
type BlueprintService interface {
	// GenerateBlueprint returns the topic's analysis blueprint, reusing the
	// stored one unless force is set. At least one cognitive map is
	// required.
	GenerateBlueprint(ctx context.Context, topicName string, cognitiveMaps []*models.CognitiveMap, force bool) (*models.AnalysisBlueprint, error)
}

type blueprintService struct {
	blueprintRepo repositories.BlueprintRepository
	llmClient     llm.Generator
	logger        *zap.Logger
}

// NewBlueprintService creates a BlueprintService.
func NewBlueprintService(
	blueprintRepo repositories.BlueprintRepository,
	llmClient llm.Generator,
	logger *zap.Logger,
) BlueprintService {
	return &blueprintService{
		blueprintRepo: blueprintRepo,
		llmClient:     llmClient,
		logger:        logger.Named("blueprint"),
	}
}

var _ BlueprintService = (*blueprintService)(nil)

func (s *blueprintService) GenerateBlueprint(ctx context.Context, topicName string, cognitiveMaps []*models.CognitiveMap, force bool) (*models.AnalysisBlueprint, error) {
	if len(cognitiveMaps) == 0 {
		return nil, fmt.Errorf("%w: no cognitive maps found for topic %q", apperrors.ErrValidation, topicName)
	}

	existing, err := s.blueprintRepo.GetByTopic(ctx, topicName)
	if err == nil && !force {
		s.logger.Info("Using existing analysis blueprint", zap.String("topic", topicName))
		return existing, nil
	}
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("loading existing blueprint: %w", err)
	}

	s.logger.Info("Generating analysis blueprint",
		zap.String("topic", topicName),
		zap.Int("documents", len(cognitiveMaps)))

	prompt := prompts.BuildAnalysisBlueprintPrompt(topicName, cognitiveMaps)
	response, err := s.llmClient.GenerateResponse(ctx, prompt, "", 0)
	if err != nil {
		return nil, fmt.Errorf("blueprint call for topic %q failed: %w", topicName, err)
	}

	data, err := llm.ParseWithRepair[map[string]any](ctx, s.llmClient, response, llm.FormatObject)
	if err != nil {
		return nil, fmt.Errorf("parsing blueprint for topic %q: %w", topicName, err)
	}

	canonical := jsonutil.GetMap(data, "canonical_entities")
	if canonical == nil {
		canonical = map[string]any{}
	}
	patterns := jsonutil.GetMap(data, "key_patterns")
	if patterns == nil {
		patterns = map[string]any{}
	}
	timeline, _ := data["global_timeline"].([]any)
	if timeline == nil {
		timeline = []any{}
	}

	bp := &models.AnalysisBlueprint{
		TopicName: topicName,
		ProcessingItems: map[string]any{
			models.BlueprintItemCanonicalEntities: canonical,
			models.BlueprintItemKeyPatterns:       patterns,
			models.BlueprintItemGlobalTimeline:    timeline,
			models.BlueprintItemDocumentCount:     len(cognitiveMaps),
		},
		ProcessingInstructions: flattenProcessingInstructions(data["processing_instructions"]),
	}
	if err := s.blueprintRepo.Create(ctx, bp); err != nil {
		return nil, fmt.Errorf("storing blueprint for topic %q: %w", topicName, err)
	}

	s.logger.Info("Analysis blueprint generated",
		zap.String("topic", topicName),
		zap.Int("documents", len(cognitiveMaps)))
	return bp, nil
}

// instructionSectionOrder fixes the rendering order of the known instruction
// sections so flattened output is stable across runs.
var instructionSectionOrder = []string{
	"conflict_handling",
	"quality_focus",
	"extraction_emphasis",
	"cross_document_insights",
}

// flattenProcessingInstructions renders the model's free-form instruction
// payload as prompt-ready text: each section as an upper-cased header
// followed by its value, lists as bullet points. Empty sections are skipped.
func flattenProcessingInstructions(value any) string {
	switch data := value.(type) {
	case string:
		return data

	case map[string]any:
		keys := make([]string, 0, len(data))
		seen := make(map[string]bool, len(data))
		for _, key := range instructionSectionOrder {
			if _, ok := data[key]; ok {
				keys = append(keys, key)
				seen[key] = true
			}
		}
		rest := make([]string, 0, len(data))
		for key := range data {
			if !seen[key] {
				rest = append(rest, key)
			}
		}
		sort.Strings(rest)
		keys = append(keys, rest...)

		var parts []string
		for _, key := range keys {
			switch v := data[key].(type) {
			case nil:
				continue
			case string:
				if v == "" {
					continue
				}
				parts = append(parts, strings.ToUpper(key)+":", v, "")
			case []any:
				if len(v) == 0 {
					continue
				}
				parts = append(parts, strings.ToUpper(key)+":")
				for _, item := range v {
					parts = append(parts, fmt.Sprintf("  - %v", item))
				}
				parts = append(parts, "")
			default:
				parts = append(parts, strings.ToUpper(key)+":", fmt.Sprintf("%v", v), "")
			}
		}
		return strings.Join(parts, "\n")
	}

	return ""
}
