package prompts

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/chronicle-ai/chronicle-engine/pkg/models"
)

func TestBuildAnalysisBlueprintPrompt(t *testing.T) {
	maps := []*models.CognitiveMap{
		{
			SourceID:           uuid.New(),
			SourceName:         "incident_report.md",
			Summary:            "Postmortem of the March cache outage.",
			KeyEntities:        []string{"Cache Cluster", "SRE Team"},
			ThemeKeywords:      []string{"outage", "failover"},
			ImportantTimeline:  []any{"2023-03-04: primary node lost"},
			StructuralPatterns: "problem_solution",
		},
		{
			SourceID:           uuid.New(),
			SourceName:         "architecture_overview.md",
			Summary:            "Describes the caching tier design.",
			KeyEntities:        []string{"Cache Cluster", "Gateway"},
			ThemeKeywords:      []string{"architecture"},
			ImportantTimeline:  []any{},
			StructuralPatterns: "hierarchical",
		},
	}

	prompt := BuildAnalysisBlueprintPrompt("Platform Reliability", maps)

	// Verify framing
	assert.Contains(t, prompt, `analyzing cognitive maps from 2 documents for "Platform Reliability"`)
	assert.Contains(t, prompt, "GLOBAL BLUEPRINT")
	assert.Contains(t, prompt, "<cognitive_maps_collection>")
	assert.Contains(t, prompt, "</cognitive_maps_collection>")
	assert.Contains(t, prompt, `Generate the global blueprint for "Platform Reliability".`)

	// Verify the maps are embedded
	assert.Contains(t, prompt, "incident_report.md")
	assert.Contains(t, prompt, "Postmortem of the March cache outage.")
	assert.Contains(t, prompt, "architecture_overview.md")

	// Verify schema sections
	assert.Contains(t, prompt, `"canonical_entities"`)
	assert.Contains(t, prompt, `"key_patterns"`)
	assert.Contains(t, prompt, `"global_timeline"`)
	assert.Contains(t, prompt, `"processing_instructions"`)
	assert.Contains(t, prompt, `"relationship_patterns"`)
	assert.Contains(t, prompt, `"temporal_patterns"`)
	assert.Contains(t, prompt, `"narrative_themes"`)

	// Verify requirements
	assert.Contains(t, prompt, "**CRITICAL REQUIREMENTS:**")
	assert.Contains(t, prompt, "Canonical Entities")
	assert.Contains(t, prompt, "IMPOSSIBLE to derive from any single document alone")
}

func TestBuildAnalysisBlueprintPrompt_NoMaps(t *testing.T) {
	prompt := BuildAnalysisBlueprintPrompt("Empty Topic", nil)

	assert.Contains(t, prompt, `analyzing cognitive maps from 0 documents for "Empty Topic"`)
	assert.Contains(t, prompt, "<cognitive_maps_collection>")
}
