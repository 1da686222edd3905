package prompts

import (
	"fmt"
	"strings"

	"github.com/chronicle-ai/chronicle-engine/pkg/models"
)

// qualityObjectives is the shared definition of what a healthy graph looks
// like. Detection, critique, and the default quality standard all cite it.
const qualityObjectives = `- **Non-redundant**: Contains unique entities and relationships, avoiding duplication of the same real-world concept or connection.
- **Coherent**: Entities and relationships form a logical, consistent, and understandable structure representing the domain.
- **Precise**: Entities and relationships have clear, unambiguous definitions and descriptions, accurately representing specific concepts and connections.
- **Factually accurate**: All represented knowledge correctly reflects the real world or the intended domain scope.
- **Efficiently connected**: Features optimal pathways between related entities, avoiding unnecessary or misleading connections while ensuring essential links exist.`

// Per-type identification guidelines. The detection system message numbers
// them; the critic prompt embeds the one matching the issue under review.
const guidelineRedundantEntities = `**Redundant Entities**(redundancy_entity):

- Definition: Two or more distinct entity entries represent the exact same real-world entity or concept (identical in type and instance).
- Identification: Look for highly similar names, aliases, and descriptions that clearly refer to the same thing without meaningful distinction.
- Exclusion: Do not flag entities as redundant if they represent different levels in a clear hierarchy (e.g., "Artificial Intelligence" vs. "Machine Learning") or distinct concepts that happen to be related (e.g., "Company A" vs. "CEO of Company A").`

const guidelineRedundantRelationships = `**Redundant Relationships**(redundancy_relationship):

- Definition: Two or more distinct relationship entries connect the same pair of source and target entities (or entities identified as redundant duplicates) with the same semantic meaning.
- Identification: Look for identical or near-identical source/target entity pairs and relationship types/descriptions that convey the exact same connection. Minor variations in phrasing that don't change the core meaning should still be considered redundant.
- Example:
    - Redundant: User → Purchased → Product and Customer → Ordered → Product.
    - Non-redundant: User → Purchased in 2023 → Product and Customer → Purchased 2024 → Product.
- Note: Overlap in descriptive text between an entity and a relationship connected to it is generally acceptable for context and should not, by itself, trigger redundancy.`

const guidelineEntityQuality = `**Entity Quality Issues**(entity_quality_issue):

- Definition: Fundamental flaws within a single entity's definition, description, or attributes that significantly hinder its clarity, accuracy, or usability. This is about core problems, not merely lacking detail.
- Subtypes:
    - Inconsistent Claims: Contains attributes or information that directly contradict each other (e.g., having mutually exclusive status flags like Status: Active and Status: Deleted). This points to a factual impossibility within the entity's representation.
    - Meaningless or Fundamentally Vague Description: The description is so generic, placeholder-like, or nonsensical that it provides no usable information to define or distinguish the entity (e.g., "An item", "Data entry", "See notes", "Used for system processes" without any specifics). The description fails its basic purpose.
    - Ambiguous Definition/Description: The provided name, description, or key attributes are described in a way that could plausibly refer to multiple distinct real-world concepts or entities, lacking the necessary specificity for unambiguous identification within the graph's context (e.g., An entity named "System" with description "Manages data processing" in a graph with multiple such systems).`

const guidelineRelationshipQuality = `**Relationship Quality Issues**(relationship_quality_issue):

- Definition: Fundamental flaws within a single relationship's definition or description that obscure its purpose, meaning, or the nature of the connection between the source and target entities. This is about core problems, not merely lacking detail.
- Subtypes:
    - Contradictory Definitions: Conflicting attributes or logic.
    - Fundamentally Unclear or Ambiguous Meaning: The relationship type or description is so vague, generic, or poorly defined that the nature of the connection between the source and target cannot be reliably understood. It fails to convey a specific semantic meaning. (e.g., ` + "`System A -- affects --> System B`" + ` without any context of how). This covers cases where the essential meaning is missing, making the relationship definition practically useless or open to multiple interpretations.
    - **Explicit Exclusions (Important!)**:
        * **Do NOT flag as a quality issue** solely because a description could be more detailed or comprehensive. The focus must remain on whether the *existing* definition is fundamentally flawed (contradictory, ambiguous, unclear).`

// detectionIssueSchema is the annotated issue shape in the output format
// section of the detection system message.
const detectionIssueSchema = `[
  {
    "reasoning": "Provide a concise summary of your analysis from the <think> section that justifies identifying this specific issue.",
    "confidence": "high", // Must be one of: "low", "moderate", "high", "very_high"
    "issue_type": "entity_quality_issue", // Must be one of: "redundancy_entity", "redundancy_relationship", "entity_quality_issue", "relationship_quality_issue"
    "affected_ids": [id1, id2, ...] // List of relevant entity or relationship IDs
  },
  // Additional issues...
]`

// detectionIssueExample is the un-annotated variant used in the worked
// example.
const detectionIssueExample = `[
  {
    "reasoning": "Provide a concise summary of your analysis from the <think> section that justifies identifying this specific issue.",
    "confidence": "high",
    "issue_type": "entity_quality_issue",
    "affected_ids": [id1, id2, ...]
  },
  // Additional issues...
]`

// BuildDetectionSystemMessage returns the Graph-GPT system message that
// drives quality issue detection over a subgraph snapshot.
func BuildDetectionSystemMessage() string {
	var b strings.Builder

	b.WriteString(`You are Graph-GPT, a knowledge graph expert. Your task is to meticulously analyze the provided knowledge graph data to identify and describe specific issues according to the defined quality objectives and issue types below. Your goal is to facilitate targeted quality improvements while preserving the graph's knowledge integrity.

# Quality Objectives

A high-quality knowledge graph should be:

`)
	b.WriteString(qualityObjectives)
	b.WriteString("\n\n\n# Key Issues to Address\n\n")
	b.WriteString("1. " + guidelineRedundantEntities + "\n\n")
	b.WriteString("2. " + guidelineRedundantRelationships + "\n\n")
	b.WriteString("3. " + guidelineEntityQuality + "\n\n")
	b.WriteString("4. " + guidelineRelationshipQuality + "\n\n")

	b.WriteString("# Output Format\n\n")
	b.WriteString("Your analysis output must strictly adhere to the following format. Begin with a <think> section detailing your reasoning process for each identified issue in the knowledge graph. Follow this with a JSON array containing the list of issues as your final answer.\n\n")
	b.WriteString("1. `<think>` Block: Include all your detailed analysis, reasoning steps, and reflections that led to identifying (or not identifying) each potential issue. Explain why something meets the criteria for a specific issue type.\n")
	b.WriteString("2.  Final answer: Present a list of identified issues surrounded by ```json and ``` markers. This list must be formatted as a JSON array and must be placed at the very end of your response. Only this JSON array will be parsed as your final answer. If no issues are found after thorough analysis, provide an empty JSON array (i.e., ```json[]```). Each identified problem must be represented as a JSON object within the array with the following structure:\n\n")
	b.WriteString("```json\n")
	b.WriteString(detectionIssueSchema)
	b.WriteString("\n```\n\n")

	b.WriteString("## `affected_ids` Specification (Crucial!)\n\n")
	b.WriteString("The content and format of the `affected_ids` field depend strictly on the `issue_type` and must contain IDs present in the graph:\n\n")
	b.WriteString("- `redundancy_entity`: `affected_ids` must contain the IDs of all entities identified as redundant duplicates of each other (minimum of two IDs). Example: `[entity_id1, entity_id2, entity_id3]`\n")
	b.WriteString("- `redundancy_relationship`: `affected_ids` must contain the IDs of all relationships identified as redundant duplicates connecting the same entities with the same meaning (minimum of two IDs). Example: `[relationship_id1, relationship_id2]`\n")
	b.WriteString("- `entity_quality_issue`: `affected_ids` must contain exactly one entity ID, the ID of the entity exhibiting the quality issue. Example: `[entity_id_with_issue]`\n")
	b.WriteString("- `relationship_quality_issue`: `affected_ids` must contain exactly one relationship ID, the ID of the relationship exhibiting the quality issue. Example: `[relationship_id_with_issue]`\n\n")

	b.WriteString("## Example\n\n")
	b.WriteString("<think>\nyour detailed reasoning trajectories for graph here\n</think>\n\n")
	b.WriteString("```json\n")
	b.WriteString(detectionIssueExample)
	b.WriteString("\n```\n\n")

	b.WriteString("**Important**: Adhere strictly to these definitions and formats. Take sufficient time to analyze the graph data thoroughly against these principles before generating the output. Ensure your reasoning is sound and clearly connected to the specific issue criteria.\n\n")
	b.WriteString("Now, Please take more time to think and be comprehensive in your issue, ensure your output is valid, complete, and follows the required structure exactly.")

	return b.String()
}

// BuildDetectionPrompt renders the subgraph snapshot for the detection call.
// Duplicate-name hints from the heuristic pre-filter ride along so the model
// starts from the obvious collisions.
func BuildDetectionPrompt(graph *models.GraphPayload, duplicateHints []string) string {
	var b strings.Builder

	b.WriteString("Now Optimize the following graph:\n")
	b.WriteString(indentJSON(graph))

	if len(duplicateHints) > 0 {
		b.WriteString("\n\nHeuristic name-collision hints (verify against the definitions above before flagging):\n")
		for _, hint := range duplicateHints {
			b.WriteString("- " + hint + "\n")
		}
	}

	return b.String()
}

// BuildCriticPrompt creates the prompt one critic model answers for one
// issue: is this issue valid against the graph snapshot it was found in?
// The response is a JSON object with is_valid and critique fields.
func BuildCriticPrompt(issue *models.Issue) (string, error) {
	guideline, err := criticGuideline(issue.IssueType)
	if err != nil {
		return "", err
	}

	criticObject := fmt.Sprintf("affected entities: %s", compactJSON(issue.AffectedIDs))
	if issue.IssueType == models.IssueRedundancyRelationship || issue.IssueType == models.IssueRelationshipQuality {
		criticObject = fmt.Sprintf("affected relationships: %s", compactJSON(issue.AffectedIDs))
	}

	var b strings.Builder

	b.WriteString("You are a critic expert. You are given a graph and an issue. Please analyze the issue and provide a critique.\n\n")
	b.WriteString("# Quality Objectives\n\nA high-quality knowledge graph should be:\n\n")
	b.WriteString(qualityObjectives)
	b.WriteString("\n\n\n## Issue Identification Guidelines\n\n")
	b.WriteString(guideline)
	b.WriteString("\n\n# Issue to critique\n\n")

	b.WriteString("## Graph:\n")
	b.WriteString(indentJSON(issue.SourceGraph))
	b.WriteString("\n\n## Issue Description:\n\n")
	b.WriteString(fmt.Sprintf("issue type: %s\n", issue.IssueType))
	b.WriteString(criticObject + "\n")
	b.WriteString(fmt.Sprintf("reasoning: %s\n\n", issue.Reasoning))

	b.WriteString("Please provide a critical analysis of this issue. Determine whether the issue is valid based on the graph data and the reasoning provided.\n\n")
	b.WriteString("Your response should be a JSON with the following format (if is_valid is true, the issue makes sense, otherwise the issue does not make sense):\n")
	b.WriteString("```json\n")
	b.WriteString(`{
"is_valid": true/false,
"critique": "Your detailed critique explaining why the issue is valid or invalid. Include specific references to the graph data where applicable."
}`)
	b.WriteString("\n```\n")

	return b.String(), nil
}

func criticGuideline(issueType string) (string, error) {
	switch issueType {
	case models.IssueRedundancyEntity:
		return guidelineRedundantEntities, nil
	case models.IssueRedundancyRelationship:
		return guidelineRedundantRelationships, nil
	case models.IssueEntityQuality:
		return guidelineEntityQuality, nil
	case models.IssueRelationshipQuality:
		return guidelineRelationshipQuality, nil
	default:
		return "", fmt.Errorf("no critique guideline for issue type %q", issueType)
	}
}
