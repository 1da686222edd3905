package prompts

import (
	"fmt"
	"strings"

	"github.com/chronicle-ai/chronicle-engine/pkg/models"
)

// IssuePayload is the trimmed issue view embedded in resolver prompts.
// Quality issues are split per affected id before resolution, so AffectedIDs
// holds exactly the ids this resolver call covers.
type IssuePayload struct {
	IssueType   string   `json:"issue_type"`
	Reasoning   string   `json:"reasoning"`
	AffectedIDs []string `json:"affected_ids"`
}

// PayloadForIssue trims an issue to the fields resolver prompts embed.
func PayloadForIssue(issue *models.Issue) IssuePayload {
	return IssuePayload{
		IssueType:   issue.IssueType,
		Reasoning:   issue.Reasoning,
		AffectedIDs: issue.AffectedIDs,
	}
}

// SourceExcerpt is one source document offered to a resolver as evidence.
// Callers trim the list to the token budget before building the prompt.
type SourceExcerpt struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Content    string         `json:"content"`
	Link       string         `json:"link,omitempty"`
	SourceType string         `json:"source_type,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// FormatRelationshipLine renders one relationship for resolver background
// context.
func FormatRelationshipLine(sourceName, targetName, desc string) string {
	return fmt.Sprintf("%s -> %s: %s", sourceName, targetName, desc)
}

// FormatMergeRelationshipLine additionally carries the endpoint ids so the
// merge response can name which endpoint leads the merged edge.
func FormatMergeRelationshipLine(sourceName, sourceID, targetName, targetID, desc string) string {
	return fmt.Sprintf("%s(source_entity_id=%s) -> %s(target_entity_id=%s): %s",
		sourceName, sourceID, targetName, targetID, desc)
}

// entityOutputShape is the response shape shared by the entity refine and
// merge prompts.
const entityOutputShape = `{
"name": "...",
"description": "...",
"attributes": {}
}`

func writeFencedJSON(b *strings.Builder, v any) {
	b.WriteString("```json\n")
	b.WriteString(indentJSON(v))
	b.WriteString("\n```\n\n")
}

// BuildRefineEntityPrompt creates the resolver prompt for a single entity
// quality issue. The response is a JSON object with name, description, and
// attributes for the corrected entity.
func BuildRefineEntityPrompt(issue IssuePayload, entity models.EntitySummary, relationships []string, sources []SourceExcerpt) string {
	if relationships == nil {
		relationships = []string{}
	}
	if sources == nil {
		sources = []SourceExcerpt{}
	}

	var b strings.Builder

	b.WriteString(`You are an expert assistant specializing in database technologies and knowledge graph curation, tasked with rectifying quality issues within a single entity.

## Objective

Your primary goal is to **transform a problematic entity into an accurate, coherent, meaningful, and self-contained representation**. This involves correcting identified flaws, enriching its details using available context, and ensuring it becomes a high-quality, usable piece of information. The improved entity must be clear and easily understood by a knowledgeable audience (which may include those not deeply expert in every specific nuance).

## Input Data

You will be provided with the following information:

`)
	b.WriteString("1.  **Entity Quality Issue (`issue`):** Describes the specific quality problem(s) with the entity that needs to be addressed.\n")
	writeFencedJSON(&b, issue)
	b.WriteString("2.  **Entity to Improve (`entity_to_improve`):** The entity object referred in the issue.\n")
	writeFencedJSON(&b, entity)
	b.WriteString("3.  **Background Information:** Use this to gain a deeper understanding, resolve inconsistencies/ambiguities, and enrich the entity, ensuring all *genuinely relevant* context informs the improvement process.\n")
	b.WriteString("    * **Relevant Relationships (`relationships`):** Describes how the problematic entity relates to other entities. Use this to understand its functional role, dependencies, and interactions to clarify its identity and purpose.\n")
	writeFencedJSON(&b, relationships)
	b.WriteString("    * **Relevant Source Knowledge (`source_data`):** Text snippets related to the entity. Identify and extract *truly valuable details* from these source data to correct, clarify, and enhance the entity's description and metadata. Prioritize information that resolves the identified quality issues.\n")
	writeFencedJSON(&b, sources)

	b.WriteString(`## Core Principles for Entity Improvement

Rely on your expert judgment to achieve the following:

1.  **Meaningful Correction and Enhancement:**
    * Prioritize creating a **factually accurate, clear, and high-quality representation** that effectively addresses the identified quality flaws.
    * Preserve and integrate information that is **genuinely significant for rectifying the issues, adding crucial context, or improving understanding**.
    * Resolve discrepancies and ambiguities thoughtfully, aiming for a coherent narrative. If conflicts cannot be definitively resolved with the given information, this should be noted if critical, or the most probable interpretation chosen with justification.
    * All corrections and enhancements MUST be directly supported by the provided background information - never invent or assume facts not present in the input data.

2.  **Accuracy, Clarity, and Completeness:**
    * Ensure the improved entity is **unambiguous, logically structured, and easily digestible**.
    * Strive for an optimal balance: comprehensive enough to be authoritative and address the quality flaw, yet concise enough for practical use. **Avoid information overload.**

## Improvement Guidelines (Applying Principles with Strategic Judgment)

Apply the Core Principles to make informed decisions for each aspect of the entity:

`)
	b.WriteString("1.  **Name Refinement (`name`):**\n")
	b.WriteString("    * Choose/refine the name to be **precise, unambiguous, and accurately reflecting the entity's now-clarified identity and purpose.**\n")
	b.WriteString("    * If the original name was a significant identifier despite being flawed, or if other common names exist, document them as aliases in `meta.aliases` to aid discoverability.\n\n")
	b.WriteString("2.  **Description Enhancement (`description`):**\n")
	b.WriteString("    * **Synthesize a new, coherent narrative** that integrates corrections, clarifications, and enriched details from all relevant sources (`entity_to_improve`'s original data, `source_data`, `relationships`).\n")
	b.WriteString("    * Focus on delivering a **clear, accurate, and comprehensive understanding** of the entity, ensuring it directly addresses and resolves the identified quality issue.\n")
	b.WriteString("    * Ensure a logical flow and highlight key characteristics.\n")
	b.WriteString("    * Every statement in the description must be traceable to the background information provided.\n\n")
	b.WriteString("3.  **Attributes Augmentation/Correction (`attributes`):**\n")
	b.WriteString("    * Consolidate and correct attributes. Select, update, or add fields that provide **essential context, provenance, or defining attributes** for the improved entity.\n")
	b.WriteString("    * Correct any erroneous values based on `source_data` or `relationships`.\n")
	b.WriteString("    * Add new attributes if they are critical for understanding the entity's corrected definition or provide important context (e.g., a more specific `entity_type`, `data_source_reliability`).\n")
	b.WriteString("    * Ensure each attribute is meaningful, accurate, and supports the improved entity.\n")
	b.WriteString("    * All attributes must be derived from or supported by the background information.\n\n")

	b.WriteString("## Output Requirements\n\nReturn a single JSON object representing the improved entity. The structure MUST be as follows:\n\n")
	b.WriteString("```json\n")
	b.WriteString(entityOutputShape)
	b.WriteString("\n```\n\n")

	b.WriteString(`Final Check: Before finalizing, review the improved entity:

- Is it a high-quality, useful piece of information?
- Are the original quality issues demonstrably resolved?
- Is it clear, concise, accurate, yet comprehensive?
- Does it truly represent the best understanding of the underlying concept based on the provided information?
- Are all technical terms, identifiers, and features sufficiently contextualized or explained to be understood by a reasonably knowledgeable audience in database technologies?

Based on all the provided information and guidelines, exercising your expert judgment, generate the improved entity.`)

	return b.String()
}

// BuildMergeEntitiesPrompt creates the resolver prompt for a redundant
// entity group. The response is a JSON object with name, description, and
// attributes for the single merged entity.
func BuildMergeEntitiesPrompt(issue IssuePayload, entities []models.EntitySummary, relationships []string, sources []SourceExcerpt) string {
	if relationships == nil {
		relationships = []string{}
	}
	if sources == nil {
		sources = []SourceExcerpt{}
	}

	var b strings.Builder

	b.WriteString(`You are an expert assistant specializing in database technologies, tasked with intelligently consolidating redundant entity information.

## Objective

Your primary goal is to synthesize a **single, authoritative, and high-quality entity** from a group of redundant ones. This merged entity should be more comprehensive, coherent, **meaningful, and self-contained** than any individual source entity. It's not just about combining data, but about creating a **genuinely improved representation** that effectively reduces redundancy while maximizing clarity, utility, and **ease of understanding for a knowledgeable audience (which may include those not deeply expert in every specific nuance).** Prioritize information significance, contextual accuracy, and overall comprehensibility.

## Input Data

You will be provided with the following information:

`)
	b.WriteString("1.  **Redundancy Issue (`issue`):** Describes why these entities are considered redundant and need merging.\n")
	writeFencedJSON(&b, issue)
	b.WriteString("2.  **Entities to Merge (`entities`):** A list of the entity objects that require merging.\n")
	writeFencedJSON(&b, entities)
	b.WriteString("3.  **Background Information:** Use this to gain a deeper understanding and to enrich the merged entity, ensuring all *genuinely relevant* context is captured or informs the synthesis.\n")
	b.WriteString("    * **Relevant Relationships (`relationships`):** Describes how the redundant entities relate to other entities. Use this to understand the broader context and to inform the selection and presentation of relational insights within the description if they add significant value.\n")
	writeFencedJSON(&b, relationships)
	b.WriteString("    * **Relevant Source Knowledge (`source_data`):** Text snippets related to the entities. Identify and extract *truly valuable details* from these chunks to enhance the merged description and metadata, avoiding trivial or overly specific information unless critical.\n")
	writeFencedJSON(&b, sources)

	b.WriteString(`## Core Principles for Merging

Rely on your expert judgment to achieve the following:

1.  **Meaningful Synthesis for Enhanced Understanding:**
    * Prioritize creating a **holistic, accurate, and high-quality representation** that is more valuable than the sum of its parts.
    * Preserve information that is **genuinely significant, unique, or offers crucial context**. Critically assess if all details add value or if some can be omitted for clarity and conciseness.
    * Resolve discrepancies thoughtfully, aiming for a coherent narrative that explains differing perspectives if they are important for a complete understanding.
    * All enhancements MUST be directly supported by the provided background information - never invent or assume facts not present in the input data.

2.  **Clarity, Coherence, and Utility:**
    * Ensure the merged entity is **clear, logically structured, and easily digestible**.
    * Strive for an optimal balance: comprehensive enough to be authoritative, yet concise enough for practical use. **Avoid information overload and undue complexity.**

## Merging Guidelines (Applying Principles with Strategic Judgment)

Apply the Core Principles to make informed decisions for each aspect of the entity:

`)
	b.WriteString("1.  **Name Selection (`name`):**\n")
	b.WriteString("    * Choose the **most representative, widely recognized, and unambiguous name**. Document essential aliases in `meta` if they significantly aid discoverability or understanding.\n\n")
	b.WriteString("2.  **Description Crafting (`description`):**\n")
	b.WriteString("    * **Synthesize a new, coherent narrative** that integrates the most critical and insightful information from all relevant sources (entities, source_data, relationships).\n")
	b.WriteString("    * Focus on delivering a **clear and comprehensive understanding** of the entity, ensuring a logical flow and highlighting key characteristics.\n")
	b.WriteString("    * Every statement in the description must be traceable to the background information provided.\n\n")
	b.WriteString("3.  **Attributes Curation (`attributes`):**\n")
	b.WriteString("    * Consolidate metadata by selecting fields that provide **essential context, provenance, or defining attributes**.\n")
	b.WriteString("    * Handle differing values by prioritizing what is most current, relevant, or representative for the merged entity, using arrays or notes for important, non-conflicting variations or unavoidable ambiguities. Be selective to ensure metadata supports, rather than clutters, the entity.\n")
	b.WriteString("    * Ensure each attribute can be understood independently without background information, and is meaningful for the entity.\n")
	b.WriteString("    * All attributes must be derived from or supported by the background information.\n\n")

	b.WriteString("## Output Requirements\n\nReturn a single JSON object representing the merged entity. The structure MUST be as follows:\n\n")
	b.WriteString("```json\n")
	b.WriteString(entityOutputShape)
	b.WriteString("\n```\n\n")

	b.WriteString(`**Final Check:** Before finalizing, review the merged entity:
* Is it a high-quality, useful piece of information?
* Is it clear, concise, yet comprehensive?
* Does it truly represent the best understanding of the underlying concept?
* **Are all technical terms, identifiers, and features sufficiently contextualized or explained to be understood by a reasonably knowledgeable audience in database technologies?**

Based on all the provided information and guidelines, exercising your expert judgment, generate the merged entity.`)

	return b.String()
}

// BuildRefineRelationshipPrompt creates the resolver prompt for a single
// relationship quality issue. The response is a JSON object echoing the
// endpoint names with a rewritten relationship_desc and attributes.
func BuildRefineRelationshipPrompt(issue IssuePayload, relationships []string, sources []SourceExcerpt) string {
	if relationships == nil {
		relationships = []string{}
	}
	if sources == nil {
		sources = []SourceExcerpt{}
	}

	var b strings.Builder

	b.WriteString(`You are an expert assistant specializing in database technologies and knowledge graph curation, tasked with rectifying quality issues within a single relationship to ensure its meaning is clear, accurate, and truthful by providing an improved description.

## Objective

Your primary goal is to analyze a problematic relationship and its surrounding context to craft an **accurate, coherent, and semantically meaningful textual description of the connection** between its source and target entities. This improved description must correct identified flaws (like vagueness or ambiguity) and be **strictly based on evidence**, avoiding any speculation. The aim is to produce a description that makes the relationship genuinely useful and unambiguous for a knowledgeable audience.

## Input Data

You will be provided with the following information:

`)
	b.WriteString("1.  **Relationship Quality Issue (`issue`):** Describes the specific quality problem(s) with the relationship's existing description or definition that needs to be addressed. Your primary task is to generate a new description that resolves these problems.\n")
	writeFencedJSON(&b, issue)
	b.WriteString("2.  **Relationship to Improve (`relationship_to_improve`):** The relationship object whose description requires quality improvement.\n")
	writeFencedJSON(&b, relationships)
	b.WriteString("3.  **Background Information:** Use this to gain a deep understanding of the context, resolve ambiguities/contradictions, and formulate the improved description. **The new description MUST be justifiable by this background information.**\n\n")
	b.WriteString("    * **Relevant Knowledge (`source_data`):** Text snippets related to the relationship itself or its connected entities. Extract **verifiable details** from these chunks to formulate the improved description.\n")
	writeFencedJSON(&b, sources)

	b.WriteString("## Core Principles for Crafting the Relationship Description\n\nRely on your expert judgment, guided by the following principles:\n\n")
	b.WriteString("1.  **Meaningful Clarification & Semantic Accuracy:** The description must make the relationship's purpose and the nature of the connection explicit and precise. It should accurately reflect how the entities interact or are associated.\n")
	b.WriteString("2.  **Truthfulness and Evidence-Based Refinement:** **This is paramount.** The improved description MUST be directly supported by evidence found in the `source_data`. **Do NOT invent details, make assumptions, or infer beyond what the provided context clearly indicates.**\n")
	b.WriteString("3.  **Clarity, Unambiguity, and Utility:** Ensure the improved description is easily understandable, its meaning is singular and well-defined, and it provides genuine insight into the connection. Avoid overly generic terms if evidence supports specificity.\n\n")

	b.WriteString("## Guidelines for Formulating the Improved Description\n\n")
	b.WriteString("1.  **Deep Analysis of `Relationship Quality Issue`:** Thoroughly understand the specific flaw(s) described in `Relationship Quality Issue` concerning the relationship's clarity or meaning. This is the problem your new description must solve.\n")
	b.WriteString("2.  **Comprehensive Contextual Understanding:** Before formulating the description, synthesize information from `relationship_to_improve`'s existing data and relevant `source_data`.\n")
	b.WriteString("3.  **Crafting the New Relationship `description`:**\n")
	b.WriteString("    * This is your sole output. It must be a **clear, concise, and evidence-based narrative** that explains *precisely how* the source entity connects to or interacts with the target entity.\n")
	b.WriteString("    * Clearly articulate the nature, purpose, and, if applicable, the direction or mechanism of the connection. For example, instead of \"System A affects System B,\" a better description (if supported by evidence) might be \"System A sends real-time transaction data to System B for fraud analysis.\"\n")
	b.WriteString("    * Ensure the new description directly addresses and resolves the issues raised in `Relationship Quality Issue`.\n\n")

	b.WriteString("## Output Requirements\n\nReturn a single JSON object representing the improved relationship. The structure MUST be as follows:\n\n")
	b.WriteString("```json\n")
	b.WriteString("{\n")
	b.WriteString("\"source_entity_name\": \"...\", // use the entity name in the `relationship_to_improve`\n")
	b.WriteString("\"target_entity_name\": \"...\", // use the entity name in the `relationship_to_improve`\n")
	b.WriteString("\"relationship_desc\": \"...\",\n")
	b.WriteString("\"attributes\": {}\n")
	b.WriteString("}\n")
	b.WriteString("```\n\n")

	b.WriteString("## Final Check: Before finalizing the description string, mentally review:\n\n")
	b.WriteString("* Is the fundamental meaning of the relationship, as conveyed by this description, now clear, precise, and unambiguous?\n")
	b.WriteString("* Does this description accurately capture the nature of the connection between the source and target entities, based *only* on the provided evidence?\n")
	b.WriteString("* Is this description truthful and directly verifiable from the input context?\n")
	b.WriteString("* Does this description directly and thoroughly address all problems outlined in `Relationship Quality Issue` regarding the relationship's clarity or meaning?\n")
	b.WriteString("* Is this description, on its own, genuinely useful and easily understood by a knowledgeable audience in database technologies without needing to guess the relationship's meaning?\n")
	b.WriteString("* Has any information been invented or inferred beyond what the evidence supports to create this description? (This should be avoided).\n\n")

	b.WriteString("Based on all the provided information and guidelines, exercising your expert judgment with a strict adherence to truthfulness, generate **only the new, improved relationship description string.**")

	return b.String()
}

// BuildMergeRelationshipsPrompt creates the resolver prompt for a redundant
// relationship group. Input lines must come from FormatMergeRelationshipLine
// so the response can pick which endpoint leads; the response is a JSON
// object with source_entity_id, target_entity_id, relationship_desc, and
// attributes.
func BuildMergeRelationshipsPrompt(issue IssuePayload, relationships []string, sources []SourceExcerpt) string {
	if relationships == nil {
		relationships = []string{}
	}
	if sources == nil {
		sources = []SourceExcerpt{}
	}

	var b strings.Builder

	b.WriteString("You are an expert assistant specializing in database technologies and knowledge graph curation, tasked with intelligently consolidating redundant relationship information that is primarily described through simple textual statements.\n\n")

	b.WriteString("## Objective\n\n")
	b.WriteString("Your primary goal is to synthesize a **single, authoritative, and structured relationship** from a group of redundant descriptive entries. These entries connect the same source and target entities (identified by name) with what is presumed to be the same underlying semantic meaning. The merged relationship, which will include a common `source_entity_name`, a common `target_entity_name`, and a synthesized `description`, should be more comprehensive, coherent, **meaningful, and well-defined** than any individual source entry. This task involves transforming multiple simple textual descriptions of a connection into a single, richer, structured representation, effectively reducing redundancy while maximizing clarity, utility, and **ease of understanding for a knowledgeable audience.** Prioritize information significance, contextual accuracy, and overall comprehensibility of the connection. **All inferences and syntheses must be strictly based on the provided evidence.**\n\n")

	b.WriteString("## Input Data\n\nYou will be provided with the following information:\n\n")
	b.WriteString("1.  **Redundancy Issue (`issue`):** Describes why these relationship entries are considered redundant and need merging.\n")
	writeFencedJSON(&b, issue)
	b.WriteString("2.  **Relationships to Merge (`relationships_to_merge`):** A list of relationship entries that require merging. **Each entry in this list is a simple object, identified by `source_entity_name` and `target_entity_name`, and containing a `description` string. These input entries LACK explicit `type`, `source_entity_id`, `target_entity_id`, or structured `properties` fields.** They are presumed to describe the same conceptual connection between the named entities.\n")
	writeFencedJSON(&b, relationships)
	b.WriteString("3.  **Background Information:** Use this to gain a deeper understanding of the context. This is your **sole source of external information** beyond the `relationships_to_merge` themselves for inferring structural elements and enriching the merged relationship.\n")
	b.WriteString("    * **Relevant Knowledge (`source_data`):** Text snippets related to the named entities, their potential interactions, or relevant schemas/ontologies. Identify and extract *truly valuable details* from these chunks to help infer the relationship `type`, synthesize the `description`, and derive any relevant `properties`.\n")
	writeFencedJSON(&b, sources)

	b.WriteString("## Core Principles for Merging Relationships\n\nRely on your expert judgment to achieve the following:\n\n")
	b.WriteString("1.  **Meaningful Synthesis and Structuring from Limited Input:**\n")
	b.WriteString("    * Prioritize creating a **holistic, accurate, and high-quality structured representation of the semantic link**, even from simple descriptive inputs. The merged output should be more valuable than the sum of its parts.\n")
	b.WriteString("    * Preserve information from all source descriptions that is **genuinely significant, unique, or offers crucial context to the connection itself**.\n")
	b.WriteString("    * All aspects of the merged relationship MUST be directly supported by the provided `relationships_to_merge` descriptions and `source_data`. **Never invent or assume facts not present. Be conservative with inferences if evidence is weak.**\n\n")
	b.WriteString("2.  **Clarity, Coherence, and Utility:**\n")
	b.WriteString("    * Ensure the synthesized `description` is **clear, its semantic meaning well-defined, logically structured, and easily digestible**.\n")
	b.WriteString("    * Strive for an optimal balance: comprehensive enough to be authoritative, yet concise.\n\n")

	b.WriteString("## Output Requirements\n\n")
	b.WriteString("Return a single JSON object representing the merged relationship. This object will use the common `source_entity_name` and `target_entity_name` from the input.\n\n")
	b.WriteString("The structure MUST be as follows:\n\n")
	b.WriteString("```json\n")
	b.WriteString(`{
  "source_entity_id": "...", // entity id from input
  "target_entity_id": "...", // entity id from input
  "relationship_desc": "...",      // Merged/synthesized relationship description
  "attributes": {}               // Merged/synthesized relationship attributes
}`)
	b.WriteString("\n```\n\n")

	b.WriteString(`## Final Check: Before finalizing, review the merged relationship:

- Is the inferred type semantically accurate and well-justified by the limited context? Is it appropriately general if specific evidence was lacking?
- Is the synthesized description clear, comprehensive, and faithful to the combined evidence from input descriptions and source_data?
- Does the entire merged relationship accurately represent the single best understanding of the underlying connection, given the input constraints?
- Has redundancy from the input descriptions been effectively consolidated?
- Are all aspects of the merged relationship directly supported by the provided relationships_to_merge and source_data, without invention?

Based on all the provided information and guidelines, exercising your expert judgment to infer and synthesize within the given constraints, generate the merged relationship.`)

	return b.String()
}
