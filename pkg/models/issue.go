package models

import (
	"sort"
	"strings"
	"time"
)

// Issue types emitted by graph quality detection
const (
	IssueRedundancyEntity       = "redundancy_entity"
	IssueRedundancyRelationship = "redundancy_relationship"
	IssueEntityQuality          = "entity_quality_issue"
	IssueRelationshipQuality    = "relationship_quality_issue"
	IssueMissingRelationship    = "missing_relationship"
)

// GraphPayload is the subgraph snapshot handed to detection and critic
// prompts, and persisted alongside each issue so later passes can re-evaluate
// against the graph state the issue was found in.
type GraphPayload struct {
	Entities      []EntitySummary       `json:"entities"`
	Relationships []RelationshipSummary `json:"relationships"`
}

// EntitySummary is the prompt-facing view of an entity.
type EntitySummary struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// RelationshipSummary is the prompt-facing view of a relationship. Endpoints
// are entity names, not ids, matching what the detection model reads best.
type RelationshipSummary struct {
	ID           string         `json:"id"`
	SourceEntity string         `json:"source_entity"`
	TargetEntity string         `json:"target_entity"`
	Description  string         `json:"description"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

// CriticEvaluation is one critic model's verdict on an issue.
type CriticEvaluation struct {
	IsValid  bool   `json:"is_valid"`
	Critique string `json:"critique"`
}

// Issue is one detected graph defect plus its review state. An issue is
// eligible for resolution once every configured critic has evaluated it and
// its validation score clears the confidence threshold.
type Issue struct {
	IssueType         string                      `json:"issue_type"`
	AffectedIDs       []string                    `json:"affected_ids"`
	Reasoning         string                      `json:"reasoning"`
	Confidence        float64                     `json:"confidence"` // detector self-assessment, not the validation score
	SourceGraph       *GraphPayload               `json:"source_graph,omitempty"`
	CriticEvaluations map[string]CriticEvaluation `json:"critic_evaluations,omitempty"` // critic name -> verdict; absent key means pending
	ValidationScore   float64                     `json:"validation_score"`
	IsResolved        bool                        `json:"is_resolved"`
	CreatedAt         time.Time                   `json:"created_at"`
}

// IssueKey identifies an issue by type and affected-id set, independent of id
// ordering. Two detections of the same defect collapse to one key.
type IssueKey struct {
	IssueType   string
	AffectedIDs string // sorted, comma-joined
}

// Key derives the dedup key for this issue.
func (i *Issue) Key() IssueKey {
	ids := append([]string(nil), i.AffectedIDs...)
	sort.Strings(ids)
	return IssueKey{IssueType: i.IssueType, AffectedIDs: strings.Join(ids, ",")}
}

// IsQualityIssue reports whether this issue targets a single element's
// content rather than a redundant set.
func (i *Issue) IsQualityIssue() bool {
	return i.IssueType == IssueEntityQuality || i.IssueType == IssueRelationshipQuality
}

// EvaluatedBy reports whether the named critic has already scored this issue.
func (i *Issue) EvaluatedBy(critic string) bool {
	_, ok := i.CriticEvaluations[critic]
	return ok
}
