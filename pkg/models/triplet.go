package models

// TripletEntity is one endpoint of an extracted triplet before it is
// materialized into an Entity row.
type TripletEntity struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Triplet is a single subject-predicate-object extraction from a document.
// RelationshipAttributes carries the temporal fields (fact_time,
// fact_time_range, temporal_context) plus condition, scope, prerequisite,
// impact, sentiment, and confidence when the model supplies them. TopicName
// and Category are stamped on after parsing, not returned by the model.
type Triplet struct {
	Subject                TripletEntity  `json:"subject"`
	Predicate              string         `json:"predicate"`
	Object                 TripletEntity  `json:"object"`
	RelationshipAttributes map[string]any `json:"relationship_attributes,omitempty"`
	TopicName              string         `json:"topic_name,omitempty"`
	Category               string         `json:"category,omitempty"`
}

// Relationship attribute keys with pipeline-defined meaning.
const (
	RelAttrFactTime        = "fact_time"
	RelAttrFactTimeRange   = "fact_time_range"
	RelAttrTemporalContext = "temporal_context"
)

// EnhancedEntity is one endpoint of a reasoning discovery. The model flags
// existing entities whose stored description it wants rewritten.
type EnhancedEntity struct {
	Name                      string         `json:"name"`
	Description               string         `json:"description"`
	Attributes                map[string]any `json:"attributes,omitempty"`
	RequiresDescriptionUpdate bool           `json:"requires_description_update"`
	UpdateJustification       string         `json:"update_justification,omitempty"`
}

// EnhancedRelationship is one relationship the reasoning stage inferred from
// explicit document facts. TopicName is stamped on after parsing.
type EnhancedRelationship struct {
	Subject                EnhancedEntity `json:"subject"`
	Predicate              string         `json:"predicate"`
	Object                 EnhancedEntity `json:"object"`
	RelationshipAttributes map[string]any `json:"relationship_attributes,omitempty"`
	TopicName              string         `json:"topic_name,omitempty"`
}

// ReasoningResult is the parsed payload of one reasoning enhancement call.
type ReasoningResult struct {
	EnhancedRelationships []EnhancedRelationship `json:"enhanced_relationships"`
}
