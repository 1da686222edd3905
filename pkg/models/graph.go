package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/chronicle-ai/chronicle-engine/pkg/jsonutil"
)

// Graph element types for source_graph_mappings
const (
	GraphElementEntity       = "entity"
	GraphElementRelationship = "relationship"
)

// Attribute keys shared by entities and relationships. Every element carries
// topic_name; category marks optimizer-merged elements as "narrative".
const (
	AttrTopicName = "topic_name"
	AttrCategory  = "category"
)

// CategoryNarrative is the category stamped on graph elements produced by the
// extraction pipeline and preserved across optimizer merges.
const CategoryNarrative = "narrative"

// Entity is a node in a topic's narrative graph.
type Entity struct {
	ID                   uuid.UUID      `json:"id"`
	Name                 string         `json:"name"`
	Description          string         `json:"description"`
	DescriptionEmbedding []float32      `json:"-"`
	Attributes           map[string]any `json:"attributes,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

// TopicName returns the topic this entity belongs to, or "" when unset.
func (e *Entity) TopicName() string {
	return jsonutil.GetString(e.Attributes, AttrTopicName)
}

// Relationship is a directed edge between two entities.
type Relationship struct {
	ID                        uuid.UUID      `json:"id"`
	SourceEntityID            uuid.UUID      `json:"source_entity_id"`
	TargetEntityID            uuid.UUID      `json:"target_entity_id"`
	RelationshipDesc          string         `json:"relationship_desc"`
	RelationshipDescEmbedding []float32      `json:"-"`
	Attributes                map[string]any `json:"attributes,omitempty"`
	CreatedAt                 time.Time      `json:"created_at"`
}

// TopicName returns the topic this relationship belongs to, or "" when unset.
func (r *Relationship) TopicName() string {
	return jsonutil.GetString(r.Attributes, AttrTopicName)
}

// SourceGraphMapping records which source document contributed a graph
// element. The optimizer repoints these rows when it merges elements, so
// provenance survives dedup.
type SourceGraphMapping struct {
	ID               uuid.UUID      `json:"id"`
	SourceID         uuid.UUID      `json:"source_id"`
	GraphElementID   uuid.UUID      `json:"graph_element_id"`
	GraphElementType string         `json:"graph_element_type"`
	Attributes       map[string]any `json:"attributes,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}
