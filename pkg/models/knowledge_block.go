package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Knowledge block kinds
const (
	BlockKindQA        = "qa"
	BlockKindParagraph = "paragraph"
	BlockKindSynopsis  = "synopsis"
	BlockKindImage     = "image"
	BlockKindVideo     = "video"
	BlockKindCode      = "code"
)

// KnowledgeBlock is one splitter-produced unit of document knowledge. Blocks
// are content-addressed by Hash so the same chunk arriving from two sources
// is stored once and linked twice through block_source_mappings.
type KnowledgeBlock struct {
	ID         uuid.UUID      `json:"id"`
	Name       string         `json:"name"`
	Context    *string        `json:"context,omitempty"` // situating context prepended before embedding
	Content    string         `json:"content"`
	Kind       string         `json:"kind"`
	Embedding  []float32      `json:"-"`
	Hash       string         `json:"hash"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// BlockSourceMapping links a knowledge block to a source document it was
// extracted from, with the block's position inside that document.
type BlockSourceMapping struct {
	ID               uuid.UUID `json:"id"`
	BlockID          uuid.UUID `json:"block_id"`
	SourceID         uuid.UUID `json:"source_id"`
	PositionInSource int64     `json:"position_in_source"`
	CreatedAt        time.Time `json:"created_at"`
}

// BlockHash derives the dedup key for a knowledge block from its name,
// content, and optional situating context.
func BlockHash(name, content string, context *string) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{'|'})
	h.Write([]byte(content))
	if context != nil {
		h.Write([]byte{'|'})
		h.Write([]byte(*context))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Block attribute keys written by the splitter and build pipeline.
const (
	BlockAttrTopicName = "topic_name"
	BlockAttrPosition  = "position"
	BlockAttrDocLink   = "doc_link"
)
