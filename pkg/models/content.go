package models

import (
	"crypto/sha256"
	"time"
)

// ContentEntry is a content-addressed row in the content store. The hash is
// the SHA-256 of the raw bytes and doubles as the primary key, so identical
// uploads collapse into a single entry no matter how many sources point at it.
type ContentEntry struct {
	ContentHash []byte    `json:"content_hash"` // 32-byte SHA-256 digest
	Content     []byte    `json:"-"`            // raw document bytes, never serialized
	Size        int64     `json:"size"`
	Mime        string    `json:"mime"`
	CreatedAt   time.Time `json:"created_at"`
}

// HashContent computes the content-store key for a document body.
func HashContent(content []byte) []byte {
	sum := sha256.Sum256(content)
	return sum[:]
}
