package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
)

// MemoryTopicPrefix namespaces per-user memory topics away from regular
// knowledge topics.
const MemoryTopicPrefix = "memory_"

// ChatMessage is one turn of a conversation being remembered.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MemoryRetrieval bundles both retrieval views over a user's memory topic:
// the graph neighborhood and the raw knowledge blocks that match the query.
type MemoryRetrieval struct {
	UserID   string                   `json:"user_id"`
	Subgraph *models.GraphPayload     `json:"subgraph"`
	Blocks   []*models.KnowledgeBlock `json:"blocks"`
}

// MemoryService persists conversations as personal knowledge. Stored
// conversations ride the normal ingestion and build pipeline under the
// user's memory topic, so recall works exactly like any other graph query.
type MemoryService interface {
	// Store renders the conversation as a markdown document and ingests it
	// under the user's memory topic, scheduling a graph build.
	Store(ctx context.Context, userID string, messages []ChatMessage, tenantURI string) (*UploadResult, error)

	// Retrieve searches the user's memory topic for graph context and
	// knowledge blocks relevant to the query.
	Retrieve(ctx context.Context, userID, query, tenantURI string) (*MemoryRetrieval, error)
}

type memoryService struct {
	upload UploadService
	query  GraphQueryService
	stores StoreResolver
	logger *zap.Logger
}

// NewMemoryService creates a MemoryService on top of the upload pipeline and
// the shared graph read path.
func NewMemoryService(upload UploadService, query GraphQueryService, stores StoreResolver, logger *zap.Logger) MemoryService {
	return &memoryService{
		upload: upload,
		query:  query,
		stores: stores,
		logger: logger.Named("memory"),
	}
}

var _ MemoryService = (*memoryService)(nil)

// MemoryTopicName returns the memory topic for a user.
func MemoryTopicName(userID string) string {
	return MemoryTopicPrefix + userID
}

func (s *memoryService) Store(ctx context.Context, userID string, messages []ChatMessage, tenantURI string) (*UploadResult, error) {
	if err := validateMemoryUserID(userID); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: no messages to store", apperrors.ErrValidation)
	}

	now := time.Now().UTC()
	file := UploadFile{
		Name:    fmt.Sprintf("conversation_%s.md", now.Format("20060102T150405")),
		Content: []byte(renderConversation(userID, messages, now)),
	}
	link := fmt.Sprintf("memory/%s/%d", userID, now.UnixNano())

	result, err := s.upload.Upload(ctx, []UploadFile{file}, []string{link}, MemoryTopicName(userID), tenantURI)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Stored conversation memory",
		zap.String("user_id", userID),
		zap.Int("messages", len(messages)),
		zap.Int("uploaded", result.UploadedCount))
	return result, nil
}

func (s *memoryService) Retrieve(ctx context.Context, userID, query, tenantURI string) (*MemoryRetrieval, error) {
	if err := validateMemoryUserID(userID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", apperrors.ErrValidation)
	}

	scoped, err := s.stores.WithScope(ctx, tenantURI)
	if err != nil {
		return nil, err
	}

	topic := MemoryTopicName(userID)
	subgraph, err := s.query.SearchSubgraph(scoped, topic, query, DefaultSearchTopK, DefaultSimilarityThreshold)
	if err != nil {
		return nil, fmt.Errorf("searching memory graph for %s: %w", userID, err)
	}
	blocks, err := s.query.SearchBlocks(scoped, topic, query, DefaultSearchTopK, DefaultSimilarityThreshold)
	if err != nil {
		return nil, fmt.Errorf("searching memory blocks for %s: %w", userID, err)
	}

	s.logger.Debug("Memory retrieval completed",
		zap.String("user_id", userID),
		zap.Int("relationships", len(subgraph.Relationships)),
		zap.Int("blocks", len(blocks)))
	return &MemoryRetrieval{
		UserID:   userID,
		Subgraph: subgraph,
		Blocks:   blocks,
	}, nil
}

func validateMemoryUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user_id is required", apperrors.ErrValidation)
	}
	if strings.ContainsAny(userID, "/\\ ") {
		return fmt.Errorf("%w: user_id must not contain spaces or path separators", apperrors.ErrValidation)
	}
	return nil
}

// renderConversation lays the messages out as a markdown document so the
// splitter's section handling applies to conversations the same way it does
// to uploaded documents.
func renderConversation(userID string, messages []ChatMessage, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Conversation with %s\n\n", userID)
	fmt.Fprintf(&b, "Recorded at %s.\n", now.Format(time.RFC3339))

	for _, msg := range messages {
		role := strings.TrimSpace(msg.Role)
		if role == "" {
			role = "user"
		}
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", role, strings.TrimSpace(msg.Content))
	}
	return b.String()
}
