package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
	"github.com/chronicle-ai/chronicle-engine/pkg/jsonutil"
	"github.com/chronicle-ai/chronicle-engine/pkg/llm"
	"github.com/chronicle-ai/chronicle-engine/pkg/models"
	"github.com/chronicle-ai/chronicle-engine/pkg/prompts"
	"github.com/chronicle-ai/chronicle-engine/pkg/repositories"
)

// maxBlockTokens is the advisory upper bound for a single knowledge block.
// Oversized blocks are logged, never dropped.
const maxBlockTokens = 4096

// EmbedFunc produces an embedding vector for the given text.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// KnowledgeService ingests documents into the content store and splits them
// into deduplicated knowledge blocks.
type KnowledgeService interface {
	// Ingest registers a document from disk. Re-ingesting a document that
	// matches an existing source by link or content hash returns the
	// existing source untouched.
	Ingest(ctx context.Context, path string, attributes map[string]any) (*models.SourceData, error)

	// SplitBlocks splits a source's stored content into ordered knowledge
	// blocks, reusing existing blocks by hash and ensuring a
	// block-source mapping for every position.
	SplitBlocks(ctx context.Context, sourceID uuid.UUID) ([]*models.KnowledgeBlock, error)
}

type knowledgeService struct {
	contentRepo  repositories.ContentRepository
	sourceRepo   repositories.SourceRepository
	blockRepo    repositories.KnowledgeBlockRepository
	mappingRepo  repositories.BlockSourceMappingRepository
	splitter     DocumentSplitter
	chatClient   llm.Generator
	embed        EmbedFunc
	pdfConverter string
	logger       *zap.Logger
}

// NewKnowledgeService creates a KnowledgeService.
func NewKnowledgeService(
	contentRepo repositories.ContentRepository,
	sourceRepo repositories.SourceRepository,
	blockRepo repositories.KnowledgeBlockRepository,
	mappingRepo repositories.BlockSourceMappingRepository,
	splitter DocumentSplitter,
	chatClient llm.Generator,
	embed EmbedFunc,
	pdfConverter string,
	logger *zap.Logger,
) KnowledgeService {
	return &knowledgeService{
		contentRepo:  contentRepo,
		sourceRepo:   sourceRepo,
		blockRepo:    blockRepo,
		mappingRepo:  mappingRepo,
		splitter:     splitter,
		chatClient:   chatClient,
		embed:        embed,
		pdfConverter: pdfConverter,
		logger:       logger.Named("knowledge"),
	}
}

var _ KnowledgeService = (*knowledgeService)(nil)

func (s *knowledgeService) Ingest(ctx context.Context, path string, attributes map[string]any) (*models.SourceData, error) {
	if attributes == nil {
		attributes = map[string]any{}
	}

	docLink := jsonutil.GetString(attributes, models.BlockAttrDocLink)
	if docLink == "" {
		docLink = path
	}

	existing, err := s.sourceRepo.GetByLink(ctx, docLink)
	if err == nil {
		s.logger.Info("Source already exists, matched by link",
			zap.String("path", path),
			zap.String("source_id", existing.ID.String()))
		return existing, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("looking up source by link: %w", err)
	}

	extracted, err := ExtractContent(ctx, path, s.pdfConverter)
	if err != nil {
		s.logger.Error("Failed to extract content",
			zap.String("path", path),
			zap.Error(err))
		return nil, err
	}

	contentBytes := []byte(extracted.Content)
	contentHash := models.HashContent(contentBytes)

	existing, err = s.sourceRepo.GetByContentHash(ctx, contentHash)
	if err == nil {
		s.logger.Info("Source already exists, matched by content hash",
			zap.String("path", path),
			zap.String("source_id", existing.ID.String()))
		return existing, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("looking up source by content hash: %w", err)
	}

	entry := &models.ContentEntry{
		ContentHash: contentHash,
		Content:     contentBytes,
		Size:        int64(len(contentBytes)),
		Mime:        extracted.Mime,
	}
	if err := s.contentRepo.Put(ctx, entry); err != nil {
		s.logger.Error("Failed to store content", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("storing content: %w", err)
	}

	source := &models.SourceData{
		Name:        strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Link:        docLink,
		Mime:        extracted.Mime,
		ContentHash: contentHash,
		Attributes:  attributes,
	}
	if err := s.sourceRepo.Create(ctx, source); err != nil {
		s.logger.Error("Failed to create source", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("creating source: %w", err)
	}

	s.logger.Info("Source data created",
		zap.String("path", path),
		zap.String("source_id", source.ID.String()),
		zap.String("mime", source.Mime))
	return source, nil
}

func (s *knowledgeService) SplitBlocks(ctx context.Context, sourceID uuid.UUID) ([]*models.KnowledgeBlock, error) {
	source, err := s.sourceRepo.GetByID(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("loading source: %w", err)
	}

	entry, err := s.contentRepo.Get(ctx, source.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("loading source content: %w", err)
	}
	docContent := string(entry.Content)

	chunks, err := s.splitter.Split(ctx, source.Name, docContent, source.Mime)
	if err != nil {
		s.logger.Error("Failed to split source",
			zap.String("source_id", sourceID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("splitting source %s: %w", sourceID, err)
	}

	topicName := jsonutil.GetString(source.Attributes, models.AttrTopicName)
	kind := models.BlockKindParagraph
	if source.Mime == MimeSQL {
		kind = models.BlockKindCode
	}

	created := 0
	blocks := make([]*models.KnowledgeBlock, 0, len(chunks))
	for _, chunk := range chunks {
		hash := models.BlockHash(chunk.Name, chunk.Content, nil)

		block, err := s.blockRepo.GetByHash(ctx, hash)
		switch {
		case err == nil:
			// Existing block is reused as-is.

		case errors.Is(err, apperrors.ErrNotFound):
			if tokens := llm.EstimateTokens(chunk.Content); tokens > maxBlockTokens {
				s.logger.Warn("Knowledge block exceeds token budget",
					zap.String("name", chunk.Name),
					zap.Int("tokens", tokens),
					zap.Int("limit", maxBlockTokens))
			}

			situated, err := s.situateChunk(ctx, docContent, chunk.Content)
			if err != nil {
				return nil, err
			}

			embedding, err := s.embed(ctx, "<context>\n"+situated+"\n</context>\n\n<block>"+chunk.Content)
			if err != nil {
				return nil, fmt.Errorf("embedding block %q: %w", chunk.Name, err)
			}

			block = &models.KnowledgeBlock{
				Name:      chunk.Name,
				Context:   &situated,
				Content:   chunk.Content,
				Kind:      kind,
				Embedding: embedding,
				Hash:      hash,
				Attributes: map[string]any{
					models.BlockAttrTopicName: topicName,
					models.BlockAttrPosition:  chunk.Position,
					models.BlockAttrDocLink:   source.Link,
				},
			}
			if err := s.blockRepo.Create(ctx, block); err != nil {
				return nil, fmt.Errorf("creating block %q: %w", chunk.Name, err)
			}
			created++

		default:
			return nil, fmt.Errorf("looking up block by hash: %w", err)
		}

		mapping := &models.BlockSourceMapping{
			BlockID:          block.ID,
			SourceID:         source.ID,
			PositionInSource: int64(chunk.Position),
		}
		if err := s.mappingRepo.Ensure(ctx, mapping); err != nil {
			return nil, fmt.Errorf("ensuring block mapping: %w", err)
		}

		blocks = append(blocks, block)
	}

	s.logger.Info("Split source into knowledge blocks",
		zap.String("source_id", sourceID.String()),
		zap.Int("total", len(blocks)),
		zap.Int("created", created))
	return blocks, nil
}

// situateChunk generates the short retrieval context that situates a chunk
// within its whole document.
func (s *knowledgeService) situateChunk(ctx context.Context, doc, chunk string) (string, error) {
	prompt := prompts.BuildSituateContextPrompt(doc, chunk)
	response, err := s.chatClient.GenerateResponse(ctx, prompt, "", 0)
	if err != nil {
		return "", fmt.Errorf("situate context call failed: %w", err)
	}
	return llm.StripThinking(response), nil
}
