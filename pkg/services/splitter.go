package services

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/llm"
	"github.com/chronicle-ai/chronicle-engine/pkg/prompts"
)

const (
	// flexibleSplitSize is the slack added to the split threshold before a
	// document is considered worth splitting at all.
	flexibleSplitSize = 300

	// defaultSplitThreshold is the token size above which a chunk keeps
	// being split by deeper heading levels.
	defaultSplitThreshold = 2048

	// defaultMaxMergeTokens caps the size of a thematically merged chunk.
	defaultMaxMergeTokens = 4096

	// prefaceThreshold decides whether content before the first heading
	// becomes its own chunk or is folded into the first one.
	prefaceThreshold = 512
)

// Chunk is an ordered piece of a source document produced by splitting.
type Chunk struct {
	Name     string
	Content  string
	Position int
}

// DocumentSplitter splits extracted document content into ordered chunks.
type DocumentSplitter interface {
	// Split breaks content into chunks appropriate for the given mime type.
	// Markdown is split hierarchically by headings and regrouped by theme
	// with one LLM call; SQL splits on statement boundaries; everything
	// else splits on paragraph breaks.
	Split(ctx context.Context, name, content, mime string) ([]Chunk, error)
}

type documentSplitter struct {
	llmClient llm.Generator
	logger    *zap.Logger
}

// NewDocumentSplitter creates a DocumentSplitter backed by the given LLM
// client for thematic merging.
func NewDocumentSplitter(llmClient llm.Generator, logger *zap.Logger) DocumentSplitter {
	return &documentSplitter{
		llmClient: llmClient,
		logger:    logger.Named("splitter"),
	}
}

var _ DocumentSplitter = (*documentSplitter)(nil)

func (s *documentSplitter) Split(ctx context.Context, name, content, mime string) ([]Chunk, error) {
	switch mime {
	case MimeMarkdown, MimePDF:
		// PDF content has already been converted to markdown.
		return s.splitMarkdown(ctx, name, content)
	case MimeSQL:
		return splitStatements(name, content, defaultSplitThreshold), nil
	default:
		return splitParagraphs(name, content, defaultSplitThreshold), nil
	}
}

func (s *documentSplitter) splitMarkdown(ctx context.Context, name, content string) ([]Chunk, error) {
	totalTokens := llm.EstimateTokens(content)
	if totalTokens <= defaultSplitThreshold+flexibleSplitSize {
		s.logger.Info("Content small enough, keeping as single chunk",
			zap.String("name", name),
			zap.Int("tokens", totalTokens))
		return []Chunk{{Name: name, Content: content, Position: 0}}, nil
	}

	// Phase 1: hierarchical top-down splitting, level 1 headings first.
	initial := splitByHeading(content, 1, prefaceThreshold)
	if len(initial) == 0 {
		initial = []headingChunk{{title: name, content: content}}
	}

	var atomic []Chunk
	for _, hc := range initial {
		blocks := hierarchicalSplit(hc.title, hc.content, len(atomic), 2, defaultSplitThreshold)
		atomic = append(atomic, blocks...)
	}
	s.logger.Info("Hierarchical split complete",
		zap.String("name", name),
		zap.Int("atomic_chunks", len(atomic)))

	// Phase 2: thematic bottom-up merging. A failed merge keeps the
	// atomic chunks instead of failing the document.
	final := atomic
	if len(atomic) > 1 {
		merged, err := s.thematicMerge(ctx, atomic, defaultMaxMergeTokens)
		if err != nil {
			s.logger.Error("Thematic merge failed, using atomic chunks",
				zap.String("name", name),
				zap.Error(err))
		} else {
			s.logger.Info("Thematic merge complete",
				zap.String("name", name),
				zap.Int("final_chunks", len(merged)))
			final = merged
		}
	}

	for i := range final {
		final[i].Position = i
	}
	return final, nil
}

type headingChunk struct {
	title   string
	content string
}

// splitByHeading splits content at headings of exactly the given level,
// ignoring headings inside fenced code blocks. Content before the first
// heading is folded into the first chunk unless it exceeds the preface
// threshold, in which case it becomes its own leading chunk.
func splitByHeading(content string, level, prefaceTokenLimit int) []headingChunk {
	codeRanges := findCodeBlockRanges(content)

	pattern := regexp.MustCompile(fmt.Sprintf(`(?m)^#{%d} .*$`, level))
	var matches [][]int
	for _, m := range pattern.FindAllStringIndex(content, -1) {
		if !positionInCode(m[0], codeRanges) {
			matches = append(matches, m)
		}
	}

	if len(matches) == 0 {
		body := strings.TrimSpace(content)
		if body == "" {
			return nil
		}
		return []headingChunk{{title: headlineFor(body, ""), content: body}}
	}

	preface := strings.TrimSpace(content[:matches[0][0]])

	chunks := make([]headingChunk, 0, len(matches))
	for i, m := range matches {
		title := strings.TrimSpace(strings.TrimLeft(content[m[0]:m[1]], "# "))

		end := len(content)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		chunks = append(chunks, headingChunk{
			title:   title,
			content: strings.TrimSpace(content[m[0]:end]),
		})
	}

	if preface != "" {
		if llm.EstimateTokens(preface) > prefaceTokenLimit {
			chunks = append([]headingChunk{{
				title:   headlineFor(preface, "Document Introduction"),
				content: preface,
			}}, chunks...)
		} else {
			chunks[0].content = preface + "\n\n" + chunks[0].content
		}
	}

	return chunks
}

// headlineFor derives a chunk title from the first non-empty line, truncated
// to 75 characters.
func headlineFor(content, fallback string) string {
	var first string
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			first = line
			break
		}
	}
	if first == "" {
		return fallback
	}
	runes := []rune(first)
	if len(runes) > 75 {
		return string(runes[:75]) + "..."
	}
	return first
}

// findCodeBlockRanges locates fenced code blocks (``` or ~~~) and returns
// their [start, end] character ranges. Unclosed fences are not counted.
func findCodeBlockRanges(content string) [][2]int {
	var ranges [][2]int
	lines := strings.Split(content, "\n")
	pos := 0

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		stripped := strings.TrimSpace(line)

		if strings.HasPrefix(stripped, "```") || strings.HasPrefix(stripped, "~~~") {
			fence := stripped[:3]
			start := pos
			pos += len(line) + 1
			i++
			for i < len(lines) {
				line = lines[i]
				if strings.HasPrefix(strings.TrimSpace(line), fence) {
					pos += len(line) + 1
					ranges = append(ranges, [2]int{start, pos - 1})
					break
				}
				pos += len(line) + 1
				i++
			}
		} else {
			pos += len(line) + 1
		}
	}

	return ranges
}

func positionInCode(pos int, ranges [][2]int) bool {
	for _, r := range ranges {
		if pos >= r[0] && pos <= r[1] {
			return true
		}
	}
	return false
}

// hasDeeperHeadings reports whether content contains headings deeper than
// currentLevel outside code blocks.
func hasDeeperHeadings(content string, currentLevel int) bool {
	codeRanges := findCodeBlockRanges(content)
	pattern := regexp.MustCompile(fmt.Sprintf(`(?m)^#{%d,} .*$`, currentLevel+1))
	for _, m := range pattern.FindAllStringIndex(content, -1) {
		if !positionInCode(m[0], codeRanges) {
			return true
		}
	}
	return false
}

// hierarchicalSplit recursively splits content by successively deeper heading
// levels until each chunk fits the threshold or heading levels run out, then
// falls back to a plain line split.
func hierarchicalSplit(baseTitle, content string, positionOffset, startLevel, threshold int) []Chunk {
	if llm.EstimateTokens(content) <= threshold || startLevel > 6 {
		return []Chunk{{Name: baseTitle, Content: content, Position: positionOffset}}
	}

	if hasDeeperHeadings(content, startLevel-1) {
		if parts := splitByHeading(content, startLevel, prefaceThreshold); len(parts) > 0 {
			var blocks []Chunk
			for i, part := range parts {
				blocks = append(blocks, hierarchicalSplit(
					part.title, part.content, positionOffset+i, startLevel+1, threshold)...)
			}
			return blocks
		}
	}

	return simpleSplit(content, baseTitle, positionOffset, threshold)
}

// simpleSplit is the last-resort splitter for oversized chunks with no more
// headings: accumulate lines up to the target token budget.
func simpleSplit(content, baseTitle string, positionOffset, targetTokens int) []Chunk {
	var pieces []string
	var current []string
	currentTokens := 0

	for _, line := range strings.Split(content, "\n") {
		lineTokens := llm.EstimateTokens(line)
		if currentTokens+lineTokens > targetTokens && len(current) > 0 {
			pieces = append(pieces, strings.Join(current, "\n"))
			current = []string{line}
			currentTokens = lineTokens
		} else {
			current = append(current, line)
			currentTokens += lineTokens
		}
	}
	if len(current) > 0 {
		pieces = append(pieces, strings.Join(current, "\n"))
	}

	chunks := make([]Chunk, 0, len(pieces))
	for i, piece := range pieces {
		title := fmt.Sprintf("Part %d", i+1)
		if baseTitle != "" {
			title = fmt.Sprintf("%s - Part %d", baseTitle, i+1)
		}
		chunks = append(chunks, Chunk{Name: title, Content: piece, Position: positionOffset + i})
	}
	return chunks
}

type mergeTopic struct {
	NewTitle        string `json:"new_title"`
	ChunkIndexRange []int  `json:"chunk_index_range"`
}

type mergePlan struct {
	Topics []mergeTopic `json:"topics"`
}

// thematicMerge asks the LLM to regroup atomic chunks into coherent topics.
// The plan uses 1-based inclusive index ranges; gaps are filled with
// standalone chunks and oversized groups are kept separate.
func (s *documentSplitter) thematicMerge(ctx context.Context, blocks []Chunk, maxTokens int) ([]Chunk, error) {
	chunkContexts := make([]prompts.ChunkContext, 0, len(blocks))
	for _, b := range blocks {
		chunkContexts = append(chunkContexts, prompts.ChunkContext{Title: b.Name, Content: b.Content})
	}

	prompt := prompts.BuildThematicMergePrompt(chunkContexts, maxTokens)
	response, err := s.llmClient.GenerateResponse(ctx, prompt, "", 0)
	if err != nil {
		return nil, fmt.Errorf("thematic merge call failed: %w", err)
	}

	plan, err := llm.ParseWithRepair[mergePlan](ctx, s.llmClient, response, llm.FormatObject)
	if err != nil {
		return nil, fmt.Errorf("parsing merge plan: %w", err)
	}
	if len(plan.Topics) == 0 {
		return nil, fmt.Errorf("merge plan has no topics")
	}

	for _, topic := range plan.Topics {
		if len(topic.ChunkIndexRange) != 2 {
			return nil, fmt.Errorf("topic %q has invalid chunk_index_range %v", topic.NewTitle, topic.ChunkIndexRange)
		}
		start, end := topic.ChunkIndexRange[0], topic.ChunkIndexRange[1]
		if start < 1 || end > len(blocks) || start > end {
			return nil, fmt.Errorf("topic %q has out-of-range chunk_index_range [%d, %d]", topic.NewTitle, start, end)
		}
	}

	// Fill gaps so every chunk survives the merge.
	covered := make(map[int]bool)
	for _, topic := range plan.Topics {
		for i := topic.ChunkIndexRange[0]; i <= topic.ChunkIndexRange[1]; i++ {
			covered[i] = true
		}
	}
	var missing []int
	for i := 1; i <= len(blocks); i++ {
		if !covered[i] {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		s.logger.Warn("Merge plan has gaps, keeping uncovered chunks standalone",
			zap.Ints("missing_indices", missing))
		for _, idx := range missing {
			plan.Topics = append(plan.Topics, mergeTopic{
				NewTitle:        blocks[idx-1].Name,
				ChunkIndexRange: []int{idx, idx},
			})
		}
	}

	sort.SliceStable(plan.Topics, func(i, j int) bool {
		return plan.Topics[i].ChunkIndexRange[0] < plan.Topics[j].ChunkIndexRange[0]
	})

	var final []Chunk
	for _, topic := range plan.Topics {
		start, end := topic.ChunkIndexRange[0], topic.ChunkIndexRange[1]
		group := blocks[start-1 : end]
		title := strings.Trim(strings.TrimSpace(topic.NewTitle), `"`)

		if len(group) == 1 {
			chunk := group[0]
			chunk.Name = title
			final = append(final, chunk)
			continue
		}

		contents := make([]string, 0, len(group))
		for _, b := range group {
			contents = append(contents, b.Content)
		}
		merged := strings.Join(contents, "\n\n")

		if llm.EstimateTokens(merged) > maxTokens {
			s.logger.Warn("Proposed merge exceeds token budget, keeping chunks separate",
				zap.String("title", title),
				zap.Int("tokens", llm.EstimateTokens(merged)))
			final = append(final, group...)
			continue
		}

		final = append(final, Chunk{Name: title, Content: merged, Position: group[0].Position})
	}

	return final, nil
}

var paragraphBreak = regexp.MustCompile(`\n{2,}`)

// splitParagraphs splits plain text on blank lines and regroups paragraphs
// up to the token threshold.
func splitParagraphs(name, content string, threshold int) []Chunk {
	var units []string
	for _, p := range paragraphBreak.Split(content, -1) {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			units = append(units, trimmed)
		}
	}
	return groupUnits(name, units, "\n\n", threshold)
}

// splitStatements splits SQL on statement-terminating lines and regroups
// statements up to the token threshold.
func splitStatements(name, content string, threshold int) []Chunk {
	var units []string
	var current []string

	for _, line := range strings.Split(content, "\n") {
		current = append(current, line)
		if strings.HasSuffix(strings.TrimSpace(line), ";") {
			if stmt := strings.TrimSpace(strings.Join(current, "\n")); stmt != "" {
				units = append(units, stmt)
			}
			current = nil
		}
	}
	if stmt := strings.TrimSpace(strings.Join(current, "\n")); stmt != "" {
		units = append(units, stmt)
	}

	return groupUnits(name, units, "\n\n", threshold)
}

func groupUnits(name string, units []string, sep string, threshold int) []Chunk {
	if len(units) == 0 {
		return nil
	}

	var pieces []string
	var current []string
	currentTokens := 0

	for _, unit := range units {
		unitTokens := llm.EstimateTokens(unit)
		if currentTokens+unitTokens > threshold && len(current) > 0 {
			pieces = append(pieces, strings.Join(current, sep))
			current = []string{unit}
			currentTokens = unitTokens
		} else {
			current = append(current, unit)
			currentTokens += unitTokens
		}
	}
	if len(current) > 0 {
		pieces = append(pieces, strings.Join(current, sep))
	}

	if len(pieces) == 1 {
		return []Chunk{{Name: name, Content: pieces[0], Position: 0}}
	}

	chunks := make([]Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, Chunk{
			Name:     fmt.Sprintf("%s - Part %d", name, i+1),
			Content:  piece,
			Position: i,
		})
	}
	return chunks
}
