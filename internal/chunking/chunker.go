// Package chunking splits canonical objects into ordered, retrievable text
// chunks. Output is deterministic: the same object and configuration always
// produce byte-identical chunk content.
package chunking

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
	"go.uber.org/zap"

	"graphloom/pkg/types"
)

// Config holds chunker settings
type Config struct {
	Strategy         types.ChunkMethod
	MaxChunkSize     int
	Overlap          int
	PreserveMetadata bool
}

// Service produces chunks for canonical objects
type Service struct {
	config   *Config
	logger   *zap.Logger
	mdParser goldmark.Markdown
}

var (
	paragraphSplit = regexp.MustCompile(`\n{2,}`)
	sentenceEnd    = regexp.MustCompile(`[.!?]+(?:\s+|$)`)
	headingLine    = regexp.MustCompile(`(?m)^#{1,6}\s`)
)

// NewService creates a chunking service. Overlap at or above MaxChunkSize is
// a configuration error.
func NewService(cfg *Config, logger *zap.Logger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("chunking config cannot be nil")
	}
	switch cfg.Strategy {
	case types.ChunkMethodFixedSize, types.ChunkMethodSemantic, types.ChunkMethodRelational:
		// Valid strategy
	default:
		return nil, fmt.Errorf("invalid chunking strategy: %s", cfg.Strategy)
	}
	if cfg.MaxChunkSize <= 0 {
		return nil, fmt.Errorf("max chunk size must be positive, got %d", cfg.MaxChunkSize)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.MaxChunkSize {
		return nil, fmt.Errorf("overlap must be in [0, maxChunkSize): got %d with maxChunkSize %d", cfg.Overlap, cfg.MaxChunkSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config:   cfg,
		logger:   logger,
		mdParser: goldmark.New(),
	}, nil
}

// ChunkObject splits one canonical object into chunks with contiguous
// indices starting at 0. An object with no text yields zero chunks.
func (s *Service) ChunkObject(obj *types.CanonicalObject) ([]types.Chunk, error) {
	if obj == nil {
		return nil, fmt.Errorf("object cannot be nil")
	}

	text := obj.CombinedText()
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var pieces []string
	switch s.config.Strategy {
	case types.ChunkMethodFixedSize:
		pieces = s.splitFixedSize(text)
	case types.ChunkMethodSemantic:
		pieces = s.splitSemantic(text)
	case types.ChunkMethodRelational:
		pieces = s.splitRelational(obj, text)
	default:
		return nil, fmt.Errorf("invalid chunking strategy: %s", s.config.Strategy)
	}

	chunks := make([]types.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunk, err := types.NewChunk(obj.ID, i, piece, s.config.Strategy)
		if err != nil {
			return nil, fmt.Errorf("failed to create chunk %d for %s: %w", i, obj.ID, err)
		}
		if s.config.PreserveMetadata {
			chunk.Metadata["object_id"] = obj.ID
			chunk.Metadata["object_type"] = obj.ObjectType
			chunk.Metadata["platform"] = obj.Platform
			chunk.Metadata["title"] = obj.Title
			chunk.Metadata["chunk_of_total"] = len(pieces)
		}
		chunks = append(chunks, *chunk)
	}
	return chunks, nil
}

// ChunkObjects flattens chunking over a batch of objects, preserving object
// order. Objects without text contribute nothing.
func (s *Service) ChunkObjects(objects []*types.CanonicalObject) ([]types.Chunk, error) {
	all := make([]types.Chunk, 0, len(objects))
	for _, obj := range objects {
		chunks, err := s.ChunkObject(obj)
		if err != nil {
			return nil, err
		}
		all = append(all, chunks...)
	}
	return all, nil
}

// Stats aggregates chunk sizes over a chunk set
func (s *Service) Stats(chunks []types.Chunk) types.ChunkingStats {
	stats := types.ChunkingStats{TotalChunks: len(chunks)}
	if len(chunks) == 0 {
		return stats
	}

	stats.MinChunkSize = len(chunks[0].Content)
	for _, chunk := range chunks {
		size := len(chunk.Content)
		stats.TotalChunkSize += size
		if size < stats.MinChunkSize {
			stats.MinChunkSize = size
		}
		if size > stats.MaxChunkSize {
			stats.MaxChunkSize = size
		}
	}
	stats.AvgChunkSize = float64(stats.TotalChunkSize) / float64(len(chunks))
	return stats
}

// splitFixedSize cuts text into windows of MaxChunkSize characters with
// Overlap characters shared between adjacent windows.
func (s *Service) splitFixedSize(text string) []string {
	if len(text) <= s.config.MaxChunkSize {
		return []string{text}
	}

	step := s.config.MaxChunkSize - s.config.Overlap
	pieces := make([]string, 0, len(text)/step+1)
	for start := 0; start < len(text); start += step {
		end := start + s.config.MaxChunkSize
		if end >= len(text) {
			pieces = append(pieces, text[start:])
			break
		}
		pieces = append(pieces, text[start:end])
	}
	return pieces
}

// splitSemantic prefers section, paragraph, and sentence boundaries while
// respecting MaxChunkSize. Markdown bodies are sectioned by heading first.
func (s *Service) splitSemantic(text string) []string {
	var units []string
	if headingLine.MatchString(text) {
		units = s.splitMarkdownSections(text)
	}
	if len(units) == 0 {
		units = splitParagraphs(text)
	}

	expanded := make([]string, 0, len(units))
	for _, unit := range units {
		if len(unit) <= s.config.MaxChunkSize {
			expanded = append(expanded, unit)
			continue
		}
		expanded = append(expanded, s.splitOversized(unit)...)
	}
	return s.packUnits(expanded)
}

// splitRelational emits one chunk per logical sub-unit. Conversation-style
// bodies separate messages with blank lines; when no sub-units exist the
// semantic strategy is the fallback.
func (s *Service) splitRelational(obj *types.CanonicalObject, text string) []string {
	blocks := splitParagraphs(obj.Body)
	if len(blocks) < 2 {
		return s.splitSemantic(text)
	}

	pieces := make([]string, 0, len(blocks))
	for _, block := range blocks {
		if len(block) <= s.config.MaxChunkSize {
			pieces = append(pieces, block)
			continue
		}
		pieces = append(pieces, s.splitOversized(block)...)
	}
	return pieces
}

// splitMarkdownSections walks the goldmark AST and cuts the document at
// heading boundaries. Each returned section includes its heading line.
func (s *Service) splitMarkdownSections(text string) []string {
	source := []byte(text)
	reader := gmtext.NewReader(source)
	doc := s.mdParser.Parser().Parse(reader)

	type boundary struct{ start int }
	var boundaries []boundary

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if heading, ok := n.(*ast.Heading); ok {
			if lines := heading.Lines(); lines.Len() > 0 {
				seg := lines.At(0)
				start := seg.Start
				// Back up to include the heading markers themselves
				for start > 0 && source[start-1] != '\n' {
					start--
				}
				boundaries = append(boundaries, boundary{start: start})
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		s.logger.Warn("markdown section walk failed, falling back to paragraphs", zap.Error(err))
		return nil
	}
	if len(boundaries) == 0 {
		return nil
	}

	sections := make([]string, 0, len(boundaries)+1)
	if lead := strings.TrimSpace(text[:boundaries[0].start]); lead != "" {
		sections = append(sections, lead)
	}
	for i, b := range boundaries {
		end := len(text)
		if i+1 < len(boundaries) {
			end = boundaries[i+1].start
		}
		if section := strings.TrimSpace(text[b.start:end]); section != "" {
			sections = append(sections, section)
		}
	}
	return sections
}

// splitOversized breaks a unit that exceeds MaxChunkSize at sentence
// boundaries, hard-cutting any single sentence that is still too long.
func (s *Service) splitOversized(unit string) []string {
	sentences := splitSentences(unit)

	pieces := make([]string, 0, len(sentences))
	var current bytes.Buffer
	flush := func() {
		if current.Len() > 0 {
			pieces = append(pieces, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, sentence := range sentences {
		if len(sentence) > s.config.MaxChunkSize {
			flush()
			pieces = append(pieces, hardCut(sentence, s.config.MaxChunkSize)...)
			continue
		}
		if current.Len() > 0 && current.Len()+1+len(sentence) > s.config.MaxChunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	flush()
	return pieces
}

// packUnits greedily merges adjacent units while the combined size stays
// within MaxChunkSize, keeping boundaries otherwise.
func (s *Service) packUnits(units []string) []string {
	packed := make([]string, 0, len(units))
	var current bytes.Buffer
	flush := func() {
		if current.Len() > 0 {
			packed = append(packed, current.String())
			current.Reset()
		}
	}

	for _, unit := range units {
		if current.Len() == 0 {
			current.WriteString(unit)
			continue
		}
		if current.Len()+2+len(unit) <= s.config.MaxChunkSize {
			current.WriteString("\n\n")
			current.WriteString(unit)
			continue
		}
		flush()
		current.WriteString(unit)
	}
	flush()
	return packed
}

func splitParagraphs(text string) []string {
	raw := paragraphSplit.Split(text, -1)
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}

func splitSentences(text string) []string {
	ends := sentenceEnd.FindAllStringIndex(text, -1)
	if len(ends) == 0 {
		return []string{strings.TrimSpace(text)}
	}

	sentences := make([]string, 0, len(ends)+1)
	start := 0
	for _, end := range ends {
		if sentence := strings.TrimSpace(text[start:end[1]]); sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = end[1]
	}
	if start < len(text) {
		if tail := strings.TrimSpace(text[start:]); tail != "" {
			sentences = append(sentences, tail)
		}
	}
	return sentences
}

func hardCut(text string, size int) []string {
	pieces := make([]string, 0, len(text)/size+1)
	for start := 0; start < len(text); start += size {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		pieces = append(pieces, text[start:end])
	}
	return pieces
}
