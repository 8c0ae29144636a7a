package types

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ChunkMethod represents the strategy that produced a chunk
type ChunkMethod string

const (
	// ChunkMethodFixedSize splits by character count with overlap
	ChunkMethodFixedSize ChunkMethod = "fixed-size"
	// ChunkMethodSemantic prefers paragraph and sentence boundaries
	ChunkMethodSemantic ChunkMethod = "semantic"
	// ChunkMethodRelational emits one chunk per logical sub-unit
	ChunkMethodRelational ChunkMethod = "relational"
	// ChunkMethodFullText keeps the whole object text in one chunk
	ChunkMethodFullText ChunkMethod = "full_text"
)

// Valid returns true if the chunk method is valid
func (m ChunkMethod) Valid() bool {
	switch m {
	case ChunkMethodFixedSize, ChunkMethodSemantic, ChunkMethodRelational, ChunkMethodFullText:
		return true
	}
	return false
}

// AllValidChunkMethods returns the closed set of chunk methods
func AllValidChunkMethods() []ChunkMethod {
	return []ChunkMethod{ChunkMethodFixedSize, ChunkMethodSemantic, ChunkMethodRelational, ChunkMethodFullText}
}

// Chunk is one retrievable text fragment of a canonical object. Chunks are
// owned by their object: rechunking replaces the full set for that object id.
type Chunk struct {
	ID                string                 `json:"id"`
	CanonicalObjectID string                 `json:"canonical_object_id"`
	ChunkIndex        int                    `json:"chunk_index"`
	Content           string                 `json:"content"`
	Method            ChunkMethod            `json:"method"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	Embedding         []float64              `json:"embedding,omitempty"`
}

// NewChunk creates a chunk with a generated id
func NewChunk(objectID string, index int, content string, method ChunkMethod) (*Chunk, error) {
	if objectID == "" {
		return nil, errors.New("canonical object ID cannot be empty")
	}
	if index < 0 {
		return nil, fmt.Errorf("chunk index cannot be negative: %d", index)
	}
	if content == "" {
		return nil, errors.New("content cannot be empty")
	}
	if !method.Valid() {
		return nil, fmt.Errorf("invalid chunk method: %s", method)
	}
	return &Chunk{
		ID:                uuid.New().String(),
		CanonicalObjectID: objectID,
		ChunkIndex:        index,
		Content:           content,
		Method:            method,
		Metadata:          map[string]interface{}{},
	}, nil
}

// Validate checks if the chunk is valid
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return errors.New("ID cannot be empty")
	}
	if c.CanonicalObjectID == "" {
		return errors.New("canonical object ID cannot be empty")
	}
	if c.ChunkIndex < 0 {
		return fmt.Errorf("chunk index cannot be negative: %d", c.ChunkIndex)
	}
	if c.Content == "" {
		return errors.New("content cannot be empty")
	}
	if !c.Method.Valid() {
		return fmt.Errorf("invalid chunk method: %s", c.Method)
	}
	return nil
}

// ChunkHit is one vector-search result row
type ChunkHit struct {
	ChunkID           string  `json:"chunk_id"`
	CanonicalObjectID string  `json:"canonical_object_id"`
	Content           string  `json:"content"`
	Similarity        float64 `json:"similarity"`
}

// ChunkingStats aggregates chunk sizes for one chunking run
type ChunkingStats struct {
	TotalChunks    int     `json:"total_chunks"`
	AvgChunkSize   float64 `json:"avg_chunk_size"`
	MinChunkSize   int     `json:"min_chunk_size"`
	MaxChunkSize   int     `json:"max_chunk_size"`
	TotalChunkSize int     `json:"total_chunk_size"`
}
