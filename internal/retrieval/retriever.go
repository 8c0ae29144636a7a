// Package retrieval answers free-text queries with the stored chunks most
// similar to them, optionally expanded through the relation graph.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"graphloom/internal/embeddings"
	"graphloom/internal/metrics"
	"graphloom/internal/relations"
	"graphloom/internal/storage"
	"graphloom/pkg/types"
)

// Options control one retrieval call
type Options struct {
	// SimilarityThreshold is the minimum cosine similarity for the vector cut
	SimilarityThreshold float64
	// ChunkLimit caps the vector cut; relation expansion can exceed it
	ChunkLimit int
	// IncludeRelations unions in chunks of graph-adjacent objects
	IncludeRelations bool
	// RelationDepth bounds the expansion walk in edges
	RelationDepth int
}

// DefaultOptions returns the standing retrieval defaults
func DefaultOptions() Options {
	return Options{
		SimilarityThreshold: 0.7,
		ChunkLimit:          10,
		IncludeRelations:    false,
		RelationDepth:       1,
	}
}

// Stats reports timing and hit counts for one retrieval call
type Stats struct {
	RetrievalTimeMS float64 `json:"retrieval_time_ms"`
	VectorHits      int     `json:"vector_hits"`
	RelationHits    int     `json:"relation_hits"`
}

// Result is the outcome of one retrieval call
type Result struct {
	Chunks []types.ChunkHit `json:"chunks"`
	Stats  Stats            `json:"stats"`
}

// Retriever embeds a query once and serves the nearest stored chunks. When
// relation expansion is on it also returns the chunks of objects reachable
// through the current relation graph.
type Retriever struct {
	embedder embeddings.Service
	store    storage.Store
	logger   *zap.Logger

	mu        sync.RWMutex
	neighbors map[string][]string
}

// NewRetriever creates a retriever over the given embedder and store. The
// relation graph starts empty; SetRelations installs one.
func NewRetriever(embedder embeddings.Service, store storage.Store, logger *zap.Logger) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		embedder:  embedder,
		store:     store,
		logger:    logger,
		neighbors: make(map[string][]string),
	}, nil
}

// SetRelations replaces the relation graph used for neighbor expansion.
// Edges are undirected for reachability, whatever their stored direction,
// and duplicate edges over the same pair collapse to one.
func (r *Retriever) SetRelations(rels []types.Relation) {
	neighbors := make(map[string][]string)
	seen := make(map[string]struct{}, len(rels))
	for _, rel := range rels {
		if rel.FromID == "" || rel.ToID == "" || rel.FromID == rel.ToID {
			continue
		}
		key := rel.PairKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		neighbors[rel.FromID] = append(neighbors[rel.FromID], rel.ToID)
		neighbors[rel.ToID] = append(neighbors[rel.ToID], rel.FromID)
	}

	r.mu.Lock()
	r.neighbors = neighbors
	r.mu.Unlock()
}

// Retrieve embeds queryText once, takes the top chunks at or above the
// similarity threshold, and optionally unions in chunks of objects within
// RelationDepth hops of the hits. Chunks come back sorted by similarity,
// ties in insertion order.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, opts Options) (*Result, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, fmt.Errorf("query text cannot be empty")
	}
	if opts.SimilarityThreshold < 0 || opts.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("similarity threshold must be between 0 and 1")
	}
	if opts.ChunkLimit <= 0 {
		return nil, fmt.Errorf("chunk limit must be positive")
	}
	if opts.RelationDepth < 0 {
		return nil, fmt.Errorf("relation depth cannot be negative")
	}

	start := time.Now()
	defer func() { metrics.RetrievalDuration.Observe(time.Since(start).Seconds()) }()

	queryEmbedding, err := r.embedder.Generate(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := r.store.NearestChunks(ctx, queryEmbedding, opts.SimilarityThreshold, opts.ChunkLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	result := &Result{Chunks: hits}
	result.Stats.VectorHits = len(hits)

	if opts.IncludeRelations && opts.RelationDepth > 0 {
		added, expandErr := r.expandRelations(ctx, queryEmbedding, hits, opts.RelationDepth)
		if expandErr != nil {
			return nil, expandErr
		}
		if len(added) > 0 {
			result.Chunks = append(result.Chunks, added...)
			result.Stats.RelationHits = len(added)
			sort.SliceStable(result.Chunks, func(i, j int) bool {
				return result.Chunks[i].Similarity > result.Chunks[j].Similarity
			})
		}
	}

	result.Stats.RetrievalTimeMS = float64(time.Since(start).Microseconds()) / 1000.0
	r.logger.Debug("retrieval complete",
		zap.Int("vector_hits", result.Stats.VectorHits),
		zap.Int("relation_hits", result.Stats.RelationHits),
		zap.Duration("took", time.Since(start)))
	return result, nil
}

// expandRelations unions in the chunks of every object reachable from the
// hit objects within depth hops. Added chunks are scored against the query
// embedding but not threshold-filtered: graph proximity is what qualifies
// them.
func (r *Retriever) expandRelations(ctx context.Context, queryEmbedding []float64, seeds []types.ChunkHit, depth int) ([]types.ChunkHit, error) {
	seedObjects := make(map[string]struct{}, len(seeds))
	for _, hit := range seeds {
		seedObjects[hit.CanonicalObjectID] = struct{}{}
	}

	reachable := r.reachableObjects(seedObjects, depth)
	if len(reachable) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(reachable))
	for id := range reachable {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	chunks, err := r.store.ListChunksByObjectIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load related chunks: %w", err)
	}

	seen := make(map[string]struct{}, len(seeds))
	for _, hit := range seeds {
		seen[hit.ChunkID] = struct{}{}
	}

	added := make([]types.ChunkHit, 0, len(chunks))
	for i := range chunks {
		chunk := &chunks[i]
		if _, dup := seen[chunk.ID]; dup {
			continue
		}
		added = append(added, types.ChunkHit{
			ChunkID:           chunk.ID,
			CanonicalObjectID: chunk.CanonicalObjectID,
			Content:           chunk.Content,
			Similarity:        relations.CosineSimilarity(queryEmbedding, chunk.Embedding),
		})
	}
	return added, nil
}

// reachableObjects walks the relation graph breadth-first from the seed set
// and returns the objects found within depth hops. The seeds themselves are
// excluded: their chunks already went through the vector cut.
func (r *Retriever) reachableObjects(seeds map[string]struct{}, depth int) map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	visited := make(map[string]struct{}, len(seeds))
	frontier := make([]string, 0, len(seeds))
	for id := range seeds {
		visited[id] = struct{}{}
		frontier = append(frontier, id)
	}
	sort.Strings(frontier)

	reachable := make(map[string]struct{})
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		next := make([]string, 0)
		for _, id := range frontier {
			for _, neighbor := range r.neighbors[id] {
				if _, done := visited[neighbor]; done {
					continue
				}
				visited[neighbor] = struct{}{}
				reachable[neighbor] = struct{}{}
				next = append(next, neighbor)
			}
		}
		frontier = next
	}
	return reachable
}
