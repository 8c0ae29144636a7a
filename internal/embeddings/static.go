package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"
)

// StaticService produces deterministic embeddings without a provider. Each
// text hashes to a stable unit vector, so equal texts always embed equally.
// Useful for offline runs and tests; Overrides pin exact vectors per text.
type StaticService struct {
	model string
	dims  int

	mu        sync.Mutex
	overrides map[string][]float64
	usage     Usage
}

// NewStaticService creates a deterministic embeddings service
func NewStaticService(dims int) *StaticService {
	if dims <= 0 {
		dims = 8
	}
	return &StaticService{
		model:     "static",
		dims:      dims,
		overrides: make(map[string][]float64),
	}
}

// Override pins the vector returned for an exact text
func (s *StaticService) Override(text string, vec []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[text] = vec
}

// Generate embeds a single text
func (s *StaticService) Generate(ctx context.Context, text string) ([]float64, error) {
	vectors, err := s.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GenerateBatch embeds texts deterministically, honoring overrides
func (s *StaticService) GenerateBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([][]float64, len(texts))
	for i, text := range texts {
		if vec, ok := s.overrides[text]; ok {
			results[i] = vec
		} else {
			results[i] = hashVector(text, s.dims)
		}
		tokens := EstimateTokens(text)
		s.usage.PromptTokens += tokens
		s.usage.TotalTokens += tokens
	}
	return results, nil
}

// Usage returns accumulated token usage
func (s *StaticService) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Dimensions returns the vector size
func (s *StaticService) Dimensions() int {
	return s.dims
}

// Model returns the model identifier
func (s *StaticService) Model() string {
	return s.model
}

// HealthCheck always succeeds
func (s *StaticService) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// hashVector expands a text hash into a unit vector of the given size
func hashVector(text string, dims int) []float64 {
	vec := make([]float64, dims)
	seed := sha256.Sum256([]byte(text))

	var norm float64
	for i := 0; i < dims; i++ {
		// Each hash block yields four 8-byte words; re-hash with the block
		// index when more material is needed
		var buf [36]byte
		copy(buf[:32], seed[:])
		binary.BigEndian.PutUint32(buf[32:], uint32(i/4))
		block := sha256.Sum256(buf[:])

		bits := binary.BigEndian.Uint64(block[(i%4)*8 : (i%4)*8+8])
		vec[i] = float64(bits>>11)/float64(1<<53)*2 - 1 // [-1, 1)
		norm += vec[i] * vec[i]
	}

	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}
