// Package embeddings provides embedding generation for chunk text, with
// batching, retry logic, rate limiting, and a two-tier cache.
package embeddings

import "context"

// Known embedding models and their default dimensions
const (
	ModelAda002 = "text-embedding-ada-002"
	ModelSmall  = "text-embedding-3-small"
	ModelLarge  = "text-embedding-3-large"
)

// Per-million-token pricing used for run cost estimates
const (
	costPerMillionDefault = 0.02
	costPerMillionLarge   = 0.13
)

// Usage reports token consumption for one or more embedding calls
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates another usage report into this one
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.TotalTokens += other.TotalTokens
}

// Service generates embedding vectors for text
type Service interface {
	// Generate embeds a single text
	Generate(ctx context.Context, text string) ([]float64, error)

	// GenerateBatch embeds texts in order, splitting into provider-sized
	// sub-batches internally. The returned slice is parallel to texts.
	GenerateBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Usage returns accumulated token usage since the service was created
	Usage() Usage

	// Dimensions returns the vector size this service produces
	Dimensions() int

	// Model returns the model identifier
	Model() string

	// HealthCheck verifies the provider is reachable
	HealthCheck(ctx context.Context) error
}

// DefaultDimensions returns the native vector size for a known model
func DefaultDimensions(model string) int {
	switch model {
	case ModelLarge:
		return 3072
	case ModelAda002, ModelSmall:
		return 1536
	default:
		return 1536
	}
}

// EstimateCost converts a token count into USD for the given model
func EstimateCost(totalTokens int, model string) float64 {
	rate := costPerMillionDefault
	if model == ModelLarge {
		rate = costPerMillionLarge
	}
	return float64(totalTokens) / 1_000_000.0 * rate
}

// EstimateTokens approximates the token count of a text. OpenAI-family
// tokenizers average roughly four characters per token on English prose.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	tokens := len(text) / 4
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
