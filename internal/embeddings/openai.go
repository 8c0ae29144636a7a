package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"graphloom/internal/metrics"
)

// DefaultBatchSize caps how many inputs go into one provider request
const DefaultBatchSize = 100

// Config contains settings for the OpenAI-compatible embeddings service
type Config struct {
	APIKey       string        `json:"-"` // Never serialize the API key
	BaseURL      string        `json:"base_url"`
	Model        string        `json:"model"`
	Dimensions   int           `json:"dimensions"`
	BatchSize    int           `json:"batch_size"`
	Timeout      time.Duration `json:"timeout"`
	MaxRetries   int           `json:"max_retries"`
	RateLimitRPM int           `json:"rate_limit_rpm"`
}

// OpenAIService generates embeddings through an OpenAI-compatible HTTP API
type OpenAIService struct {
	apiKey      string
	baseURL     string
	model       string
	dimensions  int
	batchSize   int
	maxRetries  int
	httpClient  *http.Client
	logger      *zap.Logger
	cache       *Cache
	rateLimiter *RateLimiter

	mu    sync.Mutex
	usage Usage
}

// NewOpenAIService creates an embeddings service. The cache is optional.
func NewOpenAIService(cfg *Config, cache *Cache, logger *zap.Logger) (*OpenAIService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embeddings config cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embeddings API key is required")
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = ModelSmall
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OpenAIService{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       model,
		dimensions:  cfg.Dimensions,
		batchSize:   batchSize,
		maxRetries:  maxRetries,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
		cache:       cache,
		rateLimiter: NewRateLimiter(cfg.RateLimitRPM, time.Minute),
	}, nil
}

// Generate embeds a single text
func (s *OpenAIService) Generate(ctx context.Context, text string) ([]float64, error) {
	vectors, err := s.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GenerateBatch embeds texts in order. Cached texts are served locally; the
// rest go to the provider in sub-batches of at most the configured size.
func (s *OpenAIService) GenerateBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	results := make([][]float64, len(texts))
	var uncachedTexts []string
	var uncachedIndices []int

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("text at index %d cannot be empty", i)
		}
		if s.cache != nil {
			if vec, ok := s.cache.Get(ctx, Key(s.model, s.dimensions, text)); ok {
				results[i] = vec
				continue
			}
		}
		uncachedTexts = append(uncachedTexts, text)
		uncachedIndices = append(uncachedIndices, i)
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	for start := 0; start < len(uncachedTexts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(uncachedTexts) {
			end = len(uncachedTexts)
		}
		batch := uncachedTexts[start:end]

		if err := s.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiting error: %w", err)
		}

		vectors, err := s.callWithRetry(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("provider returned %d embeddings for %d inputs", len(vectors), len(batch))
		}

		for i, vec := range vectors {
			idx := uncachedIndices[start+i]
			results[idx] = vec
			if s.cache != nil {
				s.cache.Set(ctx, Key(s.model, s.dimensions, batch[i]), vec)
			}
		}
	}

	s.logger.Debug("batch embeddings generated",
		zap.Int("total_texts", len(texts)),
		zap.Int("cached", len(texts)-len(uncachedTexts)),
		zap.Int("generated", len(uncachedTexts)))

	return results, nil
}

// Usage returns accumulated token usage since the service was created
func (s *OpenAIService) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Dimensions returns the configured vector size, or the model default
func (s *OpenAIService) Dimensions() int {
	if s.dimensions > 0 {
		return s.dimensions
	}
	return DefaultDimensions(s.model)
}

// Model returns the model identifier
func (s *OpenAIService) Model() string {
	return s.model
}

// HealthCheck verifies the provider is reachable
func (s *OpenAIService) HealthCheck(ctx context.Context) error {
	_, err := s.Generate(ctx, "health check")
	return err
}

func (s *OpenAIService) callWithRetry(ctx context.Context, texts []string) ([][]float64, error) {
	var lastErr error

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		vectors, err := s.callAPI(ctx, texts)
		if err == nil {
			return vectors, nil
		}

		lastErr = err
		if !retryable(err) {
			return nil, err
		}
		s.logger.Warn("embedding request attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("texts_count", len(texts)),
			zap.Error(err))
	}

	return nil, fmt.Errorf("all %d attempts failed, last error: %w", s.maxRetries, lastErr)
}

func (s *OpenAIService) callAPI(ctx context.Context, texts []string) ([][]float64, error) {
	requestBody := map[string]interface{}{
		"input": texts,
		"model": s.model,
	}
	if s.dimensions > 0 {
		requestBody["dimensions"] = s.dimensions
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/embeddings", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, &apiError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var response embeddingResponse
	if err := json.Unmarshal(body, &response); err != nil {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(response.Data) != len(texts) {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("provider returned %d embeddings for %d inputs", len(response.Data), len(texts))
	}

	vectors := make([][]float64, len(response.Data))
	for i, item := range response.Data {
		idx := item.Index
		if idx < 0 || idx >= len(vectors) {
			idx = i
		}
		vectors[idx] = item.Embedding
	}

	s.recordUsage(response.Usage.PromptTokens, response.Usage.TotalTokens)
	metrics.EmbeddingRequests.WithLabelValues("success").Inc()
	return vectors, nil
}

func (s *OpenAIService) recordUsage(promptTokens, totalTokens int) {
	s.mu.Lock()
	s.usage.PromptTokens += promptTokens
	s.usage.TotalTokens += totalTokens
	s.mu.Unlock()

	metrics.EmbeddingTokensUsed.Add(float64(totalTokens))
	metrics.EmbeddingCostUSD.Add(EstimateCost(totalTokens, s.model))
}

// apiError carries the provider status code so retry logic can distinguish
// transient failures from permanent ones.
type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("embeddings API error (status %d): %s", e.StatusCode, e.Body)
}

// retryable reports whether an error is worth another attempt. Rate limits
// and server errors are transient; other API rejections are not.
func retryable(err error) bool {
	if apiErr, ok := err.(*apiError); ok {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}

type embeddingResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}
