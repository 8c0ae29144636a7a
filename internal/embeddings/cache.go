package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"graphloom/internal/metrics"
)

// Cache is a two-tier embedding cache. The first tier is an in-process LRU;
// the second, when configured, is a Redis instance shared across runs. Cache
// keys include the model and dimensions so different configurations never
// collide.
type Cache struct {
	local  *lru.Cache[string, []float64]
	shared *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// CacheOptions configures cache construction
type CacheOptions struct {
	LocalSize int
	Redis     *redis.Client
	RedisTTL  time.Duration
	Logger    *zap.Logger
}

// NewCache creates a two-tier cache. Redis is optional; pass a nil client
// for a purely local cache.
func NewCache(opts CacheOptions) (*Cache, error) {
	size := opts.LocalSize
	if size <= 0 {
		size = 4096
	}
	local, err := lru.New[string, []float64](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create local cache: %w", err)
	}

	ttl := opts.RedisTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Cache{
		local:  local,
		shared: opts.Redis,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// Key derives the cache key for a text under a model configuration
func Key(model string, dimensions int, text string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00", model, dimensions)
	h.Write([]byte(text))
	return "emb:" + hex.EncodeToString(h.Sum(nil))
}

// Get returns a cached embedding, consulting the local tier first and
// promoting shared-tier hits into it. Shared-tier failures degrade to a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]float64, bool) {
	if vec, ok := c.local.Get(key); ok {
		metrics.EmbeddingCacheHits.WithLabelValues("local").Inc()
		return vec, true
	}

	if c.shared != nil {
		raw, err := c.shared.Get(ctx, key).Result()
		switch {
		case err == nil:
			var vec []float64
			if jsonErr := json.Unmarshal([]byte(raw), &vec); jsonErr == nil && len(vec) > 0 {
				c.local.Add(key, vec)
				metrics.EmbeddingCacheHits.WithLabelValues("redis").Inc()
				return vec, true
			}
			c.logger.Warn("discarding malformed shared cache entry", zap.String("key", key))
		case errors.Is(err, redis.Nil):
			// Not cached
		default:
			c.logger.Warn("shared cache read failed", zap.Error(err))
		}
	}

	metrics.EmbeddingCacheMisses.Inc()
	return nil, false
}

// Set stores an embedding in both tiers. Shared-tier write failures are
// logged and ignored.
func (c *Cache) Set(ctx context.Context, key string, vec []float64) {
	if len(vec) == 0 {
		return
	}
	c.local.Add(key, vec)

	if c.shared != nil {
		raw, err := json.Marshal(vec)
		if err != nil {
			return
		}
		if err := c.shared.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("shared cache write failed", zap.Error(err))
		}
	}
}

// Len reports the number of entries in the local tier
func (c *Cache) Len() int {
	return c.local.Len()
}

// Purge clears the local tier. Shared entries expire via TTL.
func (c *Cache) Purge() {
	c.local.Purge()
}
