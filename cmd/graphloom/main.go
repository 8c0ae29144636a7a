// Command graphloom runs the knowledge-graph construction and evaluation
// pipeline: corpus loading, chunking, embedding, relation inference, and the
// layer evaluators, plus a read-only status API.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"graphloom/internal/config"
	"graphloom/internal/embeddings"
	"graphloom/internal/llm"
	"graphloom/internal/logging"
	"graphloom/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:           "graphloom",
		Short:         "Cross-source knowledge-graph construction and evaluation pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newMigrateCmd(),
		newCorpusCmd(),
		newConfigCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap loads the runtime config and builds the root logger
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load runtime config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// buildEmbedder constructs the embedding service for an experiment. Offline
// mode swaps in the deterministic embedder so runs need no provider.
func buildEmbedder(runtime *config.Config, exp *config.ExperimentConfig, offline bool, logger *zap.Logger) (embeddings.Service, error) {
	dims := exp.Embedding.Dimensions
	if dims <= 0 {
		dims = embeddings.DefaultDimensions(exp.Embedding.Model)
	}
	if offline {
		return embeddings.NewStaticService(dims), nil
	}

	var sharedTier *redis.Client
	if runtime.Redis.Enabled {
		sharedTier = redis.NewClient(&redis.Options{
			Addr:     runtime.Redis.Addr,
			Password: runtime.Redis.Password,
			DB:       runtime.Redis.DB,
		})
	}
	cache, err := embeddings.NewCache(embeddings.CacheOptions{
		LocalSize: runtime.Embedder.CacheSize,
		Redis:     sharedTier,
		RedisTTL:  time.Duration(runtime.Redis.TTLSeconds) * time.Second,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return embeddings.NewOpenAIService(&embeddings.Config{
		APIKey:       runtime.Embedder.APIKey,
		BaseURL:      runtime.Embedder.BaseURL,
		Model:        exp.Embedding.Model,
		Dimensions:   exp.Embedding.Dimensions,
		BatchSize:    exp.Embedding.BatchSize,
		Timeout:      time.Duration(runtime.Embedder.RequestTimeout) * time.Second,
		MaxRetries:   runtime.Embedder.MaxRetries,
		RateLimitRPM: runtime.Embedder.RateLimitRPM,
	}, cache, logger)
}

// buildLLM constructs the judgment client when contrastive inference is
// enabled; otherwise it returns nil.
func buildLLM(runtime *config.Config, exp *config.ExperimentConfig, logger *zap.Logger) (llm.Client, error) {
	ri := exp.RelationInference
	if !ri.UseContrastiveICL {
		return nil, nil
	}
	if ri.LLMConfig == nil {
		return nil, fmt.Errorf("contrastive inference requires llmConfig")
	}
	apiKey := ri.LLMConfig.APIKey
	if apiKey == "" {
		apiKey = runtime.LLM.APIKey
	}
	return llm.NewChatClient(llm.Options{
		APIKey:      apiKey,
		BaseURL:     runtime.LLM.BaseURL,
		Model:       ri.LLMConfig.Model,
		Temperature: ri.LLMConfig.Temperature,
		MaxTokens:   ri.LLMConfig.MaxTokens,
		Timeout:     time.Duration(runtime.LLM.RequestTimeout) * time.Second,
	}, logger)
}

// openStore builds the configured store and reports the backend in use
func openStore(runtime *config.Config, logger *zap.Logger) (storage.Store, error) {
	store, err := storage.NewStore(runtime, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("store ready",
		zap.String("backend", runtime.Store.Backend),
		zap.Bool("qdrant_index", runtime.Qdrant.Enabled))
	return store, nil
}
