// Package config provides runtime configuration and the declarative
// experiment config record consumed by the pipeline.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config represents the runtime application configuration. It covers the
// process environment (stores, providers, server); the per-run experiment
// record lives in ExperimentConfig.
type Config struct {
	Store    StoreConfig    `json:"store"`
	Qdrant   QdrantConfig   `json:"qdrant"`
	Redis    RedisConfig    `json:"redis"`
	Embedder EmbedderConfig `json:"embedder"`
	LLM      LLMConfig      `json:"llm"`
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
}

// StoreConfig selects and configures the persistence backend
type StoreConfig struct {
	Backend     string `json:"backend"` // postgres, sqlite, memory
	PostgresDSN string `json:"-"`       // Never serialize credentials
	SQLitePath  string `json:"sqlite_path"`
}

// QdrantConfig configures the optional vector index
type QdrantConfig struct {
	Enabled        bool   `json:"enabled"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	APIKey         string `json:"-"` // Never serialize API key
	UseTLS         bool   `json:"use_tls"`
	Collection     string `json:"collection"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RedisConfig configures the optional shared embedding cache tier
type RedisConfig struct {
	Enabled    bool   `json:"enabled"`
	Addr       string `json:"addr"`
	Password   string `json:"-"` // Never serialize password
	DB         int    `json:"db"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// EmbedderConfig configures the embedding provider client
type EmbedderConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"-"` // Never serialize API key
	RequestTimeout int    `json:"request_timeout_seconds"`
	MaxRetries     int    `json:"max_retries"`
	RateLimitRPM   int    `json:"rate_limit_rpm"`
	CacheSize      int    `json:"cache_size"`
}

// LLMConfig configures the LLM provider client used by contrastive inference
type LLMConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"-"` // Never serialize API key
	RequestTimeout int    `json:"request_timeout_seconds"`
	Concurrency    int    `json:"concurrency"`
}

// ServerConfig configures the status API server
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"read_timeout_seconds"`
	WriteTimeout int    `json:"write_timeout_seconds"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns the default runtime configuration
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:    "memory",
			SQLitePath: "./data/graphloom.db",
		},
		Qdrant: QdrantConfig{
			Enabled:        false,
			Host:           "localhost",
			Port:           6334,
			UseTLS:         false,
			Collection:     "graphloom_chunks",
			TimeoutSeconds: 30,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			TTLSeconds: 86400,
		},
		Embedder: EmbedderConfig{
			BaseURL:        "https://api.openai.com/v1",
			RequestTimeout: 30,
			MaxRetries:     3,
			RateLimitRPM:   60,
			CacheSize:      4096,
		},
		LLM: LLMConfig{
			BaseURL:        "https://api.openai.com/v1",
			RequestTimeout: 60,
			Concurrency:    4,
		},
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads runtime configuration from environment variables and defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := DefaultConfig()
	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func loadFromEnv(config *Config) {
	loadStoreConfig(config)
	loadQdrantConfig(config)
	loadRedisConfig(config)
	loadProviderConfig(config)
	loadServerConfig(config)
	loadLoggingConfig(config)
}

func loadStoreConfig(config *Config) {
	if backend := os.Getenv("GRAPHLOOM_STORE_BACKEND"); backend != "" {
		config.Store.Backend = backend
	}
	if dsn := os.Getenv("GRAPHLOOM_POSTGRES_DSN"); dsn != "" {
		config.Store.PostgresDSN = dsn
	} else if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		config.Store.PostgresDSN = dsn
	}
	if path := os.Getenv("GRAPHLOOM_SQLITE_PATH"); path != "" {
		config.Store.SQLitePath = path
	}
}

func loadQdrantConfig(config *Config) {
	if enabled := os.Getenv("GRAPHLOOM_QDRANT_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Qdrant.Enabled = e
		}
	}
	// Check both prefixed and non-prefixed env vars
	if host := os.Getenv("GRAPHLOOM_QDRANT_HOST"); host != "" {
		config.Qdrant.Host = host
	} else if host := os.Getenv("QDRANT_HOST"); host != "" {
		config.Qdrant.Host = host
	}
	if port := os.Getenv("GRAPHLOOM_QDRANT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Qdrant.Port = p
		}
	} else if port := os.Getenv("QDRANT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Qdrant.Port = p
		}
	}
	if apiKey := os.Getenv("GRAPHLOOM_QDRANT_API_KEY"); apiKey != "" {
		config.Qdrant.APIKey = apiKey
	} else if apiKey := os.Getenv("QDRANT_API_KEY"); apiKey != "" {
		config.Qdrant.APIKey = apiKey
	}
	if useTLS := os.Getenv("GRAPHLOOM_QDRANT_USE_TLS"); useTLS != "" {
		if tls, err := strconv.ParseBool(useTLS); err == nil {
			config.Qdrant.UseTLS = tls
		}
	}
	if collection := os.Getenv("GRAPHLOOM_QDRANT_COLLECTION"); collection != "" {
		config.Qdrant.Collection = collection
	}
	if timeoutSeconds := os.Getenv("GRAPHLOOM_QDRANT_TIMEOUT_SECONDS"); timeoutSeconds != "" {
		if ts, err := strconv.Atoi(timeoutSeconds); err == nil {
			config.Qdrant.TimeoutSeconds = ts
		}
	}
}

func loadRedisConfig(config *Config) {
	if enabled := os.Getenv("GRAPHLOOM_REDIS_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Redis.Enabled = e
		}
	}
	if addr := os.Getenv("GRAPHLOOM_REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	} else if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if password := os.Getenv("GRAPHLOOM_REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if db := os.Getenv("GRAPHLOOM_REDIS_DB"); db != "" {
		if d, err := strconv.Atoi(db); err == nil {
			config.Redis.DB = d
		}
	}
	if ttl := os.Getenv("GRAPHLOOM_REDIS_TTL_SECONDS"); ttl != "" {
		if t, err := strconv.Atoi(ttl); err == nil {
			config.Redis.TTLSeconds = t
		}
	}
}

func loadProviderConfig(config *Config) {
	if baseURL := os.Getenv("GRAPHLOOM_EMBEDDER_BASE_URL"); baseURL != "" {
		config.Embedder.BaseURL = baseURL
	}
	if apiKey := os.Getenv("GRAPHLOOM_EMBEDDER_API_KEY"); apiKey != "" {
		config.Embedder.APIKey = apiKey
	} else if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Embedder.APIKey = apiKey
	}
	if requestTimeout := os.Getenv("GRAPHLOOM_EMBEDDER_REQUEST_TIMEOUT_SECONDS"); requestTimeout != "" {
		if rt, err := strconv.Atoi(requestTimeout); err == nil {
			config.Embedder.RequestTimeout = rt
		}
	}
	if maxRetries := os.Getenv("GRAPHLOOM_EMBEDDER_MAX_RETRIES"); maxRetries != "" {
		if mr, err := strconv.Atoi(maxRetries); err == nil {
			config.Embedder.MaxRetries = mr
		}
	}
	if rateLimitRPM := os.Getenv("GRAPHLOOM_EMBEDDER_RATE_LIMIT_RPM"); rateLimitRPM != "" {
		if rl, err := strconv.Atoi(rateLimitRPM); err == nil {
			config.Embedder.RateLimitRPM = rl
		}
	}
	if cacheSize := os.Getenv("GRAPHLOOM_EMBEDDER_CACHE_SIZE"); cacheSize != "" {
		if cs, err := strconv.Atoi(cacheSize); err == nil {
			config.Embedder.CacheSize = cs
		}
	}

	if baseURL := os.Getenv("GRAPHLOOM_LLM_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if apiKey := os.Getenv("GRAPHLOOM_LLM_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	} else if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if requestTimeout := os.Getenv("GRAPHLOOM_LLM_REQUEST_TIMEOUT_SECONDS"); requestTimeout != "" {
		if rt, err := strconv.Atoi(requestTimeout); err == nil {
			config.LLM.RequestTimeout = rt
		}
	}
	if concurrency := os.Getenv("GRAPHLOOM_LLM_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.LLM.Concurrency = c
		}
	}
}

func loadServerConfig(config *Config) {
	if host := os.Getenv("GRAPHLOOM_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("GRAPHLOOM_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if readTimeout := os.Getenv("GRAPHLOOM_READ_TIMEOUT_SECONDS"); readTimeout != "" {
		if rt, err := strconv.Atoi(readTimeout); err == nil {
			config.Server.ReadTimeout = rt
		}
	}
	if writeTimeout := os.Getenv("GRAPHLOOM_WRITE_TIMEOUT_SECONDS"); writeTimeout != "" {
		if wt, err := strconv.Atoi(writeTimeout); err == nil {
			config.Server.WriteTimeout = wt
		}
	}
}

func loadLoggingConfig(config *Config) {
	if level := os.Getenv("GRAPHLOOM_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("GRAPHLOOM_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
}

// Validate validates the runtime configuration
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("postgres backend requires GRAPHLOOM_POSTGRES_DSN")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite backend requires a database path")
		}
	case "memory":
		// No settings required
	default:
		return fmt.Errorf("invalid store backend: %s", c.Store.Backend)
	}

	if c.Qdrant.Enabled {
		if c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant host cannot be empty")
		}
		if c.Qdrant.Port <= 0 {
			return fmt.Errorf("qdrant port must be greater than 0")
		}
		if c.Qdrant.Collection == "" {
			return fmt.Errorf("qdrant collection cannot be empty")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr cannot be empty when redis is enabled")
	}

	if c.Embedder.BaseURL == "" {
		return fmt.Errorf("embedder base URL cannot be empty")
	}
	if c.Embedder.RequestTimeout <= 0 {
		return fmt.Errorf("embedder request timeout must be positive")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	switch c.Logging.Format {
	case "json", "console":
		// Valid format
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}
