package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the query service and the CLI.
type Config struct {
	// Server
	Port     int    `env:"PORT" envDefault:"8080" yaml:"port"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level"`

	// Cache
	CacheProvider        string        `env:"CACHE_PROVIDER" envDefault:"memory" yaml:"cache_provider"` // "memory", "redis", "sqlite" or "none"
	RedisAddr            string        `env:"REDIS_ADDR" envDefault:"localhost:6379" yaml:"redis_addr"`
	RedisPassword        string        `env:"REDIS_PASSWORD" yaml:"redis_password"`
	RedisDB              int           `env:"REDIS_DB" envDefault:"0" yaml:"redis_db"`
	SQLitePath           string        `env:"SQLITE_PATH" envDefault:"cache.db" yaml:"sqlite_path"`
	CacheTTL             time.Duration `env:"CACHE_TTL" envDefault:"1h" yaml:"ttl"`
	CacheMaxEntries      int           `env:"CACHE_MAX_ENTRIES" envDefault:"10000" yaml:"max_entries"`
	CacheCleanupInterval time.Duration `env:"CACHE_CLEANUP_INTERVAL" envDefault:"1m" yaml:"cleanup_interval"`
	CacheTimeout         time.Duration `env:"CACHE_TIMEOUT" envDefault:"5s" yaml:"cache_timeout"` // bounds the leader's re-check and write

	// Fingerprinting and near-duplicate matching
	NearDuplicate       bool     `env:"NEAR_DUPLICATE" envDefault:"true" yaml:"near_duplicate"`
	SimilarityThreshold float64  `env:"SIMILARITY_THRESHOLD" envDefault:"0.85" yaml:"similarity_threshold"`
	NormalizeLanguage   string   `env:"NORMALIZE_LANGUAGE" envDefault:"und" yaml:"normalize_language"`
	Stopwords           []string `env:"STOPWORDS" envSeparator:"," yaml:"stopwords"` // empty means the built-in English list

	// Retrieval
	DefaultTopK      int           `env:"DEFAULT_TOP_K" envDefault:"3" yaml:"default_top_k"`
	MaxTopK          int           `env:"MAX_TOP_K" envDefault:"10" yaml:"max_retrieval_top_k"`
	RetrievalTimeout time.Duration `env:"RETRIEVAL_TIMEOUT" envDefault:"10s" yaml:"retrieval_timeout"`
	RetrievalRetries int           `env:"RETRIEVAL_RETRIES" envDefault:"1" yaml:"retrieval_retries"`

	// Generation
	GenerationTimeout time.Duration `env:"GENERATION_TIMEOUT" envDefault:"60s" yaml:"generation_timeout"`
	GenerationRetries int           `env:"GENERATION_RETRIES" envDefault:"0" yaml:"generation_retries"`
	MaxContextChars   int           `env:"MAX_CONTEXT_CHARS" envDefault:"4000" yaml:"max_context_chars"`
	RetryBackoff      time.Duration `env:"RETRY_BACKOFF" envDefault:"200ms" yaml:"retry_backoff"`
	FollowerMargin    time.Duration `env:"FOLLOWER_MARGIN" envDefault:"2s" yaml:"follower_margin"`
	BreakerFailures   int           `env:"BREAKER_FAILURES" envDefault:"5" yaml:"breaker_failures"`
	BreakerTimeout    time.Duration `env:"BREAKER_TIMEOUT" envDefault:"30s" yaml:"breaker_timeout"`

	// LLM & Embeddings
	LLMProvider       string  `env:"LLM_PROVIDER" envDefault:"ollama" yaml:"llm_provider"`             // "ollama" or "openai"
	EmbeddingProvider string  `env:"EMBEDDING_PROVIDER" envDefault:"ollama" yaml:"embedding_provider"` // "ollama" or "openai"
	OllamaURL         string  `env:"OLLAMA_URL" envDefault:"http://localhost:11434" yaml:"ollama_url"`
	OpenAIKey         string  `env:"OPENAI_API_KEY" yaml:"-"`
	LLMModel          string  `env:"LLM_MODEL" envDefault:"gemma3:4b" yaml:"llm_model"`
	LLMTemperature    float64 `env:"LLM_TEMPERATURE" envDefault:"0.1" yaml:"llm_temperature"`
	EmbeddingModel    string  `env:"EMBEDDING_MODEL" envDefault:"bge-m3" yaml:"embedding_model"`

	// Vector index
	StoreProvider string `env:"STORE_PROVIDER" envDefault:"memory" yaml:"store_provider"` // "memory" or "postgres"
	DBURL         string `env:"DB_URL" yaml:"db_url"`
	EmbeddingDim  int    `env:"EMBEDDING_DIM" envDefault:"1024" yaml:"embedding_dim"`
	KnowledgeFile string `env:"KNOWLEDGE_FILE" envDefault:"data/faq.md" yaml:"knowledge_file"`
	MaxUploadSize int64  `env:"MAX_UPLOAD_SIZE" envDefault:"10485760" yaml:"max_upload_size"` // 10MB

	// Queue
	QueueProvider string `env:"QUEUE_PROVIDER" envDefault:"none" yaml:"queue_provider"` // "none" or "nats"
	QueueURL      string `env:"QUEUE_URL" yaml:"queue_url"`

	// Optional YAML file applied on top of the environment.
	ConfigFile string `env:"CONFIG_FILE" yaml:"-"`
}

// Load reads configuration from environment variables with defaults, then
// overlays CONFIG_FILE when it is set. Keys present in the file win.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	if cfg.ConfigFile != "" {
		if err := overlayFile(&cfg, cfg.ConfigFile); err != nil {
			slog.Warn("failed to apply config file", "path", cfg.ConfigFile, "err", err)
		}
	}
	return cfg
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
