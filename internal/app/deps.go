package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/openai/openai-go/v3"

	"faq-rag/internal/cache"
	"faq-rag/internal/config"
	"faq-rag/internal/embeddings"
	"faq-rag/internal/fingerprint"
	"faq-rag/internal/knowledge"
	"faq-rag/internal/llm"
	"faq-rag/internal/logger"
	"faq-rag/internal/metrics"
	"faq-rag/internal/pipeline"
	"faq-rag/internal/queue"
	"faq-rag/internal/retriever"
	"faq-rag/internal/store"
)

// Deps bundles the runtime dependencies shared by the service and the CLI.
type Deps struct {
	Config    config.Config
	Log       *slog.Logger
	Metrics   *metrics.Metrics
	Cache     cache.Store
	Index     store.Store
	Embedder  embeddings.Embedder
	Generator llm.Generator
	Retriever retriever.Retriever
	Queue     queue.Queue
	Pipeline  *pipeline.Service
}

// Build loads env, config, and shared components.
func Build() (*Deps, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg := config.Load()
	return BuildFrom(cfg, logger.New(cfg.LogLevel))
}

// BuildFrom wires every component from an already loaded configuration.
func BuildFrom(cfg config.Config, log *slog.Logger) (*Deps, error) {
	d := &Deps{Config: cfg, Log: log, Metrics: metrics.New()}

	fp, err := fingerprint.New(fingerprint.Options{Language: cfg.NormalizeLanguage, Stopwords: cfg.Stopwords})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fingerprinting: %w", err)
	}
	if d.Index, err = buildStore(cfg, log); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if d.Embedder, err = buildEmbedder(cfg, log); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	if d.Generator, err = buildGenerator(cfg, log); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	if d.Queue, err = buildQueue(cfg, log); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}
	d.Cache = buildCache(cfg, log)
	d.Retriever = retriever.NewVectorRetriever(d.Embedder, d.Index, cfg.DefaultTopK, cfg.MaxTopK)
	d.Pipeline = pipeline.NewService(fp, d.Cache, d.Retriever, d.Generator, pipeline.OptionsFromConfig(cfg), log, d.Metrics)
	return d, nil
}

// Close releases every backend that was opened.
func (d *Deps) Close() {
	if d.Queue != nil {
		if err := d.Queue.Close(); err != nil {
			d.Log.Warn("failed to close queue", "err", err)
		}
	}
	if d.Cache != nil {
		if err := d.Cache.Close(); err != nil {
			d.Log.Warn("failed to close cache", "err", err)
		}
	}
	if d.Index != nil {
		if err := d.Index.Close(); err != nil {
			d.Log.Warn("failed to close store", "err", err)
		}
	}
}

// Bootstrap indexes the configured knowledge file when the index is empty.
func (d *Deps) Bootstrap(ctx context.Context) error {
	n, err := d.Index.Count(ctx)
	if err != nil {
		return fmt.Errorf("count passages: %w", err)
	}
	if n > 0 || d.Config.KnowledgeFile == "" {
		d.Log.Info("vector index ready", "passages", n)
		return nil
	}
	doc, err := knowledge.Load(d.Config.KnowledgeFile)
	if errors.Is(err, fs.ErrNotExist) {
		d.Log.Warn("knowledge file not found, starting with an empty index", "path", d.Config.KnowledgeFile)
		return nil
	}
	if err != nil {
		return err
	}
	stored, err := knowledge.Index(ctx, d.Embedder, d.Index, []knowledge.Document{doc})
	if err != nil {
		return err
	}
	d.Log.Info("loaded knowledge base", "path", d.Config.KnowledgeFile, "passages", stored)
	return nil
}

func buildCache(cfg config.Config, log *slog.Logger) cache.Store {
	opts := []cache.Option{cache.WithMaxEntries(cfg.CacheMaxEntries)}
	switch cfg.CacheProvider {
	case "memory":
		c := cache.NewMemoryStore(opts...)
		c.StartJanitor(cfg.CacheCleanupInterval, log)
		log.Info("using in-memory cache", "max_entries", cfg.CacheMaxEntries, "ttl", cfg.CacheTTL)
		return c
	case "redis":
		c, err := cache.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, opts...)
		if err != nil {
			log.Warn("redis unavailable, continuing without cache", "addr", cfg.RedisAddr, "err", err)
			return cache.NewNoOpStore()
		}
		log.Info("using Redis cache", "addr", cfg.RedisAddr)
		return c
	case "sqlite":
		c, err := cache.NewSQLiteStore(cfg.SQLitePath, opts...)
		if err != nil {
			log.Warn("sqlite cache unavailable, continuing without cache", "path", cfg.SQLitePath, "err", err)
			return cache.NewNoOpStore()
		}
		log.Info("using SQLite cache", "path", cfg.SQLitePath)
		return c
	case "none", "":
		log.Info("caching disabled")
		return cache.NewNoOpStore()
	default:
		log.Warn("unknown CACHE_PROVIDER, caching disabled", "provider", cfg.CacheProvider)
		return cache.NewNoOpStore()
	}
}

func buildStore(cfg config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreProvider {
	case "memory", "":
		log.Info("using in-memory vector index")
		return store.NewMemoryStore(0), nil
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("DB_URL is required when STORE_PROVIDER=postgres")
		}
		db, err := store.NewPostgres(cfg.DBURL, cfg.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		log.Info("using Postgres store")
		return db, nil
	default:
		return nil, fmt.Errorf("invalid STORE_PROVIDER: %s (valid options: memory, postgres)", cfg.StoreProvider)
	}
}

func buildQueue(cfg config.Config, log *slog.Logger) (queue.Queue, error) {
	switch cfg.QueueProvider {
	case "none", "":
		return queue.NewNoop(), nil
	case "nats":
		if cfg.QueueURL == "" {
			return nil, fmt.Errorf("QUEUE_URL is required when QUEUE_PROVIDER=nats")
		}
		nc, err := queue.Connect(cfg.QueueURL, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Info("using NATS queue")
		return queue.NewNATS(log, nc), nil
	default:
		return nil, fmt.Errorf("invalid QUEUE_PROVIDER: %s (valid options: none, nats)", cfg.QueueProvider)
	}
}

func buildGenerator(cfg config.Config, log *slog.Logger) (llm.Generator, error) {
	var (
		gen llm.Generator
		err error
	)
	switch cfg.LLMProvider {
	case "ollama":
		gen, err = llm.NewOllamaClient(cfg.OllamaURL, cfg.LLMModel, cfg.LLMTemperature, cfg.MaxContextChars)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Ollama client: %w", err)
		}
		log.Info("using Ollama LLM client", "url", cfg.OllamaURL, "model", cfg.LLMModel)
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
		gen, err = llm.NewOpenAIClient(cfg.OpenAIKey, openai.ChatModel(cfg.LLMModel), cfg.LLMTemperature, cfg.MaxContextChars)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
		}
		log.Info("using OpenAI LLM client", "model", cfg.LLMModel)
	default:
		return nil, fmt.Errorf("invalid LLM_PROVIDER: %s (valid options: ollama, openai)", cfg.LLMProvider)
	}
	if cfg.BreakerFailures <= 0 {
		return gen, nil
	}
	return llm.NewBreaker(gen, uint32(cfg.BreakerFailures), cfg.BreakerTimeout, log), nil
}

func buildEmbedder(cfg config.Config, log *slog.Logger) (embeddings.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "ollama":
		embedder, err := embeddings.NewOllamaEmbedder(cfg.OllamaURL, cfg.EmbeddingModel)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Ollama embedder: %w", err)
		}
		log.Info("using Ollama embedder", "model", cfg.EmbeddingModel)
		return embedder, nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when EMBEDDING_PROVIDER=openai")
		}
		embedder, err := embeddings.NewOpenAIEmbedder(cfg.OpenAIKey, openai.EmbeddingModel(cfg.EmbeddingModel))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI embedder: %w", err)
		}
		log.Info("using OpenAI embedder", "model", cfg.EmbeddingModel)
		return embedder, nil
	default:
		return nil, fmt.Errorf("invalid EMBEDDING_PROVIDER: %s (valid options: ollama, openai)", cfg.EmbeddingProvider)
	}
}
