package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Save original env and restore after test
	originalEnv := os.Environ()
	defer func() {
		os.Clearenv()
		for _, env := range originalEnv {
			for i, c := range env {
				if c == '=' {
					os.Setenv(env[:i], env[i+1:])
					break
				}
			}
		}
	}()

	os.Clearenv()

	cfg := Load()

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"Port", cfg.Port, 8080},
		{"LogLevel", cfg.LogLevel, "info"},
		{"CacheProvider", cfg.CacheProvider, "memory"},
		{"CacheTTL", cfg.CacheTTL, time.Hour},
		{"CacheMaxEntries", cfg.CacheMaxEntries, 10000},
		{"SimilarityThreshold", cfg.SimilarityThreshold, 0.85},
		{"NearDuplicate", cfg.NearDuplicate, true},
		{"DefaultTopK", cfg.DefaultTopK, 3},
		{"MaxTopK", cfg.MaxTopK, 10},
		{"RetrievalTimeout", cfg.RetrievalTimeout, 10 * time.Second},
		{"RetrievalRetries", cfg.RetrievalRetries, 1},
		{"GenerationTimeout", cfg.GenerationTimeout, time.Minute},
		{"GenerationRetries", cfg.GenerationRetries, 0},
		{"LLMProvider", cfg.LLMProvider, "ollama"},
		{"LLMModel", cfg.LLMModel, "gemma3:4b"},
		{"EmbeddingModel", cfg.EmbeddingModel, "bge-m3"},
		{"StoreProvider", cfg.StoreProvider, "memory"},
		{"QueueProvider", cfg.QueueProvider, "none"},
		{"MaxUploadSize", cfg.MaxUploadSize, int64(10 << 20)},
		{"CacheTimeout", cfg.CacheTimeout, 5 * time.Second},
		{"FollowerMargin", cfg.FollowerMargin, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("expected %s=%v, got %v", tt.name, tt.expected, tt.got)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CACHE_TTL", "5m")
	t.Setenv("STOPWORDS", "the,a,an")

	cfg := Load()

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.LogLevel)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("expected cache ttl 5m, got %v", cfg.CacheTTL)
	}
	if len(cfg.Stopwords) != 3 || cfg.Stopwords[2] != "an" {
		t.Errorf("unexpected stopwords %v", cfg.Stopwords)
	}
}

func TestLoadConfigFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rag.yaml")
	body := "similarity_threshold: 0.9\nmax_entries: 42\ngeneration_timeout: 15s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CACHE_MAX_ENTRIES", "7")
	t.Setenv("PORT", "9191")

	cfg := Load()

	if cfg.SimilarityThreshold != 0.9 {
		t.Errorf("expected threshold 0.9, got %v", cfg.SimilarityThreshold)
	}
	if cfg.CacheMaxEntries != 42 {
		t.Errorf("expected file to win for max entries, got %d", cfg.CacheMaxEntries)
	}
	if cfg.GenerationTimeout != 15*time.Second {
		t.Errorf("expected generation timeout 15s, got %v", cfg.GenerationTimeout)
	}
	if cfg.Port != 9191 {
		t.Errorf("expected env port to survive overlay, got %d", cfg.Port)
	}
}
