package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// OllamaEmbedder calls a local Ollama server's /api/embed endpoint.
type OllamaEmbedder struct {
	model  string
	client *api.Client
}

// NewOllamaEmbedder creates an embedder for model (e.g. "bge-m3") served at baseURL.
func NewOllamaEmbedder(baseURL, model string) (*OllamaEmbedder, error) {
	if model == "" {
		return nil, fmt.Errorf("embedding model required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url: %w", err)
	}
	return &OllamaEmbedder{
		model:  model,
		client: api.NewClient(u, &http.Client{Timeout: defaultEmbeddingTimeout}),
	}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	out := make([]Vector, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		out[i] = Vector(emb)
	}
	return out, nil
}
