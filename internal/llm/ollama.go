package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"faq-rag/internal/retriever"
)

const defaultTemperature = 0.1

// OllamaClient generates answers through a local Ollama server's /api/chat.
type OllamaClient struct {
	model           string
	temperature     float64
	maxContextChars int
	client          *api.Client
}

// NewOllamaClient builds a non-streaming chat client for model at baseURL.
// Deadlines come from the caller's context.
func NewOllamaClient(baseURL, model string, temperature float64, maxContextChars int) (*OllamaClient, error) {
	if model == "" {
		return nil, fmt.Errorf("llm model required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url: %w", err)
	}
	if temperature < 0 {
		temperature = defaultTemperature
	}
	return &OllamaClient{
		model:           model,
		temperature:     temperature,
		maxContextChars: maxContextChars,
		client:          api.NewClient(u, http.DefaultClient),
	}, nil
}

func (c *OllamaClient) Generate(ctx context.Context, question string, passages []retriever.Passage) (Generation, error) {
	start := time.Now()
	stream := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(question, BuildContext(passages, c.maxContextChars))},
		},
		Options: map[string]interface{}{
			"temperature": c.temperature,
		},
		Stream: &stream,
	}

	var (
		answer strings.Builder
		usage  Usage
	)
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		answer.WriteString(resp.Message.Content)
		if resp.Done {
			usage = Usage{PromptTokens: resp.PromptEvalCount, CompletionTokens: resp.EvalCount}
		}
		return nil
	})
	if err != nil {
		return Generation{}, classify(ctx, "ollama chat", err)
	}

	text := strings.TrimSpace(answer.String())
	if text == "" {
		return Generation{}, fmt.Errorf("%w: ollama returned an empty answer", ErrGenerationUnavailable)
	}
	return Generation{Answer: text, Latency: time.Since(start), Usage: usage}, nil
}
