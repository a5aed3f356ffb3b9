package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"faq-rag/internal/retriever"
)

// OpenAIClient calls the OpenAI Chat Completions API.
type OpenAIClient struct {
	model           openai.ChatModel
	temperature     float64
	maxContextChars int
	client          *openai.Client
}

// NewOpenAIClient builds a client with defaults against api.openai.com.
func NewOpenAIClient(apiKey string, model openai.ChatModel, temperature float64, maxContextChars int, opts ...option.RequestOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key required")
	}
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	if temperature < 0 {
		temperature = defaultTemperature
	}
	cli := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)...)
	return &OpenAIClient{
		model:           model,
		temperature:     temperature,
		maxContextChars: maxContextChars,
		client:          &cli,
	}, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, question string, passages []retriever.Passage) (Generation, error) {
	if c == nil || c.client == nil {
		return Generation{}, fmt.Errorf("%w: nil openai client", ErrGenerationUnavailable)
	}
	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    buildMessages(systemPrompt, userPrompt(question, BuildContext(passages, c.maxContextChars))),
		Temperature: openai.Float(c.temperature),
	})
	if err != nil {
		return Generation{}, classify(ctx, "openai chat", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Generation{}, fmt.Errorf("%w: openai: no choices returned", ErrGenerationUnavailable)
	}
	return Generation{
		Answer:  strings.TrimSpace(resp.Choices[0].Message.Content),
		Latency: time.Since(start),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func buildMessages(system, user string) []openai.ChatCompletionMessageParamUnion {
	return []openai.ChatCompletionMessageParamUnion{
		{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(system),
				},
			},
		},
		{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfString: openai.String(user),
				},
			},
		},
	}
}
