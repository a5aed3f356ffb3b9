package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"faq-rag/internal/retriever"
)

var (
	// ErrGenerationUnavailable covers unreachable backends, non-2xx replies,
	// empty answers and an open circuit breaker.
	ErrGenerationUnavailable = errors.New("generation unavailable")
	// ErrGenerationTimeout means the backend did not answer before the deadline.
	ErrGenerationTimeout = errors.New("generation timeout")
)

// DefaultMaxContextChars bounds the context handed to the model.
const DefaultMaxContextChars = 4000

const systemPrompt = `You are a helpful customer service assistant.
Answer the user's question using only the reference information below.
If the reference does not contain the answer, say that you do not know and suggest contacting support.
Keep the answer short and friendly.`

// Usage reports token accounting when the backend provides it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Generation is a finished answer.
type Generation struct {
	Answer  string
	Latency time.Duration
	Usage   Usage
}

// Generator produces an answer grounded on retrieved passages.
type Generator interface {
	Generate(ctx context.Context, question string, passages []retriever.Passage) (Generation, error)
}

// BuildContext joins passage texts in rank order, separated by a blank line,
// dropping passages from the tail once maxChars would be exceeded. A first
// passage longer than the budget is cut at a rune boundary.
func BuildContext(passages []retriever.Passage, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxContextChars
	}
	const sep = "\n\n"

	var b strings.Builder
	for _, p := range passages {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		if b.Len() == 0 {
			if len(text) > maxChars {
				text = truncateRunes(text, maxChars)
			}
			b.WriteString(text)
			continue
		}
		if b.Len()+len(sep)+len(text) > maxChars {
			break
		}
		b.WriteString(sep)
		b.WriteString(text)
	}
	return b.String()
}

func truncateRunes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func userPrompt(question, contextText string) string {
	return fmt.Sprintf("Reference information:\n%s\n\nQuestion: %s", contextText, question)
}

// classify wraps a backend failure in the matching sentinel.
func classify(ctx context.Context, backend string, err error) error {
	if errors.Is(err, ErrGenerationUnavailable) || errors.Is(err, ErrGenerationTimeout) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %w", ErrGenerationTimeout, backend, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrGenerationUnavailable, backend, err)
}
