package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"faq-rag/internal/retriever"
)

// Breaker guards a Generator with a circuit breaker. While open, calls fail
// fast with ErrGenerationUnavailable instead of waiting on a dead backend.
type Breaker struct {
	next Generator
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker trips after consecutiveFailures failed calls and probes again
// after openTimeout. Caller cancellations do not count as failures.
func NewBreaker(next Generator, consecutiveFailures uint32, openTimeout time.Duration, log *slog.Logger) *Breaker {
	if consecutiveFailures == 0 {
		consecutiveFailures = 5
	}
	if log == nil {
		log = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        "generator",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *Breaker) Generate(ctx context.Context, question string, passages []retriever.Passage) (Generation, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Generate(ctx, question, passages)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Generation{}, fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}
	if err != nil {
		return Generation{}, err
	}
	return out.(Generation), nil
}

// State reports the breaker state, e.g. for health output.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
