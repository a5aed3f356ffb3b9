package pipeline

import (
	"context"
	"errors"

	"faq-rag/internal/cache"
	"faq-rag/internal/coalesce"
	"faq-rag/internal/fingerprint"
	"faq-rag/internal/llm"
	"faq-rag/internal/retriever"
)

// Kind classifies a failed Ask for callers and metrics.
type Kind string

const (
	KindNone                  Kind = ""
	KindInvalidQuestion       Kind = "InvalidQuestion"
	KindRetrievalUnavailable  Kind = "RetrievalUnavailable"
	KindRetrievalTimeout      Kind = "RetrievalTimeout"
	KindGenerationUnavailable Kind = "GenerationUnavailable"
	KindGenerationTimeout     Kind = "GenerationTimeout"
	KindCacheUnavailable      Kind = "CacheUnavailable"
	KindCoalescingFailure     Kind = "CoalescingFailure"
	KindCanceled              Kind = "Canceled"
	KindInternal              Kind = "Internal"
)

// Classify maps an error returned by Ask onto the error taxonomy.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, fingerprint.ErrInvalidQuestion):
		return KindInvalidQuestion
	case errors.Is(err, retriever.ErrRetrievalTimeout):
		return KindRetrievalTimeout
	case errors.Is(err, retriever.ErrRetrievalUnavailable):
		return KindRetrievalUnavailable
	case errors.Is(err, llm.ErrGenerationTimeout):
		return KindGenerationTimeout
	case errors.Is(err, llm.ErrGenerationUnavailable):
		return KindGenerationUnavailable
	case errors.Is(err, coalesce.ErrLeaderCanceled):
		return KindCanceled
	case errors.Is(err, coalesce.ErrCoalescing):
		return KindCoalescingFailure
	case errors.Is(err, cache.ErrUnavailable):
		return KindCacheUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}

// Retryable reports whether a fresh attempt may succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindRetrievalUnavailable, KindRetrievalTimeout, KindGenerationUnavailable, KindGenerationTimeout:
		return true
	}
	return false
}
