package cache

import (
	"context"
	"errors"
	"time"

	"faq-rag/internal/fingerprint"
)

// ErrUnavailable wraps backend failures. Callers treat the cache as best-effort.
var ErrUnavailable = errors.New("cache unavailable")

// Store caches generated answers by question fingerprint.
type Store interface {
	// Get retrieves a live entry by canonical hash.
	// Returns nil if not found or expired.
	Get(ctx context.Context, hash string) (*Entry, error)

	// GetNearDuplicate returns the live entry whose signature is most similar to
	// sig, provided the similarity is at least threshold. Returns nil otherwise.
	GetNearDuplicate(ctx context.Context, sig fingerprint.Signature, threshold float64) (*Entry, float64, error)

	// Put stores an entry that expires after ttl.
	Put(ctx context.Context, entry *Entry, ttl time.Duration) error

	// Evict drops expired entries, then least-recently-used ones above capacity.
	Evict(ctx context.Context) (int, error)

	// Flush removes every entry.
	Flush(ctx context.Context) error

	Stats() Stats

	// Close releases the backend.
	Close() error
}

// Entry is a cached answer.
type Entry struct {
	Hash      string                `json:"hash"`
	Question  string                `json:"question"`
	Signature fingerprint.Signature `json:"signature"`
	Answer    string                `json:"answer"`
	Sources   []Source              `json:"sources"`
	Usage     Usage                 `json:"usage"`
	CreatedAt time.Time             `json:"created_at"`
	ExpiresAt time.Time             `json:"expires_at"`
	HitCount  int64                 `json:"hit_count"`
}

// Expired reports whether the entry must no longer be served at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Source is a snapshot of one retrieved passage that produced the answer.
type Source struct {
	PassageID string  `json:"passage_id"`
	SourceID  string  `json:"source_id"`
	Score     float32 `json:"score"`
	Preview   string  `json:"preview"` // Truncated text preview
}

// Usage records generation token counts, when the backend reports them.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
}

// Stats reports cache performance counters.
type Stats struct {
	Entries   int64 `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// SimilarityFunc scores two signatures in [0, 1].
type SimilarityFunc func(a, b fingerprint.Signature) float64

// Option configures a Store implementation.
type Option func(*options)

type options struct {
	maxEntries int
	similarity SimilarityFunc
	now        func() time.Time
}

func defaultOptions() options {
	return options{
		similarity: fingerprint.Similarity,
		now:        time.Now,
	}
}

// WithMaxEntries bounds the number of entries; zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

// WithSimilarity replaces the near-duplicate similarity metric.
func WithSimilarity(fn SimilarityFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.similarity = fn
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// clone returns a copy the caller can mutate without touching cached state.
func (e *Entry) clone() *Entry {
	cp := *e
	cp.Sources = append([]Source(nil), e.Sources...)
	cp.Signature.Tokens = append([]string(nil), e.Signature.Tokens...)
	return &cp
}
