package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"faq-rag/internal/embeddings"
	"faq-rag/internal/store"
)

var (
	// ErrRetrievalUnavailable means the index or embedder could not serve the query.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrRetrievalTimeout means the query exceeded its deadline.
	ErrRetrievalTimeout = errors.New("retrieval timeout")
)

const (
	DefaultTopK = 3
	MaxTopK     = 10
)

// Passage is a retrieved piece of context.
type Passage struct {
	ID       string
	SourceID string
	Text     string
	Score    float32
}

// Result holds passages ordered by descending score.
type Result struct {
	Passages []Passage
}

// IDs returns the passage ids in rank order.
func (r Result) IDs() []string {
	ids := make([]string, len(r.Passages))
	for i, p := range r.Passages {
		ids[i] = p.ID
	}
	return ids
}

// Retriever finds passages relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, text string, topK int) (Result, error)
}

// VectorRetriever embeds the question and searches a vector store.
type VectorRetriever struct {
	embedder    embeddings.Embedder
	store       store.Store
	defaultTopK int
	maxTopK     int
}

// NewVectorRetriever builds a retriever; non-positive limits fall back to
// DefaultTopK and MaxTopK.
func NewVectorRetriever(e embeddings.Embedder, s store.Store, defaultTopK, maxTopK int) *VectorRetriever {
	if maxTopK <= 0 {
		maxTopK = MaxTopK
	}
	if defaultTopK <= 0 || defaultTopK > maxTopK {
		defaultTopK = min(DefaultTopK, maxTopK)
	}
	return &VectorRetriever{embedder: e, store: s, defaultTopK: defaultTopK, maxTopK: maxTopK}
}

// Retrieve returns up to topK passages. topK <= 0 selects the default and
// values above the maximum are clamped.
func (r *VectorRetriever) Retrieve(ctx context.Context, text string, topK int) (Result, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}
	if topK > r.maxTopK {
		topK = r.maxTopK
	}

	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return Result{}, classify(ctx, "embed question", err)
	}
	hits, err := r.store.TopK(ctx, vec, topK)
	if err != nil {
		return Result{}, classify(ctx, "search index", err)
	}

	passages := make([]Passage, len(hits))
	for i, h := range hits {
		passages[i] = Passage{
			ID:       h.Passage.ID.String(),
			SourceID: h.Passage.SourceID,
			Text:     h.Passage.Text,
			Score:    h.Score,
		}
	}
	// Backends already rank, but ties must keep index order whatever they return.
	sort.SliceStable(passages, func(i, j int) bool { return passages[i].Score > passages[j].Score })
	return Result{Passages: passages}, nil
}

func classify(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrRetrievalTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrRetrievalUnavailable, op, err)
}
