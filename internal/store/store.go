package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"faq-rag/internal/embeddings"
)

var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Passage is one retrievable unit of the knowledge base.
type Passage struct {
	ID       uuid.UUID
	SourceID string // document or FAQ entry the passage came from
	Index    int    // position within its source
	Text     string
	Vector   embeddings.Vector
}

type SearchResult struct {
	Passage Passage
	Score   float32
}

// Store is the vector index the retriever searches.
type Store interface {
	Upsert(ctx context.Context, passages []Passage) error
	// TopK returns the k passages most similar to vector, best first.
	TopK(ctx context.Context, vector embeddings.Vector, k int) ([]SearchResult, error)
	DeleteSources(ctx context.Context, sourceIDs []string) error
	Count(ctx context.Context) (int, error)
	Close() error
}
