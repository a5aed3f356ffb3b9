package store

import (
	"context"
	"sort"
	"sync"

	"faq-rag/internal/embeddings"
)

// MemoryStore is an in-memory vector index using brute-force cosine similarity.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	order     []string // insertion order of passage IDs
	passages  map[string]Passage
}

// NewMemoryStore creates an index for vectors of the given dimension; zero
// accepts the dimension of the first upserted vector.
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{dimension: dimension, passages: make(map[string]Passage)}
}

func (s *MemoryStore) Upsert(_ context.Context, passages []Passage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range passages {
		if s.dimension == 0 {
			s.dimension = len(p.Vector)
		}
		if len(p.Vector) != s.dimension {
			return ErrDimensionMismatch
		}
	}
	for _, p := range passages {
		key := p.ID.String()
		if _, exists := s.passages[key]; !exists {
			s.order = append(s.order, key)
		}
		s.passages[key] = p
	}
	return nil
}

func (s *MemoryStore) TopK(_ context.Context, vector embeddings.Vector, k int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 {
		k = 5
	}
	if s.dimension != 0 && len(vector) != s.dimension {
		return nil, ErrDimensionMismatch
	}

	results := make([]SearchResult, 0, len(s.order))
	for _, key := range s.order {
		p := s.passages[key]
		results = append(results, SearchResult{Passage: p, Score: embeddings.CosineSimilarity(vector, p.Vector)})
	}
	// Stable keeps insertion order among equal scores.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (s *MemoryStore) DeleteSources(_ context.Context, sourceIDs []string) error {
	drop := make(map[string]struct{}, len(sourceIDs))
	for _, id := range sourceIDs {
		drop[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.order[:0]
	for _, key := range s.order {
		if _, ok := drop[s.passages[key].SourceID]; ok {
			delete(s.passages, key)
			continue
		}
		kept = append(kept, key)
	}
	s.order = kept
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.passages), nil
}

func (s *MemoryStore) Close() error { return nil }
