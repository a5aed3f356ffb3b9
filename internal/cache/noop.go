package cache

import (
	"context"
	"time"

	"faq-rag/internal/fingerprint"
)

// NoOpStore is a Store that does nothing.
// Used when caching is disabled or Redis is unavailable at startup: every
// operation succeeds but nothing is stored (always a miss).
type NoOpStore struct{}

// NewNoOpStore creates a new no-op cache instance
func NewNoOpStore() *NoOpStore {
	return &NoOpStore{}
}

// Get always returns nil (cache miss)
func (NoOpStore) Get(ctx context.Context, hash string) (*Entry, error) {
	return nil, nil
}

// GetNearDuplicate always returns nil (cache miss)
func (NoOpStore) GetNearDuplicate(ctx context.Context, sig fingerprint.Signature, threshold float64) (*Entry, float64, error) {
	return nil, 0, nil
}

// Put does nothing and always succeeds
func (NoOpStore) Put(ctx context.Context, entry *Entry, ttl time.Duration) error {
	return nil
}

func (NoOpStore) Evict(ctx context.Context) (int, error) {
	return 0, nil
}

func (NoOpStore) Flush(ctx context.Context) error {
	return nil
}

func (NoOpStore) Stats() Stats {
	return Stats{}
}

// Close does nothing and always succeeds
func (NoOpStore) Close() error {
	return nil
}
