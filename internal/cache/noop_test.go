package cache

import (
	"context"
	"testing"
	"time"

	"faq-rag/internal/fingerprint"
)

// TestNoOpStore verifies that NoOpStore implements the Store interface correctly
func TestNoOpStore(t *testing.T) {
	var store Store = NewNoOpStore()
	ctx := context.Background()

	// Get should always return nil (cache miss)
	result, err := store.Get(ctx, "test-key")
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if result != nil {
		t.Errorf("Expected nil result (cache miss), got %v", result)
	}

	err = store.Put(ctx, &Entry{Hash: "test-key", Answer: "test answer"}, time.Hour)
	if err != nil {
		t.Errorf("Expected no error on Put, got %v", err)
	}

	// Verify it still returns nil (nothing was actually cached)
	result, err = store.Get(ctx, "test-key")
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if result != nil {
		t.Errorf("Expected nil result (no-op cache doesn't store), got %v", result)
	}

	near, score, err := store.GetNearDuplicate(ctx, fingerprint.Signature{Tokens: []string{"x"}}, 0)
	if err != nil || near != nil || score != 0 {
		t.Errorf("Expected near-duplicate miss, got %v %v %v", near, score, err)
	}

	if n, err := store.Evict(ctx); err != nil || n != 0 {
		t.Errorf("Expected nothing evicted, got %d %v", n, err)
	}
	if err := store.Flush(ctx); err != nil {
		t.Errorf("Expected no error on Flush, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Expected no error on Close, got %v", err)
	}
}
