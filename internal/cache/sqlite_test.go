package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLite(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache_test.db")
	c, err := NewSQLiteStore(dbPath, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSQLitePutAndGet(t *testing.T) {
	clock := newFakeClock()
	c := newTestSQLite(t, WithClock(clock.Now))
	ctx := context.Background()

	in := entry("h1", "Refunds within 30 days.", sig("policy", "refund"))
	in.Usage = Usage{PromptTokens: 12, CompletionTokens: 5}
	if err := c.Put(ctx, in, time.Hour); err != nil {
		t.Fatal(err)
	}

	got, err := c.Get(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected cache hit")
	}
	if got.Answer != "Refunds within 30 days." {
		t.Errorf("unexpected answer: %s", got.Answer)
	}
	if len(got.Sources) != 1 || got.Sources[0].SourceID != "faq-1" {
		t.Errorf("unexpected sources: %+v", got.Sources)
	}
	if got.Usage.PromptTokens != 12 {
		t.Errorf("unexpected usage: %+v", got.Usage)
	}
	if got.HitCount != 1 {
		t.Errorf("expected hit count 1, got %d", got.HitCount)
	}
	if !got.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Errorf("unexpected expiry %v", got.ExpiresAt)
	}

	miss, err := c.Get(ctx, "h2")
	if err != nil || miss != nil {
		t.Errorf("expected miss, got %v %v", miss, err)
	}
}

func TestSQLiteTTLExpiration(t *testing.T) {
	clock := newFakeClock()
	c := newTestSQLite(t, WithClock(clock.Now))
	ctx := context.Background()

	if err := c.Put(ctx, entry("h1", "a", sig("refund")), time.Minute); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)

	if got, _ := c.Get(ctx, "h1"); got != nil {
		t.Error("expected cache miss after TTL expiration")
	}
	n, err := c.Evict(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 evicted, got %d", n)
	}
}

func TestSQLiteLRUEviction(t *testing.T) {
	clock := newFakeClock()
	c := newTestSQLite(t, WithClock(clock.Now), WithMaxEntries(2))
	ctx := context.Background()

	_ = c.Put(ctx, entry("a", "A", sig("a")), time.Hour)
	clock.Advance(time.Millisecond)
	_ = c.Put(ctx, entry("b", "B", sig("b")), time.Hour)
	clock.Advance(time.Millisecond)
	_, _ = c.Get(ctx, "a")
	clock.Advance(time.Millisecond)
	_ = c.Put(ctx, entry("c", "C", sig("c")), time.Hour)

	if got, _ := c.Get(ctx, "b"); got != nil {
		t.Error("expected least recently used entry to be evicted")
	}
	if got, _ := c.Get(ctx, "a"); got == nil {
		t.Error("expected recently read entry to survive")
	}
	if got := c.Stats().Entries; got != 2 {
		t.Errorf("expected 2 entries, got %d", got)
	}
}

func TestSQLiteNearDuplicateAndFlush(t *testing.T) {
	c := newTestSQLite(t)
	ctx := context.Background()

	_ = c.Put(ctx, entry("refund", "Refunds within 30 days.", sig("policy", "refund")), time.Hour)

	got, score, err := c.GetNearDuplicate(ctx, sig("policy", "refund"), 0.85)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Hash != "refund" || score != 1 {
		t.Fatalf("expected near duplicate hit, got %+v score %v", got, score)
	}

	if got, _, _ := c.GetNearDuplicate(ctx, sig("password", "reset"), 0.85); got != nil {
		t.Error("expected near duplicate miss")
	}

	if err := c.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if got := c.Stats().Entries; got != 0 {
		t.Errorf("expected empty cache after flush, got %d", got)
	}
}
