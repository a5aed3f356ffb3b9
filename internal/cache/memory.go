package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"faq-rag/internal/fingerprint"
)

// MemoryStore is an in-process Store with TTL expiry and LRU eviction.
//
// Lookups hold only the read lock; recency and hit counts are atomics on the
// item, so concurrent readers never wait on each other. Items are immutable
// once published, and Put stores a new *memItem under the write lock, so a
// reader sees either the previous entry or the complete new one.
type MemoryStore struct {
	opts  options
	mu    sync.RWMutex
	items map[string]*memItem

	tick      atomic.Uint64
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type memItem struct {
	entry      *Entry
	hitCount   atomic.Int64
	lastAccess atomic.Uint64
}

// NewMemoryStore creates a MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:  applyOptions(opts),
		items: make(map[string]*memItem),
	}
}

// StartJanitor evicts expired entries every interval until Close.
func (s *MemoryStore) StartJanitor(interval time.Duration, log *slog.Logger) {
	if interval <= 0 || s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if n, _ := s.Evict(context.Background()); n > 0 && log != nil {
					log.Debug("cache janitor evicted entries", "count", n)
				}
			}
		}
	}()
}

func (s *MemoryStore) Get(_ context.Context, hash string) (*Entry, error) {
	s.mu.RLock()
	item, ok := s.items[hash]
	s.mu.RUnlock()

	if !ok || item.entry.Expired(s.opts.now()) {
		s.misses.Add(1)
		return nil, nil
	}
	return s.touch(item), nil
}

func (s *MemoryStore) GetNearDuplicate(_ context.Context, sig fingerprint.Signature, threshold float64) (*Entry, float64, error) {
	now := s.opts.now()

	var best *memItem
	var bestScore float64
	s.mu.RLock()
	for _, item := range s.items {
		if item.entry.Expired(now) {
			continue
		}
		score := s.opts.similarity(sig, item.entry.Signature)
		if score >= threshold && (best == nil || score > bestScore) {
			best, bestScore = item, score
		}
	}
	s.mu.RUnlock()

	if best == nil {
		s.misses.Add(1)
		return nil, 0, nil
	}
	return s.touch(best), bestScore, nil
}

func (s *MemoryStore) touch(item *memItem) *Entry {
	item.lastAccess.Store(s.tick.Add(1))
	hits := item.hitCount.Add(1)
	s.hits.Add(1)

	out := item.entry.clone()
	out.HitCount = hits
	return out
}

func (s *MemoryStore) Put(_ context.Context, entry *Entry, ttl time.Duration) error {
	now := s.opts.now()
	stored := entry.clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.ExpiresAt = now.Add(ttl)
	stored.HitCount = 0

	item := &memItem{entry: stored}
	item.lastAccess.Store(s.tick.Add(1))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[stored.Hash] = item
	s.evictLocked(now)
	return nil
}

func (s *MemoryStore) Evict(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(s.opts.now()), nil
}

// evictLocked removes expired items, then the least recently used items until
// the store fits maxEntries. Callers hold the write lock.
func (s *MemoryStore) evictLocked(now time.Time) int {
	removed := 0
	for hash, item := range s.items {
		if item.entry.Expired(now) {
			delete(s.items, hash)
			removed++
		}
	}
	for s.opts.maxEntries > 0 && len(s.items) > s.opts.maxEntries {
		var victim string
		var oldest uint64
		first := true
		for hash, item := range s.items {
			if at := item.lastAccess.Load(); first || at < oldest {
				victim, oldest, first = hash, at, false
			}
		}
		delete(s.items, victim)
		removed++
	}
	s.evictions.Add(int64(removed))
	return removed
}

func (s *MemoryStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*memItem)
	return nil
}

func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	n := len(s.items)
	s.mu.RUnlock()
	return Stats{
		Entries:   int64(n),
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
	}
}

// Close stops the janitor, if running.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		if s.stop != nil {
			close(s.stop)
			<-s.done
		}
	})
	return nil
}
