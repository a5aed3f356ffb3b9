package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"faq-rag/internal/fingerprint"
)

const (
	// Key prefix for cached answers
	entryKeyPrefix = "rag:entry:"

	// Hash of canonical hash -> signature JSON, scanned for near duplicates
	signatureKey = "rag:sig"

	// Sorted set of canonical hash scored by last access
	recencyKey = "rag:lru"

	// Hash of canonical hash -> hit count
	hitsKey = "rag:hits"
)

// RedisStore keeps entries in Redis so several query replicas share one cache.
// Redis expires entry keys; the signature, recency and hit indexes are pruned
// lazily by reads and by Evict.
type RedisStore struct {
	client *redis.Client
	opts   options

	hits   atomic.Int64
	misses atomic.Int64
	evicts atomic.Int64
}

// NewRedisStore creates a new Redis cache client
func NewRedisStore(addr, password string, db int, opts ...Option) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{
		client: client,
		opts:   applyOptions(opts),
	}, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %w", ErrUnavailable, op, err)
}

func (c *RedisStore) Get(ctx context.Context, hash string) (*Entry, error) {
	entry, err := c.load(ctx, hash)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		c.misses.Add(1)
		return nil, nil
	}
	if err := c.touch(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// load returns nil when the key is gone or already past its expiry.
func (c *RedisStore) load(ctx context.Context, hash string) (*Entry, error) {
	data, err := c.client.Get(ctx, entryKeyPrefix+hash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // Cache miss
	}
	if err != nil {
		return nil, unavailable("get", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, unavailable("decode", err)
	}
	if entry.Expired(c.opts.now()) {
		return nil, nil
	}
	return &entry, nil
}

func (c *RedisStore) touch(ctx context.Context, entry *Entry) error {
	var hits *redis.IntCmd
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, recencyKey, redis.Z{Score: float64(c.opts.now().UnixNano()), Member: entry.Hash})
		hits = pipe.HIncrBy(ctx, hitsKey, entry.Hash, 1)
		return nil
	})
	if err != nil {
		return unavailable("touch", err)
	}
	entry.HitCount = hits.Val()
	c.hits.Add(1)
	return nil
}

func (c *RedisStore) GetNearDuplicate(ctx context.Context, sig fingerprint.Signature, threshold float64) (*Entry, float64, error) {
	all, err := c.client.HGetAll(ctx, signatureKey).Result()
	if err != nil {
		return nil, 0, unavailable("hgetall", err)
	}

	type candidate struct {
		hash  string
		score float64
	}
	var candidates []candidate
	for hash, raw := range all {
		var other fingerprint.Signature
		if err := json.Unmarshal([]byte(raw), &other); err != nil {
			continue
		}
		if score := c.opts.similarity(sig, other); score >= threshold {
			candidates = append(candidates, candidate{hash: hash, score: score})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	// The best signature may belong to an entry Redis already expired.
	for _, cand := range candidates {
		entry, err := c.load(ctx, cand.hash)
		if err != nil {
			return nil, 0, err
		}
		if entry == nil {
			c.forget(ctx, cand.hash)
			continue
		}
		if err := c.touch(ctx, entry); err != nil {
			return nil, 0, err
		}
		return entry, cand.score, nil
	}
	c.misses.Add(1)
	return nil, 0, nil
}

func (c *RedisStore) Put(ctx context.Context, entry *Entry, ttl time.Duration) error {
	now := c.opts.now()
	stored := entry.clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.ExpiresAt = now.Add(ttl)
	stored.HitCount = 0

	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	sig, err := json.Marshal(stored.Signature)
	if err != nil {
		return err
	}

	// The entry and its index rows land together.
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, entryKeyPrefix+stored.Hash, data, ttl)
		pipe.HSet(ctx, signatureKey, stored.Hash, sig)
		pipe.ZAdd(ctx, recencyKey, redis.Z{Score: float64(now.UnixNano()), Member: stored.Hash})
		pipe.HDel(ctx, hitsKey, stored.Hash)
		return nil
	})
	if err != nil {
		return unavailable("put", err)
	}

	if c.opts.maxEntries > 0 {
		if _, err := c.evictOverflow(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Evict prunes index rows whose entry keys Redis has expired, then trims the
// least recently used entries above maxEntries.
func (c *RedisStore) Evict(ctx context.Context) (int, error) {
	hashes, err := c.client.ZRange(ctx, recencyKey, 0, -1).Result()
	if err != nil {
		return 0, unavailable("zrange", err)
	}

	exists := make([]*redis.IntCmd, len(hashes))
	_, err = c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, hash := range hashes {
			exists[i] = pipe.Exists(ctx, entryKeyPrefix+hash)
		}
		return nil
	})
	if err != nil {
		return 0, unavailable("exists", err)
	}

	removed := 0
	for i, hash := range hashes {
		if exists[i].Val() == 0 {
			c.forget(ctx, hash)
			removed++
		}
	}

	overflow, err := c.evictOverflow(ctx)
	removed += overflow
	c.evicts.Add(int64(removed))
	return removed, err
}

func (c *RedisStore) evictOverflow(ctx context.Context) (int, error) {
	if c.opts.maxEntries <= 0 {
		return 0, nil
	}
	size, err := c.client.ZCard(ctx, recencyKey).Result()
	if err != nil {
		return 0, unavailable("zcard", err)
	}
	extra := size - int64(c.opts.maxEntries)
	if extra <= 0 {
		return 0, nil
	}
	victims, err := c.client.ZPopMin(ctx, recencyKey, extra).Result()
	if err != nil {
		return 0, unavailable("zpopmin", err)
	}
	_, err = c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, v := range victims {
			hash, _ := v.Member.(string)
			pipe.Del(ctx, entryKeyPrefix+hash)
			pipe.HDel(ctx, signatureKey, hash)
			pipe.HDel(ctx, hitsKey, hash)
		}
		return nil
	})
	if err != nil {
		return 0, unavailable("evict", err)
	}
	return len(victims), nil
}

// forget drops the index rows of an entry; failures are left for the next Evict.
func (c *RedisStore) forget(ctx context.Context, hash string) {
	_, _ = c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, signatureKey, hash)
		pipe.ZRem(ctx, recencyKey, hash)
		pipe.HDel(ctx, hitsKey, hash)
		return nil
	})
}

// Flush removes every cached answer and index.
func (c *RedisStore) Flush(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "rag:*", 0).Iterator()

	pipe := c.client.Pipeline()
	count := 0

	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
		count++
	}

	if err := iter.Err(); err != nil {
		return unavailable("scan", err)
	}

	if count > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return unavailable("flush", err)
		}
	}

	return nil
}

func (c *RedisStore) Stats() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	entries, _ := c.client.ZCard(ctx, recencyKey).Result()
	return Stats{
		Entries:   entries,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evicts.Load(),
	}
}

// Close closes the cache connection
func (c *RedisStore) Close() error {
	return c.client.Close()
}
