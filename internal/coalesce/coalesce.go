// Package coalesce merges concurrent requests for the same key into a single
// execution whose result is shared with every caller.
package coalesce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrCoalescing is delivered to followers when the leader failed without
	// publishing a result (for example it panicked).
	ErrCoalescing = errors.New("request coalescing failed")
	// ErrLeaderCanceled is delivered to followers when the leader's own
	// context ended before it produced a result.
	ErrLeaderCanceled = errors.New("coalesced leader canceled")
)

// Call is one in-flight execution for a key.
type Call[T any] struct {
	done      chan struct{}
	once      sync.Once
	val       T
	err       error
	followers atomic.Int32
}

// Wait blocks until the call is published or ctx ends. Cancelling ctx only
// detaches this waiter; the call keeps running for everyone else and the
// follower count drops by one.
func (c *Call[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		c.followers.Add(-1)
		var zero T
		return zero, ctx.Err()
	}
}

// Followers reports how many callers joined this call.
func (c *Call[T]) Followers() int {
	return int(c.followers.Load())
}

// Group tracks in-flight calls by key. The zero value is ready to use.
type Group[T any] struct {
	mu    sync.Mutex
	calls map[string]*Call[T]
}

// Admit registers the caller for key. The first caller becomes the leader
// (true) and must eventually Publish; later callers get the same Call.
func (g *Group[T]) Admit(key string) (*Call[T], bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls == nil {
		g.calls = make(map[string]*Call[T])
	}
	if c, ok := g.calls[key]; ok {
		c.followers.Add(1)
		return c, false
	}
	c := &Call[T]{done: make(chan struct{})}
	g.calls[key] = c
	return c, true
}

// Publish stores the result, removes the call from the group and wakes all
// waiters. Only the first Publish for a call has any effect.
func (g *Group[T]) Publish(key string, c *Call[T], v T, err error) {
	c.once.Do(func() {
		c.val, c.err = v, err
		g.mu.Lock()
		if g.calls[key] == c {
			delete(g.calls, key)
		}
		g.mu.Unlock()
		close(c.done)
	})
}

// Do runs fn once per key among concurrent callers. shared is true when the
// result was produced by another caller.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (v T, shared bool, err error) {
	c, leader := g.Admit(key)
	if !leader {
		v, err = c.Wait(ctx)
		return v, true, err
	}
	v, err = g.Run(ctx, key, c, fn)
	return v, false, err
}

// Run executes fn as the leader of c and publishes its outcome. If ctx ends
// before fn succeeds, followers receive ErrLeaderCanceled; if fn panics they
// receive ErrCoalescing and the panic continues in the leader.
func (g *Group[T]) Run(ctx context.Context, key string, c *Call[T], fn func(context.Context) (T, error)) (v T, err error) {
	published := false
	defer func() {
		if published {
			return
		}
		r := recover()
		var zero T
		g.Publish(key, c, zero, fmt.Errorf("%w: leader panicked: %v", ErrCoalescing, r))
		if r != nil {
			panic(r)
		}
	}()

	v, err = fn(ctx)
	shareErr := err
	if err != nil && ctx.Err() != nil {
		shareErr = fmt.Errorf("%w: %w", ErrLeaderCanceled, ctx.Err())
	}
	g.Publish(key, c, v, shareErr)
	published = true
	return v, err
}

// InFlight reports the number of keys currently executing.
func (g *Group[T]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// Followers reports how many callers are waiting on the in-flight call for
// key, or zero when none is running.
func (g *Group[T]) Followers(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.calls[key]; ok {
		return c.Followers()
	}
	return 0
}
