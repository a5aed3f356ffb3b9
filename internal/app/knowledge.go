package app

import (
	"context"
	"fmt"
	"time"

	"faq-rag/internal/knowledge"
	"faq-rag/internal/queue"
)

// Distributed reports whether tasks reach other instances through a broker.
func (d *Deps) Distributed() bool {
	return d.Config.QueueProvider == "nats"
}

// Reindex replaces the passages of one knowledge file and invalidates every
// cached answer, locally and on the other instances.
func (d *Deps) Reindex(ctx context.Context, name string, content []byte) (int, error) {
	doc, err := knowledge.Parse(name, content)
	if err != nil {
		return 0, err
	}
	n, err := knowledge.Index(ctx, d.Embedder, d.Index, []knowledge.Document{doc})
	if err != nil {
		return 0, err
	}
	d.Log.Info("indexed knowledge file", "name", name, "passages", n)

	if err := d.Invalidate(ctx, "reindex", []string{doc.SourceID}); err != nil {
		return n, err
	}
	return n, nil
}

// Invalidate flushes the local cache and broadcasts the invalidation.
func (d *Deps) Invalidate(ctx context.Context, reason string, sources []string) error {
	if err := d.FlushCache(ctx, reason, sources); err != nil {
		return err
	}
	if !d.Distributed() {
		return nil
	}
	task, err := queue.NewTask(queue.TaskTypeInvalidate, queue.InvalidatePayload{Reason: reason, Sources: sources})
	if err != nil {
		return err
	}
	if err := queue.EnqueueWithRetry(ctx, d.Queue, task, 3, 200*time.Millisecond); err != nil {
		return fmt.Errorf("broadcast invalidation: %w", err)
	}
	return nil
}

// FlushCache drops every entry in this instance's cache.
// Going through the pipeline keeps answers generated before the flush from
// being written back afterwards.
func (d *Deps) FlushCache(ctx context.Context, reason string, sources []string) error {
	flush := d.Cache.Flush
	if d.Pipeline != nil {
		flush = d.Pipeline.Flush
	}
	if err := flush(ctx); err != nil {
		return fmt.Errorf("flush cache: %w", err)
	}
	d.Metrics.Invalidated()
	d.Log.Info("cache invalidated", "reason", reason, "sources", sources)
	return nil
}
