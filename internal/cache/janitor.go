package cache

import (
	"context"
	"log/slog"
	"time"
)

// RunJanitor calls Evict on s every interval until ctx is done. It is meant
// for backends without their own background expiry loop.
func RunJanitor(ctx context.Context, s Store, interval time.Duration, log *slog.Logger) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Evict(ctx)
			if err != nil {
				log.Warn("cache eviction failed", "err", err)
				continue
			}
			if n > 0 {
				log.Debug("cache janitor evicted entries", "count", n)
			}
		}
	}
}
