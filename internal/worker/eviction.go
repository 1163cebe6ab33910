package worker

import (
	"context"
	"log/slog"
	"time"
)

// EvictableCache defines the operation required for cache eviction.
// Implemented by store.SQLiteCache.
type EvictableCache interface {
	EvictBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EvictionCoordinator periodically removes cache entries older than the TTL.
type EvictionCoordinator struct {
	cache    EvictableCache
	interval time.Duration
	ttl      time.Duration
}

// NewEvictionCoordinator creates a coordinator for cache eviction.
func NewEvictionCoordinator(cache EvictableCache, interval, ttl time.Duration) *EvictionCoordinator {
	return &EvictionCoordinator{cache: cache, interval: interval, ttl: ttl}
}

// Run starts the eviction loop. It blocks until ctx is cancelled.
//
// The coordinator waits for the first ticker interval before processing:
// entries written just before startup are still inside their TTL, so an
// immediate pass would scan the table for nothing.
func (c *EvictionCoordinator) Run(ctx context.Context) {
	slog.Info("eviction coordinator started",
		"component", "worker",
		"worker", "cache-eviction",
		"interval", c.interval.String(),
		"ttl", c.ttl.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("eviction coordinator stopped",
				"component", "worker",
				"worker", "cache-eviction",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.evict(ctx)
		}
	}
}

// evict removes entries older than the TTL, continuing on failure.
func (c *EvictionCoordinator) evict(ctx context.Context) {
	cutoff := time.Now().Add(-c.ttl)
	removed, err := c.cache.EvictBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			return // Graceful shutdown
		}
		slog.Error("cache eviction failed",
			"component", "worker",
			"worker", "cache-eviction",
			"error", err,
		)
		return
	}

	if removed > 0 {
		slog.Info("evicted expired cache entries",
			"component", "worker",
			"worker", "cache-eviction",
			"entries_removed", removed,
		)
	}
}
