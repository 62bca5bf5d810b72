package web

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SourceWarmer refreshes every cached knowledge source.
type SourceWarmer interface {
	Warm(ctx context.Context) int
}

// CacheWarmer periodically refreshes the source cache in the background.
type CacheWarmer struct {
	cache    SourceWarmer
	interval time.Duration
	logger   *zap.Logger
}

// NewCacheWarmer creates a new cache warm service instance
func NewCacheWarmer(cache SourceWarmer, interval time.Duration, logger *zap.Logger) *CacheWarmer {
	return &CacheWarmer{
		cache:    cache,
		interval: interval,
		logger:   logger,
	}
}

// WarmOnce refreshes all sources and reports how many produced material.
func (w *CacheWarmer) WarmOnce(ctx context.Context) int {
	start := time.Now()
	available := w.cache.Warm(ctx)
	w.logger.Debug("Source cache warmed",
		zap.Int("available_sources", available),
		zap.Duration("took", time.Since(start)))
	return available
}

// Run warms the cache immediately and then on every interval until ctx is
// cancelled. A non-positive interval warms once and returns.
func (w *CacheWarmer) Run(ctx context.Context) {
	available := w.WarmOnce(ctx)
	w.logger.Info("Initial source cache warm completed", zap.Int("available_sources", available))

	if w.interval <= 0 {
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if w.WarmOnce(ctx) == 0 {
				w.logger.Warn("No knowledge sources available after warm")
			}
		case <-ctx.Done():
			return
		}
	}
}
