package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ktmtrack/internal/domain"
	"ktmtrack/internal/schedule"
)

// Sequencer is satisfied by store.SequenceStore, which writes through to
// the cache.
type Sequencer interface {
	Get(ctx context.Context, idx *schedule.Index, routeID string, direction int) (*domain.Trip, error)
}

// KV is the part of RedisCache the warmer writes through.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

type CacheWarmer struct {
	cache     KV
	sequences Sequencer
	ttl       time.Duration
	logger    *slog.Logger
}

func NewCacheWarmer(cache KV, sequences Sequencer, ttl time.Duration, logger *slog.Logger) *CacheWarmer {
	return &CacheWarmer{
		cache:     cache,
		sequences: sequences,
		ttl:       ttl,
		logger:    logger.With("component", "cache_warmer"),
	}
}

// WarmAll loads every route/direction sequence of idx through the
// sequence store, records the version, then drops the sequences of the
// version it replaces.
func (w *CacheWarmer) WarmAll(ctx context.Context, idx *schedule.Index) error {
	start := time.Now()
	version := idx.Version()
	w.logger.Info("starting cache warming", "version", version)

	previous, err := w.cache.Get(ctx, KeyGTFSVersion)
	if err != nil {
		w.logger.Warn("failed to read cached schedule version", "error", err)
	}

	routes := idx.Routes()
	warmed, skipped := w.warmSequences(ctx, idx, routes)

	if err := w.cache.Set(ctx, KeyGTFSVersion, []byte(version), w.ttl); err != nil {
		w.logger.Error("failed to store schedule version", "error", err)
	}

	if old := string(previous); old != "" && old != version {
		n, err := w.cache.DeletePattern(ctx, KeySequencePattern(old))
		if err != nil {
			w.logger.Warn("failed to purge old sequences", "version", old, "error", err)
		}
		w.logger.Info("purged previous schedule version", "version", old, "sequences", n)
	}

	w.logger.Info("cache warming completed",
		"routes", len(routes),
		"sequences_warmed", warmed,
		"sequences_skipped", skipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ctx.Err()
}

func (w *CacheWarmer) warmSequences(ctx context.Context, idx *schedule.Index, routes []*domain.Route) (warmed, skipped int) {
	for _, route := range routes {
		for _, dir := range []int{0, 1} {
			if ctx.Err() != nil {
				return warmed, skipped
			}
			_, err := w.sequences.Get(ctx, idx, route.ID, dir)
			if errors.Is(err, domain.ErrUnknownTrip) {
				// routes running in one direction only
				skipped++
				continue
			}
			if err != nil {
				w.logger.Debug("failed to warm sequence", "route_id", route.ID, "direction", dir, "error", err)
				skipped++
				continue
			}
			warmed++
		}
	}
	return warmed, skipped
}
