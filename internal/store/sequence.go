package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ktmtrack/internal/cache"
	"ktmtrack/internal/domain"
	"ktmtrack/internal/resolver"
	"ktmtrack/internal/schedule"
)

// SecondTier is satisfied by cache.RedisCache.
type SecondTier interface {
	GetJSONCompressed(ctx context.Context, key string, dest any) (bool, error)
	SetJSONCompressed(ctx context.Context, key string, value any, ttl time.Duration) error
}

// LookupMetrics is satisfied by metrics.Collector.
type LookupMetrics interface {
	SequenceLookup(tier string)
}

type seqKey struct {
	routeID   string
	direction int
}

// SequenceStore memoizes station sequences for the current schedule
// version. Lookups fall through memory, then the second tier, then a
// fresh build from the index.
type SequenceStore struct {
	mu      sync.RWMutex
	version string
	seqs    map[seqKey]*domain.Trip

	tier    SecondTier
	ttl     time.Duration
	logger  *slog.Logger
	metrics LookupMetrics
}

// NewSequenceStore accepts a nil tier when Redis is disabled.
func NewSequenceStore(tier SecondTier, ttl time.Duration, logger *slog.Logger) *SequenceStore {
	return &SequenceStore{
		seqs:   make(map[seqKey]*domain.Trip),
		tier:   tier,
		ttl:    ttl,
		logger: logger.With("component", "sequence_store"),
	}
}

func (s *SequenceStore) SetMetrics(m LookupMetrics) { s.metrics = m }

// Get returns a copy of the representative station sequence for the route
// and direction in idx.
func (s *SequenceStore) Get(ctx context.Context, idx *schedule.Index, routeID string, direction int) (*domain.Trip, error) {
	key := seqKey{routeID: routeID, direction: direction}
	version := idx.Version()

	s.mu.RLock()
	if s.version == version {
		if trip, ok := s.seqs[key]; ok {
			s.mu.RUnlock()
			s.observe("memory")
			return trip.Clone(), nil
		}
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.version != version {
		s.logger.Info("schedule version changed, resetting sequences", "old", s.version, "new", version)
		s.version = version
		s.seqs = make(map[seqKey]*domain.Trip)
	}
	if trip, ok := s.seqs[key]; ok {
		s.observe("memory")
		return trip.Clone(), nil
	}

	cacheKey := cache.KeySequence(version, routeID, direction)
	if s.tier != nil {
		var cached domain.Trip
		found, err := s.tier.GetJSONCompressed(ctx, cacheKey, &cached)
		if err != nil {
			s.logger.Warn("sequence cache read failed", "key", cacheKey, "error", err)
		}
		if found && len(cached.Stations) > 0 {
			s.seqs[key] = &cached
			s.observe("redis")
			return cached.Clone(), nil
		}
	}

	trip, err := resolver.BuildStationSequence(idx, routeID, direction)
	if err != nil {
		return nil, err
	}
	s.seqs[key] = trip
	s.observe("build")

	if s.tier != nil {
		if err := s.tier.SetJSONCompressed(ctx, cacheKey, trip, s.ttl); err != nil {
			s.logger.Warn("sequence cache write failed", "key", cacheKey, "error", err)
		}
	}

	return trip.Clone(), nil
}

// Reset drops every memoized sequence.
func (s *SequenceStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = ""
	s.seqs = make(map[seqKey]*domain.Trip)
}

func (s *SequenceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seqs)
}

func (s *SequenceStore) observe(tier string) {
	if s.metrics != nil {
		s.metrics.SequenceLookup(tier)
	}
}
