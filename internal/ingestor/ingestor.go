package ingestor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ktmtrack/internal/domain"
	"ktmtrack/internal/live"
	"ktmtrack/pkg/positionfeed"
)

// PollMetrics is satisfied by metrics.Collector.
type PollMetrics interface {
	ObservePoll(poller string, d time.Duration, err error)
}

// PositionState is the last successfully ingested batch.
type PositionState struct {
	Snapshot    *live.Snapshot
	RefreshedAt time.Time
}

type PositionPoller struct {
	fetcher    positionfeed.Fetcher
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
	metrics    PollMetrics
	onUpdate   func(context.Context, *PositionState)
	now        func() time.Time

	pollMu sync.Mutex
	state  atomic.Pointer[PositionState]
	status pollStatus
}

func NewPositionPoller(fetcher positionfeed.Fetcher, interval, staleAfter time.Duration, logger *slog.Logger) *PositionPoller {
	return &PositionPoller{
		fetcher:    fetcher,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger.With("component", "position_poller"),
		now:        time.Now,
	}
}

func (p *PositionPoller) SetMetrics(m PollMetrics) { p.metrics = m }

func (p *PositionPoller) SetOnUpdate(fn func(context.Context, *PositionState)) {
	p.onUpdate = fn
}

func (p *PositionPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll fetches one batch and swaps it in. A poll that starts while another
// is running waits for it. On failure the previous snapshot stays current.
func (p *PositionPoller) Poll(ctx context.Context) error {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	start := time.Now()
	state, err := p.poll(ctx)
	if p.metrics != nil {
		p.metrics.ObservePoll("positions", time.Since(start), err)
	}
	p.status.record(p.now(), err)
	if err != nil {
		p.logger.Error("position poll failed", "error", err)
		return err
	}

	p.state.Store(state)
	if p.onUpdate != nil {
		p.onUpdate(ctx, state)
	}

	p.logger.Debug("poll completed",
		"vehicles", state.Snapshot.Len(),
		"skipped", state.Snapshot.Skipped(),
		"ambiguous_trips", len(state.Snapshot.Ambiguous()),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (p *PositionPoller) poll(ctx context.Context) (*PositionState, error) {
	rows, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	polledAt := p.now()
	snap, err := live.IngestLiveBatch(rows, polledAt)
	if err != nil {
		return nil, err
	}
	return &PositionState{Snapshot: snap, RefreshedAt: polledAt}, nil
}

// Current returns the last good snapshot, or ErrStaleSnapshot when there is
// none or it is older than the configured staleness bound.
func (p *PositionPoller) Current() (*PositionState, error) {
	state := p.state.Load()
	if state == nil {
		return nil, fmt.Errorf("no position poll has succeeded: %w", domain.ErrStaleSnapshot)
	}
	if p.staleAfter > 0 {
		if age := p.now().Sub(state.RefreshedAt); age > p.staleAfter {
			return state, fmt.Errorf("positions are %s old: %w", age.Round(time.Second), domain.ErrStaleSnapshot)
		}
	}
	return state, nil
}

func (p *PositionPoller) IsReady() bool {
	_, err := p.Current()
	return err == nil
}

func (p *PositionPoller) LastError() error { return p.status.lastError() }

func (p *PositionPoller) LastAttempt() time.Time { return p.status.lastAttempt() }

// pollStatus tracks the outcome of the most recent attempt, successful or
// not, for health reporting.
type pollStatus struct {
	mu      sync.RWMutex
	err     error
	attempt time.Time
}

func (s *pollStatus) record(at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = at
	s.err = err
}

func (s *pollStatus) lastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *pollStatus) lastAttempt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempt
}
