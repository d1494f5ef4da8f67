package ingestor

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ktmtrack/internal/domain"
	"ktmtrack/internal/schedule"
	"ktmtrack/pkg/gtfs"
)

// ArchiveSource is satisfied by gtfs.Downloader.
type ArchiveSource interface {
	Download(ctx context.Context) (*zip.Reader, []byte, error)
	Forget()
}

type ScheduleState struct {
	Index       *schedule.Index
	RefreshedAt time.Time
}

type SchedulePoller struct {
	source   ArchiveSource
	parser   *gtfs.Parser
	cacheDir string
	interval time.Duration
	logger   *slog.Logger
	metrics  PollMetrics
	onUpdate func(context.Context, *ScheduleState)
	now      func() time.Time

	pollMu sync.Mutex
	state  atomic.Pointer[ScheduleState]
	status pollStatus
}

func NewSchedulePoller(source ArchiveSource, cacheDir string, interval time.Duration, logger *slog.Logger) *SchedulePoller {
	return &SchedulePoller{
		source:   source,
		parser:   gtfs.NewParser(logger),
		cacheDir: gtfs.ParsedCacheDir(cacheDir),
		interval: interval,
		logger:   logger.With("component", "schedule_poller"),
		now:      time.Now,
	}
}

func (p *SchedulePoller) SetMetrics(m PollMetrics) { p.metrics = m }

// SetOnUpdate registers a callback run after a new index is swapped in. It
// is not called when the archive is unchanged.
func (p *SchedulePoller) SetOnUpdate(fn func(context.Context, *ScheduleState)) {
	p.onUpdate = fn
}

func (p *SchedulePoller) Run(ctx context.Context) {
	p.Poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

func (p *SchedulePoller) Poll(ctx context.Context) error {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	start := time.Now()
	state, changed, err := p.update(ctx)
	if p.metrics != nil {
		p.metrics.ObservePoll("schedule", time.Since(start), err)
	}
	p.status.record(p.now(), err)
	if err != nil {
		p.logger.Error("schedule update failed", "error", err)
		return err
	}

	p.state.Store(state)
	if changed && p.onUpdate != nil {
		p.onUpdate(ctx, state)
	}
	return nil
}

// update returns the state to store and whether the index changed.
func (p *SchedulePoller) update(ctx context.Context) (*ScheduleState, bool, error) {
	p.logger.Info("starting schedule update")
	start := time.Now()
	current := p.state.Load()

	reader, data, err := p.source.Download(ctx)
	if errors.Is(err, gtfs.ErrNotModified) && current != nil {
		p.logger.Info("schedule archive not modified", "version", current.Index.Version())
		return &ScheduleState{Index: current.Index, RefreshedAt: p.now()}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("download: %w", err)
	}
	downloadDuration := time.Since(start)

	fingerprint := gtfs.DataFingerprint(data)
	if current != nil && current.Index.Version() == fingerprint {
		p.logger.Info("schedule archive unchanged", "sha256", fingerprint)
		return &ScheduleState{Index: current.Index, RefreshedAt: p.now()}, false, nil
	}

	parseStart := time.Now()
	feed, cachePath, cacheErr := gtfs.LoadParsedFeed(p.cacheDir, fingerprint)
	if cacheErr == nil {
		p.logger.Info("loaded parsed GTFS cache", "path", cachePath)
	} else {
		p.logger.Info("parsed GTFS cache miss, parsing ZIP", "path", cachePath, "error", cacheErr)
		feed, err = p.parser.Parse(reader, fingerprint)
		if err != nil {
			p.source.Forget()
			return nil, false, err
		}
		if savedPath, saveErr := gtfs.SaveParsedFeed(p.cacheDir, fingerprint, feed); saveErr != nil {
			p.logger.Warn("failed to persist parsed GTFS cache", "error", saveErr)
		} else {
			p.logger.Info("persisted parsed GTFS cache", "path", savedPath)
		}
	}

	idx, err := schedule.LoadSchedule(feed)
	if err != nil {
		// Forget validators so the next poll fetches the archive again
		// instead of receiving a 304 for the feed that just failed.
		p.source.Forget()
		return nil, false, err
	}

	stats := idx.Stats()
	p.logger.Info("schedule update completed",
		"version", stats.Version,
		"download_duration_ms", downloadDuration.Milliseconds(),
		"parse_duration_ms", time.Since(parseStart).Milliseconds(),
		"duration_ms", time.Since(start).Milliseconds(),
		"routes", stats.Routes,
		"stops", stats.Stops,
		"trips", stats.Trips,
	)

	return &ScheduleState{Index: idx, RefreshedAt: p.now()}, true, nil
}

func (p *SchedulePoller) Current() (*ScheduleState, error) {
	state := p.state.Load()
	if state == nil {
		return nil, fmt.Errorf("no schedule loaded: %w", domain.ErrStaleSnapshot)
	}
	return state, nil
}

// Index returns the current schedule or nil.
func (p *SchedulePoller) Index() *schedule.Index {
	if state := p.state.Load(); state != nil {
		return state.Index
	}
	return nil
}

func (p *SchedulePoller) IsReady() bool { return p.state.Load() != nil }

func (p *SchedulePoller) LastError() error { return p.status.lastError() }

func (p *SchedulePoller) LastAttempt() time.Time { return p.status.lastAttempt() }
