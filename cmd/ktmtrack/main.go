package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"ktmtrack/internal/cache"
	"ktmtrack/internal/config"
	"ktmtrack/internal/handler"
	"ktmtrack/internal/hub"
	"ktmtrack/internal/ingestor"
	"ktmtrack/internal/live"
	"ktmtrack/internal/metrics"
	"ktmtrack/internal/middleware"
	"ktmtrack/internal/publisher"
	"ktmtrack/internal/store"
	"ktmtrack/internal/tracker"
	"ktmtrack/pkg/gtfs"
	"ktmtrack/pkg/positionfeed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting ktmtrack server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"positions_format", cfg.PositionsFormat,
		"redis_enabled", cfg.RedisEnabled,
		"nats_enabled", cfg.NATSURL != "",
	)

	journeys, err := config.LoadJourneys(cfg.JourneysFile)
	if err != nil {
		logger.Error("failed to load journeys", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := metrics.NewCollector(cfg.PollInterval, cfg.GTFSUpdateInterval)

	var redisCache *cache.RedisCache
	var tier store.SecondTier
	if cfg.RedisEnabled {
		redisCache, err = cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			logger.Warn("redis unavailable, continuing with in-memory sequences", "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
			tier = redisCache
		}
	}

	sequences := store.NewSequenceStore(tier, cfg.CacheTTL, logger)
	sequences.SetMetrics(collector)

	var warmer *cache.CacheWarmer
	if redisCache != nil {
		warmer = cache.NewCacheWarmer(redisCache, sequences, cfg.CacheTTL, logger)
	}

	schedulePoller := ingestor.NewSchedulePoller(
		gtfs.NewDownloader(cfg.GTFSURL, logger),
		cfg.GTFSCacheDir,
		cfg.GTFSUpdateInterval,
		logger,
	)
	schedulePoller.SetMetrics(collector)
	schedulePoller.SetOnUpdate(func(ctx context.Context, state *ingestor.ScheduleState) {
		st := state.Index.Stats()
		collector.SetSchedule(st.Routes, st.Trips)
		if warmer != nil {
			go func() {
				if err := warmer.WarmAll(ctx, state.Index); err != nil {
					logger.Warn("cache warming failed", "error", err)
				}
			}()
		}
	})

	positionPoller := ingestor.NewPositionPoller(
		positionfeed.New(cfg.PositionsURL, positionfeed.Format(cfg.PositionsFormat)),
		cfg.PollInterval,
		cfg.VehicleStaleAfter,
		logger,
	)
	positionPoller.SetMetrics(collector)

	vehicleStore := store.New()
	wsHub := hub.NewHub(logger)
	wsHub.SetMetrics(collector)

	track := tracker.New(schedulePoller, positionPoller, sequences, logger)
	track.SetMetrics(collector)

	var journeyPublisher *publisher.JourneyPublisher
	if cfg.NATSURL != "" {
		nats, err := publisher.NewNATSPublisher(cfg.NATSURL, logger, collector)
		if err != nil {
			logger.Error("failed to connect to nats", "error", err)
			os.Exit(1)
		}
		defer nats.Close()
		journeyPublisher = publisher.NewJourneyPublisher(journeys, track, nats, cfg.NATSSubjectPrefix, logger)
		logger.Info("journey publishing enabled", "journeys", len(journeys), "prefix", cfg.NATSSubjectPrefix)
	}

	positionPoller.SetOnUpdate(func(ctx context.Context, state *ingestor.PositionState) {
		snap := state.Snapshot
		idx := schedulePoller.Index()

		routeOf := func(string) string { return "" }
		unresolved := 0
		if idx != nil {
			routeOf = func(tripID string) string {
				r, _, _ := idx.TripRoute(tripID)
				return r
			}
			_, u := live.Resolve(snap, idx.HasTrip)
			unresolved = len(u)
		}

		wsHub.Broadcast(vehicleStore.Update(snap.All(), routeOf))
		collector.SetSnapshot(snap.Len(), snap.Skipped(), len(snap.Ambiguous()), unresolved)

		if journeyPublisher != nil && idx != nil {
			journeyPublisher.PublishAll(ctx)
		}
	})

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, logger)
	limiter.OnReject(func() {
		collector.RateLimitedInc()
		handler.ServerStats.IncRateLimitBlocked()
	})

	health := handler.NewHealthHandler(schedulePoller, positionPoller, vehicleStore)
	if redisCache != nil {
		health.SetCache(redisCache)
	}

	handlers := &handler.Handlers{
		HTTP:    handler.NewHTTPHandler(vehicleStore, track),
		GTFS:    handler.NewGTFSHandler(schedulePoller, track, cfg.ServiceLocation, logger),
		Health:  health,
		Stats:   handler.NewStatsHandler(vehicleStore, schedulePoller, sequences, wsHub, limiter),
		WS:      handler.NewWSHandler(wsHub, vehicleStore, logger),
		Metrics: collector.Handler(),
	}

	mux := http.NewServeMux()
	handlers.Register(mux)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.CountRequests(handler.CORSMiddleware(limiter.Middleware(handler.GzipMiddleware(mux)))),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go wsHub.Run(ctx)
	go limiter.Run(ctx)
	go schedulePoller.Run(ctx)
	go positionPoller.Run(ctx)

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
