package handler

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"ktmtrack/internal/hub"
	"ktmtrack/internal/schedule"
	"ktmtrack/internal/store"
)

// Stats tracks server-wide counters
type Stats struct {
	startTime        time.Time
	requestCount     atomic.Int64
	wsConnections    atomic.Int64
	wsMessagesIn     atomic.Int64
	wsMessagesOut    atomic.Int64
	rateLimitBlocked atomic.Int64
}

// Global stats instance
var ServerStats = &Stats{
	startTime: time.Now(),
}

func (s *Stats) IncRequests()         { s.requestCount.Add(1) }
func (s *Stats) IncWSConnections()    { s.wsConnections.Add(1) }
func (s *Stats) DecWSConnections()    { s.wsConnections.Add(-1) }
func (s *Stats) IncWSMessagesIn()     { s.wsMessagesIn.Add(1) }
func (s *Stats) IncWSMessagesOut()    { s.wsMessagesOut.Add(1) }
func (s *Stats) IncRateLimitBlocked() { s.rateLimitBlocked.Add(1) }

// CountRequests increments the request counter for every request.
func CountRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServerStats.IncRequests()
		next.ServeHTTP(w, r)
	})
}

// SequenceCounter is satisfied by store.SequenceStore.
type SequenceCounter interface {
	Len() int
}

// LimiterStats is satisfied by middleware.RateLimiter.
type LimiterStats interface {
	Stats() map[string]any
}

type StatsHandler struct {
	vehicleStore *store.Store
	schedule     ScheduleSource
	sequences    SequenceCounter
	hub          *hub.Hub
	limiter      LimiterStats
}

func NewStatsHandler(vehicleStore *store.Store, sched ScheduleSource, sequences SequenceCounter, h *hub.Hub, limiter LimiterStats) *StatsHandler {
	return &StatsHandler{
		vehicleStore: vehicleStore,
		schedule:     sched,
		sequences:    sequences,
		hub:          h,
		limiter:      limiter,
	}
}

type StatsResponse struct {
	Server      ServerStatsResponse    `json:"server"`
	Vehicles    VehicleStatsResponse   `json:"vehicles"`
	Schedule    ScheduleStatsResponse  `json:"schedule"`
	WebSocket   WebSocketStatsResponse `json:"websocket"`
	RateLimiter map[string]any         `json:"rate_limiter,omitempty"`
	Go          GoStatsResponse        `json:"go"`
}

type ServerStatsResponse struct {
	Uptime        string    `json:"uptime"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	StartTime     time.Time `json:"start_time"`
	RequestCount  int64     `json:"request_count"`
	RateLimited   int64     `json:"rate_limited"`
	Version       string    `json:"version"`
}

type VehicleStatsResponse struct {
	Total int `json:"total"`
}

type ScheduleStatsResponse struct {
	IsLoaded        bool            `json:"is_loaded"`
	Stats           *schedule.Stats `json:"stats,omitempty"`
	RefreshedAt     *time.Time      `json:"refreshed_at,omitempty"`
	CachedSequences int             `json:"cached_sequences"`
}

type WebSocketStatsResponse struct {
	Connections     int64 `json:"connections"`
	Clients         int   `json:"clients"`
	SubscribedTrips int   `json:"subscribed_trips"`
	MessagesIn      int64 `json:"messages_in"`
	MessagesOut     int64 `json:"messages_out"`
}

type GoStatsResponse struct {
	Goroutines  int     `json:"goroutines"`
	HeapAlloc   uint64  `json:"heap_alloc_bytes"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	NumGC       uint32  `json:"num_gc"`
	GoVersion   string  `json:"go_version"`
}

// Version is set at build time with -ldflags.
var Version = "dev"

func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(ServerStats.startTime)

	sched := ScheduleStatsResponse{CachedSequences: h.sequences.Len()}
	if state, err := h.schedule.Current(); err == nil {
		st := state.Index.Stats()
		at := state.RefreshedAt
		sched.IsLoaded = true
		sched.Stats = &st
		sched.RefreshedAt = &at
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	response := StatsResponse{
		Server: ServerStatsResponse{
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			StartTime:     ServerStats.startTime,
			RequestCount:  ServerStats.requestCount.Load(),
			RateLimited:   ServerStats.rateLimitBlocked.Load(),
			Version:       Version,
		},
		Vehicles: VehicleStatsResponse{
			Total: h.vehicleStore.Count(),
		},
		Schedule: sched,
		WebSocket: WebSocketStatsResponse{
			Connections:     ServerStats.wsConnections.Load(),
			Clients:         h.hub.ClientCount(),
			SubscribedTrips: h.hub.SubscribedTrips(),
			MessagesIn:      ServerStats.wsMessagesIn.Load(),
			MessagesOut:     ServerStats.wsMessagesOut.Load(),
		},
		Go: GoStatsResponse{
			Goroutines:  runtime.NumGoroutine(),
			HeapAlloc:   mem.HeapAlloc,
			HeapAllocMB: float64(mem.HeapAlloc) / 1024 / 1024,
			NumGC:       mem.NumGC,
			GoVersion:   runtime.Version(),
		},
	}
	if h.limiter != nil {
		response.RateLimiter = h.limiter.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	json.NewEncoder(w).Encode(response)
}
