package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"ktmtrack/internal/store"
)

// Poller is satisfied by both ingestor pollers.
type Poller interface {
	IsReady() bool
	LastError() error
	LastAttempt() time.Time
}

// Pinger is the optional shared cache. *cache.RedisCache satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

const cachePingTimeout = 2 * time.Second

type HealthHandler struct {
	schedule  Poller
	positions Poller
	store     *store.Store
	cache     Pinger
}

func NewHealthHandler(schedule, positions Poller, s *store.Store) *HealthHandler {
	return &HealthHandler{
		schedule:  schedule,
		positions: positions,
		store:     s,
	}
}

// SetCache makes readiness depend on the shared cache answering a ping.
func (h *HealthHandler) SetCache(p Pinger) {
	h.cache = p
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type PollerStatus struct {
	Ready       bool       `json:"ready"`
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

type CacheStatus struct {
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

type ReadyResponse struct {
	Ready        bool         `json:"ready"`
	Schedule     PollerStatus `json:"schedule"`
	Positions    PollerStatus `json:"positions"`
	Cache        *CacheStatus `json:"cache,omitempty"`
	VehicleCount int          `json:"vehicle_count"`
	ServerTime   time.Time    `json:"server_time"`
}

func pollerStatus(p Poller) PollerStatus {
	s := PollerStatus{Ready: p.IsReady()}
	if at := p.LastAttempt(); !at.IsZero() {
		s.LastAttempt = &at
	}
	if err := p.LastError(); err != nil {
		s.LastError = err.Error()
	}
	return s
}

func (h *HealthHandler) cacheStatus(ctx context.Context) *CacheStatus {
	if h.cache == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, cachePingTimeout)
	defer cancel()
	if err := h.cache.Ping(ctx); err != nil {
		return &CacheStatus{Error: err.Error()}
	}
	return &CacheStatus{Ready: true}
}

// Readyz reports ready while a schedule is loaded, the position snapshot
// is fresh and, when configured, the shared cache answers.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Schedule:     pollerStatus(h.schedule),
		Positions:    pollerStatus(h.positions),
		Cache:        h.cacheStatus(r.Context()),
		VehicleCount: h.store.Count(),
		ServerTime:   time.Now(),
	}
	resp.Ready = resp.Schedule.Ready && resp.Positions.Ready
	if resp.Cache != nil && !resp.Cache.Ready {
		resp.Ready = false
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
