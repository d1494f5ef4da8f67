package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ktmtrack/internal/domain"
	"ktmtrack/internal/ingestor"
	"ktmtrack/internal/live"
	"ktmtrack/internal/store"
	"ktmtrack/internal/tracker"
)

// ScheduleSource is satisfied by ingestor.SchedulePoller.
type ScheduleSource interface {
	Current() (*ingestor.ScheduleState, error)
}

// Tracker is satisfied by tracker.Tracker.
type Tracker interface {
	Report(ctx context.Context, q tracker.Query) (*domain.Report, error)
	Candidates(ctx context.Context, routeID, origin string) ([]tracker.Candidate, error)
	Stations(ctx context.Context, routeID, origin string) (*domain.Trip, error)
	Unresolved() ([]live.UnresolvedVehicle, error)
}

type HTTPHandler struct {
	store   *store.Store
	tracker Tracker
}

func NewHTTPHandler(store *store.Store, tr Tracker) *HTTPHandler {
	return &HTTPHandler{store: store, tracker: tr}
}

type VehiclesResponse struct {
	Vehicles   []domain.VehicleRecord `json:"vehicles"`
	Count      int                    `json:"count"`
	ServerTime time.Time              `json:"server_time"`
}

func (h *HTTPHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	opts := store.ListOptions{
		RouteID: r.URL.Query().Get("route"),
		TripID:  r.URL.Query().Get("trip"),
	}

	vehicles := h.store.List(opts)
	if vehicles == nil {
		vehicles = []domain.VehicleRecord{}
	}

	respondJSON(w, http.StatusOK, VehiclesResponse{
		Vehicles:   vehicles,
		Count:      len(vehicles),
		ServerTime: time.Now(),
	})
}

func (h *HTTPHandler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		respondError(w, http.StatusBadRequest, "missing vehicle key")
		return
	}

	vehicle, ok := h.store.Get(key)
	if !ok {
		respondError(w, http.StatusNotFound, "vehicle not found")
		return
	}

	respondJSON(w, http.StatusOK, vehicle)
}

type UnresolvedResponse struct {
	Vehicles   []live.UnresolvedVehicle `json:"vehicles"`
	Count      int                      `json:"count"`
	ServerTime time.Time                `json:"server_time"`
}

// ListUnresolved reports live vehicles whose trip is missing from the
// current schedule.
func (h *HTTPHandler) ListUnresolved(w http.ResponseWriter, r *http.Request) {
	unresolved, err := h.tracker.Unresolved()
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, UnresolvedResponse{
		Vehicles:   unresolved,
		Count:      len(unresolved),
		ServerTime: time.Now(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondErr maps domain errors onto HTTP statuses.
func respondErr(w http.ResponseWriter, err error) {
	respondError(w, errorStatus(err), err.Error())
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownRoute),
		errors.Is(err, domain.ErrUnknownStop),
		errors.Is(err, domain.ErrUnknownTrip):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownOrigin),
		errors.Is(err, domain.ErrAmbiguousRoute),
		errors.Is(err, domain.ErrEmptyStationList):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStaleSnapshot):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
