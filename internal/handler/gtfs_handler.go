package handler

import (
	"log/slog"
	"net/http"
	"time"

	"ktmtrack/internal/domain"
	"ktmtrack/internal/resolver"
	"ktmtrack/internal/schedule"
	"ktmtrack/internal/tracker"
)

// GTFSHandler serves the schedule-derived API: routes, directions,
// station sequences, live candidates and the tracking report.
type GTFSHandler struct {
	schedule ScheduleSource
	tracker  Tracker
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

func NewGTFSHandler(sched ScheduleSource, tr Tracker, loc *time.Location, logger *slog.Logger) *GTFSHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &GTFSHandler{
		schedule: sched,
		tracker:  tr,
		loc:      loc,
		logger:   logger.With("handler", "gtfs"),
		now:      time.Now,
	}
}

type routeResponse struct {
	*domain.Route
	HexColor   string   `json:"hex_color"`
	Directions []string `json:"directions"`
}

type RoutesResponse struct {
	Routes     []routeResponse `json:"routes"`
	Count      int             `json:"count"`
	Version    string          `json:"version"`
	ServerTime time.Time       `json:"server_time"`
}

func newRouteResponse(r *domain.Route) routeResponse {
	dirs := resolver.Directions(r.LongName)
	if dirs == nil {
		dirs = []string{}
	}
	return routeResponse{Route: r, HexColor: r.HexColor(), Directions: dirs}
}

func (h *GTFSHandler) index() (*schedule.Index, error) {
	state, err := h.schedule.Current()
	if err != nil {
		return nil, err
	}
	return state.Index, nil
}

func (h *GTFSHandler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	idx, err := h.index()
	if err != nil {
		respondErr(w, err)
		return
	}

	routes := idx.Routes()
	out := make([]routeResponse, 0, len(routes))
	for _, route := range routes {
		out = append(out, newRouteResponse(route))
	}

	respondJSON(w, http.StatusOK, RoutesResponse{
		Routes:     out,
		Count:      len(out),
		Version:    idx.Version(),
		ServerTime: time.Now(),
	})
}

func (h *GTFSHandler) GetRoute(w http.ResponseWriter, r *http.Request) {
	idx, err := h.index()
	if err != nil {
		respondErr(w, err)
		return
	}

	route, err := idx.Route(r.PathValue("id"))
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, newRouteResponse(route))
}

type DirectionsResponse struct {
	RouteID    string   `json:"route_id"`
	Directions []string `json:"directions"`
}

// ListDirections returns the origins a rider can pick for a route. Routes
// whose long name cannot be split into two endpoints have none.
func (h *GTFSHandler) ListDirections(w http.ResponseWriter, r *http.Request) {
	idx, err := h.index()
	if err != nil {
		respondErr(w, err)
		return
	}

	route, err := idx.Route(r.PathValue("id"))
	if err != nil {
		respondErr(w, err)
		return
	}

	dirs := resolver.Directions(route.LongName)
	if dirs == nil {
		dirs = []string{}
	}
	respondJSON(w, http.StatusOK, DirectionsResponse{RouteID: route.ID, Directions: dirs})
}

type stationResponse struct {
	domain.StationStop
	ScheduledAt time.Time `json:"scheduled_at"`
}

type StationsResponse struct {
	RouteID     string            `json:"route_id"`
	TripID      string            `json:"trip_id"`
	DirectionID int               `json:"direction_id"`
	Stations    []stationResponse `json:"stations"`
}

// ListStations returns the representative station sequence for the
// direction starting at ?origin=. ScheduledAt resolves the representative
// trip's arrival on today's service day in the service timezone.
func (h *GTFSHandler) ListStations(w http.ResponseWriter, r *http.Request) {
	origin := r.URL.Query().Get("origin")
	if origin == "" {
		respondError(w, http.StatusBadRequest, "missing origin parameter")
		return
	}

	seq, err := h.tracker.Stations(r.Context(), r.PathValue("id"), origin)
	if err != nil {
		respondErr(w, err)
		return
	}

	day := schedule.Midnight(h.now().In(h.loc))
	out := make([]stationResponse, 0, len(seq.Stations))
	for _, st := range seq.Stations {
		out = append(out, stationResponse{StationStop: st, ScheduledAt: day.Add(st.ArrivalOffset)})
	}

	respondJSON(w, http.StatusOK, StationsResponse{
		RouteID:     seq.RouteID,
		TripID:      seq.ID,
		DirectionID: seq.DirectionID,
		Stations:    out,
	})
}

type CandidatesResponse struct {
	Candidates []tracker.Candidate `json:"candidates"`
	Count      int                 `json:"count"`
	ServerTime time.Time           `json:"server_time"`
}

func (h *GTFSHandler) ListCandidates(w http.ResponseWriter, r *http.Request) {
	origin := r.URL.Query().Get("origin")
	if origin == "" {
		respondError(w, http.StatusBadRequest, "missing origin parameter")
		return
	}

	candidates, err := h.tracker.Candidates(r.Context(), r.PathValue("id"), origin)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, CandidatesResponse{
		Candidates: candidates,
		Count:      len(candidates),
		ServerTime: time.Now(),
	})
}

// GetReport answers /v1/report?route=&origin=&boarding=&label=.
func (h *GTFSHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()
	query := tracker.Query{
		RouteID:        q.Get("route"),
		Origin:         q.Get("origin"),
		BoardingStopID: q.Get("boarding"),
		VehicleLabel:   q.Get("label"),
	}

	if query.RouteID == "" || query.Origin == "" || query.BoardingStopID == "" {
		respondError(w, http.StatusBadRequest, "route, origin and boarding parameters are required")
		return
	}

	report, err := h.tracker.Report(r.Context(), query)
	if err != nil {
		h.logger.Debug("report failed", "route", query.RouteID, "origin", query.Origin, "error", err)
		respondErr(w, err)
		return
	}

	h.logger.Debug("report served",
		"route", query.RouteID,
		"vehicles", len(report.Vehicles),
		"no_data", report.NoData,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	respondJSON(w, http.StatusOK, report)
}
