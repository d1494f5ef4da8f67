package handler

import "net/http"

// Handlers groups everything mounted on the API mux.
type Handlers struct {
	HTTP    *HTTPHandler
	GTFS    *GTFSHandler
	Health  *HealthHandler
	Stats   *StatsHandler
	WS      *WSHandler
	Metrics http.Handler
}

// Register mounts every route on mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Health.Healthz)
	mux.HandleFunc("GET /readyz", h.Health.Readyz)
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}

	mux.HandleFunc("GET /v1/routes", h.GTFS.ListRoutes)
	mux.HandleFunc("GET /v1/routes/{id}", h.GTFS.GetRoute)
	mux.HandleFunc("GET /v1/routes/{id}/directions", h.GTFS.ListDirections)
	mux.HandleFunc("GET /v1/routes/{id}/stations", h.GTFS.ListStations)
	mux.HandleFunc("GET /v1/routes/{id}/candidates", h.GTFS.ListCandidates)
	mux.HandleFunc("GET /v1/report", h.GTFS.GetReport)

	mux.HandleFunc("GET /v1/vehicles", h.HTTP.ListVehicles)
	mux.HandleFunc("GET /v1/vehicles/unresolved", h.HTTP.ListUnresolved)
	mux.HandleFunc("GET /v1/vehicles/{key}", h.HTTP.GetVehicle)

	mux.HandleFunc("GET /v1/stats", h.Stats.GetStats)
	mux.HandleFunc("GET /v1/ws", h.WS.ServeWS)
}
