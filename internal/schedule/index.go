// Package schedule builds the per-trip station sequences from the static
// GTFS tables.
package schedule

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"ktmtrack/internal/domain"
	"ktmtrack/internal/geo"
	"ktmtrack/internal/resolver"
)

// Index is an immutable view over one static feed version. All trips are
// built when the index is loaded.
type Index struct {
	version  string
	routes   map[string]*domain.Route
	stops    map[string]domain.Stop
	trips    map[string]*domain.Trip
	byRoute  map[routeDir][]string
	ordered  []*domain.Route
	loadedAt time.Time
}

type routeDir struct {
	routeID   string
	direction int
}

type Stats struct {
	Version  string    `json:"version"`
	Routes   int       `json:"routes"`
	Stops    int       `json:"stops"`
	Trips    int       `json:"trips"`
	LoadedAt time.Time `json:"loaded_at"`
}

type tripMeta struct {
	routeID   string
	headsign  string
	direction int
}

type stopTime struct {
	line      int
	stopID    string
	sequence  int
	arrival   time.Duration
	departure time.Duration
	dist      float64
	hasDist   bool
}

// LoadSchedule validates the raw feed and builds every trip. Any malformed
// row aborts the load with an error wrapping domain.ErrMalformedFeed.
func LoadSchedule(feed *Feed) (*Index, error) {
	idx := &Index{
		version:  feed.Version,
		routes:   make(map[string]*domain.Route, len(feed.Routes)),
		stops:    make(map[string]domain.Stop, len(feed.Stops)),
		trips:    make(map[string]*domain.Trip),
		byRoute:  make(map[routeDir][]string),
		loadedAt: time.Now(),
	}

	if err := idx.loadRoutes(feed.Routes); err != nil {
		return nil, err
	}
	if err := idx.loadStops(feed.Stops); err != nil {
		return nil, err
	}
	metas, err := idx.loadTrips(feed.Trips)
	if err != nil {
		return nil, err
	}
	grouped, err := idx.groupStopTimes(feed.StopTimes, metas)
	if err != nil {
		return nil, err
	}

	for tripID, sts := range grouped {
		meta := metas[tripID]
		trip, err := idx.buildTrip(tripID, meta, sts)
		if err != nil {
			return nil, err
		}
		idx.trips[tripID] = trip
		key := routeDir{meta.routeID, meta.direction}
		idx.byRoute[key] = append(idx.byRoute[key], tripID)
	}
	for k := range idx.byRoute {
		sort.Strings(idx.byRoute[k])
	}

	for _, r := range idx.routes {
		idx.ordered = append(idx.ordered, r)
	}
	sort.Slice(idx.ordered, func(i, j int) bool {
		if idx.ordered[i].LongName != idx.ordered[j].LongName {
			return idx.ordered[i].LongName < idx.ordered[j].LongName
		}
		return idx.ordered[i].ID < idx.ordered[j].ID
	})

	return idx, nil
}

func malformed(kind string, line int, format string, args ...any) error {
	return fmt.Errorf("%s line %d: %s: %w", kind, line, fmt.Sprintf(format, args...), domain.ErrMalformedFeed)
}

func (idx *Index) loadRoutes(rows []RouteRow) error {
	for _, row := range rows {
		if row.ID == "" {
			return malformed("routes.txt", row.Line, "missing route_id")
		}
		if _, dup := idx.routes[row.ID]; dup {
			return malformed("routes.txt", row.Line, "duplicate route_id %q", row.ID)
		}

		routeType := domain.RouteTypeRail
		if row.Type != "" {
			v, err := strconv.Atoi(row.Type)
			if err != nil {
				return malformed("routes.txt", row.Line, "route_type %q", row.Type)
			}
			routeType = domain.RouteType(v)
		}

		color := strings.TrimPrefix(row.Color, "#")
		if color == "" {
			color = domain.DefaultRouteColor
		}

		route := &domain.Route{
			ID:        row.ID,
			ShortName: row.ShortName,
			LongName:  row.LongName,
			Type:      routeType,
			Color:     color,
			TextColor: row.TextColor,
		}
		if ends, err := resolver.Endpoints(row.LongName); err == nil {
			route.Endpoints = ends[:]
		}
		idx.routes[row.ID] = route
	}
	return nil
}

func (idx *Index) loadStops(rows []StopRow) error {
	for _, row := range rows {
		if row.ID == "" {
			return malformed("stops.txt", row.Line, "missing stop_id")
		}
		if row.Name == "" {
			return malformed("stops.txt", row.Line, "stop %q missing stop_name", row.ID)
		}
		lat, err := parseCoord(row.Lat, 90)
		if err != nil {
			return malformed("stops.txt", row.Line, "stop %q stop_lat: %v", row.ID, err)
		}
		lon, err := parseCoord(row.Lon, 180)
		if err != nil {
			return malformed("stops.txt", row.Line, "stop %q stop_lon: %v", row.ID, err)
		}
		idx.stops[row.ID] = domain.Stop{ID: row.ID, Name: row.Name, Lat: lat, Lon: lon}
	}
	return nil
}

func (idx *Index) loadTrips(rows []TripRow) (map[string]tripMeta, error) {
	metas := make(map[string]tripMeta, len(rows))
	for _, row := range rows {
		if row.ID == "" {
			return nil, malformed("trips.txt", row.Line, "missing trip_id")
		}
		if row.RouteID == "" {
			return nil, malformed("trips.txt", row.Line, "trip %q missing route_id", row.ID)
		}
		if _, ok := idx.routes[row.RouteID]; !ok {
			return nil, malformed("trips.txt", row.Line, "trip %q references unknown route %q", row.ID, row.RouteID)
		}

		dir := 0
		switch row.DirectionID {
		case "", "0":
		case "1":
			dir = 1
		default:
			return nil, malformed("trips.txt", row.Line, "trip %q direction_id %q", row.ID, row.DirectionID)
		}

		metas[row.ID] = tripMeta{routeID: row.RouteID, headsign: row.Headsign, direction: dir}
	}
	return metas, nil
}

func (idx *Index) groupStopTimes(rows []StopTimeRow, metas map[string]tripMeta) (map[string][]stopTime, error) {
	grouped := make(map[string][]stopTime)
	for _, row := range rows {
		if row.TripID == "" || row.StopID == "" || row.Sequence == "" {
			return nil, malformed("stop_times.txt", row.Line, "missing trip_id, stop_id or stop_sequence")
		}
		if _, ok := metas[row.TripID]; !ok {
			return nil, malformed("stop_times.txt", row.Line, "unknown trip %q", row.TripID)
		}
		if _, ok := idx.stops[row.StopID]; !ok {
			return nil, malformed("stop_times.txt", row.Line, "unknown stop %q", row.StopID)
		}

		seq, err := strconv.Atoi(row.Sequence)
		if err != nil || seq < 0 {
			return nil, malformed("stop_times.txt", row.Line, "stop_sequence %q", row.Sequence)
		}

		arr, dep := row.Arrival, row.Departure
		if arr == "" {
			arr = dep
		}
		if dep == "" {
			dep = arr
		}
		if arr == "" {
			return nil, malformed("stop_times.txt", row.Line, "trip %q has neither arrival_time nor departure_time", row.TripID)
		}
		arrival, err := ParseServiceTime(arr)
		if err != nil {
			return nil, malformed("stop_times.txt", row.Line, "%v", err)
		}
		departure, err := ParseServiceTime(dep)
		if err != nil {
			return nil, malformed("stop_times.txt", row.Line, "%v", err)
		}

		st := stopTime{
			line:      row.Line,
			stopID:    row.StopID,
			sequence:  seq,
			arrival:   arrival,
			departure: departure,
		}
		if row.DistTraveled != "" {
			d, err := strconv.ParseFloat(row.DistTraveled, 64)
			if err != nil || d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
				return nil, malformed("stop_times.txt", row.Line, "shape_dist_traveled %q", row.DistTraveled)
			}
			st.dist, st.hasDist = d, true
		}

		grouped[row.TripID] = append(grouped[row.TripID], st)
	}
	return grouped, nil
}

func (idx *Index) buildTrip(tripID string, meta tripMeta, sts []stopTime) (*domain.Trip, error) {
	sort.Slice(sts, func(i, j int) bool { return sts[i].sequence < sts[j].sequence })

	// shape_dist_traveled is only trusted when every stop carries it.
	useFeedDist := true
	for _, st := range sts {
		if !st.hasDist {
			useFeedDist = false
			break
		}
	}

	trip := &domain.Trip{
		ID:          tripID,
		RouteID:     meta.routeID,
		DirectionID: meta.direction,
		Headsign:    meta.headsign,
		Stations:    make([]domain.StationStop, len(sts)),
	}

	for i, st := range sts {
		stop := idx.stops[st.stopID]
		ss := domain.StationStop{
			Stop:            stop,
			Sequence:        st.sequence,
			ArrivalOffset:   st.arrival,
			DepartureOffset: st.departure,
		}

		if i > 0 {
			prev := trip.Stations[i-1]
			if st.sequence == prev.Sequence {
				return nil, malformed("stop_times.txt", st.line, "trip %q repeats stop_sequence %d", tripID, st.sequence)
			}
			if st.arrival < prev.ArrivalOffset {
				return nil, malformed("stop_times.txt", st.line, "trip %q arrival goes backwards at sequence %d", tripID, st.sequence)
			}

			if useFeedDist {
				ss.CumulativeKM = st.dist
			} else {
				ss.CumulativeKM = prev.CumulativeKM + geo.Haversine(prev.Stop.Lat, prev.Stop.Lon, stop.Lat, stop.Lon)
			}
			if ss.CumulativeKM < prev.CumulativeKM {
				return nil, malformed("stop_times.txt", st.line, "trip %q shape_dist_traveled goes backwards at sequence %d", tripID, st.sequence)
			}

			ss.ScheduledOffset = st.arrival - trip.Stations[0].ArrivalOffset
			ss.DeltaKM = ss.CumulativeKM - prev.CumulativeKM
			ss.DeltaTime = st.arrival - prev.ArrivalOffset
		} else if useFeedDist {
			ss.CumulativeKM = st.dist
		}

		trip.Stations[i] = ss
	}

	return trip, nil
}

func parseCoord(s string, limit float64) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("missing")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if math.IsNaN(v) || v < -limit || v > limit {
		return 0, fmt.Errorf("%v out of range", v)
	}
	return v, nil
}

// BuildTrip returns a copy of the trip's ordered station sequence.
func (idx *Index) BuildTrip(tripID string) (*domain.Trip, error) {
	trip, ok := idx.trips[tripID]
	if !ok {
		return nil, fmt.Errorf("trip %s: %w", tripID, domain.ErrUnknownTrip)
	}
	return trip.Clone(), nil
}

// HasTrip reports whether the trip exists with at least one stop time.
func (idx *Index) HasTrip(tripID string) bool {
	_, ok := idx.trips[tripID]
	return ok
}

// TripRoute returns the route and direction of a built trip.
func (idx *Index) TripRoute(tripID string) (string, int, bool) {
	trip, ok := idx.trips[tripID]
	if !ok {
		return "", 0, false
	}
	return trip.RouteID, trip.DirectionID, true
}

// TripIDs lists the trips of a route and direction that have stops, sorted.
func (idx *Index) TripIDs(routeID string, directionID int) []string {
	ids := idx.byRoute[routeDir{routeID, directionID}]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func (idx *Index) Route(routeID string) (*domain.Route, error) {
	r, ok := idx.routes[routeID]
	if !ok {
		return nil, fmt.Errorf("route %s: %w", routeID, domain.ErrUnknownRoute)
	}
	c := *r
	return &c, nil
}

// Routes returns all routes ordered by long name.
func (idx *Index) Routes() []*domain.Route {
	out := make([]*domain.Route, len(idx.ordered))
	for i, r := range idx.ordered {
		c := *r
		out[i] = &c
	}
	return out
}

func (idx *Index) Stop(stopID string) (domain.Stop, error) {
	s, ok := idx.stops[stopID]
	if !ok {
		return domain.Stop{}, fmt.Errorf("stop %s: %w", stopID, domain.ErrUnknownStop)
	}
	return s, nil
}

func (idx *Index) Version() string {
	return idx.version
}

func (idx *Index) Stats() Stats {
	return Stats{
		Version:  idx.version,
		Routes:   len(idx.routes),
		Stops:    len(idx.stops),
		Trips:    len(idx.trips),
		LoadedAt: idx.loadedAt,
	}
}
