package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultRouteColor is used when routes.txt leaves route_color empty.
const DefaultRouteColor = "FF0000"

// RouteType distinguishes transport types in GTFS
type RouteType int

const (
	RouteTypeTram   RouteType = 0
	RouteTypeSubway RouteType = 1
	RouteTypeRail   RouteType = 2
	RouteTypeBus    RouteType = 3
)

func (t RouteType) String() string {
	switch t {
	case RouteTypeTram:
		return "tram"
	case RouteTypeSubway:
		return "subway"
	case RouteTypeRail:
		return "rail"
	case RouteTypeBus:
		return "bus"
	default:
		return "other"
	}
}

// Route represents a transit route from GTFS
type Route struct {
	ID        string    `json:"id"`
	ShortName string    `json:"short_name"`
	LongName  string    `json:"long_name"`
	Type      RouteType `json:"type"`
	Color     string    `json:"color"`
	TextColor string    `json:"text_color"`
	Endpoints []string  `json:"endpoints,omitempty"`
}

// HexColor returns the route color as a CSS hex string.
func (r *Route) HexColor() string {
	c := r.Color
	if c == "" {
		c = DefaultRouteColor
	}
	return "#" + strings.ToUpper(c)
}

// Stop represents a transit stop from GTFS
type Stop struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// DisplayName returns the stop name with every word capitalised and the
// rest lower-cased, collapsing runs of whitespace.
func (s Stop) DisplayName() string {
	// Casers carry state and must not be shared between goroutines.
	return cases.Title(language.Und).String(strings.Join(strings.Fields(s.Name), " "))
}

// StationStop is a stop as it appears within one trip's ordered sequence.
type StationStop struct {
	Stop            Stop          `json:"stop"`
	Sequence        int           `json:"sequence"`
	ArrivalOffset   time.Duration `json:"arrival_offset"`
	DepartureOffset time.Duration `json:"departure_offset"`
	ScheduledOffset time.Duration `json:"scheduled_offset"`
	CumulativeKM    float64       `json:"cumulative_km"`
	DeltaKM         float64       `json:"delta_km"`
	DeltaTime       time.Duration `json:"delta_time"`
}

// Trip is one scheduled run along an ordered, non-empty station sequence.
type Trip struct {
	ID          string        `json:"id"`
	RouteID     string        `json:"route_id"`
	DirectionID int           `json:"direction_id"`
	Headsign    string        `json:"headsign,omitempty"`
	Stations    []StationStop `json:"stations"`
}

// StationIndex returns the position of stopID in the trip, or -1.
func (t *Trip) StationIndex(stopID string) int {
	for i := range t.Stations {
		if t.Stations[i].Stop.ID == stopID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can never mutate shared schedule data.
func (t *Trip) Clone() *Trip {
	c := *t
	c.Stations = make([]StationStop, len(t.Stations))
	copy(c.Stations, t.Stations)
	return &c
}
