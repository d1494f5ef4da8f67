package resolver

import (
	"fmt"
	"sort"
	"strings"

	"ktmtrack/internal/domain"
)

// Substrings removed from route long names before splitting them into
// endpoint names, in this order.
var boilerplate = []string{"KTM ", "Intercity ", "Electric Train Service"}

const separator = " - "

// TripSource is the part of the schedule index the resolver needs.
type TripSource interface {
	TripIDs(routeID string, directionID int) []string
	BuildTrip(tripID string) (*domain.Trip, error)
}

// Endpoints derives the two terminal station names from a route long name,
// e.g. "KTM Intercity Gemas - JB Sentral" gives ("Gemas", "JB Sentral").
func Endpoints(longName string) ([2]string, error) {
	name := longName
	for _, b := range boilerplate {
		name = strings.ReplaceAll(name, b, "")
	}

	parts := strings.Split(name, separator)
	if len(parts) != 2 {
		return [2]string{}, fmt.Errorf("route %q splits into %d names: %w", longName, len(parts), domain.ErrAmbiguousRoute)
	}

	a, b := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if a == "" || b == "" {
		return [2]string{}, fmt.Errorf("route %q has an empty endpoint: %w", longName, domain.ErrAmbiguousRoute)
	}
	return [2]string{a, b}, nil
}

// ResolveDirection returns 0 when origin is the first endpoint of the route
// and 1 when it is the second. Names compare case-insensitively.
func ResolveDirection(longName, origin string) (int, error) {
	ends, err := Endpoints(longName)
	if err != nil {
		return 0, err
	}
	if strings.EqualFold(ends[0], ends[1]) {
		return 0, fmt.Errorf("route %q starts and ends at %q: %w", longName, ends[0], domain.ErrAmbiguousRoute)
	}

	origin = strings.TrimSpace(origin)
	switch {
	case strings.EqualFold(origin, ends[0]):
		return 0, nil
	case strings.EqualFold(origin, ends[1]):
		return 1, nil
	default:
		return 0, fmt.Errorf("origin %q not on route %q: %w", origin, longName, domain.ErrUnknownOrigin)
	}
}

// OrderedEndpoints returns (origin, destination) for a direction.
func OrderedEndpoints(longName string, direction int) (string, string, error) {
	ends, err := Endpoints(longName)
	if err != nil {
		return "", "", err
	}
	if direction == 1 {
		return ends[1], ends[0], nil
	}
	return ends[0], ends[1], nil
}

// Directions lists the origins a rider can pick for a route, sorted.
func Directions(longName string) []string {
	ends, err := Endpoints(longName)
	if err != nil {
		return nil
	}
	out := []string{ends[0], ends[1]}
	sort.Strings(out)
	return out
}

// RepresentativeTrip picks the trip whose station sequence stands for the
// whole route and direction. Every trip with stops is an acceptable
// answer; the lowest trip id is taken so repeated calls agree. It is not
// a per-departure schedule.
func RepresentativeTrip(src TripSource, routeID string, direction int) (string, error) {
	ids := src.TripIDs(routeID, direction)
	sort.Strings(ids)
	for _, id := range ids {
		trip, err := src.BuildTrip(id)
		if err != nil || len(trip.Stations) == 0 {
			continue
		}
		return id, nil
	}
	return "", fmt.Errorf("route %s direction %d has no trip with stops: %w", routeID, direction, domain.ErrUnknownTrip)
}

// BuildStationSequence returns the representative trip for a route and
// direction with its ordered stations.
func BuildStationSequence(src TripSource, routeID string, direction int) (*domain.Trip, error) {
	id, err := RepresentativeTrip(src, routeID, direction)
	if err != nil {
		return nil, err
	}
	return src.BuildTrip(id)
}
