// Package geo holds the great-circle helpers and the nearest-station
// locator.
package geo

import (
	"fmt"
	"math"

	"ktmtrack/internal/domain"
)

// EarthRadiusKM is the mean Earth radius used by Haversine.
const EarthRadiusKM = 6371.0

// Haversine returns the great-circle distance in kilometres.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push a marginally above 1 for antipodal points
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKM * c
}

// Bearing returns the initial bearing from point 1 to point 2 in degrees
// clockwise from north, in [0, 360).
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRad(lat1)
	phi2 := toRad(lat2)
	dLon := toRad(lon2 - lon1)

	y := math.Sin(dLon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLon)

	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// AngleDiff returns the absolute difference between two bearings, in [0, 180].
func AngleDiff(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// Locate returns the index of the station closest to (lat, lon) and the
// distance to it. The scan is linear; trips carry tens of stations so no
// spatial index is kept. On ties the earliest station wins.
func Locate(lat, lon float64, stations []domain.StationStop) (int, float64, error) {
	if len(stations) == 0 {
		return 0, 0, domain.ErrEmptyStationList
	}

	best := 0
	bestDist := math.Inf(1)
	for i := range stations {
		d := Haversine(lat, lon, stations[i].Stop.Lat, stations[i].Stop.Lon)
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best, bestDist, nil
}

// LocateNearest runs Locate for a vehicle against a trip.
func LocateNearest(v domain.VehicleRecord, trip *domain.Trip) (domain.NearestStationResult, error) {
	idx, dist, err := Locate(v.Lat, v.Lon, trip.Stations)
	if err != nil {
		return domain.NearestStationResult{}, fmt.Errorf("locate vehicle %q on trip %s: %w", v.Label, trip.ID, err)
	}
	return domain.NearestStationResult{
		TripID:       trip.ID,
		VehicleLabel: v.Label,
		Index:        idx,
		DistanceKM:   dist,
	}, nil
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
