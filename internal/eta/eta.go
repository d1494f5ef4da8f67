// Package eta projects arrival time at the boarding station from the
// vehicle's instantaneous speed. Distance is the straight line to the
// station, not the remaining track distance.
package eta

import (
	"math"

	"ktmtrack/internal/domain"
	"ktmtrack/internal/geo"
)

// Indeterminate is returned when no linear projection makes sense.
var Indeterminate = domain.ETA{}

// Arrived is returned for a reachable vehicle within ArrivedRadiusKM of
// the boarding station, moving or not.
var Arrived = domain.ETA{Arrived: true}

// ArrivedRadiusKM is roughly half a platform length.
const ArrivedRadiusKM = 0.1

// Estimate returns the minutes to the boarding station. It returns
// Arrived when the vehicle is already there, and Indeterminate when the
// station is behind the vehicle or it is not moving.
func Estimate(vLat, vLon, speedKMH, bLat, bLon float64, reachable bool) domain.ETA {
	if !reachable {
		return Indeterminate
	}
	km := geo.Haversine(vLat, vLon, bLat, bLon)
	if km <= ArrivedRadiusKM {
		return Arrived
	}
	if !(speedKMH > 0) || math.IsInf(speedKMH, 0) {
		return Indeterminate
	}
	return domain.ETA{
		Determinate: true,
		Minutes:     km / speedKMH * 60,
	}
}

// EstimateArrival runs Estimate for a vehicle and its boarding station.
func EstimateArrival(v domain.VehicleRecord, boarding domain.StationStop, reachable bool) domain.ETA {
	return Estimate(v.Lat, v.Lon, v.SpeedKMH, boarding.Stop.Lat, boarding.Stop.Lon, reachable)
}
