package domain

import (
	"math"
	"time"
)

// VehicleRecord is one live position report. Records are never mutated;
// each poll replaces them wholesale.
type VehicleRecord struct {
	TripID    string    `json:"trip_id"`
	VehicleID string    `json:"vehicle_id,omitempty"`
	Label     string    `json:"label"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Bearing   float64   `json:"bearing"`
	SpeedKMH  float64   `json:"speed_kmh"`
	Timestamp time.Time `json:"timestamp"`
}

// NearestStationResult locates a vehicle against a trip's stations.
type NearestStationResult struct {
	TripID       string  `json:"trip_id"`
	VehicleLabel string  `json:"vehicle_label"`
	Index        int     `json:"index"`
	DistanceKM   float64 `json:"distance_km"`
}

// ProgressStatus is a station's position relative to the vehicle.
type ProgressStatus string

const (
	StatusPassed   ProgressStatus = "passed"
	StatusCurrent  ProgressStatus = "current"
	StatusUpcoming ProgressStatus = "upcoming"
)

// StationProgress annotates one station of a trip. Boarding is independent
// of Status so consumers can combine both.
type StationProgress struct {
	Station   StationStop    `json:"station"`
	Status    ProgressStatus `json:"status"`
	Boarding  bool           `json:"boarding"`
	DeltaKM   float64        `json:"delta_km"`
	DeltaTime time.Duration  `json:"delta_time"`
}

// ETA is either indeterminate or a number of minutes.
type ETA struct {
	Determinate bool    `json:"determinate"`
	Minutes     float64 `json:"minutes,omitempty"`
	// Arrived marks a reachable vehicle already at the boarding station.
	// Such an ETA is not determinate.
	Arrived bool `json:"arrived,omitempty"`
}

// Duration converts a determinate ETA to a time.Duration.
func (e ETA) Duration() (time.Duration, bool) {
	if !e.Determinate || math.IsNaN(e.Minutes) || math.IsInf(e.Minutes, 0) {
		return 0, false
	}
	return time.Duration(e.Minutes * float64(time.Minute)), true
}

// VehicleReport is the tracking result for one vehicle.
type VehicleReport struct {
	Vehicle     VehicleRecord        `json:"vehicle"`
	Nearest     NearestStationResult `json:"nearest"`
	Progress    []StationProgress    `json:"progress"`
	Reachable   bool                 `json:"reachable"`
	HeadingAway bool                 `json:"heading_away"`
	ETA         ETA                  `json:"eta"`
}

// Report is the answer for a route, origin and boarding station.
type Report struct {
	RouteID       string          `json:"route_id"`
	RouteName     string          `json:"route_name"`
	Color         string          `json:"color"`
	Origin        string          `json:"origin"`
	Destination   string          `json:"destination"`
	DirectionID   int             `json:"direction_id"`
	TripID        string          `json:"trip_id"`
	BoardingIndex int             `json:"boarding_index"`
	Stations      []StationStop   `json:"stations"`
	Vehicles      []VehicleReport `json:"vehicles"`
	Ambiguous     []string        `json:"ambiguous_trips,omitempty"`
	NoData        bool            `json:"no_data"`
	NoDataReason  string          `json:"no_data_reason,omitempty"`
	SnapshotAt    time.Time       `json:"snapshot_at,omitempty"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

type DeltaType string

const (
	DeltaUpdate DeltaType = "update"
	DeltaRemove DeltaType = "remove"
)

// VehicleDelta is one change between consecutive position polls.
type VehicleDelta struct {
	Type    DeltaType      `json:"type"`
	Key     string         `json:"key"`
	TripID  string         `json:"trip_id"`
	Vehicle *VehicleRecord `json:"vehicle,omitempty"`
}

// Key identifies a vehicle across polls: the feed's vehicle id when
// present, otherwise label and trip.
func (v VehicleRecord) Key() string {
	if v.VehicleID != "" {
		return v.VehicleID
	}
	return v.Label + "@" + v.TripID
}
