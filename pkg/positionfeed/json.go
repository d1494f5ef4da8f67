package positionfeed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"ktmtrack/internal/domain"
)

type apiResponse struct {
	Data []apiEntity `json:"data"`
}

type apiEntity struct {
	Trip struct {
		TripID  string `json:"tripId"`
		RouteID string `json:"routeId"`
	} `json:"trip"`
	Position struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Bearing   float64 `json:"bearing"`
		Speed     float64 `json:"speed"`
	} `json:"position"`
	Vehicle struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	} `json:"vehicle"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// DecodeJSON reads the mtrec position API shape: a data array of
// {trip, position, vehicle, timestamp} objects mirroring GTFS-Realtime,
// so speed is in metres per second.
func DecodeJSON(data []byte, fetchedAt time.Time) ([]domain.VehicleRecord, error) {
	var resp apiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	records := make([]domain.VehicleRecord, 0, len(resp.Data))
	for _, e := range resp.Data {
		label := e.Vehicle.Label
		if label == "" {
			label = e.Vehicle.ID
		}

		records = append(records, domain.VehicleRecord{
			TripID:    e.Trip.TripID,
			VehicleID: e.Vehicle.ID,
			Label:     label,
			Lat:       e.Position.Latitude,
			Lon:       e.Position.Longitude,
			Bearing:   e.Position.Bearing,
			SpeedKMH:  mpsToKMH(e.Position.Speed),
			Timestamp: parseTimestamp(e.Timestamp, fetchedAt),
		})
	}

	return records, nil
}

// parseTimestamp accepts unix seconds as a number or string, or RFC 3339.
func parseTimestamp(raw json.RawMessage, fallback time.Time) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fallback
	}

	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return fallback
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}

	if secs, err := strconv.ParseFloat(s, 64); err == nil && secs > 0 {
		return time.Unix(int64(secs), 0).UTC()
	}
	return fallback
}
