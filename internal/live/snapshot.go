// Package live normalizes one poll of the position feed into an immutable
// snapshot keyed by trip.
package live

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"ktmtrack/internal/domain"
)

// Snapshot is the vehicle state of one poll. It is never modified after
// IngestLiveBatch returns, so it can be shared between goroutines.
type Snapshot struct {
	byTrip   map[string][]domain.VehicleRecord
	tripIDs  []string
	count    int
	skipped  int
	polledAt time.Time
}

// IngestLiveBatch validates raw rows and groups them by trip. Rows without
// a trip id or without a position fix are skipped and counted. Rows with
// impossible values fail the whole batch so a half-valid poll never
// replaces a good snapshot. Several vehicles reporting the same trip are
// all kept; see Ambiguous.
func IngestLiveBatch(rows []domain.VehicleRecord, polledAt time.Time) (*Snapshot, error) {
	s := &Snapshot{
		byTrip:   make(map[string][]domain.VehicleRecord),
		polledAt: polledAt,
	}

	var errs []error
	for i, r := range rows {
		if r.TripID == "" || (r.Lat == 0 && r.Lon == 0) {
			s.skipped++
			continue
		}
		if err := validate(r); err != nil {
			errs = append(errs, fmt.Errorf("row %d (trip %s, label %q): %w", i, r.TripID, r.Label, err))
			continue
		}
		s.byTrip[r.TripID] = append(s.byTrip[r.TripID], r)
		s.count++
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedRecord, errors.Join(errs...))
	}

	for id, vs := range s.byTrip {
		s.tripIDs = append(s.tripIDs, id)
		sort.SliceStable(vs, func(i, j int) bool { return vs[i].Label < vs[j].Label })
	}
	sort.Strings(s.tripIDs)

	return s, nil
}

func validate(r domain.VehicleRecord) error {
	switch {
	case math.IsNaN(r.Lat) || r.Lat < -90 || r.Lat > 90:
		return fmt.Errorf("latitude %v out of range", r.Lat)
	case math.IsNaN(r.Lon) || r.Lon < -180 || r.Lon > 180:
		return fmt.Errorf("longitude %v out of range", r.Lon)
	case math.IsNaN(r.SpeedKMH) || math.IsInf(r.SpeedKMH, 0) || r.SpeedKMH < 0:
		return fmt.Errorf("speed %v invalid", r.SpeedKMH)
	case math.IsNaN(r.Bearing) || math.IsInf(r.Bearing, 0):
		return fmt.Errorf("bearing %v invalid", r.Bearing)
	}
	return nil
}

// Vehicles returns the records reporting tripID, ordered by label.
func (s *Snapshot) Vehicles(tripID string) []domain.VehicleRecord {
	vs := s.byTrip[tripID]
	out := make([]domain.VehicleRecord, len(vs))
	copy(out, vs)
	return out
}

// TripIDs lists trips with at least one vehicle, sorted.
func (s *Snapshot) TripIDs() []string {
	out := make([]string, len(s.tripIDs))
	copy(out, s.tripIDs)
	return out
}

// All returns every accepted record ordered by trip then label.
func (s *Snapshot) All() []domain.VehicleRecord {
	out := make([]domain.VehicleRecord, 0, s.count)
	for _, id := range s.tripIDs {
		out = append(out, s.byTrip[id]...)
	}
	return out
}

// Ambiguous lists trips reported by more than one vehicle.
func (s *Snapshot) Ambiguous() []string {
	var out []string
	for _, id := range s.tripIDs {
		if len(s.byTrip[id]) > 1 {
			out = append(out, id)
		}
	}
	return out
}

// ByLabel finds the vehicles carrying a label, across all trips. Labels
// compare case-insensitively with surrounding space ignored.
func (s *Snapshot) ByLabel(label string) []domain.VehicleRecord {
	label = strings.TrimSpace(label)
	var out []domain.VehicleRecord
	for _, id := range s.tripIDs {
		for _, v := range s.byTrip[id] {
			if strings.EqualFold(strings.TrimSpace(v.Label), label) {
				out = append(out, v)
			}
		}
	}
	return out
}

func (s *Snapshot) Len() int { return s.count }

// Skipped counts rows dropped for lacking a trip id or a position.
func (s *Snapshot) Skipped() int { return s.skipped }

func (s *Snapshot) PolledAt() time.Time { return s.polledAt }

// UnresolvedVehicle is a record whose trip id is not in the schedule.
type UnresolvedVehicle struct {
	Vehicle domain.VehicleRecord `json:"vehicle"`
	Err     error                `json:"-"`
	Reason  string               `json:"reason"`
}

// Resolve splits the snapshot into records whose trip is known and those
// that are not. Unresolved records are returned, never dropped.
func Resolve(s *Snapshot, known func(tripID string) bool) ([]domain.VehicleRecord, []UnresolvedVehicle) {
	var resolved []domain.VehicleRecord
	var unresolved []UnresolvedVehicle
	for _, v := range s.All() {
		if known(v.TripID) {
			resolved = append(resolved, v)
			continue
		}
		err := fmt.Errorf("trip %s: %w", v.TripID, domain.ErrUnresolvedVehicle)
		unresolved = append(unresolved, UnresolvedVehicle{Vehicle: v, Err: err, Reason: err.Error()})
	}
	return resolved, unresolved
}
