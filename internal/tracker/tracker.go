// Package tracker joins the current schedule and live snapshot into
// per-route reports.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"ktmtrack/internal/domain"
	"ktmtrack/internal/eta"
	"ktmtrack/internal/geo"
	"ktmtrack/internal/ingestor"
	"ktmtrack/internal/live"
	"ktmtrack/internal/progress"
	"ktmtrack/internal/resolver"
	"ktmtrack/internal/schedule"
)

// headingAwayAngle is the bearing difference, in degrees, beyond which a
// vehicle is considered to be moving away from the boarding station.
const headingAwayAngle = 90.0

type ScheduleSource interface {
	Current() (*ingestor.ScheduleState, error)
}

type PositionSource interface {
	Current() (*ingestor.PositionState, error)
}

// Sequences is satisfied by store.SequenceStore.
type Sequences interface {
	Get(ctx context.Context, idx *schedule.Index, routeID string, direction int) (*domain.Trip, error)
}

type ReportMetrics interface {
	ObserveReport(d time.Duration, outcome string)
}

type Query struct {
	RouteID        string
	Origin         string
	BoardingStopID string
	// VehicleLabel restricts the report to one train, as picked from
	// Candidates or the feed. Matching ignores case and surrounding space.
	VehicleLabel string
}

// Candidate is a live vehicle running a trip of the requested route and
// direction.
type Candidate struct {
	Vehicle     domain.VehicleRecord        `json:"vehicle"`
	Nearest     domain.NearestStationResult `json:"nearest"`
	StationName string                      `json:"station_name"`
}

type Tracker struct {
	schedule  ScheduleSource
	positions PositionSource
	sequences Sequences
	logger    *slog.Logger
	metrics   ReportMetrics
	now       func() time.Time
}

func New(schedule ScheduleSource, positions PositionSource, sequences Sequences, logger *slog.Logger) *Tracker {
	return &Tracker{
		schedule:  schedule,
		positions: positions,
		sequences: sequences,
		logger:    logger.With("component", "tracker"),
		now:       time.Now,
	}
}

func (t *Tracker) SetMetrics(m ReportMetrics) { t.metrics = m }

// Report builds the station list for the route and direction starting at
// q.Origin and tracks every matching live vehicle against it. A missing or
// stale position snapshot yields a report with NoData set rather than an
// error; schedule and query problems are returned as errors.
func (t *Tracker) Report(ctx context.Context, q Query) (*domain.Report, error) {
	start := time.Now()
	report, err := t.report(ctx, q)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case report.NoData:
		outcome = "no_data"
	}
	if t.metrics != nil {
		t.metrics.ObserveReport(time.Since(start), outcome)
	}
	return report, err
}

func (t *Tracker) report(ctx context.Context, q Query) (*domain.Report, error) {
	sched, err := t.schedule.Current()
	if err != nil {
		return nil, err
	}
	idx := sched.Index

	route, dir, seq, err := t.sequence(ctx, idx, q.RouteID, q.Origin)
	if err != nil {
		return nil, err
	}

	boarding := seq.StationIndex(q.BoardingStopID)
	if boarding < 0 {
		return nil, fmt.Errorf("boarding stop %q is not on route %s direction %d: %w", q.BoardingStopID, route.ID, dir, domain.ErrUnknownStop)
	}

	origin, destination, _ := resolver.OrderedEndpoints(route.LongName, dir)
	report := &domain.Report{
		RouteID:       route.ID,
		RouteName:     route.LongName,
		Color:         route.HexColor(),
		Origin:        origin,
		Destination:   destination,
		DirectionID:   dir,
		TripID:        seq.ID,
		BoardingIndex: boarding,
		Stations:      seq.Stations,
		Vehicles:      []domain.VehicleReport{},
		GeneratedAt:   t.now(),
	}

	pos, err := t.positions.Current()
	if err != nil {
		if !errors.Is(err, domain.ErrStaleSnapshot) {
			return nil, err
		}
		report.NoData = true
		report.NoDataReason = err.Error()
		return report, nil
	}
	report.SnapshotAt = pos.RefreshedAt

	vehicles, ambiguous := matching(idx, pos.Snapshot, route.ID, dir)
	report.Ambiguous = ambiguous

	// A picked train is searched across the whole feed and located on
	// this route's stations, whatever trip it reports.
	if q.VehicleLabel != "" {
		vehicles = pos.Snapshot.ByLabel(q.VehicleLabel)
	}

	if len(vehicles) == 0 {
		report.NoData = true
		report.NoDataReason = "no live vehicles on this route and direction"
		if q.VehicleLabel != "" {
			report.NoDataReason = fmt.Sprintf("no live vehicle labelled %q", q.VehicleLabel)
		}
		return report, nil
	}

	report.Vehicles = track(vehicles, seq, dir, boarding)
	return report, nil
}

func (t *Tracker) sequence(ctx context.Context, idx *schedule.Index, routeID, origin string) (*domain.Route, int, *domain.Trip, error) {
	route, err := idx.Route(routeID)
	if err != nil {
		return nil, 0, nil, err
	}
	dir, err := resolver.ResolveDirection(route.LongName, origin)
	if err != nil {
		return nil, 0, nil, err
	}
	seq, err := t.sequences.Get(ctx, idx, route.ID, dir)
	if err != nil {
		return nil, 0, nil, err
	}
	return route, dir, seq, nil
}

// track computes each vehicle's report concurrently. Results keep the
// input order before sorting.
func track(vehicles []domain.VehicleRecord, seq *domain.Trip, dir, boarding int) []domain.VehicleReport {
	out := make([]domain.VehicleReport, len(vehicles))
	board := seq.Stations[boarding]

	var wg sync.WaitGroup
	for i, v := range vehicles {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// seq is non-empty, so locating cannot fail
			nearest, _ := geo.LocateNearest(v, seq)
			nearest.TripID = v.TripID
			reachable := progress.Reachable(dir, nearest.Index, boarding)

			out[i] = domain.VehicleReport{
				Vehicle:     v,
				Nearest:     nearest,
				Progress:    progress.ClassifyProgress(seq.Stations, nearest.Index, dir, boarding),
				Reachable:   reachable,
				HeadingAway: headingAway(v, board, reachable),
				ETA:         eta.EstimateArrival(v, board, reachable),
			}
		}()
	}
	wg.Wait()

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// less orders reachable vehicles first, then arrived ones, then by ETA
// with indeterminate last, then by label.
func less(a, b domain.VehicleReport) bool {
	if a.Reachable != b.Reachable {
		return a.Reachable
	}
	if a.ETA.Arrived != b.ETA.Arrived {
		return a.ETA.Arrived
	}
	if a.ETA.Determinate != b.ETA.Determinate {
		return a.ETA.Determinate
	}
	if a.ETA.Determinate && a.ETA.Minutes != b.ETA.Minutes {
		return a.ETA.Minutes < b.ETA.Minutes
	}
	return a.Vehicle.Label < b.Vehicle.Label
}

// headingAway flags a moving, reachable vehicle whose reported bearing
// points away from the boarding station. A zero bearing is treated as
// unreported.
func headingAway(v domain.VehicleRecord, board domain.StationStop, reachable bool) bool {
	if !reachable || v.SpeedKMH <= 0 || v.Bearing == 0 {
		return false
	}
	if geo.Haversine(v.Lat, v.Lon, board.Stop.Lat, board.Stop.Lon) < 0.5 {
		return false
	}
	toStation := geo.Bearing(v.Lat, v.Lon, board.Stop.Lat, board.Stop.Lon)
	return geo.AngleDiff(v.Bearing, toStation) > headingAwayAngle
}

// matching returns the snapshot's vehicles whose trip runs routeID in
// direction dir, and those trips reported by more than one vehicle.
func matching(idx *schedule.Index, snap *live.Snapshot, routeID string, dir int) ([]domain.VehicleRecord, []string) {
	var vehicles []domain.VehicleRecord
	var ambiguous []string
	for _, tripID := range snap.TripIDs() {
		r, d, ok := idx.TripRoute(tripID)
		if !ok || r != routeID || d != dir {
			continue
		}
		vs := snap.Vehicles(tripID)
		if len(vs) > 1 {
			ambiguous = append(ambiguous, tripID)
		}
		vehicles = append(vehicles, vs...)
	}
	return vehicles, ambiguous
}

// Candidates lists live vehicles running the route in the direction that
// starts at origin, each with its nearest station on the representative
// sequence. An unavailable snapshot gives an empty list.
func (t *Tracker) Candidates(ctx context.Context, routeID, origin string) ([]Candidate, error) {
	sched, err := t.schedule.Current()
	if err != nil {
		return nil, err
	}
	_, dir, seq, err := t.sequence(ctx, sched.Index, routeID, origin)
	if err != nil {
		return nil, err
	}

	out := []Candidate{}
	pos, err := t.positions.Current()
	if err != nil {
		if errors.Is(err, domain.ErrStaleSnapshot) {
			return out, nil
		}
		return nil, err
	}

	vehicles, _ := matching(sched.Index, pos.Snapshot, routeID, dir)
	for _, v := range vehicles {
		nearest, err := geo.LocateNearest(v, seq)
		if err != nil {
			return nil, err
		}
		nearest.TripID = v.TripID
		out = append(out, Candidate{
			Vehicle:     v,
			Nearest:     nearest,
			StationName: seq.Stations[nearest.Index].Stop.DisplayName(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Vehicle.Label < out[j].Vehicle.Label })
	return out, nil
}

// Unresolved returns the live records whose trip is not in the schedule.
func (t *Tracker) Unresolved() ([]live.UnresolvedVehicle, error) {
	sched, err := t.schedule.Current()
	if err != nil {
		return nil, err
	}
	pos, err := t.positions.Current()
	if err != nil {
		return nil, err
	}
	_, unresolved := live.Resolve(pos.Snapshot, sched.Index.HasTrip)
	if unresolved == nil {
		unresolved = []live.UnresolvedVehicle{}
	}
	return unresolved, nil
}

// Stations returns the representative station sequence for the route and
// origin, with display names applied.
func (t *Tracker) Stations(ctx context.Context, routeID, origin string) (*domain.Trip, error) {
	sched, err := t.schedule.Current()
	if err != nil {
		return nil, err
	}
	_, _, seq, err := t.sequence(ctx, sched.Index, routeID, origin)
	if err != nil {
		return nil, err
	}
	for i := range seq.Stations {
		seq.Stations[i].Stop.Name = seq.Stations[i].Stop.DisplayName()
	}
	return seq, nil
}
