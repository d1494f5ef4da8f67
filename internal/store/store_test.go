package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ktmtrack/internal/domain"
	"ktmtrack/internal/schedule"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func rec(key, trip string, lat, lon float64) domain.VehicleRecord {
	return domain.VehicleRecord{VehicleID: key, Label: "T" + key, TripID: trip, Lat: lat, Lon: lon}
}

func routeOf(trip string) string {
	switch trip {
	case "ic-1", "ic-2":
		return "IC"
	case "ets-1":
		return "ETS"
	}
	return ""
}

func TestStoreUpdateDeltas(t *testing.T) {
	s := New()

	deltas := s.Update([]domain.VehicleRecord{
		rec("1", "ic-1", 2.5, 102.7),
		rec("2", "ets-1", 3.1, 101.6),
	}, routeOf)
	require.Len(t, deltas, 2)
	for _, d := range deltas {
		assert.Equal(t, domain.DeltaUpdate, d.Type)
		require.NotNil(t, d.Vehicle)
	}
	assert.Equal(t, 2, s.Count())

	// unchanged vehicle produces nothing, moved vehicle an update,
	// missing vehicle a remove
	deltas = s.Update([]domain.VehicleRecord{
		rec("1", "ic-1", 2.5, 102.7),
		rec("3", "ic-2", 1.5, 103.7),
	}, routeOf)
	require.Len(t, deltas, 2)

	byType := map[domain.DeltaType][]domain.VehicleDelta{}
	for _, d := range deltas {
		byType[d.Type] = append(byType[d.Type], d)
	}
	require.Len(t, byType[domain.DeltaUpdate], 1)
	assert.Equal(t, "3", byType[domain.DeltaUpdate][0].Key)
	require.Len(t, byType[domain.DeltaRemove], 1)
	assert.Equal(t, "2", byType[domain.DeltaRemove][0].Key)
	assert.Equal(t, "ets-1", byType[domain.DeltaRemove][0].TripID)

	_, ok := s.Get("2")
	assert.False(t, ok)
}

func TestStoreTripChangeRemovesFromOldTrip(t *testing.T) {
	s := New()
	s.Update([]domain.VehicleRecord{rec("1", "ic-1", 2.5, 102.7)}, routeOf)

	deltas := s.Update([]domain.VehicleRecord{rec("1", "ic-2", 2.5, 102.7)}, routeOf)
	require.Len(t, deltas, 2)
	assert.Equal(t, domain.DeltaRemove, deltas[0].Type)
	assert.Equal(t, "ic-1", deltas[0].TripID)
	assert.Equal(t, domain.DeltaUpdate, deltas[1].Type)
	assert.Equal(t, "ic-2", deltas[1].TripID)

	assert.Empty(t, s.List(ListOptions{TripID: "ic-1"}))
	assert.Len(t, s.List(ListOptions{TripID: "ic-2"}), 1)
}

func TestStoreList(t *testing.T) {
	s := New()
	s.Update([]domain.VehicleRecord{
		rec("2", "ic-1", 2.5, 102.7),
		rec("1", "ic-2", 1.5, 103.7),
		rec("3", "ets-1", 3.1, 101.6),
		rec("4", "unknown", 3.1, 101.6),
	}, routeOf)

	all := s.List(ListOptions{})
	require.Len(t, all, 4)
	assert.Equal(t, "T1", all[0].Label)

	ic := s.List(ListOptions{RouteID: "IC"})
	require.Len(t, ic, 2)
	assert.Equal(t, []string{"T1", "T2"}, []string{ic[0].Label, ic[1].Label})

	assert.Len(t, s.List(ListOptions{RouteID: "IC", TripID: "ic-1"}), 1)
	assert.Empty(t, s.List(ListOptions{RouteID: "ETS", TripID: "ic-1"}))
	assert.Len(t, s.List(ListOptions{TripID: "unknown"}), 1)
}

func TestStoreRemapsRouteWithoutDelta(t *testing.T) {
	s := New()
	batch := []domain.VehicleRecord{rec("1", "ic-1", 2.5, 102.7)}

	s.Update(batch, nil)
	assert.Empty(t, s.List(ListOptions{RouteID: "IC"}))

	deltas := s.Update(batch, routeOf)
	assert.Empty(t, deltas)
	assert.Len(t, s.List(ListOptions{RouteID: "IC"}), 1)
}

func TestStoreKeepsVehiclesSharingAKey(t *testing.T) {
	s := New()
	twin := func(lon float64) domain.VehicleRecord {
		return domain.VehicleRecord{Label: "IC 941", TripID: "ic-1", Lat: 2.5, Lon: lon}
	}

	deltas := s.Update([]domain.VehicleRecord{twin(102.7), twin(102.9)}, routeOf)
	require.Len(t, deltas, 2)
	assert.Equal(t, "IC 941@ic-1", deltas[0].Key)
	assert.Equal(t, "IC 941@ic-1#2", deltas[1].Key)
	assert.Equal(t, 2, s.Count())
	assert.Len(t, s.List(ListOptions{TripID: "ic-1"}), 2)

	second, ok := s.Get("IC 941@ic-1#2")
	require.True(t, ok)
	assert.InDelta(t, 102.9, second.Lon, 1e-9)

	// the same batch again is stable
	assert.Empty(t, s.Update([]domain.VehicleRecord{twin(102.7), twin(102.9)}, routeOf))

	deltas = s.Update([]domain.VehicleRecord{twin(102.7)}, routeOf)
	require.Len(t, deltas, 1)
	assert.Equal(t, domain.DeltaRemove, deltas[0].Type)
	assert.Equal(t, "IC 941@ic-1#2", deltas[0].Key)
}

func TestVehicleKeyFallback(t *testing.T) {
	v := domain.VehicleRecord{Label: "IC 941", TripID: "ic-941"}
	assert.Equal(t, "IC 941@ic-941", v.Key())
}

func loadIndex(t *testing.T, version string) *schedule.Index {
	t.Helper()
	idx, err := schedule.LoadSchedule(&schedule.Feed{
		Version: version,
		Routes: []schedule.RouteRow{
			{Line: 2, ID: "IC", LongName: "KTM Intercity A - B"},
		},
		Trips: []schedule.TripRow{
			{Line: 2, ID: "ic-2", RouteID: "IC", DirectionID: "0"},
			{Line: 3, ID: "ic-1", RouteID: "IC", DirectionID: "0"},
		},
		Stops: []schedule.StopRow{
			{Line: 2, ID: "S0", Name: "ALPHA", Lat: "0", Lon: "0"},
			{Line: 3, ID: "S1", Name: "BRAVO", Lat: "0", Lon: "1"},
		},
		StopTimes: []schedule.StopTimeRow{
			{Line: 2, TripID: "ic-1", StopID: "S0", Sequence: "1", Arrival: "08:00:00"},
			{Line: 3, TripID: "ic-1", StopID: "S1", Sequence: "2", Arrival: "09:00:00"},
			{Line: 4, TripID: "ic-2", StopID: "S0", Sequence: "1", Arrival: "10:00:00"},
			{Line: 5, TripID: "ic-2", StopID: "S1", Sequence: "2", Arrival: "11:00:00"},
		},
	})
	require.NoError(t, err)
	return idx
}

type memTier struct {
	mu     sync.Mutex
	data   map[string][]byte
	gets   int
	sets   int
	getErr error
}

func (m *memTier) GetJSONCompressed(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return false, m.getErr
	}
	b, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dest)
}

func (m *memTier) SetJSONCompressed(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = b
	return nil
}

type tierCounter map[string]int

func (c tierCounter) SequenceLookup(tier string) { c[tier]++ }

func TestSequenceStoreTiers(t *testing.T) {
	ctx := context.Background()
	idx := loadIndex(t, "v1")
	tier := &memTier{}
	counts := tierCounter{}

	s := NewSequenceStore(tier, time.Hour, discard)
	s.SetMetrics(counts)

	trip, err := s.Get(ctx, idx, "IC", 0)
	require.NoError(t, err)
	assert.Equal(t, "ic-1", trip.ID, "lowest trip id is representative")
	assert.Equal(t, 1, tier.sets)
	assert.Contains(t, tier.data, "seq:v1:IC:0")

	// callers get copies
	trip.Stations[0].Stop.Name = "MUTATED"
	again, err := s.Get(ctx, idx, "IC", 0)
	require.NoError(t, err)
	assert.Equal(t, "ALPHA", again.Stations[0].Stop.Name)

	// a fresh store is served from the second tier
	s2 := NewSequenceStore(tier, time.Hour, discard)
	s2.SetMetrics(counts)
	fromTier, err := s2.Get(ctx, idx, "IC", 0)
	require.NoError(t, err)
	assert.Equal(t, again, fromTier)

	assert.Equal(t, tierCounter{"build": 1, "memory": 1, "redis": 1}, counts)
}

func TestSequenceStoreResetsOnVersionChange(t *testing.T) {
	ctx := context.Background()
	s := NewSequenceStore(nil, time.Hour, discard)

	_, err := s.Get(ctx, loadIndex(t, "v1"), "IC", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	_, err = s.Get(ctx, loadIndex(t, "v2"), "IC", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	s.Reset()
	assert.Zero(t, s.Len())
}

func TestSequenceStoreErrors(t *testing.T) {
	ctx := context.Background()
	tier := &memTier{getErr: errors.New("redis down")}
	s := NewSequenceStore(tier, time.Hour, discard)
	idx := loadIndex(t, "v1")

	// a failing tier falls back to building
	_, err := s.Get(ctx, idx, "IC", 0)
	require.NoError(t, err)

	_, err = s.Get(ctx, idx, "IC", 1)
	require.ErrorIs(t, err, domain.ErrUnknownTrip)
	assert.Equal(t, 1, s.Len(), "errors are not memoized")
}
