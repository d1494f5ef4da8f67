package eta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ktmtrack/internal/domain"
	"ktmtrack/internal/geo"
)

func TestEstimateIndeterminate(t *testing.T) {
	tests := []struct {
		name      string
		speed     float64
		reachable bool
	}{
		{"stationary", 0, true},
		{"negative speed", -5, true},
		{"passed station", 80, false},
		{"passed and stationary", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Estimate(0, 0.9, tt.speed, 0, 2, tt.reachable)
			assert.False(t, got.Determinate)
			_, ok := got.Duration()
			assert.False(t, ok)
		})
	}
}

func TestEstimateMinutes(t *testing.T) {
	got := Estimate(0, 0, 60, 0, 1, true)
	require.True(t, got.Determinate)

	want := geo.Haversine(0, 0, 0, 1)
	assert.InDelta(t, want, got.Minutes, 1e-9)

	d, ok := got.Duration()
	require.True(t, ok)
	assert.Greater(t, d, time.Duration(0))
	assert.InDelta(t, 111.19, d.Minutes(), 0.01)
}

func TestEstimateAtStation(t *testing.T) {
	tests := []struct {
		name  string
		lon   float64
		speed float64
	}{
		{"moving through", 1, 80},
		{"stopped at platform", 1, 0},
		{"just short", 1 - 0.0005, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Estimate(0, tt.lon, tt.speed, 0, 1, true)
			assert.True(t, got.Arrived)
			assert.False(t, got.Determinate)
			assert.Zero(t, got.Minutes)
		})
	}

	assert.Equal(t, Indeterminate, Estimate(0, 1, 80, 0, 1, false), "a passed station is not arrived")
}

func TestEstimateArrival(t *testing.T) {
	v := domain.VehicleRecord{Label: "EP9001", Lat: 0, Lon: 0.9, SpeedKMH: 120}
	boarding := domain.StationStop{Stop: domain.Stop{ID: "S2", Lat: 0, Lon: 2}}

	got := EstimateArrival(v, boarding, true)
	require.True(t, got.Determinate)
	assert.InDelta(t, geo.Haversine(0, 0.9, 0, 2)/2, got.Minutes, 1e-9)

	assert.Equal(t, Indeterminate, EstimateArrival(v, boarding, false))
}
