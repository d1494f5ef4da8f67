package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServiceTime(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"00:00:00", 0, false},
		{"7:05:09", 7*time.Hour + 5*time.Minute + 9*time.Second, false},
		{" 23:59:59 ", 23*time.Hour + 59*time.Minute + 59*time.Second, false},
		{"25:10:00", 25*time.Hour + 10*time.Minute, false},
		{"48:00:00", 48 * time.Hour, false},
		{"", 0, true},
		{"12:00", 0, true},
		{"ab:00:00", 0, true},
		{"-1:00:00", 0, true},
		{"10:60:00", 0, true},
		{"10:00:60", 0, true},
		{"10:5:00", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseServiceTime(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServiceDayTimeOverflow(t *testing.T) {
	kl := time.FixedZone("MYT", 8*3600)
	day := time.Date(2024, 12, 31, 18, 45, 0, 0, kl)

	got, err := ServiceDayTime(day, "25:10:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 1, 10, 0, 0, kl), got)

	got, err = ServiceDayTime(day, "06:00:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 12, 31, 6, 0, 0, 0, kl), got)

	_, err = ServiceDayTime(day, "bad")
	require.Error(t, err)
}

func TestMidnight(t *testing.T) {
	ts := time.Date(2024, 3, 1, 23, 59, 59, 999, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Midnight(ts))
}
