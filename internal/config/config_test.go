package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "gtfsrt", cfg.PositionsFormat)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Hour, cfg.GTFSUpdateInterval)
	assert.Equal(t, "Asia/Kuala_Lumpur", cfg.ServiceLocation.String())
	assert.False(t, cfg.RedisEnabled)
	assert.Empty(t, cfg.NATSURL)
	assert.Nil(t, cfg.RateLimitWhitelist)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("POSITIONS_URL", "https://api.mtrec.name.my/api/position?agency=ktmb")
	t.Setenv("POSITIONS_FORMAT", "JSON")
	t.Setenv("POLL_INTERVAL", "30s")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("RATE_LIMIT_WHITELIST", " 10.0.0.1, ,192.168.1.5 ")
	t.Setenv("READ_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "json", cfg.PositionsFormat)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, []string{"10.0.0.1", "192.168.1.5"}, cfg.RateLimitWhitelist)
	assert.Equal(t, 10*time.Second, cfg.ReadTimeout, "unparsable values fall back to the default")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("HTTP_ADDR=:9999\nPOLL_INTERVAL=45s\n"), 0o644))
	t.Setenv("POLL_INTERVAL", "20s")
	t.Cleanup(func() { os.Unsetenv("HTTP_ADDR") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, 20*time.Second, cfg.PollInterval, "environment wins over .env")
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad format", map[string]string{"POSITIONS_FORMAT": "xml"}, "PositionsFormat"},
		{"bad url", map[string]string{"GTFS_URL": "not a url"}, "GTFSURL"},
		{"bad timezone", map[string]string{"SERVICE_TIMEZONE": "Mars/Olympus"}, "ServiceTimezone"},
		{"bad nats url", map[string]string{"NATS_URL": "::"}, "NATSURL"},
		{"zero rate limit", map[string]string{"RATE_LIMIT_PER_WINDOW": "0"}, "RateLimitPerWindow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadJourneys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journeys.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
journeys:
  - name: morning-commute
    route_id: KS
    origin: Tanjung Malim
    boarding_stop_id: "19100"
  - name: weekend
    route_id: ETS
    origin: Padang Besar
    boarding_stop_id: "45400"
    vehicle_label: ETS 9021
`), 0o644))

	journeys, err := LoadJourneys(path)
	require.NoError(t, err)
	require.Len(t, journeys, 2)
	assert.Equal(t, Journey{Name: "morning-commute", RouteID: "KS", Origin: "Tanjung Malim", BoardingStopID: "19100"}, journeys[0])
	assert.Equal(t, "ETS 9021", journeys[1].VehicleLabel)

	none, err := LoadJourneys("")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestLoadJourneysErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	_, err := LoadJourneys(filepath.Join(dir, "missing.yml"))
	require.Error(t, err)

	_, err = LoadJourneys(write("bad.yml", "journeys: [unclosed"))
	require.Error(t, err)

	_, err = LoadJourneys(write("invalid.yml", "journeys:\n  - name: x\n    route_id: KS\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Origin")

	_, err = LoadJourneys(write("dup.yml", `
journeys:
  - {name: a, route_id: KS, origin: X, boarding_stop_id: "1"}
  - {name: a, route_id: KS, origin: Y, boarding_stop_id: "2"}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}
