package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservePoll(t *testing.T) {
	c := NewCollector(15*time.Second, time.Hour)

	c.ObservePoll("positions", 20*time.Millisecond, nil)
	c.ObservePoll("positions", 30*time.Millisecond, errors.New("boom"))
	c.ObservePoll("schedule", time.Second, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Polls.WithLabelValues("positions", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Polls.WithLabelValues("positions", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Polls.WithLabelValues("schedule", "ok")))
}

func TestGauges(t *testing.T) {
	c := NewCollector(15*time.Second, time.Hour)

	c.SetSchedule(4, 120)
	c.SetSnapshot(9, 2, 1, 3)
	c.NATSSetConnected(true)
	c.SetClients(5)

	assert.Equal(t, 120.0, testutil.ToFloat64(c.ScheduleTrips))
	assert.Equal(t, 9.0, testutil.ToFloat64(c.LiveVehicles))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.UnresolvedVehicles))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSConnected))

	c.NATSSetConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.NATSConnected))
}

func TestHandlerExposesRegistry(t *testing.T) {
	c := NewCollector(15*time.Second, time.Hour)
	c.ObserveReport(time.Millisecond, "ok")
	c.RateLimitedInc()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ktmtrack_reports_total{outcome="ok"} 1`)
	assert.Contains(t, string(body), "ktmtrack_rate_limited_total 1")
	assert.Contains(t, string(body), `ktmtrack_poll_interval_seconds{poller="positions"} 15`)
}
