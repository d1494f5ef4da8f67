package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	Polls        *prometheus.CounterVec   // poller, result
	PollDuration *prometheus.HistogramVec // poller

	ScheduleTrips  prometheus.Gauge
	ScheduleRoutes prometheus.Gauge

	LiveVehicles       prometheus.Gauge
	SkippedVehicles    prometheus.Gauge
	AmbiguousTrips     prometheus.Gauge
	UnresolvedVehicles prometheus.Gauge

	Reports        *prometheus.CounterVec // outcome: ok|no_data|error
	ReportDuration prometheus.Histogram

	SequenceLookups *prometheus.CounterVec // tier: memory|redis|build

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	WSClients   prometheus.Gauge
	RateLimited prometheus.Counter
}

func NewCollector(pollInterval, scheduleInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ktmtrack_polls_total",
			Help: "Completed polls by poller and result.",
		}, []string{"poller", "result"}),
		PollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ktmtrack_poll_duration_seconds",
			Help:    "Duration of a poll including download and decode.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"poller"}),
		ScheduleTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ktmtrack_schedule_trips",
			Help: "Trips in the current schedule index.",
		}),
		ScheduleRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ktmtrack_schedule_routes",
			Help: "Routes in the current schedule index.",
		}),
		LiveVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ktmtrack_live_vehicles",
			Help: "Vehicles in the current live snapshot.",
		}),
		SkippedVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ktmtrack_live_skipped_records",
			Help: "Records skipped in the last position batch (no trip or no fix).",
		}),
		AmbiguousTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ktmtrack_live_ambiguous_trips",
			Help: "Trips with more than one live vehicle.",
		}),
		UnresolvedVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ktmtrack_live_unresolved_vehicles",
			Help: "Live vehicles whose trip is not in the schedule.",
		}),
		Reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ktmtrack_reports_total",
			Help: "Reports computed by outcome.",
		}, []string{"outcome"}),
		ReportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ktmtrack_report_duration_seconds",
			Help:    "Duration of report computation.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		SequenceLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ktmtrack_sequence_lookups_total",
			Help: "Station sequence lookups by the tier that served them.",
		}, []string{"tier"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ktmtrack_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ktmtrack_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ktmtrack_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ktmtrack_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ktmtrack_websocket_clients",
			Help: "Connected websocket clients.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ktmtrack_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
	}

	pollSeconds := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ktmtrack_poll_interval_seconds",
		Help: "Configured poll interval.",
	}, []string{"poller"})
	pollSeconds.WithLabelValues("positions").Set(pollInterval.Seconds())
	pollSeconds.WithLabelValues("schedule").Set(scheduleInterval.Seconds())

	reg.MustRegister(
		c.Polls, c.PollDuration,
		c.ScheduleTrips, c.ScheduleRoutes,
		c.LiveVehicles, c.SkippedVehicles, c.AmbiguousTrips, c.UnresolvedVehicles,
		c.Reports, c.ReportDuration, c.SequenceLookups,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.WSClients, c.RateLimited, pollSeconds,
	)

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) ObservePoll(poller string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Polls.WithLabelValues(poller, result).Inc()
	c.PollDuration.WithLabelValues(poller).Observe(d.Seconds())
}

func (c *Collector) SetSchedule(routes, trips int) {
	c.ScheduleRoutes.Set(float64(routes))
	c.ScheduleTrips.Set(float64(trips))
}

func (c *Collector) SetSnapshot(vehicles, skipped, ambiguous, unresolved int) {
	c.LiveVehicles.Set(float64(vehicles))
	c.SkippedVehicles.Set(float64(skipped))
	c.AmbiguousTrips.Set(float64(ambiguous))
	c.UnresolvedVehicles.Set(float64(unresolved))
}

func (c *Collector) ObserveReport(d time.Duration, outcome string) {
	c.Reports.WithLabelValues(outcome).Inc()
	c.ReportDuration.Observe(d.Seconds())
}

func (c *Collector) SequenceLookup(tier string) { c.SequenceLookups.WithLabelValues(tier).Inc() }

func (c *Collector) NATSPublishedInc() { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}

func (c *Collector) SetClients(n int) { c.WSClients.Set(float64(n)) }

func (c *Collector) RateLimitedInc() { c.RateLimited.Inc() }
