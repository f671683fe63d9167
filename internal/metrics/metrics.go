package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schoolbus-tracker/internal/status"
)

type Collector struct {
	reg *prometheus.Registry

	ReportsIngested prometheus.Counter
	ReportsRejected prometheus.Counter
	Subscribers     prometheus.Gauge
	Vehicles        prometheus.Gauge

	Flushes        prometheus.Counter
	FlushMerged    prometheus.Counter
	FlushDuration  prometheus.Histogram
	Trips          prometheus.Gauge
	Rows           *prometheus.GaugeVec // display label: on-time|late|signal-lost
	TripRefreshErr prometheus.Counter

	NATSReceived    prometheus.Counter
	NATSDecodeErrs  prometheus.Counter
	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	WSClients prometheus.Gauge

	TripsStarted  prometheus.Counter
	TripsFinished prometheus.Counter
	ActiveTrips   prometheus.Gauge
	TickDuration  prometheus.Histogram

	FlushInterval prometheus.Gauge // seconds
	StaleAfter    prometheus.Gauge // seconds
}

func NewCollector(flushInterval, staleAfter time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ReportsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_reports_ingested_total",
			Help: "Position reports stored in the feed.",
		}),
		ReportsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_reports_rejected_total",
			Help: "Position reports dropped for lacking a vehicle id.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_feed_subscribers",
			Help: "Current position feed subscribers.",
		}),
		Vehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_vehicles",
			Help: "Vehicles with a known position.",
		}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_flushes_total",
			Help: "View flushes that merged at least one update.",
		}),
		FlushMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_flush_merged_total",
			Help: "Coalesced vehicle updates merged into the view.",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_flush_duration_seconds",
			Help:    "Duration of merging coalesced updates into the view.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 15),
		}),
		Trips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_trips",
			Help: "Trips currently loaded.",
		}),
		Rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tracker_rows",
			Help: "Fleet rows by displayed label.",
		}, []string{"label"}),
		TripRefreshErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trip_refresh_errors_total",
			Help: "Failed trip list refreshes.",
		}),
		NATSReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_received_total",
			Help: "NATS position messages received.",
		}),
		NATSDecodeErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_decode_errors_total",
			Help: "NATS position messages dropped as malformed.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_websocket_clients",
			Help: "Connected live view websocket clients.",
		}),
		TripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_sim_trips_started_total",
			Help: "Total simulated trips started.",
		}),
		TripsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_sim_trips_finished_total",
			Help: "Total simulated trips finished.",
		}),
		ActiveTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_sim_active_trips",
			Help: "Number of trips currently being simulated.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_sim_tick_duration_seconds",
			Help:    "Duration of a simulation tick per trip.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		FlushInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_flush_interval_seconds",
			Help: "View flush interval in seconds.",
		}),
		StaleAfter: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_stale_after_seconds",
			Help: "Report age at which a bus is shown as signal lost.",
		}),
	}

	reg.MustRegister(
		c.ReportsIngested, c.ReportsRejected, c.Subscribers, c.Vehicles,
		c.Flushes, c.FlushMerged, c.FlushDuration, c.Trips, c.Rows, c.TripRefreshErr,
		c.NATSReceived, c.NATSDecodeErrs, c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.WSClients, c.TripsStarted, c.TripsFinished, c.ActiveTrips, c.TickDuration,
		c.FlushInterval, c.StaleAfter,
	)

	c.FlushInterval.Set(flushInterval.Seconds())
	c.StaleAfter.Set(staleAfter.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

// Feed adapts the collector to feed.Metrics.
type Feed struct{ C *Collector }

func (f Feed) ReportsIngested(n int) { f.C.ReportsIngested.Add(float64(n)) }
func (f Feed) ReportsRejected(n int) { f.C.ReportsRejected.Add(float64(n)) }
func (f Feed) SetSubscribers(n int)  { f.C.Subscribers.Set(float64(n)) }
func (f Feed) SetVehicles(n int)     { f.C.Vehicles.Set(float64(n)) }

// Fleet adapts the collector to fleet.Metrics.
type Fleet struct{ C *Collector }

func (f Fleet) FlushObserve(d time.Duration, merged int) {
	f.C.Flushes.Inc()
	f.C.FlushMerged.Add(float64(merged))
	f.C.FlushDuration.Observe(d.Seconds())
}
func (f Fleet) SetTrips(n int)     { f.C.Trips.Set(float64(n)) }
func (f Fleet) TripRefreshErrInc() { f.C.TripRefreshErr.Inc() }
func (f Fleet) SetRows(counts map[status.Display]int) {
	for label, n := range counts {
		f.C.Rows.WithLabelValues(string(label)).Set(float64(n))
	}
}

// NATS adapts the collector to natsfeed.Metrics.
type NATS struct{ C *Collector }

func (n NATS) NATSReceivedInc()               { n.C.NATSReceived.Inc() }
func (n NATS) NATSDecodeErrInc()              { n.C.NATSDecodeErrs.Inc() }
func (n NATS) NATSPublishedInc()              { n.C.NATSPublished.Inc() }
func (n NATS) NATSPublishErrInc()             { n.C.NATSPublishErrs.Inc() }
func (n NATS) PublishObserve(d time.Duration) { n.C.PublishDuration.Observe(d.Seconds()) }
func (n NATS) NATSSetConnected(b bool) {
	if b {
		n.C.NATSConnected.Set(1)
	} else {
		n.C.NATSConnected.Set(0)
	}
}

// Live adapts the collector to live.Metrics.
type Live struct{ C *Collector }

func (l Live) SetClients(n int) { l.C.WSClients.Set(float64(n)) }
