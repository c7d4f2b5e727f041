package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"transit-tracker/internal/logging"
	"transit-tracker/internal/tracker"
)

type Collector struct {
	reg *prometheus.Registry

	Beacons        *prometheus.CounterVec // result label: ack|nack
	BeaconFailures *prometheus.CounterVec // reason label
	HandleDuration prometheus.Histogram
	WorkersBusyG   prometheus.Gauge
	PoolSaturation prometheus.Counter

	VehiclesRemoved prometheus.Counter
	ProbableRoutes  prometheus.Histogram

	WindowCoordinates prometheus.Gauge
	WindowOccurrences prometheus.Gauge
	WindowRebuild     prometheus.Histogram

	FeedPaths      *prometheus.GaugeVec // feed label
	FeedLoadErrors prometheus.Counter

	DronesActive prometheus.Gauge

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	BufferSize     prometheus.Gauge
	WindowMargin   prometheus.Gauge // minutes
	VehicleTimeout prometheus.Gauge // seconds
}

func NewCollector(bufferSize int, windowMarginMin int, vehicleTimeout time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Beacons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_beacons_total",
			Help: "Beacon exchanges by result.",
		}, []string{"result"}),
		BeaconFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_beacon_failures_total",
			Help: "Rejected beacons by reason.",
		}, []string{"reason"}),
		HandleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_handle_duration_seconds",
			Help:    "Time to read, decode, apply and answer one beacon.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		WorkersBusyG: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_server_workers_busy",
			Help: "Ingestion workers currently handling a connection.",
		}),
		PoolSaturation: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_server_pool_saturated_total",
			Help: "Accepted connections that had to wait for a free worker.",
		}),
		VehiclesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_vehicles_removed_total",
			Help: "Vehicles dropped after going stale.",
		}),
		ProbableRoutes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_vehicle_probable_routes",
			Help:    "Size of a vehicle's probable route set after an update.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		WindowCoordinates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_stop_window_coordinates",
			Help: "Distinct stop coordinates in the current window.",
		}),
		WindowOccurrences: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_stop_window_occurrences",
			Help: "Stop occurrences in the current window.",
		}),
		WindowRebuild: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_stop_window_rebuild_seconds",
			Help:    "Duration of stop window rebuilds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		FeedPaths: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tracker_feed_paths",
			Help: "Route paths built for each loaded feed.",
		}, []string{"feed"}),
		FeedLoadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_feed_load_errors_total",
			Help: "Feeds that failed to load or build.",
		}),
		DronesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_drones_active",
			Help: "Number of running drone goroutines.",
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
		BufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_coord_buffer_size",
			Help: "Per-vehicle coordinate ring capacity.",
		}),
		WindowMargin: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_stop_window_margin_minutes",
			Help: "Stop window look-ahead margin in minutes.",
		}),
		VehicleTimeout: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_vehicle_timeout_seconds",
			Help: "Seconds without a beacon before a vehicle is dropped.",
		}),
	}

	reg.MustRegister(
		c.Beacons, c.BeaconFailures, c.HandleDuration, c.WorkersBusyG, c.PoolSaturation,
		c.VehiclesRemoved, c.ProbableRoutes,
		c.WindowCoordinates, c.WindowOccurrences, c.WindowRebuild,
		c.FeedPaths, c.FeedLoadErrors, c.DronesActive,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.BufferSize, c.WindowMargin, c.VehicleTimeout,
	)

	c.BufferSize.Set(float64(bufferSize))
	c.WindowMargin.Set(float64(windowMarginMin))
	c.VehicleTimeout.Set(vehicleTimeout.Seconds())

	return c
}

// TrackVehicles exposes the live vehicle count read from fn at scrape time.
func (c *Collector) TrackVehicles(fn func() int) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "tracker_vehicles",
		Help: "Vehicles currently tracked.",
	}, func() float64 { return float64(fn()) }))
}

// ingestion server

func (c *Collector) BeaconHandled(ok bool, reason string, d time.Duration) {
	c.HandleDuration.Observe(d.Seconds())
	if ok {
		c.Beacons.WithLabelValues("ack").Inc()
		return
	}
	c.Beacons.WithLabelValues("nack").Inc()
	c.BeaconFailures.WithLabelValues(reason).Inc()
}

func (c *Collector) WorkersBusy(n int) { c.WorkersBusyG.Set(float64(n)) }
func (c *Collector) PoolSaturated()    { c.PoolSaturation.Inc() }

// stop window

func (c *Collector) ObserveRebuild(d time.Duration, coordinates, occurrences int) {
	c.WindowRebuild.Observe(d.Seconds())
	c.WindowCoordinates.Set(float64(coordinates))
	c.WindowOccurrences.Set(float64(occurrences))
}

// vehicle registry

func (c *Collector) VehicleUpdated(s tracker.State) {
	c.ProbableRoutes.Observe(float64(len(s.ProbableRoutes)))
}

func (c *Collector) VehicleRemoved(int16) { c.VehiclesRemoved.Inc() }

// feeds and drones

func (c *Collector) FeedLoaded(name string, paths int) {
	c.FeedPaths.WithLabelValues(name).Set(float64(paths))
}

func (c *Collector) FeedFailed()                    { c.FeedLoadErrors.Inc() }
func (c *Collector) DronesActiveSet(n int)          { c.DronesActive.Set(float64(n)) }
func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()
	log.Info("metrics listening", "addr", addr)
	return srv
}
