package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// connection and breaker states tracked as one-hot gauge vectors
var (
	connectionStates = []string{"disconnected", "connecting", "connected", "error"}
	breakerStates    = []string{"closed", "open", "half_open"}
)

// Registry encapsulates all metrics and provides a clean interface
// for recording metrics without global state
type Registry struct {
	registry *prometheus.Registry

	// Upstream connection metrics
	connectTotal    *prometheus.CounterVec
	connectionState *prometheus.GaugeVec
	breakerState    *prometheus.GaugeVec

	// Inbound event metrics
	inboundTotal *prometheus.CounterVec
	knownPeers   prometheus.Gauge

	// Fan-out metrics
	subscribersActive prometheus.Gauge

	// Wall metrics
	wallPublishTotal    *prometheus.CounterVec
	wallPublishDuration *prometheus.HistogramVec
	wallListTotal       *prometheus.CounterVec
	wallListDuration    *prometheus.HistogramVec
	sinkOperationTotal  *prometheus.CounterVec

	// Cache metrics
	cacheLookupTotal *prometheus.CounterVec
	cacheSize        prometheus.Gauge

	// System health metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		connectTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wall_upstream_connect_total",
				Help: "Total number of upstream connect attempts",
			},
			[]string{"status"}, // status: success, error
		),

		connectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wall_upstream_connection_state",
				Help: "Current upstream connection state (1 for the active state)",
			},
			[]string{"state"},
		),

		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wall_upstream_breaker_state",
				Help: "Current circuit breaker state (1 for the active state)",
			},
			[]string{"state"},
		),

		inboundTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wall_inbound_events_total",
				Help: "Total number of decoded inbound events",
			},
			[]string{"kind", "status"}, // status: ok, dropped_signature
		),

		knownPeers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wall_known_peers",
				Help: "Number of distinct peer identities observed on the event stream",
			},
		),

		subscribersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wall_subscribers_active",
				Help: "Current number of connected WebSocket subscribers",
			},
		),

		wallPublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wall_publish_total",
				Help: "Total number of wall publish operations",
			},
			[]string{"thread", "status"}, // status: success, error
		),

		wallPublishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wall_publish_duration_seconds",
				Help:    "Time spent publishing notes to the wall",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"thread"},
		),

		wallListTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wall_list_total",
				Help: "Total number of wall list operations",
			},
			[]string{"thread", "status"}, // status: success, error
		),

		wallListDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wall_list_duration_seconds",
				Help:    "Time spent listing wall threads",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"thread"},
		),

		sinkOperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wall_sink_operation_total",
				Help: "Total number of commit sink operations",
			},
			[]string{"stage", "status"}, // stage: commit, push
		),

		cacheLookupTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wall_cache_lookup_total",
				Help: "Total number of read cache lookups",
			},
			[]string{"result"}, // result: hit, miss
		),

		cacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wall_cache_size",
				Help: "Current number of entries in the read cache",
			},
		),

		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wall_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "build_time"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wall_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Register application metrics
	registry.MustRegister(
		r.connectTotal,
		r.connectionState,
		r.breakerState,
		r.inboundTotal,
		r.knownPeers,
		r.subscribersActive,
		r.wallPublishTotal,
		r.wallPublishDuration,
		r.wallListTotal,
		r.wallListDuration,
		r.sinkOperationTotal,
		r.cacheLookupTotal,
		r.cacheSize,
		r.systemInfo,
		r.startTime,
	)

	// Set start time
	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// RecordUpstreamConnect records an upstream connect attempt
func (r *Registry) RecordUpstreamConnect(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.connectTotal.WithLabelValues(status).Inc()
}

// SetConnectionState marks the active upstream connection state
func (r *Registry) SetConnectionState(state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.connectionState.WithLabelValues(s).Set(v)
	}
}

// SetBreakerState marks the active circuit breaker state
func (r *Registry) SetBreakerState(state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.breakerState.WithLabelValues(s).Set(v)
	}
}

// RecordInbound records one decoded inbound event
func (r *Registry) RecordInbound(kind, status string) {
	r.inboundTotal.WithLabelValues(kind, status).Inc()
}

// SetKnownPeers updates the observed peer count
func (r *Registry) SetKnownPeers(count int) {
	r.knownPeers.Set(float64(count))
}

// SetSubscribers updates the active WebSocket subscriber count
func (r *Registry) SetSubscribers(count int) {
	r.subscribersActive.Set(float64(count))
}

// RecordWallPublish records a wall publish operation
func (r *Registry) RecordWallPublish(thread string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.wallPublishTotal.WithLabelValues(thread, status).Inc()
	r.wallPublishDuration.WithLabelValues(thread).Observe(duration.Seconds())
}

// RecordWallList records a wall list operation
func (r *Registry) RecordWallList(thread string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.wallListTotal.WithLabelValues(thread, status).Inc()
	r.wallListDuration.WithLabelValues(thread).Observe(duration.Seconds())
}

// RecordSinkOperation records a commit sink operation
func (r *Registry) RecordSinkOperation(stage string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.sinkOperationTotal.WithLabelValues(stage, status).Inc()
}

// RecordCacheLookup records a read cache lookup
func (r *Registry) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookupTotal.WithLabelValues(result).Inc()
}

// SetCacheSize updates the read cache occupancy
func (r *Registry) SetCacheSize(size int) {
	r.cacheSize.Set(float64(size))
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, buildTime string) {
	r.systemInfo.WithLabelValues(version, buildTime).Set(1)
}
