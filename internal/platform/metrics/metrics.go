package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// streamStates are the label values of the state gauge.
var streamStates = []string{"offline", "preparing", "live"}

// Metrics holds Prometheus counters and gauges for the stream dashboard.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        *prometheus.CounterVec
	errorsTotal          prometheus.Counter
	sessionsStartedTotal prometheus.Counter
	spawnFailuresTotal   prometheus.Counter
	encoderExitsTotal    *prometheus.CounterVec
	encoderLogLinesTotal prometheus.Counter
	streamState          *prometheus.GaugeVec
	mediaFiles           prometheus.Gauge
}

// New creates and registers Prometheus metrics for the dashboard.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loopcast_requests_total",
		Help: "Total number of HTTP requests received, by method and status code",
	}, []string{"method", "code"})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopcast_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	sessionsStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopcast_sessions_started_total",
		Help: "Total number of encoder processes successfully spawned",
	})
	spawnFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopcast_spawn_failures_total",
		Help: "Total number of start attempts where the encoder could not be launched",
	})
	encoderExitsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loopcast_encoder_exits_total",
		Help: "Encoder process exits by outcome (completed, failed, terminated)",
	}, []string{"outcome"})
	encoderLogLinesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopcast_encoder_log_lines_total",
		Help: "Total number of output lines read from the encoder",
	})
	streamState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loopcast_stream_state",
		Help: "1 for the current stream session state, 0 otherwise",
	}, []string{"state"})
	mediaFiles := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loopcast_media_files",
		Help: "Number of source videos available in the media directory",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		sessionsStartedTotal,
		spawnFailuresTotal,
		encoderExitsTotal,
		encoderLogLinesTotal,
		streamState,
		mediaFiles,
	)

	m := &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		errorsTotal:          errorsTotal,
		sessionsStartedTotal: sessionsStartedTotal,
		spawnFailuresTotal:   spawnFailuresTotal,
		encoderExitsTotal:    encoderExitsTotal,
		encoderLogLinesTotal: encoderLogLinesTotal,
		streamState:          streamState,
		mediaFiles:           mediaFiles,
	}
	m.SetStreamState("offline")
	return m
}

// IncRequests counts one served request.
func (m *Metrics) IncRequests(method string, status int) {
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncSessionsStarted increments the spawned sessions counter.
func (m *Metrics) IncSessionsStarted() {
	m.sessionsStartedTotal.Inc()
}

// IncSpawnFailures increments the spawn failures counter.
func (m *Metrics) IncSpawnFailures() {
	m.spawnFailuresTotal.Inc()
}

// IncEncoderExit counts one encoder exit with the given outcome.
func (m *Metrics) IncEncoderExit(outcome string) {
	m.encoderExitsTotal.WithLabelValues(outcome).Inc()
}

// IncEncoderLogLines increments the encoder output line counter.
func (m *Metrics) IncEncoderLogLines() {
	m.encoderLogLinesTotal.Inc()
}

// SetStreamState marks state as current in the state gauge.
func (m *Metrics) SetStreamState(state string) {
	for _, s := range streamStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.streamState.WithLabelValues(s).Set(v)
	}
}

// SetMediaFiles sets the media files gauge.
func (m *Metrics) SetMediaFiles(n int) {
	m.mediaFiles.Set(float64(n))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
