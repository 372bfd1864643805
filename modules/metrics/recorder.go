package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	domain "github.com/example/presence-chat/domain/chat"
)

// Metric names read back by the Snapshotter.
const (
	nameDBQueryDuration = "chat_db_query_duration_seconds"
	nameHTTPRequests    = "chat_http_requests_total"
	nameHTTPDuration    = "chat_http_request_duration_seconds"
	nameWSConnections   = "chat_ws_connections"
	namePersistFailures = "chat_persist_failures_total"
	nameBroadcastTotal  = "chat_messages_broadcast_total"
	nameDroppedTotal    = "chat_messages_dropped_total"
	namePresenceUpdates = "chat_presence_updates_total"
)

// Recorder owns a Prometheus registry and the application's collectors.
// It is safe for concurrent use.
type Recorder struct {
	registry *prometheus.Registry

	dbQueryDuration *prometheus.HistogramVec
	persistFailures prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	broadcast       prometheus.Counter
	dropped         prometheus.Counter
	presenceUpdates prometheus.Counter
	wsConnections   prometheus.Gauge
}

// NewRecorder creates a Recorder with its own registry, including the Go runtime collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		// DB metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    nameDBQueryDuration,
				Help:    "Database query duration",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"repository", "operation", "status"},
		),
		persistFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: namePersistFailures,
				Help: "Total chat messages that failed to persist",
			},
		),

		// HTTP metrics
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: nameHTTPRequests,
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    nameHTTPDuration,
				Help:    "HTTP request duration",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),

		// Business metrics
		broadcast: factory.NewCounter(
			prometheus.CounterOpts{
				Name: nameBroadcastTotal,
				Help: "Total chat messages persisted and broadcast",
			},
		),
		dropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: nameDroppedTotal,
				Help: "Total chat messages dropped after a failed save",
			},
		),
		presenceUpdates: factory.NewCounter(
			prometheus.CounterOpts{
				Name: namePresenceUpdates,
				Help: "Total presence snapshots published",
			},
		),
		wsConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: nameWSConnections,
				Help: "Open websocket connections",
			},
		),
	}
}

// ObserveQuery records a repository query.
func (r *Recorder) ObserveQuery(repository, operation string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.dbQueryDuration.WithLabelValues(repository, operation, status).Observe(elapsed.Seconds())
}

// ReportPersistFailure counts a message that could not be saved.
func (r *Recorder) ReportPersistFailure(_ domain.Message, _ error) {
	r.persistFailures.Inc()
}

// ObserveHTTP records a finished HTTP request.
func (r *Recorder) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	r.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// MessageBroadcast counts a persisted and broadcast chat message.
func (r *Recorder) MessageBroadcast() {
	r.broadcast.Inc()
}

// MessageDropped counts a dropped chat message.
func (r *Recorder) MessageDropped() {
	r.dropped.Inc()
}

// PresenceUpdated counts a published presence snapshot.
func (r *Recorder) PresenceUpdated() {
	r.presenceUpdates.Inc()
}

// ConnectionOpened increments the open websocket gauge.
func (r *Recorder) ConnectionOpened() {
	r.wsConnections.Inc()
}

// ConnectionClosed decrements the open websocket gauge.
func (r *Recorder) ConnectionClosed() {
	r.wsConnections.Dec()
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
