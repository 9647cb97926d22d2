package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the chat server, scraped at /metrics.
var (
	connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatd_connections_total",
		Help: "Total number of WebSocket connections accepted",
	})

	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatd_connections_active",
		Help: "Current number of live WebSocket connections",
	})

	connectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatd_connections_rejected_total",
		Help: "Connections rejected before upgrade, by reason",
	}, []string{"reason"})

	disconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatd_disconnects_total",
		Help: "Total disconnections by reason and who initiated",
	}, []string{"reason", "initiated_by"})

	connectionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatd_connection_duration_seconds",
		Help:    "Connection lifetime before disconnect",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
	}, []string{"reason"})

	framesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatd_frames_received_total",
		Help: "Inbound frames by type",
	}, []string{"type"})

	frameParseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatd_frame_parse_errors_total",
		Help: "Inbound frames dropped as malformed",
	})

	framesRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatd_frames_rate_limited_total",
		Help: "Inbound frames dropped by the per-connection rate limiter",
	})

	eventsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatd_events_sent_total",
		Help: "Outbound events enqueued, by type",
	}, []string{"type"})

	eventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatd_events_dropped_total",
		Help: "Outbound events dropped on a full send queue, by type",
	}, []string{"type"})

	presenceTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatd_presence_transitions_total",
		Help: "Presence transitions broadcast, by status",
	}, []string{"status"})

	authFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatd_auth_failures_total",
		Help: "Rejected authentication attempts",
	})

	natsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatd_nats_connected",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	busMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatd_bus_messages_total",
		Help: "Messages consumed from the bus, by subject",
	}, []string{"subject"})

	busErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatd_bus_errors_total",
		Help: "Bus messages dropped as malformed or undeliverable",
	})

	memoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatd_memory_bytes",
		Help: "Current heap usage in bytes",
	})

	cpuUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatd_cpu_usage_percent",
		Help: "Current process CPU usage percentage",
	})

	goroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatd_goroutines_active",
		Help: "Current number of goroutines",
	})
)

func init() {
	prometheus.MustRegister(
		connectionsTotal,
		connectionsActive,
		connectionsRejected,
		disconnectsTotal,
		connectionDuration,
		framesReceived,
		frameParseErrors,
		framesRateLimited,
		eventsSent,
		eventsDropped,
		presenceTransitions,
		authFailures,
		natsConnected,
		busMessages,
		busErrors,
		memoryUsageBytes,
		cpuUsagePercent,
		goroutinesActive,
	)
}

// Disconnect reasons, used as metric labels and in structured logs.
const (
	DisconnectReasonReadError      = "read_error"
	DisconnectReasonIdleTimeout    = "idle_timeout"
	DisconnectReasonFrameTooLarge  = "frame_too_large"
	DisconnectReasonClientClosed   = "client_closed"
	DisconnectReasonWriteError     = "write_error"
	DisconnectReasonServerShutdown = "server_shutdown"
)

// Who initiated the disconnect.
const (
	DisconnectInitiatedByClient = "client"
	DisconnectInitiatedByServer = "server"
)

// Connection rejection reasons.
const (
	RejectReasonShuttingDown = "shutting_down"
	RejectReasonRateLimited  = "rate_limited"
	RejectReasonAtCapacity   = "at_capacity"
	RejectReasonUpgrade      = "upgrade_failed"
)

// ConnectionOpened records an accepted connection.
func ConnectionOpened() {
	connectionsTotal.Inc()
	connectionsActive.Inc()
}

// ConnectionClosed records a disconnect with its reason and lifetime.
func ConnectionClosed(reason, initiatedBy string, duration time.Duration) {
	connectionsActive.Dec()
	disconnectsTotal.WithLabelValues(reason, initiatedBy).Inc()
	connectionDuration.WithLabelValues(reason).Observe(duration.Seconds())
}

// ConnectionRejected records a connection refused before upgrade.
func ConnectionRejected(reason string) {
	connectionsRejected.WithLabelValues(reason).Inc()
}

// FrameReceived records one parsed inbound frame.
func FrameReceived(kind string) {
	framesReceived.WithLabelValues(kind).Inc()
}

// FrameParseError records a malformed inbound frame.
func FrameParseError() {
	frameParseErrors.Inc()
}

// FrameRateLimited records an inbound frame dropped by the rate limiter.
func FrameRateLimited() {
	framesRateLimited.Inc()
}

// EventSent records an outbound event enqueued for one connection.
func EventSent(kind string) {
	eventsSent.WithLabelValues(kind).Inc()
}

// EventDropped records an outbound event dropped on a full send queue.
func EventDropped(kind string) {
	eventsDropped.WithLabelValues(kind).Inc()
}

// PresenceTransition records a broadcast online/offline transition.
func PresenceTransition(status string) {
	presenceTransitions.WithLabelValues(status).Inc()
}

// AuthFailure records a rejected authentication attempt.
func AuthFailure() {
	authFailures.Inc()
}

// SetNATSConnected updates the NATS connectivity gauge.
func SetNATSConnected(connected bool) {
	if connected {
		natsConnected.Set(1)
	} else {
		natsConnected.Set(0)
	}
}

// BusMessage records a message consumed from the bus.
func BusMessage(subject string) {
	busMessages.WithLabelValues(subject).Inc()
}

// BusError records a bus message dropped as malformed.
func BusError() {
	busErrors.Inc()
}

// HandleMetrics serves the Prometheus scrape endpoint.
func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}
