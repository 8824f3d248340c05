package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnbridge_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "learnbridge_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "learnbridge_ws_connections_active",
			Help: "Authenticated websocket connections on this instance",
		},
	)

	Handshakes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnbridge_ws_handshakes_total",
			Help: "Websocket authentication attempts",
		},
		[]string{"result"}, // "ok", "refused", "error"
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnbridge_ws_events_received_total",
			Help: "Client events received",
		},
		[]string{"event"},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnbridge_ws_events_delivered_total",
			Help: "Server events queued to local connections",
		},
		[]string{"event"},
	)

	// Business metrics
	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "learnbridge_messages_persisted_total",
			Help: "Private messages stored and broadcast",
		},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnbridge_messages_rejected_total",
			Help: "Private messages refused before broadcast",
		},
		[]string{"reason"},
	)

	ReadReceipts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "learnbridge_read_receipts_total",
			Help: "markAsRead requests processed",
		},
	)

	// Infrastructure metrics
	BackplaneMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnbridge_backplane_messages_total",
			Help: "Deliveries exchanged with other instances",
		},
		[]string{"direction"}, // "published", "received", "dropped"
	)
)
