package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atelier_http_requests_total",
		Help: "Total number of HTTP requests.",
	},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atelier_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	},
		[]string{"route", "method"},
	)

	CourierWebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atelier_courier_webhooks_total",
		Help: "Courier webhooks received, by courier and outcome.",
	},
		[]string{"courier", "outcome"},
	)

	TrackingSyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atelier_tracking_syncs_total",
		Help: "Tracking sync attempts, by courier and outcome (ok, degraded, failed).",
	},
		[]string{"courier", "outcome"},
	)

	CourierRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atelier_courier_request_duration_seconds",
		Help:    "Latency of courier tracking API calls.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	},
		[]string{"courier"},
	)

	DeliveryTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atelier_delivery_transitions_total",
		Help: "Persisted delivery status transitions.",
	},
		[]string{"from", "to"},
	)

	NotificationsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atelier_notifications_created_total",
		Help: "Notification rows inserted, by type.",
	},
		[]string{"type"},
	)

	SocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atelier_socket_connections",
		Help: "Currently open realtime socket connections.",
	})

	SocketEventsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atelier_socket_events_sent_total",
		Help: "Envelopes queued to socket connections, by type.",
	},
		[]string{"type"},
	)

	SocketDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atelier_socket_dropped_total",
		Help: "Connections dropped because their send buffer was full.",
	})

	PollerIntervalSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "atelier_poller_interval_seconds",
		Help: "Current interval of adaptive pollers.",
	},
		[]string{"poller"},
	)

	PollerCircuitOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "atelier_poller_circuit_open",
		Help: "1 when a poller's circuit breaker is tripped.",
	},
		[]string{"poller"},
	)
)
