package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talentchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Messaging metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talentchat_messages_sent_total",
			Help: "Messages durably appended",
		},
	)

	SendsRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talentchat_sends_rate_limited_total",
			Help: "Sends rejected by the per-room send rate limit",
		},
	)

	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talentchat_persist_failures_total",
			Help: "Sends whose persistence failed",
		},
	)

	BroadcastDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talentchat_broadcast_delivered_total",
			Help: "Events handed to subscriber buffers",
		},
	)

	BroadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talentchat_broadcast_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)

	ActiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "talentchat_active_subscribers",
			Help: "Connected broadcast subscribers",
		},
	)

	RelayErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talentchat_relay_errors_total",
			Help: "Cross-instance relay errors",
		},
		[]string{"op"},
	)

	// Migration metrics
	RoomsMigrated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talentchat_rooms_migrated_total",
			Help: "Room merge decisions by outcome",
		},
		[]string{"outcome"}, // "merged" or "failed"
	)
)
