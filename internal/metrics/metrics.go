// Package metrics holds the Prometheus collectors for the sync engine.
// Collectors register with the default registry on package init and are
// served by promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Write results.
const (
	ResultOK          = "ok"
	ResultValidation  = "validation"
	ResultNotFound    = "not_found"
	ResultPersistence = "persistence"
	ResultError       = "error"
)

// Delivery results.
const (
	DeliverySent       = "sent"
	DeliverySuppressed = "suppressed"
	DeliveryFailed     = "failed"
)

var (
	// Write path
	ContentWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesite_content_writes_total",
			Help: "Content writes through the coordinator by action and result",
		},
		[]string{"action", "result"},
	)

	ContentWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "livesite_content_write_duration_seconds",
			Help:    "Time from validation to durable store and history write",
			Buckets: prometheus.DefBuckets,
		},
	)

	Compensations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesite_store_compensations_total",
			Help: "Store restores after a failed history append, by outcome",
		},
		[]string{"outcome"},
	)

	// Push channel
	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesite_push_deliveries_total",
			Help: "Push messages enqueued to sessions by message type and result",
		},
		[]string{"type", "result"},
	)

	SessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "livesite_sessions_active",
			Help: "Currently registered push sessions by role",
		},
		[]string{"role"},
	)

	SessionsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livesite_sessions_reaped_total",
			Help: "Sessions unregistered by the heartbeat reaper",
		},
	)

	// Poll endpoint
	PollRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livesite_poll_requests_total",
			Help: "Calls to the changes-since poll endpoint",
		},
	)

	PollChanges = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "livesite_poll_changes",
			Help:    "Number of changes returned per poll",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	// Cross-replica bus
	BusMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesite_bus_messages_total",
			Help: "Event bus messages by direction and result",
		},
		[]string{"direction", "result"},
	)

	// Export
	ExportRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesite_export_runs_total",
			Help: "Scheduled content exports by destination and result",
		},
		[]string{"destination", "result"},
	)
)
