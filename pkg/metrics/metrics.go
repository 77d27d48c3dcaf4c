package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// App lifecycle metrics
var (
	// AppsCreatedTotal counts app creations by kind and result
	AppsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appcanvas_apps_created_total",
			Help: "App creations by kind and result",
		},
		[]string{"kind", "result"},
	)

	// AppsLive tracks apps with a live proxy on this participant
	AppsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "appcanvas_apps_live",
			Help: "Apps with a live proxy",
		},
	)

	CreationQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "appcanvas_creation_queue_depth",
			Help: "Creations waiting in the creation queue",
		},
	)

	// CreationDuration tracks how long one queued creation takes
	CreationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "appcanvas_creation_duration_seconds",
			Help:    "Duration of queued app creations in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	AppRebuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "appcanvas_app_rebuilds_total",
			Help: "Apps rebuilt after a reconnect",
		},
	)
)

// Relay metrics
var (
	// RelayConnectionsCurrent tracks open sync connections by room
	RelayConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "appcanvas_relay_connections_current",
			Help: "Open relay connections by room",
		},
		[]string{"room"},
	)

	// SyncMessagesTotal counts sync messages by direction
	SyncMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appcanvas_sync_messages_total",
			Help: "Sync messages by direction (sent/received)",
		},
		[]string{"direction"},
	)

	// BusMessagesTotal counts fanned-out bus messages by result
	BusMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appcanvas_bus_messages_total",
			Help: "Bus messages relayed, by result (relayed/dropped)",
		},
		[]string{"result"},
	)

	RoomBackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appcanvas_room_backups_total",
			Help: "Room snapshots written to the database, by result",
		},
		[]string{"result"},
	)

	// ReconnectsTotal counts transport reconnect attempts
	ReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "appcanvas_transport_reconnects_total",
			Help: "Transport reconnect attempts",
		},
	)
)

// Loader metrics
var (
	// AppCodeCacheTotal counts code cache lookups by result (hit/miss)
	AppCodeCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appcanvas_app_code_cache_total",
			Help: "App code cache lookups by result",
		},
		[]string{"result"},
	)
)
