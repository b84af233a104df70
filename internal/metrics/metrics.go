// Package metrics holds the Prometheus collectors of the realtime service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LiveDocuments is the number of document actors held in memory.
	LiveDocuments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_live_documents",
		Help: "Document actors currently held in memory",
	})

	// Connections is the number of authenticated websocket connections.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_connections",
		Help: "Authenticated websocket connections",
	})

	// UpdatesApplied counts CRDT updates merged into live documents by origin.
	UpdatesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_updates_applied_total",
		Help: "CRDT updates merged into live documents",
	}, []string{"origin"})

	// Flushes counts debounced persistence attempts by result.
	Flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_flushes_total",
		Help: "Debounced document flushes by result",
	}, []string{"result"})

	// FlushDuration tracks how long a save to the store takes.
	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "collab_flush_duration_seconds",
		Help:    "Duration of document saves",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	// Evictions counts idle documents removed from memory.
	Evictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_evictions_total",
		Help: "Idle document actors evicted",
	})

	// Rejections counts operations answered with an error frame, by code.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_rejections_total",
		Help: "Client operations rejected, by error code",
	}, []string{"code"})

	// RelayEvents counts cross-process events by direction.
	RelayEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_relay_events_total",
		Help: "Events published to or received from the relay",
	}, []string{"direction"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
