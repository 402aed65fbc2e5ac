package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Broadcasts counts room-scoped events handed to the transport, by event name.
	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codecollab",
		Name:      "broadcasts_total",
		Help:      "Room broadcasts emitted, by event.",
	}, []string{"event"})

	// BroadcastFailures counts broadcasts the transport rejected.
	BroadcastFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codecollab",
		Name:      "broadcast_failures_total",
		Help:      "Room broadcasts the transport failed to deliver, by event.",
	}, []string{"event"})

	EditsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "codecollab",
		Name:      "edits_scheduled_total",
		Help:      "Edits recorded as pending writes.",
	})

	// Flushes counts debounced writes by result: ok, error or cancelled.
	Flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codecollab",
		Name:      "coalesced_flushes_total",
		Help:      "Debounced content writes issued to the store, by result.",
	}, []string{"result"})

	PendingWrites = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codecollab",
		Name:      "pending_writes",
		Help:      "Files with a scheduled but not yet flushed write.",
	})

	Participants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codecollab",
		Name:      "participants",
		Help:      "Connections currently joined to a room.",
	})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
