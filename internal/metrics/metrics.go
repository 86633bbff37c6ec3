// Package metrics provides Prometheus instrumentation for the chat server:
// gauges for live connections and subscribed chats, counters for message
// outcomes, and a histogram for fan-out latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of open chat connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "connecthub_ws_connections",
		Help: "Current number of open chat WebSocket connections",
	})

	// SubscribedChats tracks the number of chats with at least one live
	// connection.
	SubscribedChats = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "connecthub_ws_subscribed_chats",
		Help: "Number of chats with at least one live connection",
	})

	// MessagesTotal counts inbound message outcomes, labeled by result:
	// "persisted", "rejected" (validation or rate limit), or "failed"
	// (store error).
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connecthub_chat_messages_total",
		Help: "Total number of inbound chat messages by outcome",
	}, []string{"result"})

	// BroadcastDeliveries counts individual socket deliveries during fan-out.
	BroadcastDeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connecthub_chat_broadcast_deliveries_total",
		Help: "Total number of per-socket broadcast deliveries",
	})

	// BroadcastLatency records the time to fan a message out to all
	// registered connections of its chat.
	BroadcastLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "connecthub_chat_broadcast_latency_seconds",
		Help:    "Fan-out latency per message in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		SubscribedChats,
		MessagesTotal,
		BroadcastDeliveries,
		BroadcastLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
