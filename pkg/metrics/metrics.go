package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveConnections tracks live WebSocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_connections",
		Help: "Number of currently registered WebSocket connections.",
	})

	// MessagesRelayed counts messages accepted and published to the broker.
	MessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_relayed_total",
		Help: "Chat messages published to the broker.",
	})

	// BrokerReconnects counts times the broker connection was lost.
	BrokerReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_broker_reconnects_total",
		Help: "Broker reconnect cycles entered after a connection loss.",
	})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
