package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersSubmitted counts POST /order outcomes by result
// (published, invalid, rate_limited, publish_failed).
var OrdersSubmitted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orderrelay_orders_submitted_total",
		Help: "Order submissions received by the ingress endpoint, by result",
	},
	[]string{"result"},
)

// ReportsRelayed counts broker messages handled by the relay by outcome
// (delivered, unaddressed, unregistered, closed, dropped, malformed, broadcast).
var ReportsRelayed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orderrelay_reports_relayed_total",
		Help: "Execution reports consumed from the broker, by dispatch outcome",
	},
	[]string{"outcome"},
)

var (
	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderrelay_ws_connections",
			Help: "Currently open WebSocket connections",
		},
	)

	WSRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderrelay_ws_registered_users",
			Help: "Identifiers currently mapped to a live connection",
		},
	)

	WSEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orderrelay_ws_evictions_total",
			Help: "Connections closed because the same identifier registered again",
		},
	)
)

// RelayResubscribes counts subscription restarts after the broker dropped the relay.
var RelayResubscribes = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "orderrelay_relay_resubscribes_total",
		Help: "Report topic resubscription attempts",
	},
)

func init() {
	prometheus.MustRegister(OrdersSubmitted, ReportsRelayed)
	prometheus.MustRegister(WSConnections, WSRegistered, WSEvictions)
	prometheus.MustRegister(RelayResubscribes)
}
