package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Strategy-level counters and gauges, labeled by the EXCHANGE_TICKER tag so
// parallel runners share one registry.
var (
	EntryOrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_trader_entry_orders_placed_total",
		Help: "Number of entry orders placed",
	}, []string{"tag"})

	EntryOrdersFilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_trader_entry_orders_filled_total",
		Help: "Number of entry orders that reached FILLED",
	}, []string{"tag"})

	OrdersCanceled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_trader_orders_canceled_total",
		Help: "Number of entry orders canceled after the fill wait expired",
	}, []string{"tag"})

	CloseOrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_trader_close_orders_placed_total",
		Help: "Number of close orders issued",
	}, []string{"tag"})

	ReconcileCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_trader_reconcile_corrections_total",
		Help: "Number of market-order corrections issued by the reconciler",
	}, []string{"tag"})

	Position = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grid_trader_position",
		Help: "Last observed absolute position size",
	}, []string{"tag"})

	ActiveCloseOrders = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grid_trader_active_close_orders",
		Help: "Number of active close orders at the last snapshot",
	}, []string{"tag"})
)
