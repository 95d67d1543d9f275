package orders

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Orders committed with status PENDING.",
	})
	ordersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_rejected_total",
		Help: "Order attempts rolled back, by error kind.",
	}, []string{"kind"})
	ordersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Orders cancelled with stock restored.",
	})
	unitsRestocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_units_restocked_total",
		Help: "Units added back through restock operations.",
	})
)
