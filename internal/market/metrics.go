package market

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the market's prometheus collectors.
type Metrics struct {
	Purchases *prometheus.CounterVec
	SoldOut   prometheus.Counter
}

// NewMetrics creates and registers the market collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Purchases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "blastwheelz",
				Name:      "market_purchases_total",
				Help:      "Committed purchases by item type.",
			},
			[]string{"type"},
		),
		SoldOut: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "blastwheelz",
				Name:      "market_sold_out_total",
				Help:      "Items that transitioned to sold_out.",
			},
		),
	}
	reg.MustRegister(m.Purchases, m.SoldOut)
	return m
}
