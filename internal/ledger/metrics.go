package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the ledger's prometheus collectors.
type Metrics struct {
	Mutations *prometheus.CounterVec
	Reversals prometheus.Counter
}

// NewMetrics creates and registers the ledger collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "blastwheelz",
				Name:      "ledger_mutations_total",
				Help:      "Balance mutations by record kind and status.",
			},
			[]string{"kind", "status"},
		),
		Reversals: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "blastwheelz",
				Name:      "ledger_reversals_total",
				Help:      "Pending records reversed (compensations and rejections).",
			},
		),
	}
	reg.MustRegister(m.Mutations, m.Reversals)
	return m
}
