package garage

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the mint outbox prometheus collectors.
type Metrics struct {
	Enqueued prometheus.Counter
	Minted   prometheus.Counter
	Failed   prometheus.Counter
}

// NewMetrics creates and registers the garage collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blastwheelz",
			Name:      "mint_jobs_enqueued_total",
			Help:      "Mint jobs added to the outbox.",
		}),
		Minted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blastwheelz",
			Name:      "mint_jobs_completed_total",
			Help:      "Mint jobs delivered on chain.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blastwheelz",
			Name:      "mint_jobs_failed_total",
			Help:      "Mint jobs that exhausted their retry budget.",
		}),
	}
	reg.MustRegister(m.Enqueued, m.Minted, m.Failed)
	return m
}
