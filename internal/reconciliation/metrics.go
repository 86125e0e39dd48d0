package reconciliation

import (
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	driftUnits = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "blastwheelz",
		Subsystem: "reconciliation",
		Name:      "drift_units",
		Help:      "Treasury balance minus outstanding liability, in token units, from the last run.",
	})

	uncovered = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "blastwheelz",
		Subsystem: "reconciliation",
		Name:      "uncovered",
		Help:      "1 when the last run found the treasury short beyond tolerance, else 0.",
	})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "blastwheelz",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	runErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "blastwheelz",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation run errors.",
	})
)

func init() {
	prometheus.MustRegister(driftUnits, uncovered, runDuration, runErrors)
}

func observeRun(elapsed time.Duration, res *Result, err error) {
	runDuration.Observe(elapsed.Seconds())
	if err != nil {
		runErrors.Inc()
		return
	}

	if d, ok := new(big.Int).SetString(res.DriftUnits, 10); ok {
		f, _ := new(big.Float).SetInt(d).Float64()
		driftUnits.Set(f)
	}
	if res.Covered {
		uncovered.Set(0)
	} else {
		uncovered.Set(1)
	}
}
