package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts finished cycles by the state they ended in.
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deltasync",
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Total number of sync cycles by final state",
		},
		[]string{"state"},
	)

	// UnitsTotal counts delta entries. Labels: result (succeeded, skipped, filtered)
	UnitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deltasync",
			Subsystem: "sync",
			Name:      "units_total",
			Help:      "Total number of delta entries processed by outcome",
		},
		[]string{"result"},
	)

	// CycleDuration tracks end-to-end cycle latency.
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "deltasync",
			Subsystem: "sync",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of sync cycles in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// LastCommitTimestamp is the unix time of the last pointer write.
	LastCommitTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "deltasync",
			Subsystem: "sync",
			Name:      "last_commit_timestamp_seconds",
			Help:      "Unix time of the last successful revision pointer write",
		},
	)
)

func recordCycle(res Result) {
	CyclesTotal.WithLabelValues(string(res.State)).Inc()
	CycleDuration.Observe(res.Duration.Seconds())
	if n := res.Summary.Succeeded; n > 0 {
		UnitsTotal.WithLabelValues("succeeded").Add(float64(n))
	}
	if n := res.Summary.Skipped; n > 0 {
		UnitsTotal.WithLabelValues("skipped").Add(float64(n))
	}
	if n := res.Summary.Filtered; n > 0 {
		UnitsTotal.WithLabelValues("filtered").Add(float64(n))
	}
}
