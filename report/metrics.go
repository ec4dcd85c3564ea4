package report

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	kindSingle = "single"
	kindBatch  = "batch"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportq",
		Name:      "dispatch_total",
		Help:      "Runs submitted, labelled by kind (single|batch) and mode (sync|async).",
	}, []string{"kind", "mode"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportq",
		Name:      "runs_total",
		Help:      "Runs executed, labelled by kind and outcome (ok|error).",
	}, []string{"kind", "outcome"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reportq",
		Name:      "run_duration_seconds",
		Help:      "Run execution time in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"kind"})
)

func modeLabel(sync bool) string {
	if sync {
		return "sync"
	}
	return "async"
}
