package backend

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "visiond",
			Name:      "predictions_total",
			Help:      "Predictions by outcome (succeeded, failed, canceled)",
		},
		[]string{"status"},
	)

	fragmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "visiond",
			Name:      "fragments_total",
			Help:      "Text fragments streamed from the backend",
		},
	)

	decodeWarningsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "visiond",
			Name:      "decode_warnings_total",
			Help:      "Backend stream lines skipped because they were not valid JSON",
		},
	)

	setupPhaseSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "visiond",
			Name:      "setup_phase_seconds",
			Help:      "Duration of each setup phase in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 10),
		},
		[]string{"phase"},
	)
)

func init() {
	prometheus.MustRegister(predictionsTotal, fragmentsTotal, decodeWarningsTotal, setupPhaseSeconds)
}
