package compare

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rowsCompared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "truncf_rows_compared_total",
		Help: "Total number of integers converted both ways",
	})

	divergentRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "truncf_divergent_rows_total",
		Help: "Total number of integers where truncation and native rounding disagree",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "truncf_batch_duration_seconds",
		Help:    "Time spent evaluating one comparison batch",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})
)
