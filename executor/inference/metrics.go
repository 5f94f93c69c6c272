package inference

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchSizeHist = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cchess_inference_batch_size",
		Help:    "Positions per oracle call",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	})

	oracleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cchess_inference_oracle_seconds",
		Help:    "Oracle call duration",
		Buckets: []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.5},
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cchess_inference_queue_depth",
		Help: "Requests waiting for the next batch",
	})

	// oracleErrors counts failed batches by cause: "oracle", "malformed".
	oracleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cchess_inference_errors_total",
		Help: "Failed oracle batches by cause",
	}, []string{"cause"})
)
