package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts sink operations.
	// Labels: sink (chromem, qdrant), op (upsert, query), result (success, schema_error, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deltasync",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"sink", "op", "result"},
	)

	// OperationDuration tracks how long sink operations take.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deltasync",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"sink", "op"},
	)
)

func observe(sink, op string, start time.Time, err error) {
	result := "success"
	switch {
	case IsSchemaError(err):
		result = "schema_error"
	case err != nil:
		result = "error"
	}
	OperationsTotal.WithLabelValues(sink, op, result).Inc()
	OperationDuration.WithLabelValues(sink, op).Observe(time.Since(start).Seconds())
}
