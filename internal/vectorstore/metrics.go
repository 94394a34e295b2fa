package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("ordermatch.vectorstore")

var (
	// QueryDuration tracks catalog query latency.
	// Labels: backend, index
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ordermatch",
			Subsystem: "vectorstore",
			Name:      "query_duration_seconds",
			Help:      "Duration of vector index queries in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"backend", "index"},
	)

	// QueryTotal counts queries by outcome.
	// Labels: backend, result (hit, empty, error)
	QueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ordermatch",
			Subsystem: "vectorstore",
			Name:      "queries_total",
			Help:      "Total number of vector index queries by result",
		},
		[]string{"backend", "result"},
	)
)

func observeQuery(backend, index string, start time.Time, n int, err error) {
	QueryDuration.WithLabelValues(backend, index).Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		QueryTotal.WithLabelValues(backend, "error").Inc()
	case n == 0:
		QueryTotal.WithLabelValues(backend, "empty").Inc()
	default:
		QueryTotal.WithLabelValues(backend, "hit").Inc()
	}
}
