package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DocumentsTotal counts processed documents.
	// Labels: status (completed, failed)
	DocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ordermatch",
			Subsystem: "pipeline",
			Name:      "documents_total",
			Help:      "Total number of documents resolved by terminal status",
		},
		[]string{"status"},
	)

	DocumentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ordermatch",
			Subsystem: "pipeline",
			Name:      "document_duration_seconds",
			Help:      "Duration of document resolution in seconds",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		},
	)

	ConfidenceScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ordermatch",
			Subsystem: "pipeline",
			Name:      "confidence",
			Help:      "Document confidence scores",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		},
	)
)
