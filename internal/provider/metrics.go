package provider

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/ordermatch/internal/provider"

// RaceWins counts races won per endpoint, scraped at /metrics.
var RaceWins = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ordermatch",
		Subsystem: "provider",
		Name:      "race_wins_total",
		Help:      "Races won by endpoint and operation.",
	},
	[]string{"endpoint", "operation"},
)

// Metrics records provider call latency, failures and race outcomes.
type Metrics struct {
	duration metric.Float64Histogram
	errors   metric.Int64Counter
	wins     metric.Int64Counter
}

// NewMetrics creates instruments on the global meter provider.
// Instrument creation errors leave that instrument unset.
func NewMetrics() *Metrics {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	m.duration, _ = meter.Float64Histogram(
		"ordermatch.provider.call_duration_seconds",
		metric.WithDescription("Latency of provider calls by endpoint and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	m.errors, _ = meter.Int64Counter(
		"ordermatch.provider.errors_total",
		metric.WithDescription("Failed provider calls by endpoint and operation"),
	)
	m.wins, _ = meter.Int64Counter(
		"ordermatch.provider.race_wins_total",
		metric.WithDescription("Races won by endpoint and operation"),
	)
	return m
}

func (m *Metrics) recordCall(ctx context.Context, endpoint, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("endpoint", endpoint), attribute.String("operation", op))
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) recordWin(ctx context.Context, endpoint, op string) {
	RaceWins.WithLabelValues(endpoint, op).Inc()
	if m == nil || m.wins == nil {
		return
	}
	m.wins.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint), attribute.String("operation", op)))
}
