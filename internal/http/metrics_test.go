package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/ordermatch/internal/logging"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: logging.NewNop(),
	}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/api/v1/resolve", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "completed"})
	})

	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/resolve", nil),
	} {
		e.ServeHTTP(httptest.NewRecorder(), r)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				if md.Name != "ordermatch.http.requests_total" {
					continue
				}
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				assert.Equal(t, int64(3), total)
			case metricdata.Histogram[float64]:
				var total uint64
				for _, dp := range data.DataPoints {
					total += dp.Count
				}
				assert.Equal(t, uint64(3), total)
			}
		}
	}
	assert.True(t, found["ordermatch.http.requests_total"])
	assert.True(t, found["ordermatch.http.request_duration_seconds"])
	assert.True(t, found["ordermatch.http.response_size_bytes"])
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/health", "/health"},
		{"/api/v1/resolve", "/api/v1/resolve"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizePath(tt.input))
	}
}
