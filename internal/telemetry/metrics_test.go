package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"sitemirror/internal/config"
	"sitemirror/internal/logger"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersRecord(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(ctx)

	m, err := NewMetrics(ctx, provider.Meter("test"))
	require.NoError(t, err)

	m.PageVisited(2)
	m.FileDownloaded(3)
	m.FileDownloaded(1)
	m.FileFailed(1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok, md.Name)
			for _, dp := range sum.DataPoints {
				totals[md.Name] += dp.Value
			}
		}
	}

	assert.Equal(t, int64(2), totals["sitemirror.pages.visited"])
	assert.Equal(t, int64(4), totals["sitemirror.files.downloaded"])
	assert.Equal(t, int64(1), totals["sitemirror.files.failed"])
	assert.Zero(t, totals["sitemirror.files.recovered"])
}

func TestSetupMetricsDisabled(t *testing.T) {
	m, err := SetupMetrics(context.Background(), config.DefaultConfig(), "instance", logger.Nop())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.PageVisited(1)
		m.FileSkipped(1)
		m.FileRecovered(1)
		m.Close()
	})
}

func TestSetupMetricsExportsToCollector(t *testing.T) {
	var exports atomic.Int32
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/v1/metrics" {
			exports.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	cfg := config.DefaultConfig()
	cfg.TelemetryEnabled = true
	cfg.TelemetryCollectorURL = strings.TrimPrefix(collector.URL, "http://")

	m, err := SetupMetrics(context.Background(), cfg, "instance-1", logger.Nop())
	require.NoError(t, err)

	m.PageVisited(1)
	m.FileDownloaded(2)
	m.Close()

	assert.GreaterOrEqual(t, exports.Load(), int32(1), "shutdown flushes to the collector")
}

func TestResourceIdentifiesInstance(t *testing.T) {
	r := newResource("instance-1")

	assert.Equal(t, semconv.SchemaURL, r.SchemaURL())
	attrs := map[string]string{}
	for _, kv := range r.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "sitemirror", attrs[string(semconv.ServiceNameKey)])
	assert.Equal(t, "instance-1", attrs[string(semconv.ServiceInstanceIDKey)])
}
