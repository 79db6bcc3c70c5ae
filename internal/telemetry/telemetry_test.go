package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "debug", "json")
	require.NoError(t, err)
	logger.With("component", "test").Debug("hello", "n", 3)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "test", rec["component"])
	assert.Equal(t, float64(3), rec["n"])

	buf.Reset()
	logger, err = NewLogger(&buf, "warn", "text")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")

	_, err = NewLogger(&buf, "loud", "text")
	assert.ErrorIs(t, err, ErrUnknownLevel)
	_, err = NewLogger(&buf, "info", "xml")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestObservePass(t *testing.T) {
	before := testutil.ToFloat64(movesAttempted.WithLabelValues("Probe"))
	ObservePass("Probe", 10, 4, 20*time.Millisecond, map[string]float64{"translation": 0.12})
	ObservePass("Probe", 5, 1, 10*time.Millisecond, map[string]float64{"translation": 0.1})
	assert.Equal(t, before+15, testutil.ToFloat64(movesAttempted.WithLabelValues("Probe")))
	assert.Equal(t, 0.1, testutil.ToFloat64(stepSize.WithLabelValues("Probe", "translation")))

	ObserveEnergy(-10, 4)
	assert.Equal(t, -6.0, testutil.ToFloat64(energy.WithLabelValues("total")))
	ObserveVersion(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(contentVersion))
}

func TestInitExporters(t *testing.T) {
	_, err := Init(context.Background(), Config{TraceExporter: "jaeger"})
	assert.ErrorIs(t, err, ErrUnknownExporter)

	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	shutdown, err := Init(context.Background(), Config{
		ServiceName:    "dissolve-test",
		RunID:          "run-1",
		TraceExporter:  "stdout",
		MetricExporter: "prometheus",
		Writer:         &buf,
		Registry:       reg,
	})
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "iteration")
	span.End()
	counter, err := otel.Meter("probe").Int64Counter("probe_collectives")
	require.NoError(t, err)
	counter.Add(context.Background(), 2)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "probe_collectives")

	require.NoError(t, shutdown(context.Background()))
	assert.True(t, strings.Contains(buf.String(), `"Name":"iteration"`))
}
