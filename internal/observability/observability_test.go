package observability

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	assert.False(t, MetricsEnabled())
	assert.False(t, TracingEnabled())
	assert.NotPanics(t, func() {
		ObserveOperation("AppendToStream", nil, time.Millisecond)
		IncRetry("AppendToStream")
		IncReconnection()
	})
	_, end := StartSpan(context.Background(), "noop")
	end(nil)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_MetricsWithoutServer(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Metrics: MetricsConfig{Enabled: true}}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	ObserveOperation("AppendToStream", nil, time.Millisecond)
	ObserveOperation("AppendToStream", errors.New("x"), time.Millisecond)
	IncRetry("ReadEvent")
	IncSubscriptionDrop("connection_closed")
	IncReconnection()
	IncRelayEvent("orders", "kafka")
	ObserveSinkPublish("kafka", errors.New("x"), time.Millisecond)

	assert.True(t, MetricsEnabled())
	assert.Equal(t, 1.0, testutil.ToFloat64(relayEventsTotal.WithLabelValues("orders", "kafka")))
	assert.Equal(t, 1.0, testutil.ToFloat64(errorsTotal.WithLabelValues("publish", "kafka")))
	assert.Equal(t, 1.0, testutil.ToFloat64(opsTotal.WithLabelValues("AppendToStream", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(opsTotal.WithLabelValues("AppendToStream", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(retriesTotal.WithLabelValues("ReadEvent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(dropsTotal.WithLabelValues("connection_closed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reconnectionsTotal))
	require.NotNil(t, Registry())
}

func TestConfig_SetDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, DefaultMetricsPath, c.Metrics.Path)
	assert.Equal(t, DefaultOTLPEndpoint, c.Tracing.OTLPEndpoint)
	assert.Equal(t, float64(1), c.Tracing.SampleRatio)
	assert.Equal(t, DefaultServiceName, c.Tracing.Resource.ServiceName)
}

func TestInit_InvalidSampleRatio(t *testing.T) {
	_, err := Init(context.Background(), Config{Tracing: TracingConfig{SampleRatio: 2}}, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}
