package metrics

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/fujin-io/evstore/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct {
	err error
}

func (f failingSink) Publish(_ context.Context, _ []byte, _ [][]byte, callback func(err error)) {
	callback(f.err)
}
func (f failingSink) Flush(context.Context) error { return f.err }
func (f failingSink) Close() error                { return nil }

func TestMetricsSink_PassesThrough(t *testing.T) {
	shutdown, err := observability.Init(context.Background(),
		observability.Config{Metrics: observability.MetricsConfig{Enabled: true}}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	dec, err := New(nil, slog.Default())
	require.NoError(t, err)

	boom := errors.New("boom")
	s := dec.Wrap(failingSink{err: boom}, "kafka")

	var got error
	s.Publish(context.Background(), nil, nil, func(err error) { got = err })
	assert.ErrorIs(t, got, boom)
	assert.ErrorIs(t, s.Flush(context.Background()), boom)
	assert.NoError(t, s.Close())

	families, err := observability.Registry().Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "evstore_sink_publish_latency_seconds" {
			found = true
			assert.Equal(t, uint64(1), f.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
	assert.True(t, found)
}
