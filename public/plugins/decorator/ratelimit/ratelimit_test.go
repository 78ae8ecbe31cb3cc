package ratelimit

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/fujin-io/evstore/public/cerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	published int
}

func (c *countingSink) Publish(_ context.Context, _ []byte, _ [][]byte, callback func(err error)) {
	c.published++
	callback(nil)
}
func (c *countingSink) Flush(context.Context) error { return nil }
func (c *countingSink) Close() error                { return nil }

func TestNew_Defaults(t *testing.T) {
	d, err := New(nil, slog.Default())
	require.NoError(t, err)
	conf := d.(*rateLimitDecorator).conf
	assert.Equal(t, float64(DefaultEventsPerSecond), conf.EventsPerSecond)
	assert.Equal(t, DefaultEventsPerSecond, conf.Burst)
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(map[string]any{"events_per_second": -1}, slog.Default())
	assert.ErrorIs(t, err, cerr.ErrValidateConf)
}

func TestRateLimitSink_Publish_Throttles(t *testing.T) {
	d, err := New(map[string]any{"events_per_second": 50, "burst": 1}, slog.Default())
	require.NoError(t, err)

	inner := &countingSink{}
	s := d.Wrap(inner, "log")

	start := time.Now()
	for range 3 {
		s.Publish(context.Background(), nil, nil, func(err error) { require.NoError(t, err) })
	}
	assert.Equal(t, 3, inner.published)
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestRateLimitSink_Publish_CanceledContext(t *testing.T) {
	d, err := New(map[string]any{"events_per_second": 1, "burst": 1}, slog.Default())
	require.NoError(t, err)

	inner := &countingSink{}
	s := d.Wrap(inner, "log")
	s.Publish(context.Background(), nil, nil, func(error) {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var got error
	s.Publish(ctx, nil, nil, func(err error) { got = err })
	assert.Error(t, got)
	assert.Equal(t, 1, inner.published)
}
