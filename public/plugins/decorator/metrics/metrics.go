// Package metrics provides a Prometheus decorator for sinks. It records
// publish latency and failures per sink.
//
//	decorators:
//	  - name: metrics
//
// Metrics are served by the observability.metrics section of the service
// config; without it the decorator records nothing.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fujin-io/evstore/internal/observability"
	"github.com/fujin-io/evstore/public/plugins/decorator"
	"github.com/fujin-io/evstore/public/plugins/sink"
)

func init() {
	if err := decorator.Register("metrics", New); err != nil {
		panic(fmt.Sprintf("register metrics decorator: %v", err))
	}
}

func New(_ any, l *slog.Logger) (decorator.Decorator, error) {
	return &metricsDecorator{l: l}, nil
}

type metricsDecorator struct {
	l *slog.Logger
}

func (d *metricsDecorator) Wrap(s sink.Sink, sinkName string) sink.Sink {
	return &metricsSink{s: s, sinkName: sinkName}
}

type metricsSink struct {
	s        sink.Sink
	sinkName string
}

func (m *metricsSink) Publish(ctx context.Context, msg []byte, headers [][]byte, callback func(err error)) {
	start := time.Now()
	m.s.Publish(ctx, msg, headers, func(err error) {
		observability.ObserveSinkPublish(m.sinkName, err, time.Since(start))
		callback(err)
	})
}

func (m *metricsSink) Flush(ctx context.Context) error {
	err := m.s.Flush(ctx)
	if err != nil {
		observability.IncError("flush", m.sinkName)
	}
	return err
}

func (m *metricsSink) Close() error {
	return m.s.Close()
}
