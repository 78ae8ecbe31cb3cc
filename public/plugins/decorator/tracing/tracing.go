// Package tracing provides an OpenTelemetry tracing decorator for sinks.
// Every publish gets a producer span and the trace context is injected
// into the message headers.
//
//	decorators:
//	  - name: tracing
//	    config:
//	      enabled: true
//
// The tracer provider itself is set up by the observability.tracing
// section of the service config.
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/fujin-io/evstore/internal/observability"
	"github.com/fujin-io/evstore/public/plugins/decorator"
	"github.com/fujin-io/evstore/public/plugins/sink"
	"github.com/fujin-io/evstore/public/util"
)

var messagingSystem = semconv.MessagingSystemKey.String("evstore")

type Config struct {
	Enabled bool `yaml:"enabled"`
}

func init() {
	if err := decorator.Register("tracing", New); err != nil {
		panic(fmt.Sprintf("register tracing decorator: %v", err))
	}
}

func New(config any, l *slog.Logger) (decorator.Decorator, error) {
	cfg := Config{Enabled: true}
	if config != nil {
		if err := util.ConvertConfig(config, &cfg); err != nil {
			return nil, fmt.Errorf("tracing: convert config: %w", err)
		}
	}
	return &tracingDecorator{enabled: cfg.Enabled, l: l}, nil
}

type tracingDecorator struct {
	enabled bool
	l       *slog.Logger
}

func (d *tracingDecorator) Wrap(s sink.Sink, sinkName string) sink.Sink {
	if !d.enabled {
		return s
	}
	return &tracingSink{s: s, sinkName: sinkName}
}

// headersCarrier implements propagation.TextMapCarrier for flat [][]byte
// headers.
type headersCarrier struct {
	hs *[][]byte
}

func (c headersCarrier) Get(key string) string {
	headers := *c.hs
	for i := 0; i+1 < len(headers); i += 2 {
		if strings.EqualFold(string(headers[i]), key) {
			return string(headers[i+1])
		}
	}
	return ""
}

func (c headersCarrier) Set(key, value string) {
	*c.hs = append(*c.hs, []byte(key), []byte(value))
}

func (c headersCarrier) Keys() []string {
	headers := *c.hs
	keys := make([]string, 0, len(headers)/2)
	for i := 0; i+1 < len(headers); i += 2 {
		keys = append(keys, string(headers[i]))
	}
	return keys
}

type tracingSink struct {
	s        sink.Sink
	sinkName string
}

func (t *tracingSink) Publish(ctx context.Context, msg []byte, headers [][]byte, callback func(err error)) {
	attrs := []attribute.KeyValue{
		messagingSystem,
		attribute.String("sink", t.sinkName),
		attribute.Int("msg_size", len(msg)),
	}
	if typ := (headersCarrier{hs: &headers}).Get("es-event-type"); typ != "" {
		attrs = append(attrs, attribute.String("evstore.event_type", typ))
	}

	ctx, span := observability.Tracer().Start(ctx, "sink.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attrs...),
	)

	// copy so the caller's slice is never appended to
	hs := make([][]byte, len(headers), len(headers)+4)
	copy(hs, headers)
	observability.Propagator().Inject(ctx, headersCarrier{hs: &hs})

	t.s.Publish(ctx, msg, hs, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		callback(err)
	})
}

func (t *tracingSink) Flush(ctx context.Context) error {
	ctx, span := observability.Tracer().Start(ctx, "sink.flush",
		trace.WithAttributes(messagingSystem, attribute.String("sink", t.sinkName)),
	)
	defer span.End()

	err := t.s.Flush(ctx)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (t *tracingSink) Close() error {
	return t.s.Close()
}
