package tracing

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type recordingSink struct {
	headers [][]byte
}

func (r *recordingSink) Publish(_ context.Context, _ []byte, headers [][]byte, callback func(err error)) {
	r.headers = headers
	callback(assert.AnError)
}
func (r *recordingSink) Flush(context.Context) error { return nil }
func (r *recordingSink) Close() error                { return nil }

func TestTracingSink_Publish_InjectsContext(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	dec, err := New(nil, slog.Default())
	require.NoError(t, err)

	inner := &recordingSink{}
	s := dec.Wrap(inner, "nats_core")

	headers := [][]byte{[]byte("es-event-type"), []byte("OrderPlaced")}
	var got error
	s.Publish(context.Background(), []byte("{}"), headers, func(err error) { got = err })

	assert.ErrorIs(t, got, assert.AnError)
	assert.Len(t, headers, 2)
	assert.NotEmpty(t, headersCarrier{hs: &inner.headers}.Get("traceparent"))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "sink.publish", spans[0].Name)
	assert.Len(t, spans[0].Events, 1)
}

func TestNew_Disabled(t *testing.T) {
	dec, err := New(map[string]any{"enabled": false}, slog.Default())
	require.NoError(t, err)

	inner := &recordingSink{}
	assert.Same(t, inner, dec.Wrap(inner, "kafka"))
}

func TestHeadersCarrier(t *testing.T) {
	hs := [][]byte{[]byte("Traceparent"), []byte("x")}
	c := headersCarrier{hs: &hs}

	assert.Equal(t, "x", c.Get("traceparent"))
	c.Set("baggage", "k=v")
	assert.Equal(t, []string{"Traceparent", "baggage"}, c.Keys())
}
