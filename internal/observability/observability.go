// Package observability exposes the client's Prometheus metrics and
// OpenTelemetry tracing. Both are off until Init enables them; the
// recording helpers are no-ops while disabled.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/fujin-io/evstore"

var (
	metricsEnabled atomic.Bool
	tracingEnabled atomic.Bool

	defaultTracer trace.Tracer

	opsTotal           *prometheus.CounterVec
	retriesTotal       *prometheus.CounterVec
	opLatencySec       *prometheus.HistogramVec
	dropsTotal         *prometheus.CounterVec
	reconnectionsTotal prometheus.Counter
	relayEventsTotal   *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
	sinkPublishSec     *prometheus.HistogramVec

	registry *prometheus.Registry
)

func MetricsEnabled() bool {
	return metricsEnabled.Load()
}

func TracingEnabled() bool {
	return tracingEnabled.Load()
}

func Tracer() trace.Tracer {
	if defaultTracer != nil {
		return defaultTracer
	}
	return otel.Tracer(instrumentationName)
}

func Propagator() propagation.TextMapPropagator {
	return otel.GetTextMapPropagator()
}

// Registry returns the registry metrics are recorded in, or nil while
// metrics are disabled.
func Registry() *prometheus.Registry {
	return registry
}

// Init enables what cfg asks for and returns a shutdown func that undoes it.
func Init(ctx context.Context, cfg Config, l *slog.Logger) (func(context.Context) error, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	shutdownFns := []func(context.Context) error{}

	if cfg.Metrics.Enabled {
		initMetrics()

		if cfg.Metrics.Addr != "" {
			mux := http.NewServeMux()
			mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
			httpSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					l.Error("metrics http server", "err", err)
				}
			}()
			l.Info("metrics server started", "addr", cfg.Metrics.Addr)
			shutdownFns = append(shutdownFns, httpSrv.Shutdown)
		}
		shutdownFns = append(shutdownFns, func(context.Context) error {
			metricsEnabled.Store(false)
			return nil
		})
	}

	if cfg.Tracing.Enabled {
		var opts []otlptracegrpc.Option
		opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Tracing.OTLPEndpoint))
		if cfg.Tracing.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			l.Error("init otlp exporter", "err", err)
		} else {
			tracingEnabled.Store(true)
			sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Tracing.SampleRatio))
			res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
				"",
				attribute.String("service.name", cfg.Tracing.Resource.ServiceName),
				attribute.String("service.version", cfg.Tracing.Resource.ServiceVersion),
				attribute.String("deployment.environment", cfg.Tracing.Resource.Environment),
			))
			tp := sdktrace.NewTracerProvider(
				sdktrace.WithBatcher(exp),
				sdktrace.WithSampler(sampler),
				sdktrace.WithResource(res),
			)
			otel.SetTracerProvider(tp)
			otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
			defaultTracer = tp.Tracer(instrumentationName)
			shutdownFns = append(shutdownFns, func(ctx context.Context) error {
				tracingEnabled.Store(false)
				return tp.Shutdown(ctx)
			})
		}
	}

	return func(ctx context.Context) error {
		var errs []error
		for i := len(shutdownFns) - 1; i >= 0; i-- {
			if err := shutdownFns[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}, nil
}

func initMetrics() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evstore_operations_total",
		Help: "Completed client operations by result",
	}, []string{"operation", "result"})
	retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evstore_operation_retries_total",
		Help: "Operation and subscription retries",
	}, []string{"operation"})
	opLatencySec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evstore_operation_latency_seconds",
		Help:    "Client operation latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	dropsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evstore_subscription_drops_total",
		Help: "Subscription drops by reason",
	}, []string{"reason"})
	reconnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evstore_reconnections_total",
		Help: "Reconnection attempts",
	})
	relayEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evstore_relay_events_total",
		Help: "Events published by relays",
	}, []string{"relay", "sink"})
	errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evstore_errors_total",
		Help: "Errors by stage and component",
	}, []string{"stage", "component"})
	sinkPublishSec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evstore_sink_publish_latency_seconds",
		Help:    "Sink publish latency until the broker confirmed",
		Buckets: prometheus.DefBuckets,
	}, []string{"sink"})
	reg.MustRegister(opsTotal, retriesTotal, opLatencySec, dropsTotal, reconnectionsTotal, relayEventsTotal, errorsTotal, sinkPublishSec)

	registry = reg
	metricsEnabled.Store(true)
}

func ObserveOperation(operation string, err error, d time.Duration) {
	if !MetricsEnabled() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	opsTotal.WithLabelValues(operation, result).Inc()
	opLatencySec.WithLabelValues(operation).Observe(d.Seconds())
}

func IncRetry(operation string) {
	if !MetricsEnabled() {
		return
	}
	retriesTotal.WithLabelValues(operation).Inc()
}

func IncSubscriptionDrop(reason string) {
	if !MetricsEnabled() {
		return
	}
	dropsTotal.WithLabelValues(reason).Inc()
}

func IncReconnection() {
	if !MetricsEnabled() {
		return
	}
	reconnectionsTotal.Inc()
}

func IncRelayEvent(relay, sink string) {
	if !MetricsEnabled() {
		return
	}
	relayEventsTotal.WithLabelValues(relay, sink).Inc()
}

func IncError(stage, component string) {
	if !MetricsEnabled() {
		return
	}
	errorsTotal.WithLabelValues(stage, component).Inc()
}

// ObserveSinkPublish records one completed sink publish. Failures also
// count as "publish" errors of the sink.
func ObserveSinkPublish(sink string, err error, d time.Duration) {
	if !MetricsEnabled() {
		return
	}
	sinkPublishSec.WithLabelValues(sink).Observe(d.Seconds())
	if err != nil {
		errorsTotal.WithLabelValues("publish", sink).Inc()
	}
}

// StartSpan starts a client span when tracing is enabled. The returned end
// func records err on the span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	if !TracingEnabled() {
		return ctx, func(error) {}
	}
	ctx, span := Tracer().Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
