// Package sink provides a plugin system for relay sinks.
// A sink publishes relayed events to a message broker like Kafka, NATS
// or RabbitMQ.
//
// To register a sink, import it in your main package:
//
//	import _ "github.com/fujin-io/evstore/public/plugins/sink/kafka"
//
// The sink will register itself automatically via init().
package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/fujin-io/evstore/public/plugins/sink/config"
)

// Sink publishes messages to a broker. Headers are flat key/value pairs:
// headers[0] is the first key, headers[1] its value and so on.
//
// Publish may complete asynchronously; callback is invoked exactly once.
// Flush blocks until every callback of earlier Publish calls has run.
type Sink interface {
	Publish(ctx context.Context, msg []byte, headers [][]byte, callback func(err error))
	Flush(ctx context.Context) error
	io.Closer
}

// Factory creates a sink from its protocol specific settings.
type Factory func(settings any, l *slog.Logger) (Sink, error)

var (
	factories = make(map[string]Factory)
	mu        sync.RWMutex
)

// Register registers a sink factory with the given protocol name.
// Returns an error if the protocol is already registered.
func Register(protocol string, factory Factory) error {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[protocol]; exists {
		return fmt.Errorf("sink factory for protocol %q already registered", protocol)
	}

	factories[protocol] = factory
	return nil
}

// Get returns a sink factory by protocol name.
func Get(protocol string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()

	factory, ok := factories[protocol]
	return factory, ok
}

// List returns all registered protocol names in sorted order.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for protocol := range factories {
		names = append(names, protocol)
	}
	slices.Sort(names)
	return names
}

// New creates a sink using the registered factory for conf.Protocol.
func New(conf config.Config, l *slog.Logger) (Sink, error) {
	factory, ok := Get(conf.Protocol)
	if !ok {
		return nil, fmt.Errorf("unsupported protocol: %q (is it compiled in?)", conf.Protocol)
	}

	s, err := factory(conf.Settings, l.With("sink", conf.Protocol))
	if err != nil {
		return nil, fmt.Errorf("create %s sink: %w", conf.Protocol, err)
	}
	return s, nil
}

// HeaderMap converts flat key/value headers into a map. A trailing key
// without a value maps to an empty string.
func HeaderMap(headers [][]byte) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	m := make(map[string]string, len(headers)/2)
	for i := 0; i < len(headers); i += 2 {
		var val string
		if i+1 < len(headers) {
			val = string(headers[i+1])
		}
		m[string(headers[i])] = val
	}
	return m
}
