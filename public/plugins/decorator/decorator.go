// Package decorator provides a plugin system for sink decorators.
// Decorators wrap sinks to add cross-cutting functionality like tracing
// or metrics.
package decorator

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/fujin-io/evstore/public/plugins/decorator/config"
	"github.com/fujin-io/evstore/public/plugins/sink"
)

// Decorator wraps a sink with additional functionality.
type Decorator interface {
	Wrap(s sink.Sink, sinkName string) sink.Sink
}

// Factory creates a decorator from configuration.
// config is the decorator-specific configuration (can be nil).
type Factory func(config any, l *slog.Logger) (Decorator, error)

var (
	factories = make(map[string]Factory)
	mu        sync.RWMutex
)

// Register registers a decorator factory with the given name.
// This is typically called from init() in decorator implementations.
func Register(name string, factory Factory) error {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		return fmt.Errorf("decorator %q already registered", name)
	}

	factories[name] = factory
	return nil
}

// Get returns a decorator factory by name.
func Get(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()

	factory, ok := factories[name]
	return factory, ok
}

// List returns all registered decorator names.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Chain applies decorators to s in order; the last one ends up outermost.
// Disabled entries are skipped.
func Chain(s sink.Sink, sinkName string, configs []config.Config, l *slog.Logger) (sink.Sink, error) {
	for _, cfg := range configs {
		if cfg.Disabled {
			continue
		}

		factory, ok := Get(cfg.Name)
		if !ok {
			return nil, fmt.Errorf("decorator %q not found (is it compiled in?)", cfg.Name)
		}

		dec, err := factory(cfg.Config, l)
		if err != nil {
			return nil, fmt.Errorf("create decorator %q: %w", cfg.Name, err)
		}

		s = dec.Wrap(s, sinkName)
	}

	return s, nil
}
