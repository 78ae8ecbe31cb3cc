// Package configurator provides a plugin system for configuration loaders.
// A configurator fills the relay service config from some source, a
// file by default. The service picks one by the EVSTORE_CONFIGURATOR
// environment variable.
package configurator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Configurator loads configuration from a source.
// Load is called once at application startup.
type Configurator interface {
	// Load parses the configuration into cfg, which must be a pointer to
	// the configuration struct.
	Load(ctx context.Context, cfg any) error
}

// Factory creates a configurator. Configurators read their own settings
// from the environment.
type Factory func(l *slog.Logger) (Configurator, error)

var (
	factories = make(map[string]Factory)
	mu        sync.RWMutex
)

// Register registers a configurator factory with the given name.
// Returns an error if the name is already registered.
func Register(name string, factory Factory) error {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		return fmt.Errorf("configurator %q already registered", name)
	}

	factories[name] = factory
	return nil
}

// Get returns a configurator factory by name.
func Get(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()

	factory, ok := factories[name]
	return factory, ok
}

// List returns all registered configurator names in sorted order.
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
