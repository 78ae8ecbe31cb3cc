// Package checkpoint persists how far a relay got. Stores register
// themselves by type name via init(), like sinks do:
//
//	import _ "github.com/fujin-io/evstore/public/checkpoint/sqlite"
package checkpoint

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/fujin-io/evstore/public/types"
)

// Checkpoint is the last event a relay published. Stream relays set
// EventNumber, $all relays set Position.
type Checkpoint struct {
	EventNumber *int64          `json:"event_number,omitempty"`
	Position    *types.Position `json:"position,omitempty"`
}

func (c Checkpoint) String() string {
	switch {
	case c.Position != nil:
		return c.Position.String()
	case c.EventNumber != nil:
		return fmt.Sprintf("#%d", *c.EventNumber)
	default:
		return "none"
	}
}

func (c Checkpoint) Equal(o Checkpoint) bool {
	if (c.EventNumber == nil) != (o.EventNumber == nil) || (c.Position == nil) != (o.Position == nil) {
		return false
	}
	if c.EventNumber != nil && *c.EventNumber != *o.EventNumber {
		return false
	}
	return c.Position == nil || *c.Position == *o.Position
}

// Store loads and saves checkpoints by key. Load reports false when key
// has no checkpoint yet.
type Store interface {
	Load(ctx context.Context, key string) (Checkpoint, bool, error)
	Save(ctx context.Context, key string, cp Checkpoint) error
	io.Closer
}

// Config selects and configures a store.
type Config struct {
	Type     string `yaml:"type"`
	Settings any    `yaml:"settings"`
}

type Factory func(settings any, l *slog.Logger) (Store, error)

var (
	factories = make(map[string]Factory)
	mu        sync.RWMutex
)

func Register(name string, factory Factory) error {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		return fmt.Errorf("checkpoint store %q already registered", name)
	}
	factories[name] = factory
	return nil
}

func Get(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()

	factory, ok := factories[name]
	return factory, ok
}

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

// New opens the store conf.Type names. An empty type means "memory".
func New(conf Config, l *slog.Logger) (Store, error) {
	typ := conf.Type
	if typ == "" {
		typ = "memory"
	}
	factory, ok := Get(typ)
	if !ok {
		return nil, fmt.Errorf("unsupported checkpoint store: %q (is it compiled in?)", typ)
	}

	s, err := factory(conf.Settings, l.With("checkpoint_store", typ))
	if err != nil {
		return nil, fmt.Errorf("create %s checkpoint store: %w", typ, err)
	}
	return s, nil
}
