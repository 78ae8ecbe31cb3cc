// Package memory keeps checkpoints in process memory. They are lost on
// restart, so a relay using it starts from its configured position again.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fujin-io/evstore/public/checkpoint"
)

func init() {
	if err := checkpoint.Register("memory", func(any, *slog.Logger) (checkpoint.Store, error) {
		return New(), nil
	}); err != nil {
		panic(fmt.Sprintf("failed to register memory checkpoint store: %v", err))
	}
}

type Store struct {
	mu  sync.RWMutex
	cps map[string]checkpoint.Checkpoint
}

func New() *Store {
	return &Store{cps: make(map[string]checkpoint.Checkpoint)}
}

func (s *Store) Load(_ context.Context, key string) (checkpoint.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.cps[key]
	return clone(cp), ok, nil
}

func (s *Store) Save(_ context.Context, key string, cp checkpoint.Checkpoint) error {
	s.mu.Lock()
	s.cps[key] = clone(cp)
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() error {
	return nil
}

func clone(cp checkpoint.Checkpoint) checkpoint.Checkpoint {
	var out checkpoint.Checkpoint
	if cp.EventNumber != nil {
		n := *cp.EventNumber
		out.EventNumber = &n
	}
	if cp.Position != nil {
		p := *cp.Position
		out.Position = &p
	}
	return out
}
