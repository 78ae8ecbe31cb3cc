// Package promise provides a single-assignment result shared between the
// engine goroutine that resolves it and the caller that waits on it.
package promise

import (
	"context"
	"sync"
)

type Promise[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func New[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Resolve sets the value. Returns false when the promise was already completed.
func (p *Promise[T]) Resolve(v T) bool {
	ok := false
	p.once.Do(func() {
		p.val = v
		close(p.done)
		ok = true
	})
	return ok
}

// Reject sets the error. Returns false when the promise was already completed.
func (p *Promise[T]) Reject(err error) bool {
	ok := false
	p.once.Do(func() {
		p.err = err
		close(p.done)
		ok = true
	})
	return ok
}

func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

// IsCompleted reports whether Resolve or Reject has been called.
func (p *Promise[T]) IsCompleted() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the promise completes or ctx is done.
func (p *Promise[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
