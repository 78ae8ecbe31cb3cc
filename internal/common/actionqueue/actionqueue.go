// Package actionqueue runs callbacks one at a time in FIFO order on a
// shared worker pool. At most one drain runs per queue, so callbacks of one
// queue never overlap and never re-enter each other.
package actionqueue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// DefaultMaxSize bounds the number of pending actions of a subscription.
const DefaultMaxSize = 2000

var ErrQueueFull = errors.New("action queue is full")

// Submitter schedules a function on some goroutine. *ants.Pool satisfies it.
type Submitter interface {
	Submit(task func()) error
}

type Queue struct {
	mu        sync.Mutex
	actions   []func()
	max       int
	executing bool

	submitter Submitter
}

var (
	defaultPool     *ants.Pool
	defaultPoolErr  error
	defaultPoolOnce sync.Once
)

// DefaultPool returns the process-wide pool used for drains.
func DefaultPool() (*ants.Pool, error) {
	defaultPoolOnce.Do(func() {
		defaultPool, defaultPoolErr = ants.NewPool(ants.DefaultAntsPoolSize)
	})
	return defaultPool, defaultPoolErr
}

// New creates a queue bounded by max pending actions. A nil submitter uses
// DefaultPool and falls back to plain goroutines if the pool is unavailable.
func New(max int, submitter Submitter) *Queue {
	if max <= 0 {
		max = DefaultMaxSize
	}
	if submitter == nil {
		if p, err := DefaultPool(); err == nil {
			submitter = p
		} else {
			submitter = goSubmitter{}
		}
	}
	return &Queue{
		max:       max,
		submitter: submitter,
		actions:   make([]func(), 0, 16),
	}
}

// Enqueue appends action and makes sure a drain is scheduled. It fails
// with ErrQueueFull when max actions are already pending.
func (q *Queue) Enqueue(action func()) error {
	return q.enqueue(action, true)
}

// EnqueueUnbounded appends action ignoring max. It is meant for the final
// notification of a queue that has just overflowed.
func (q *Queue) EnqueueUnbounded(action func()) error {
	return q.enqueue(action, false)
}

func (q *Queue) enqueue(action func(), bounded bool) error {
	q.mu.Lock()
	if bounded && len(q.actions) >= q.max {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.actions = append(q.actions, action)
	if q.executing {
		q.mu.Unlock()
		return nil
	}
	q.executing = true
	q.mu.Unlock()

	if err := q.submitter.Submit(q.drain); err != nil {
		q.mu.Lock()
		q.executing = false
		q.mu.Unlock()
		return fmt.Errorf("submit drain: %w", err)
	}
	return nil
}

// Len returns the number of pending actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.actions) == 0 {
			q.executing = false
			q.mu.Unlock()
			return
		}
		action := q.actions[0]
		q.actions[0] = nil
		q.actions = q.actions[1:]
		q.mu.Unlock()

		action()
	}
}

type goSubmitter struct{}

func (goSubmitter) Submit(task func()) error {
	go task()
	return nil
}
