// Package batch pipelines redis commands issued by the RESP sinks.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/fujin-io/evstore/public/plugins/sink/resp/config"
	"github.com/redis/rueidis"
)

// Doer runs a pipeline. rueidis.Client implements it.
type Doer interface {
	DoMulti(ctx context.Context, multi ...rueidis.Completed) []rueidis.RedisResult
}

// Batcher sends buffered commands with DoMulti once BatchSize is reached
// or Linger elapsed.
type Batcher struct {
	conf config.BatchConfig
	doer Doer

	mu        sync.Mutex
	buffer    []rueidis.Completed
	callbacks []func(err error)

	flushCh chan struct{}
	closeCh chan struct{}
	done    chan struct{}

	wg sync.WaitGroup
}

func New(conf config.BatchConfig, doer Doer) *Batcher {
	conf.SetDefaults()
	b := &Batcher{
		conf:    conf,
		doer:    doer,
		flushCh: make(chan struct{}, 1),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go b.loop()
	return b
}

// Add queues cmd. callback gets the command result.
func (b *Batcher) Add(cmd rueidis.Completed, callback func(err error)) {
	b.wg.Add(1)

	b.mu.Lock()
	b.buffer = append(b.buffer, cmd)
	b.callbacks = append(b.callbacks, func(err error) {
		callback(err)
		b.wg.Done()
	})
	full := len(b.buffer) >= b.conf.BatchSize
	b.mu.Unlock()

	if full {
		b.kick()
	}
}

func (b *Batcher) kick() {
	select {
	case b.flushCh <- struct{}{}:
	default:
	}
}

func (b *Batcher) loop() {
	defer close(b.done)

	ticker := time.NewTicker(b.conf.Linger)
	defer ticker.Stop()

	for {
		select {
		case <-b.flushCh:
			b.send()
		case <-ticker.C:
			b.send()
		case <-b.closeCh:
			b.send()
			return
		}
	}
}

func (b *Batcher) send() {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return
	}
	cmds, cbs := b.buffer, b.callbacks
	b.buffer = make([]rueidis.Completed, 0, b.conf.BatchSize)
	b.callbacks = nil
	b.mu.Unlock()

	for i, r := range b.doer.DoMulti(context.Background(), cmds...) {
		cbs[i](r.Error())
	}
}

// Flush waits until every added command got its result.
func (b *Batcher) Flush(ctx context.Context) error {
	b.kick()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close sends what is left and stops the loop.
func (b *Batcher) Close() {
	close(b.closeCh)
	<-b.done
	b.wg.Wait()
}
