package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fujin-io/evstore/public/plugins/sink/resp/config"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDoer struct {
	mu    sync.Mutex
	sizes []int
	block chan struct{}
}

func (r *recordingDoer) DoMulti(_ context.Context, multi ...rueidis.Completed) []rueidis.RedisResult {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.sizes = append(r.sizes, len(multi))
	r.mu.Unlock()
	return make([]rueidis.RedisResult, len(multi))
}

func (r *recordingDoer) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sizes {
		n += s
	}
	return n
}

func TestBatcher_Flush_SendsEverything(t *testing.T) {
	doer := &recordingDoer{}
	b := New(config.BatchConfig{BatchSize: 2, Linger: time.Hour}, doer)
	defer b.Close()

	var acked atomic.Int32
	for range 3 {
		b.Add(rueidis.Completed{}, func(err error) {
			assert.NoError(t, err)
			acked.Add(1)
		})
	}

	require.NoError(t, b.Flush(context.Background()))
	assert.Equal(t, int32(3), acked.Load())
	assert.Equal(t, 3, doer.total())
}

func TestBatcher_Linger(t *testing.T) {
	doer := &recordingDoer{}
	b := New(config.BatchConfig{BatchSize: 100, Linger: 5 * time.Millisecond}, doer)
	defer b.Close()

	b.Add(rueidis.Completed{}, func(error) {})
	assert.Eventually(t, func() bool { return doer.total() == 1 }, time.Second, time.Millisecond)
}

func TestBatcher_Flush_ContextDone(t *testing.T) {
	doer := &recordingDoer{block: make(chan struct{})}
	b := New(config.BatchConfig{BatchSize: 1, Linger: time.Hour}, doer)

	b.Add(rueidis.Completed{}, func(error) {})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(b.Flush(ctx), context.DeadlineExceeded))

	close(doer.block)
	b.Close()
	assert.Equal(t, 1, doer.total())
}

func TestBatchConfig_SetDefaults(t *testing.T) {
	var c config.BatchConfig
	c.SetDefaults()
	assert.Equal(t, config.DefaultBatchSize, c.BatchSize)
	assert.Equal(t, config.DefaultLinger, c.Linger)
}
