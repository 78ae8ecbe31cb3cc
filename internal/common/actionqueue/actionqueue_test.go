package actionqueue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_Enqueue_PreservesOrder(t *testing.T) {
	q := New(0, nil)

	var (
		mu  sync.Mutex
		got []int
		wg  sync.WaitGroup
	)
	wg.Add(100)
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, q.Enqueue(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			wg.Done()
		}))
	}
	wg.Wait()

	for i := range got {
		assert.Equal(t, i, got[i])
	}
}

func TestQueue_Enqueue_ConcurrentPushersNeverOverlap(t *testing.T) {
	q := New(0, nil)

	var (
		running   atomic.Int32
		overlaps  atomic.Int32
		mu        sync.Mutex
		pushOrder []int
		runOrder  []int
		wg        sync.WaitGroup
	)

	const n = 300
	wg.Add(n)
	var pushers sync.WaitGroup
	for g := 0; g < 3; g++ {
		pushers.Add(1)
		go func(g int) {
			defer pushers.Done()
			for i := 0; i < n/3; i++ {
				id := g*1000 + i
				mu.Lock()
				pushOrder = append(pushOrder, id)
				err := q.Enqueue(func() {
					if running.Add(1) > 1 {
						overlaps.Add(1)
					}
					mu.Lock()
					runOrder = append(runOrder, id)
					mu.Unlock()
					running.Add(-1)
					wg.Done()
				})
				mu.Unlock()
				assert.NoError(t, err)
			}
		}(g)
	}
	pushers.Wait()
	wg.Wait()

	assert.Equal(t, int32(0), overlaps.Load())
	assert.Equal(t, pushOrder, runOrder)
}

func TestQueue_Enqueue_Full(t *testing.T) {
	block := make(chan struct{})
	q := New(2, nil)

	require.NoError(t, q.Enqueue(func() { <-block }))
	// the first action is dequeued by the drain; wait until it runs
	assert.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)

	require.NoError(t, q.Enqueue(func() {}))
	require.NoError(t, q.Enqueue(func() {}))
	err := q.Enqueue(func() {})

	assert.ErrorIs(t, err, ErrQueueFull)
	close(block)
}

func TestQueue_EnqueueUnbounded_RunsAfterPending(t *testing.T) {
	block := make(chan struct{})
	q := New(1, nil)
	var (
		mu  sync.Mutex
		got []string
	)
	record := func(s string) func() {
		return func() {
			mu.Lock()
			got = append(got, s)
			mu.Unlock()
		}
	}

	require.NoError(t, q.Enqueue(func() { <-block }))
	assert.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(record("event")))
	require.ErrorIs(t, q.Enqueue(record("overflow")), ErrQueueFull)
	require.NoError(t, q.EnqueueUnbounded(record("dropped")))
	close(block)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"event", "dropped"}, got)
}
