// Package pool recycles the byte slices used by the socket read and write
// loops.
package pool

import "sync"

var (
	bufPool = sync.Pool{
		New: func() any {
			b := make([]byte, 0, 512)
			return &b
		},
	}
	bufsPool = sync.Pool{
		New: func() any {
			return [][]byte{}
		},
	}
)

// Get returns a zero-length slice with capacity of at least size.
func Get(size int) []byte {
	b := *(bufPool.Get().(*[]byte))
	if cap(b) < size {
		return make([]byte, 0, size)
	}
	return b[:0]
}

func Put(b []byte) {
	if cap(b) == 0 || cap(b) > maxPooledCap {
		return
	}
	b = b[:0]
	bufPool.Put(&b)
}

// maxPooledCap keeps oversized frame buffers from pinning memory.
const maxPooledCap = 1 << 20

func GetBufs() [][]byte {
	return bufsPool.Get().([][]byte)[:0]
}

func PutBufs(bufs [][]byte) {
	for i := range bufs {
		bufs[i] = nil
	}
	bufsPool.Put(bufs[:0])
}
