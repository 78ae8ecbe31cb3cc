package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/fujin-io/evstore/internal/common/pool"
	"github.com/fujin-io/evstore/internal/proto/tcp"
	"github.com/fujin-io/evstore/public/cerr"
	"github.com/google/uuid"
)

const readBufferSize = 8 * 1024

// Handlers are invoked from the connection's own goroutines. They must not
// block for long.
type Handlers struct {
	OnPackage func(c *Connection, pkg *tcp.Package)
	OnError   func(c *Connection, err error)
	// OnClosed is invoked exactly once, after both loops have stopped using
	// the socket.
	OnClosed func(c *Connection, err error)
}

// Connection multiplexes frames over one socket. Outbound frames are queued
// and written by a single write loop; inbound bytes are reassembled into
// frames by a read loop.
type Connection struct {
	id       uuid.UUID
	endpoint string
	rw       io.ReadWriteCloser
	h        Handlers

	mu      sync.Mutex
	cond    *sync.Cond
	out     [][]byte
	closed  bool
	closeWg sync.WaitGroup
	reason  error
	once    sync.Once

	l *slog.Logger
}

func NewConnection(endpoint string, rw io.ReadWriteCloser, h Handlers, l *slog.Logger) *Connection {
	id := uuid.New()
	c := &Connection{
		id:       id,
		endpoint: endpoint,
		rw:       rw,
		h:        h,
		out:      pool.GetBufs(),
		l:        l.With("connection_id", id.String(), "endpoint", endpoint),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Start launches the read and write loops.
func (c *Connection) Start() {
	c.closeWg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	go func() {
		c.closeWg.Wait()
		c.mu.Lock()
		reason := c.reason
		c.mu.Unlock()
		pool.PutBufs(c.out)
		if c.h.OnClosed != nil {
			c.h.OnClosed(c, reason)
		}
	}()
}

func (c *Connection) ConnectionID() uuid.UUID { return c.id }

func (c *Connection) RemoteEndpoint() string { return c.endpoint }

func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// EnqueueSend queues pkg for the write loop. Frames queued after Close are
// discarded.
func (c *Connection) EnqueueSend(pkg *tcp.Package) {
	buf, err := tcp.AppendEncode(pool.Get(tcp.LengthPrefixSize+pkg.Size()), pkg)
	if err != nil {
		c.l.Error("encode package", "command", pkg.Command.String(), "err", err)
		if c.h.OnError != nil {
			c.h.OnError(c, err)
		}
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		pool.Put(buf)
		return
	}
	c.out = append(c.out, buf)
	c.mu.Unlock()
	c.cond.Signal()
}

// Close shuts the socket down. The first reason wins.
func (c *Connection) Close(reason error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.reason = reason
		c.mu.Unlock()
		c.cond.Broadcast()

		if err := c.rw.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.l.Debug("close socket", "err", err)
		}
	})
}

func (c *Connection) writeLoop() {
	defer c.closeWg.Done()

	pending := pool.GetBufs()
	// WriteTo consumes the slice it is given, so it gets a copy of the
	// headers and pending keeps the buffers for recycling.
	var vec [][]byte
	defer func() {
		for _, b := range pending {
			pool.Put(b)
		}
		pool.PutBufs(pending)
	}()

	for {
		c.mu.Lock()
		for len(c.out) == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			for _, b := range c.out {
				pool.Put(b)
			}
			c.out = c.out[:0]
			c.mu.Unlock()
			return
		}
		c.out, pending = pending[:0], c.out
		c.mu.Unlock()

		vec = append(vec[:0], pending...)
		bufs := net.Buffers(vec)
		if _, err := bufs.WriteTo(c.rw); err != nil {
			c.fail(fmt.Errorf("write: %w", err))
		}
		for i, b := range pending {
			pool.Put(b)
			pending[i] = nil
		}
		pending = pending[:0]
	}
}

func (c *Connection) readLoop() {
	defer c.closeWg.Done()

	framer := tcp.NewFramer()
	buf := pool.Get(readBufferSize)
	buf = buf[:cap(buf)]
	defer pool.Put(buf)

	for {
		n, err := c.rw.Read(buf)
		if n > 0 {
			ferr := framer.Feed(buf[:n], func(pkg *tcp.Package) error {
				if c.h.OnPackage != nil {
					c.h.OnPackage(c, pkg)
				}
				return nil
			})
			if ferr != nil {
				c.fail(fmt.Errorf("read frame: %w", ferr))
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || c.IsClosed() {
				c.Close(cerr.ErrConnectionClosed)
			} else {
				c.fail(fmt.Errorf("read: %w", err))
			}
			return
		}
	}
}

func (c *Connection) fail(err error) {
	if c.IsClosed() {
		return
	}
	c.l.Error("connection failed", "err", err)
	if c.h.OnError != nil {
		c.h.OnError(c, err)
	}
	c.Close(err)
}
