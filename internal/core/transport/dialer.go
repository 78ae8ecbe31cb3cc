// Package transport owns the physical connection to a node: dialing over
// TCP, TLS or QUIC and running the frame read and write loops.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	KindTCP  = "tcp"
	KindQUIC = "quic"

	// NextProto is the ALPN identifier of the frame protocol over QUIC.
	NextProto = "evstore/1"
)

// Dialer opens a byte stream to addr.
type Dialer interface {
	Dial(ctx context.Context, addr string) (io.ReadWriteCloser, error)
}

type TCPDialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration
}

func (d TCPDialer) Dial(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	nd := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp: %w", err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	return conn, nil
}

type TLSDialer struct {
	Timeout time.Duration
	Config  *tls.Config
}

func (d TLSDialer) Dial(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	td := tls.Dialer{
		NetDialer: &net.Dialer{Timeout: d.Timeout},
		Config:    d.Config,
	}
	conn, err := td.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tls: %w", err)
	}
	return conn, nil
}

// QUICDialer carries the frame protocol over one bidirectional QUIC stream.
type QUICDialer struct {
	TLS  *tls.Config
	QUIC *quic.Config
}

func (d QUICDialer) Dial(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	tlsConf := d.TLS.Clone()
	if tlsConf == nil {
		tlsConf = &tls.Config{}
	}
	tlsConf.NextProtos = []string{NextProto}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, d.QUIC)
	if err != nil {
		return nil, fmt.Errorf("dial quic: %w", err)
	}

	str, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream")
		return nil, fmt.Errorf("open quic stream: %w", err)
	}
	return &quicStream{conn: conn, str: str}, nil
}

type quicStream struct {
	conn *quic.Conn
	str  *quic.Stream
}

func (s *quicStream) Read(p []byte) (int, error)  { return s.str.Read(p) }
func (s *quicStream) Write(p []byte) (int, error) { return s.str.Write(p) }

func (s *quicStream) Close() error {
	s.str.CancelRead(0)
	_ = s.str.Close()
	return s.conn.CloseWithError(0, "")
}
