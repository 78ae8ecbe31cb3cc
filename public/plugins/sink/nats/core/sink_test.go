package core

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/plugins/sink"
	"github.com/fujin-io/evstore/public/plugins/sink/config"
	nats_server "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runServer(t *testing.T) *nats_server.Server {
	t.Helper()
	ns, err := nats_server.NewServer(&nats_server.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		t.Fatal("nats: not ready for connections")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestSink_Publish_WithHeaders(t *testing.T) {
	ns := runServer(t)
	l := slog.New(slog.NewTextHandler(io.Discard, nil))

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	msgs := make(chan *nats.Msg, 1)
	_, err = nc.ChanSubscribe("orders.events", msgs)
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	s, err := sink.New(config.Config{
		Protocol: "nats_core",
		Settings: map[string]any{"url": ns.ClientURL(), "subject": "orders.events"},
	}, l)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	done := make(chan error, 1)
	s.Publish(context.Background(), []byte(`{"id":1}`),
		[][]byte{[]byte("es-event-type"), []byte("OrderPlaced"), []byte("es-event-number"), []byte("0")},
		func(err error) { done <- err })
	require.NoError(t, <-done)
	require.NoError(t, s.Flush(context.Background()))

	select {
	case m := <-msgs:
		assert.Equal(t, `{"id":1}`, string(m.Data))
		assert.Equal(t, "OrderPlaced", m.Header.Get("es-event-type"))
		assert.Equal(t, "0", m.Header.Get("es-event-number"))
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	l := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := New(map[string]any{"url": "nats://127.0.0.1:4222"}, l)
	assert.ErrorIs(t, err, cerr.ErrValidateConf)

	_, err = New(map[string]any{"subject": "x"}, l)
	assert.ErrorIs(t, err, cerr.ErrValidateConf)
}
