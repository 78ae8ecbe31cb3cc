package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/fujin-io/evstore/public/client"
	"github.com/fujin-io/evstore/public/client/config"
	"github.com/fujin-io/evstore/public/types"
	"github.com/fujin-io/evstore/test/fakeserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, srv *fakeserver.Server) *client.Client {
	t.Helper()
	c, err := client.New(config.Settings{
		Endpoint:                    srv.Addr(),
		OperationTimeout:            time.Second,
		OperationTimeoutCheckPeriod: 20 * time.Millisecond,
	}, client.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Connect(t.Context()))
	return c
}

func TestDumper_Stream(t *testing.T) {
	srv := fakeserver.New(t, fakeserver.Options{})
	for range 5 {
		srv.Append("orders-1", types.NewJSONEvent("OrderPlaced", []byte(`{"total":1}`), nil))
	}

	var out bytes.Buffer
	d := dumper{c: connect(t, srv), w: &out, page: 2}
	require.NoError(t, d.stream(t.Context(), "orders-1"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[4], `"event_number":4`)
	assert.Contains(t, lines[0], `"data":{"total":1}`)
}

func TestDumper_All_Limit(t *testing.T) {
	srv := fakeserver.New(t, fakeserver.Options{})
	srv.Append("a", types.NewJSONEvent("A", []byte(`{}`), nil))
	srv.Append("b", types.NewJSONEvent("B", []byte(`{}`), nil), types.NewJSONEvent("B", []byte(`{}`), nil))

	var out bytes.Buffer
	d := dumper{c: connect(t, srv), w: &out, page: 10, limit: 2}
	require.NoError(t, d.all(t.Context()))

	assert.Equal(t, 2, strings.Count(out.String(), "\n"))
}

func TestDumper_Stream_NotFound(t *testing.T) {
	srv := fakeserver.New(t, fakeserver.Options{})

	d := dumper{c: connect(t, srv), w: &bytes.Buffer{}, page: 10}
	assert.ErrorContains(t, d.stream(t.Context(), "missing"), "read missing")
}
