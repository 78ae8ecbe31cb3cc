package service

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/checkpoint"
	"github.com/fujin-io/evstore/public/checkpoint/sqlite"
	"github.com/fujin-io/evstore/public/client/config"
	decoratorconfig "github.com/fujin-io/evstore/public/plugins/decorator/config"
	_ "github.com/fujin-io/evstore/public/plugins/decorator/metrics"
	"github.com/fujin-io/evstore/public/plugins/sink"
	sinkconfig "github.com/fujin-io/evstore/public/plugins/sink/config"
	"github.com/fujin-io/evstore/public/relay"
	"github.com/fujin-io/evstore/public/types"
	"github.com/fujin-io/evstore/test/fakeserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const waitFor = 3 * time.Second

type capture struct {
	mu     sync.Mutex
	types  []string
	closed bool
}

func (c *capture) Publish(_ context.Context, _ []byte, headers [][]byte, callback func(err error)) {
	c.mu.Lock()
	c.types = append(c.types, sink.HeaderMap(headers)[relay.HeaderEventType])
	c.mu.Unlock()
	callback(nil)
}

func (c *capture) Flush(context.Context) error { return nil }

func (c *capture) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *capture) published() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.types...)
}

var captured = &capture{}

func init() {
	if err := sink.Register("service_capture", func(any, *slog.Logger) (sink.Sink, error) {
		return captured, nil
	}); err != nil {
		panic(err)
	}
}

func TestConfig_YAML(t *testing.T) {
	doc := `
connections:
  main:
    connection_string: "ConnectTo=tcp://localhost:1113; MaxRetries=3"
  inline:
    endpoint: localhost:2113
    operation_timeout: 2s
checkpoint:
  type: sqlite
  settings:
    path: /var/lib/evstore/checkpoints.db
relays:
  - name: orders
    connection: main
    stream: orders-1
    sink:
      protocol: nats_core
      decorators:
        - name: tracing
      settings:
        url: nats://localhost:4222
        subject: orders
observability:
  metrics:
    enabled: true
    addr: ":9090"
`
	var conf Config
	require.NoError(t, yaml.Unmarshal([]byte(doc), &conf))

	conns, err := conf.parse()
	require.NoError(t, err)
	assert.Equal(t, 3, conns["main"].MaxRetries)
	assert.Equal(t, "main", conns["main"].ConnectionName)
	assert.Equal(t, "localhost:2113", conns["inline"].Endpoint)
	assert.Equal(t, 2*time.Second, conns["inline"].OperationTimeout)

	assert.Equal(t, "sqlite", conf.Checkpoint.Type)
	require.Len(t, conf.Relays, 1)
	assert.Equal(t, "nats_core", conf.Relays[0].Sink.Protocol)
	assert.Equal(t, []decoratorconfig.Config{{Name: "tracing"}}, conf.Relays[0].Sink.Decorators)
	assert.True(t, conf.Observability.Metrics.Enabled)
}

func TestConfig_Parse_DefaultConnection(t *testing.T) {
	conf := Config{
		Connections: map[string]ConnectionConfig{"only": {Settings: config.Settings{Endpoint: "localhost:1113"}}},
		Relays:      []relay.Config{{Name: "r", Sink: sinkconfig.Config{Protocol: "log"}}},
	}
	_, err := conf.parse()
	require.NoError(t, err)
	assert.Equal(t, "only", conf.Relays[0].Connection)
}

func TestConfig_Parse_Errors(t *testing.T) {
	conn := map[string]ConnectionConfig{
		"a": {Settings: config.Settings{Endpoint: "localhost:1113"}},
		"b": {Settings: config.Settings{Endpoint: "localhost:1114"}},
	}
	logSink := sinkconfig.Config{Protocol: "log"}

	tests := []struct {
		name string
		conf *Config
	}{
		{"no connections", &Config{Relays: []relay.Config{{Name: "r", Sink: logSink}}}},
		{"no relays", &Config{Connections: conn}},
		{"ambiguous connection", &Config{Connections: conn, Relays: []relay.Config{{Name: "r", Sink: logSink}}}},
		{"unknown connection", &Config{Connections: conn, Relays: []relay.Config{{Name: "r", Connection: "c", Sink: logSink}}}},
		{"duplicate relay", &Config{Connections: conn, Relays: []relay.Config{
			{Name: "r", Connection: "a", Sink: logSink},
			{Name: "r", Connection: "b", Sink: logSink},
		}}},
		{"invalid relay", &Config{Connections: conn, Relays: []relay.Config{{Name: "r", Connection: "a"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.conf.parse()
			assert.ErrorIs(t, err, cerr.ErrValidateConf)
		})
	}

	var nilConf *Config
	_, err := nilConf.parse()
	assert.ErrorIs(t, err, ErrNilConfig)
}

func TestService_Run(t *testing.T) {
	srv := fakeserver.New(t, fakeserver.Options{})
	srv.Append("orders-1",
		types.NewJSONEvent("OrderPlaced", []byte(`{}`), nil),
		types.NewJSONEvent("OrderPaid", []byte(`{}`), nil),
	)
	dbPath := filepath.Join(t.TempDir(), "checkpoints.db")

	conf := Config{
		Connections: map[string]ConnectionConfig{"main": {Settings: config.Settings{
			Endpoint:                    srv.Addr(),
			ReconnectionDelay:           20 * time.Millisecond,
			OperationTimeout:            time.Second,
			OperationTimeoutCheckPeriod: 20 * time.Millisecond,
		}}},
		Checkpoint: checkpoint.Config{Type: "sqlite", Settings: map[string]any{"path": dbPath}},
		Relays: []relay.Config{{
			Name:        "orders",
			Stream:      "orders-1",
			StopTimeout: time.Second,
			Sink: sinkconfig.Config{
				Protocol:   "service_capture",
				Decorators: []decoratorconfig.Config{{Name: "metrics"}},
			},
		}},
	}
	l := slog.New(slog.DiscardHandler)

	svc, err := New(conf, l)
	require.NoError(t, err)
	require.NoError(t, svc.Start(t.Context()))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(captured.published()) == 2 }, waitFor, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("service did not stop")
	}
	require.NoError(t, svc.Close())

	assert.Equal(t, []string{"OrderPlaced", "OrderPaid"}, captured.published())
	assert.True(t, captured.closed)

	store, err := sqlite.Open(context.Background(), sqlite.Config{Path: dbPath}, l)
	require.NoError(t, err)
	defer store.Close()
	cp, ok, err := store.Load(context.Background(), "orders")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, cp.EventNumber)
	assert.Equal(t, int64(1), *cp.EventNumber)
}

func TestService_Start_UnknownSink(t *testing.T) {
	conf := Config{
		Connections: map[string]ConnectionConfig{"main": {Settings: config.Settings{Endpoint: "127.0.0.1:1"}}},
		Relays:      []relay.Config{{Name: "r", Sink: sinkconfig.Config{Protocol: "nope"}}},
	}
	svc, err := New(conf, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()
	assert.Error(t, svc.Start(ctx))
}

func TestConfigureLogger(t *testing.T) {
	l := configureLogger("debug", "json")
	assert.True(t, l.Enabled(context.Background(), slog.LevelDebug))

	l = configureLogger("", "")
	assert.False(t, l.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, l.Enabled(context.Background(), slog.LevelInfo))
}

func TestLoadConfig_UnknownConfigurator(t *testing.T) {
	t.Setenv("EVSTORE_CONFIGURATOR", "nope")
	assert.ErrorContains(t, loadConfig(context.Background(), &Config{}), "not found")
}
