package sink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/fujin-io/evstore/public/plugins/sink/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSink struct {
	settings any
	closed   bool
}

func (m *mockSink) Publish(_ context.Context, _ []byte, _ [][]byte, callback func(err error)) {
	callback(nil)
}

func (m *mockSink) Flush(context.Context) error { return nil }

func (m *mockSink) Close() error {
	m.closed = true
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegister_Duplicate(t *testing.T) {
	f := func(any, *slog.Logger) (Sink, error) { return &mockSink{}, nil }

	require.NoError(t, Register("test_dup", f))
	assert.Error(t, Register("test_dup", f))

	_, ok := Get("test_dup")
	assert.True(t, ok)
	assert.Contains(t, List(), "test_dup")
}

func TestNew_PassesSettings(t *testing.T) {
	require.NoError(t, Register("test_settings", func(settings any, _ *slog.Logger) (Sink, error) {
		return &mockSink{settings: settings}, nil
	}))

	s, err := New(config.Config{Protocol: "test_settings", Settings: map[string]any{"k": "v"}}, discard())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, s.(*mockSink).settings)
}

func TestNew_UnknownProtocol(t *testing.T) {
	_, err := New(config.Config{Protocol: "carrier_pigeon"}, discard())
	assert.ErrorContains(t, err, "carrier_pigeon")
}

func TestNew_FactoryError(t *testing.T) {
	boom := errors.New("boom")
	require.NoError(t, Register("test_err", func(any, *slog.Logger) (Sink, error) { return nil, boom }))

	_, err := New(config.Config{Protocol: "test_err"}, discard())
	assert.ErrorIs(t, err, boom)
}

func TestList_Sorted(t *testing.T) {
	f := func(any, *slog.Logger) (Sink, error) { return &mockSink{}, nil }
	require.NoError(t, Register("test_zz", f))
	require.NoError(t, Register("test_aa", f))

	names := List()
	assert.IsNonDecreasing(t, names)
}

func TestHeaderMap(t *testing.T) {
	assert.Nil(t, HeaderMap(nil))
	assert.Equal(t,
		map[string]string{"a": "1", "b": ""},
		HeaderMap([][]byte{[]byte("a"), []byte("1"), []byte("b")}))
}
