package nsq

import (
	"io"
	"log/slog"
	"testing"

	"github.com/fujin-io/evstore/public/cerr"
	"github.com/stretchr/testify/assert"
)

func TestNew_InvalidConfig(t *testing.T) {
	l := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := New(map[string]any{"topic": "events"}, l)
	assert.ErrorIs(t, err, cerr.ErrValidateConf)

	_, err = New(map[string]any{"address": "127.0.0.1:4150"}, l)
	assert.ErrorIs(t, err, cerr.ErrValidateConf)
}

func TestConfig_SetDefaults(t *testing.T) {
	c := Config{Pool: PoolConfig{Size: 8}}
	c.SetDefaults()
	assert.Equal(t, 8, c.Pool.Size)

	c = Config{}
	c.SetDefaults()
	assert.Equal(t, 64, c.Pool.Size)
}
