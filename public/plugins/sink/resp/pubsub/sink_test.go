package pubsub

import (
	"testing"
	"time"

	"github.com/fujin-io/evstore/public/cerr"
	respconfig "github.com/fujin-io/evstore/public/plugins/sink/resp/config"
	"github.com/fujin-io/evstore/public/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Inline(t *testing.T) {
	var c Config
	require.NoError(t, util.ConvertConfig(map[string]any{
		"init_address": []string{"127.0.0.1:6379"},
		"channel":      "events",
		"linger":       "20ms",
	}, &c))
	c.SetDefaults()

	assert.Equal(t, "127.0.0.1:6379", c.Endpoint())
	assert.Equal(t, respconfig.DefaultBatchSize, c.BatchSize)
	assert.Equal(t, 20*time.Millisecond, c.Linger)
	assert.NoError(t, c.Validate())
}

func TestConfig_Validate(t *testing.T) {
	c := Config{Channel: "events"}
	assert.ErrorIs(t, c.Validate(), cerr.ErrValidateConf)

	c = Config{RedisConfig: respconfig.RedisConfig{InitAddress: []string{"127.0.0.1:6379"}}}
	assert.ErrorIs(t, c.Validate(), cerr.ErrValidateConf)
}
