package pubsub

import (
	"fmt"

	"github.com/fujin-io/evstore/public/cerr"
	respconfig "github.com/fujin-io/evstore/public/plugins/sink/resp/config"
)

type Config struct {
	respconfig.RedisConfig `yaml:",inline"`
	respconfig.BatchConfig `yaml:",inline"`

	Channel string `yaml:"channel"`
}

func (c *Config) Validate() error {
	if err := c.RedisConfig.Validate(); err != nil {
		return fmt.Errorf("resp_pubsub: %w", err)
	}
	if c.Channel == "" {
		return cerr.ValidationErr("resp_pubsub: channel is required")
	}
	return nil
}
