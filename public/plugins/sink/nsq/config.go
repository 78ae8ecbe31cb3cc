package nsq

import (
	"time"

	"github.com/fujin-io/evstore/public/cerr"
)

type PoolConfig struct {
	Size           int           `yaml:"size"`
	PreAlloc       bool          `yaml:"pre_alloc"`
	ReleaseTimeout time.Duration `yaml:"release_timeout"`
}

type Config struct {
	Address string     `yaml:"address"`
	Topic   string     `yaml:"topic"`
	Pool    PoolConfig `yaml:"pool"`
}

func (c *Config) SetDefaults() {
	if c.Pool.Size <= 0 {
		c.Pool.Size = 64
	}
}

func (c *Config) Validate() error {
	if c.Address == "" {
		return cerr.ValidationErr("nsq: address is required")
	}
	if c.Topic == "" {
		return cerr.ValidationErr("nsq: topic is required")
	}
	return nil
}
