package core

import (
	"time"

	"github.com/fujin-io/evstore/public/cerr"
)

type Config struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	// Name is sent to the server as the connection name.
	Name         string        `yaml:"name"`
	FlushTimeout time.Duration `yaml:"flush_timeout"`
}

func (c *Config) SetDefaults() {
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 5 * time.Second
	}
	if c.Name == "" {
		c.Name = "evstore-relay"
	}
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return cerr.ValidationErr("nats_core: url is required")
	}
	if c.Subject == "" {
		return cerr.ValidationErr("nats_core: subject is required")
	}
	return nil
}
