package mqtt

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
	BrokerURL         string        `yaml:"broker_url"`
	ClientID          string        `yaml:"client_id"`
	Topic             string        `yaml:"topic"`
	QoS               byte          `yaml:"qos"`
	Retain            bool          `yaml:"retain"`
	KeepAlive         uint16        `yaml:"keep_alive"` // seconds
	CleanStart        bool          `yaml:"clean_start"`
	SessionExpiry     uint32        `yaml:"session_expiry"` // seconds
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`
	Pool              PoolConfig    `yaml:"pool"`
}

func (c *Config) SetDefaults() {
	if c.KeepAlive == 0 {
		c.KeepAlive = 30
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = 5 * time.Second
	}
	if c.Pool.Size <= 0 {
		c.Pool.Size = 64
	}
}

func (c *Config) Validate() error {
	if c.BrokerURL == "" {
		return cerr.ValidationErr("mqtt: broker_url is required")
	}
	if c.ClientID == "" {
		return cerr.ValidationErr("mqtt: client_id is required")
	}
	if c.Topic == "" {
		return cerr.ValidationErr("mqtt: topic is required")
	}
	if c.QoS > 2 {
		return cerr.ValidationErr("mqtt: qos must be 0, 1, or 2")
	}
	return nil
}
