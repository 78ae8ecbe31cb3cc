package amqp10

import (
	"time"

	"github.com/Azure/go-amqp"
	"github.com/fujin-io/evstore/public/cerr"
)

type ConnConfig struct {
	Addr         string        `yaml:"addr"`
	ContainerID  string        `yaml:"container_id"`
	HostName     string        `yaml:"host_name"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	MaxFrameSize uint32        `yaml:"max_frame_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type SenderConfig struct {
	Target         string                 `yaml:"target"`
	Name           string                 `yaml:"name"`
	Durability     amqp.Durability        `yaml:"durability"`
	SettlementMode *amqp.SenderSettleMode `yaml:"settlement_mode"`
}

type Config struct {
	Conn   ConnConfig   `yaml:"conn"`
	Sender SenderConfig `yaml:"sender"`
	// Settled sends without waiting for the peer to settle.
	Settled bool `yaml:"settled"`
}

func (c *Config) Validate() error {
	if c.Conn.Addr == "" {
		return cerr.ValidationErr("amqp10: conn.addr is required")
	}
	if c.Sender.Target == "" {
		return cerr.ValidationErr("amqp10: sender.target is required")
	}
	return nil
}
