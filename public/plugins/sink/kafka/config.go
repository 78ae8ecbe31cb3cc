package kafka

import (
	"strings"
	"time"

	"github.com/fujin-io/evstore/public/cerr"
	pconfig "github.com/fujin-io/evstore/public/config"
)

type Config struct {
	Brokers                []string      `yaml:"brokers"`
	Topic                  string        `yaml:"topic"`
	Linger                 time.Duration `yaml:"linger"`
	AllowAutoTopicCreation bool          `yaml:"allow_auto_topic_creation"`
	MaxBufferedRecords     int           `yaml:"max_buffered_records"`
	DisableIdempotentWrite bool          `yaml:"disable_idempotent_write"`
	// KeyHeader names the event header whose value becomes the record key,
	// keeping one stream in one partition. Empty disables keys.
	KeyHeader   string            `yaml:"key_header"`
	PingTimeout time.Duration     `yaml:"ping_timeout"`
	TLS         pconfig.TLSConfig `yaml:"tls"`
}

func (c *Config) SetDefaults() {
	if c.PingTimeout <= 0 {
		c.PingTimeout = 5 * time.Second
	}
}

func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return cerr.ValidationErr("kafka: brokers not defined")
	}
	if c.Topic == "" {
		return cerr.ValidationErr("kafka: topic not defined")
	}
	return nil
}

func (c *Config) Endpoint() string {
	return strings.Join(c.Brokers, ",")
}
