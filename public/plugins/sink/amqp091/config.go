package amqp091

import (
	"time"

	"github.com/fujin-io/evstore/public/cerr"
	amqp "github.com/rabbitmq/amqp091-go"
)

type ConnConfig struct {
	URL        string        `yaml:"url"`
	Vhost      string        `yaml:"vhost"`
	ChannelMax uint16        `yaml:"channel_max"`
	FrameSize  int           `yaml:"frame_size"`
	Heartbeat  time.Duration `yaml:"heartbeat"`
}

type ExchangeConfig struct {
	Name       string     `yaml:"name"`
	Kind       string     `yaml:"kind"`
	Durable    bool       `yaml:"durable"`
	AutoDelete bool       `yaml:"auto_delete"`
	Internal   bool       `yaml:"internal"`
	NoWait     bool       `yaml:"no_wait"`
	Args       amqp.Table `yaml:"args"`
}

// QueueConfig declares and binds a queue when Name is set.
type QueueConfig struct {
	Name       string     `yaml:"name"`
	Durable    bool       `yaml:"durable"`
	AutoDelete bool       `yaml:"auto_delete"`
	Exclusive  bool       `yaml:"exclusive"`
	NoWait     bool       `yaml:"no_wait"`
	Args       amqp.Table `yaml:"args"`
}

type PublishConfig struct {
	RoutingKey string `yaml:"routing_key"`
	Mandatory  bool   `yaml:"mandatory"`
	Immediate  bool   `yaml:"immediate"`

	ContentType     string `yaml:"content_type"`
	ContentEncoding string `yaml:"content_encoding"`
	DeliveryMode    uint8  `yaml:"delivery_mode"`
	Priority        uint8  `yaml:"priority"`
	AppId           string `yaml:"app_id"`
}

type Config struct {
	Conn     ConnConfig     `yaml:"conn"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Queue    QueueConfig    `yaml:"queue"`
	Publish  PublishConfig  `yaml:"publish"`
}

func (c *Config) SetDefaults() {
	if c.Exchange.Kind == "" {
		c.Exchange.Kind = amqp.ExchangeTopic
	}
	if c.Publish.ContentType == "" {
		c.Publish.ContentType = "application/json"
	}
	if c.Publish.DeliveryMode == 0 {
		c.Publish.DeliveryMode = amqp.Persistent
	}
}

func (c *Config) Validate() error {
	if c.Conn.URL == "" {
		return cerr.ValidationErr("amqp091: conn.url is required")
	}
	if c.Exchange.Name == "" {
		return cerr.ValidationErr("amqp091: exchange.name is required")
	}
	return nil
}
