package relay

import (
	"fmt"
	"time"

	"github.com/fujin-io/evstore/public/cerr"
	sinkconfig "github.com/fujin-io/evstore/public/plugins/sink/config"
)

const (
	DefaultCheckpointEvery = 100
	DefaultStopTimeout     = 10 * time.Second
)

type Config struct {
	// Name identifies the relay in logs and metrics and is the key of its
	// checkpoint.
	Name string `yaml:"name"`
	// Connection names the client connection of the service config.
	Connection string `yaml:"connection"`
	// Stream to relay. Empty relays $all.
	Stream string `yaml:"stream"`
	// EventTypes restricts the relayed event types. Empty relays all.
	EventTypes []string `yaml:"event_types"`
	// IncludeSystemEvents relays events whose type starts with "$".
	IncludeSystemEvents bool `yaml:"include_system_events"`
	ResolveLinkTos      bool `yaml:"resolve_link_tos"`
	// Envelope wraps each event into a JSON document carrying its
	// metadata instead of sending the raw event data.
	Envelope bool `yaml:"envelope"`

	// CheckpointEvery is the number of handled events after which the
	// sink is flushed and the checkpoint saved.
	CheckpointEvery int           `yaml:"checkpoint_every"`
	StopTimeout     time.Duration `yaml:"stop_timeout"`

	ReadBatchSize    int `yaml:"read_batch_size"`
	MaxLiveQueueSize int `yaml:"max_live_queue_size"`

	Sink sinkconfig.Config `yaml:"sink"`
}

func (c *Config) SetDefaults() {
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = DefaultCheckpointEvery
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
}

func (c *Config) Validate() error {
	if c.Name == "" {
		return cerr.ValidationErr("relay: name is required")
	}
	if c.Sink.Protocol == "" {
		return cerr.ValidationErr(fmt.Sprintf("relay %q: sink.protocol is required", c.Name))
	}
	if c.ReadBatchSize < 0 || c.MaxLiveQueueSize < 0 {
		return cerr.ValidationErr(fmt.Sprintf("relay %q: sizes must not be negative", c.Name))
	}
	return nil
}
