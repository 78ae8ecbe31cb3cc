package streams

import (
	"fmt"

	"github.com/fujin-io/evstore/public/cerr"
	respconfig "github.com/fujin-io/evstore/public/plugins/sink/resp/config"
)

const DefaultDataField = "data"

type Config struct {
	respconfig.RedisConfig `yaml:",inline"`
	respconfig.BatchConfig `yaml:",inline"`

	Stream string `yaml:"stream"`
	// DataField is the entry field holding the message. The headers
	// become the other fields.
	DataField string `yaml:"data_field"`
	// MaxLen trims the stream approximately to this many entries. Zero
	// keeps every entry.
	MaxLen int64 `yaml:"max_len"`
}

func (c *Config) SetDefaults() {
	c.BatchConfig.SetDefaults()
	if c.DataField == "" {
		c.DataField = DefaultDataField
	}
}

func (c *Config) Validate() error {
	if err := c.RedisConfig.Validate(); err != nil {
		return fmt.Errorf("resp_streams: %w", err)
	}
	if c.Stream == "" {
		return cerr.ValidationErr("resp_streams: stream is required")
	}
	if c.MaxLen < 0 {
		return cerr.ValidationErr("resp_streams: max_len must not be negative")
	}
	return nil
}
