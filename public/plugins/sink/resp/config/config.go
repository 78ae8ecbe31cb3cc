// Package config holds the settings shared by the RESP sinks.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fujin-io/evstore/public/cerr"
	pconfig "github.com/fujin-io/evstore/public/config"
	"github.com/redis/rueidis"
)

const (
	DefaultBatchSize = 100
	DefaultLinger    = 10 * time.Millisecond
)

type RedisConfig struct {
	InitAddress  []string          `yaml:"init_address"`
	Username     string            `yaml:"username"`
	Password     string            `yaml:"password"`
	DisableCache bool              `yaml:"disable_cache"`
	TLS          pconfig.TLSConfig `yaml:"tls"`
}

func (c RedisConfig) Validate() error {
	if len(c.InitAddress) == 0 {
		return cerr.ValidationErr("init_address is required")
	}
	return nil
}

func (c RedisConfig) Endpoint() string {
	return strings.Join(c.InitAddress, ",")
}

// NewClient parses the TLS settings and dials the servers.
func (c *RedisConfig) NewClient() (rueidis.Client, error) {
	if err := c.TLS.Parse(); err != nil {
		return nil, fmt.Errorf("parse tls: %w", err)
	}
	return rueidis.NewClient(rueidis.ClientOption{
		TLSConfig:    c.TLS.Config,
		InitAddress:  c.InitAddress,
		Username:     c.Username,
		Password:     c.Password,
		DisableCache: c.DisableCache,
	})
}

// BatchConfig controls how many commands are pipelined at once and how
// long a partial batch may wait.
type BatchConfig struct {
	BatchSize int           `yaml:"batch_size"`
	Linger    time.Duration `yaml:"linger"`
}

func (c *BatchConfig) SetDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Linger <= 0 {
		c.Linger = DefaultLinger
	}
}
