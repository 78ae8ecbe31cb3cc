package service

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/fujin-io/evstore/internal/observability"
	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/checkpoint"
	"github.com/fujin-io/evstore/public/client/config"
	"github.com/fujin-io/evstore/public/relay"
)

var ErrNilConfig = errors.New("nil config")

type Config struct {
	Connections   map[string]ConnectionConfig `yaml:"connections"`
	Checkpoint    checkpoint.Config           `yaml:"checkpoint"`
	Relays        []relay.Config              `yaml:"relays"`
	Observability observability.Config        `yaml:"observability"`
}

// ConnectionConfig is either a connection string or inline settings.
// The connection string wins when both are given.
type ConnectionConfig struct {
	ConnectionString string          `yaml:"connection_string"`
	Settings         config.Settings `yaml:",inline"`
}

func (c ConnectionConfig) parse(name string) (config.Settings, error) {
	s := c.Settings
	if c.ConnectionString != "" {
		var err error
		if s, err = config.ParseConnectionString(c.ConnectionString); err != nil {
			return config.Settings{}, fmt.Errorf("connection %q: %w", name, err)
		}
	}
	if s.ConnectionName == "" {
		s.ConnectionName = name
	}
	return s, nil
}

// parse resolves every relay to its connection settings.
func (c *Config) parse() (map[string]config.Settings, error) {
	if c == nil {
		return nil, ErrNilConfig
	}
	if len(c.Connections) == 0 {
		return nil, cerr.ValidationErr("at least one connection is required")
	}
	if len(c.Relays) == 0 {
		return nil, cerr.ValidationErr("at least one relay is required")
	}

	conns := make(map[string]config.Settings, len(c.Connections))
	for name, cc := range c.Connections {
		s, err := cc.parse(name)
		if err != nil {
			return nil, err
		}
		conns[name] = s
	}

	names := make(map[string]struct{}, len(c.Relays))
	for i := range c.Relays {
		r := &c.Relays[i]
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := names[r.Name]; dup {
			return nil, cerr.ValidationErr(fmt.Sprintf("duplicate relay name %q", r.Name))
		}
		names[r.Name] = struct{}{}

		if r.Connection == "" {
			if len(conns) != 1 {
				return nil, cerr.ValidationErr(fmt.Sprintf("relay %q: connection is required with several connections", r.Name))
			}
			r.Connection = slices.Collect(maps.Keys(conns))[0]
		}
		if _, ok := conns[r.Connection]; !ok {
			return nil, cerr.ValidationErr(fmt.Sprintf("relay %q: unknown connection %q", r.Name, r.Connection))
		}
	}
	return conns, nil
}
