package config

import (
	decoratorconfig "github.com/fujin-io/evstore/public/plugins/decorator/config"
)

// Config represents the configuration of a single relay sink.
type Config struct {
	Protocol   string                   `yaml:"protocol"`
	Decorators []decoratorconfig.Config `yaml:"decorators,omitempty"`
	Settings   any                      `yaml:"settings"`
}
