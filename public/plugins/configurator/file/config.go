package file

import "github.com/fujin-io/evstore/public/cerr"

// DefaultPaths are tried when EVSTORE_CONFIGURATOR_FILE_PATHS is unset.
var DefaultPaths = []string{"./config.yaml", "conf/config.yaml", "config/config.yaml"}

// Config is the configuration for the file configurator.
type Config struct {
	// Paths are tried in order. The first existing file is used.
	Paths []string `yaml:"paths"`
}

func (c *Config) Validate() error {
	if len(c.Paths) == 0 {
		return cerr.ValidationErr("file configurator: at least one path must be specified")
	}
	return nil
}
