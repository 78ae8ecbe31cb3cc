package config

// Config represents a decorator configuration in YAML.
type Config struct {
	Name string `yaml:"name"`
	// Disabled turns a decorator off without removing it from the config.
	Disabled bool `yaml:"disabled,omitempty"`
	Config   any  `yaml:"config,omitempty"`
}
