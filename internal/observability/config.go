package observability

import "github.com/fujin-io/evstore/public/cerr"

const (
	DefaultMetricsPath  = "/metrics"
	DefaultServiceName  = "evstore-relay"
	DefaultOTLPEndpoint = "localhost:4317"
)

// MetricsConfig enables the prometheus registry. Without Addr the
// metrics are recorded but not served.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	// SampleRatio of root spans kept, in [0, 1]. Zero means 1.
	SampleRatio float64        `yaml:"sample_ratio"`
	Resource    ResourceConfig `yaml:"resource"`
}

type ResourceConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
}

type Config struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

func (c *Config) SetDefaults() {
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Tracing.OTLPEndpoint == "" {
		c.Tracing.OTLPEndpoint = DefaultOTLPEndpoint
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}
	if c.Tracing.Resource.ServiceName == "" {
		c.Tracing.Resource.ServiceName = DefaultServiceName
	}
}

func (c *Config) Validate() error {
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return cerr.ValidationErr("observability: tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}
