// Package config holds the connection settings of the client, read from
// YAML or from a connection string.
package config

import (
	"fmt"
	"time"

	"github.com/fujin-io/evstore/public/cerr"
	pconfig "github.com/fujin-io/evstore/public/config"
	"github.com/fujin-io/evstore/public/types"
)

const (
	TransportTCP  = "tcp"
	TransportQUIC = "quic"

	DefaultMaxQueueSize                = 5000
	DefaultMaxConcurrentItems          = 5000
	DefaultMaxRetries                  = 10
	DefaultMaxReconnections            = 10
	DefaultReconnectionDelay           = 100 * time.Millisecond
	DefaultOperationTimeout            = 7 * time.Second
	DefaultOperationTimeoutCheckPeriod = time.Second
	DefaultHeartbeatInterval           = 750 * time.Millisecond
	DefaultHeartbeatTimeout            = 1500 * time.Millisecond
	DefaultClientConnectionTimeout     = time.Second
	DefaultReadBatchSize               = 500
	DefaultMaxLiveQueueSize            = 10000
	DefaultMaxDiscoverAttempts         = 10
	DefaultExternalGossipPort          = 2113
	DefaultGossipTimeout               = time.Second
	DefaultDiscoverDelay               = 500 * time.Millisecond

	// MaxReadBatchSize is the largest page the server accepts.
	MaxReadBatchSize = 4096
)

type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type ClusterSettings struct {
	DNS                 string        `yaml:"dns"`
	GossipSeeds         []string      `yaml:"gossip_seeds"`
	ExternalGossipPort  int           `yaml:"external_gossip_port"`
	MaxDiscoverAttempts int           `yaml:"max_discover_attempts"`
	GossipTimeout       time.Duration `yaml:"gossip_timeout"`
	DiscoverDelay       time.Duration `yaml:"discover_delay"`
	PreferRandomNode    bool          `yaml:"prefer_random_node"`
}

// Enabled reports whether endpoints are discovered through gossip.
func (c ClusterSettings) Enabled() bool {
	return c.DNS != "" || len(c.GossipSeeds) > 0
}

type Settings struct {
	ConnectionName string `yaml:"connection_name"`
	// Endpoint is host:port of a single node. Ignored when Cluster is set.
	Endpoint  string `yaml:"endpoint"`
	Transport string `yaml:"transport"`

	VerboseLogging bool `yaml:"verbose_logging"`

	MaxQueueSize       int `yaml:"max_queue_size"`
	MaxConcurrentItems int `yaml:"max_concurrent_items"`
	// MaxRetries and MaxReconnections accept -1 for unlimited.
	MaxRetries       int `yaml:"max_retries"`
	MaxReconnections int `yaml:"max_reconnections"`

	PerformOnAnyNode bool `yaml:"perform_on_any_node"`

	ReconnectionDelay           time.Duration `yaml:"reconnection_delay"`
	OperationTimeout            time.Duration `yaml:"operation_timeout"`
	OperationTimeoutCheckPeriod time.Duration `yaml:"operation_timeout_check_period"`
	FailOnNoServerResponse      bool          `yaml:"fail_on_no_server_response"`

	HeartbeatInterval       time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout        time.Duration `yaml:"heartbeat_timeout"`
	ClientConnectionTimeout time.Duration `yaml:"client_connection_timeout"`

	Credentials *Credentials      `yaml:"credentials"`
	TLS         pconfig.TLSConfig `yaml:"tls"`
	Cluster     ClusterSettings   `yaml:"cluster"`

	// ReadBatchSize is the page size of catch-up history reads.
	ReadBatchSize int `yaml:"read_batch_size"`
	// MaxLiveQueueSize bounds live events buffered by a catch-up
	// subscription while it is still reading history.
	MaxLiveQueueSize int `yaml:"max_live_queue_size"`
}

// Default returns settings with every default applied.
func Default() Settings {
	var s Settings
	s.SetDefaults()
	return s
}

func (s *Settings) SetDefaults() {
	if s.Transport == "" {
		s.Transport = TransportTCP
	}
	if s.MaxQueueSize == 0 {
		s.MaxQueueSize = DefaultMaxQueueSize
	}
	if s.MaxConcurrentItems == 0 {
		s.MaxConcurrentItems = DefaultMaxConcurrentItems
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = DefaultMaxRetries
	}
	if s.MaxReconnections == 0 {
		s.MaxReconnections = DefaultMaxReconnections
	}
	if s.ReconnectionDelay == 0 {
		s.ReconnectionDelay = DefaultReconnectionDelay
	}
	if s.OperationTimeout == 0 {
		s.OperationTimeout = DefaultOperationTimeout
	}
	if s.OperationTimeoutCheckPeriod == 0 {
		s.OperationTimeoutCheckPeriod = DefaultOperationTimeoutCheckPeriod
	}
	if s.HeartbeatInterval == 0 {
		s.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if s.HeartbeatTimeout == 0 {
		s.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if s.ClientConnectionTimeout == 0 {
		s.ClientConnectionTimeout = DefaultClientConnectionTimeout
	}
	if s.ReadBatchSize == 0 {
		s.ReadBatchSize = DefaultReadBatchSize
	}
	if s.MaxLiveQueueSize == 0 {
		s.MaxLiveQueueSize = DefaultMaxLiveQueueSize
	}
	if s.Cluster.Enabled() {
		if s.Cluster.ExternalGossipPort == 0 {
			s.Cluster.ExternalGossipPort = DefaultExternalGossipPort
		}
		if s.Cluster.MaxDiscoverAttempts == 0 {
			s.Cluster.MaxDiscoverAttempts = DefaultMaxDiscoverAttempts
		}
		if s.Cluster.GossipTimeout == 0 {
			s.Cluster.GossipTimeout = DefaultGossipTimeout
		}
		if s.Cluster.DiscoverDelay == 0 {
			s.Cluster.DiscoverDelay = DefaultDiscoverDelay
		}
	}
}

func (s *Settings) Validate() error {
	if s.Endpoint == "" && !s.Cluster.Enabled() {
		return cerr.ValidationErr("endpoint or cluster discovery must be configured")
	}
	if s.Transport != TransportTCP && s.Transport != TransportQUIC {
		return cerr.ValidationErr(fmt.Sprintf("unknown transport %q", s.Transport))
	}
	if s.Transport == TransportQUIC && !s.TLS.Enabled {
		return cerr.ValidationErr("quic transport requires tls")
	}
	if s.MaxQueueSize <= 0 {
		return cerr.ValidationErr("max queue size must be positive")
	}
	if s.MaxConcurrentItems <= 0 {
		return cerr.ValidationErr("max concurrent items must be positive")
	}
	if s.MaxRetries < -1 {
		return cerr.ValidationErr("max retries must be -1 or greater")
	}
	if s.MaxReconnections < -1 {
		return cerr.ValidationErr("max reconnections must be -1 or greater")
	}
	if s.OperationTimeout <= 0 || s.OperationTimeoutCheckPeriod <= 0 {
		return cerr.ValidationErr("operation timeout and check period must be positive")
	}
	if s.HeartbeatInterval <= 0 || s.HeartbeatTimeout <= 0 {
		return cerr.ValidationErr("heartbeat interval and timeout must be positive")
	}
	if s.ReadBatchSize <= 0 || s.ReadBatchSize > MaxReadBatchSize {
		return cerr.ValidationErr(fmt.Sprintf("read batch size must be in [1, %d]", MaxReadBatchSize))
	}
	if s.Credentials != nil && (len(s.Credentials.Username) > 255 || len(s.Credentials.Password) > 255) {
		return cerr.ValidationErr("credentials longer than 255 bytes")
	}
	if err := s.TLS.Parse(); err != nil {
		return fmt.Errorf("parse tls: %w", err)
	}
	return nil
}

// RequireMaster reports whether writes and reads must be served by the
// master node.
func (s *Settings) RequireMaster() bool {
	return !s.PerformOnAnyNode
}

// UserCredentials returns the default credentials attached to every
// request, or nil.
func (s *Settings) UserCredentials() *types.UserCredentials {
	if s.Credentials == nil {
		return nil
	}
	return &types.UserCredentials{Username: s.Credentials.Username, Password: s.Credentials.Password}
}
