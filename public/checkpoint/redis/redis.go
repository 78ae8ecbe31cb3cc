// Package redis stores checkpoints as JSON values under prefixed keys.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/checkpoint"
	pconfig "github.com/fujin-io/evstore/public/config"
	"github.com/fujin-io/evstore/public/types"
	"github.com/fujin-io/evstore/public/util"
	"github.com/redis/rueidis"
)

func init() {
	if err := checkpoint.Register("redis", New); err != nil {
		panic(fmt.Sprintf("failed to register redis checkpoint store: %v", err))
	}
}

type Config struct {
	InitAddress []string          `yaml:"init_address"`
	Username    string            `yaml:"username"`
	Password    string            `yaml:"password"`
	SelectDB    int               `yaml:"select_db"`
	TLS         pconfig.TLSConfig `yaml:"tls"`
	KeyPrefix   string            `yaml:"key_prefix"`
	// TTL expires checkpoints that were not saved for that long. Zero
	// keeps them forever.
	TTL time.Duration `yaml:"ttl"`
}

func (c *Config) SetDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "evstore:checkpoint:"
	}
}

func (c *Config) Validate() error {
	if len(c.InitAddress) == 0 {
		return cerr.ValidationErr("redis checkpoint: init_address is required")
	}
	if c.TTL < 0 {
		return cerr.ValidationErr("redis checkpoint: ttl must not be negative")
	}
	return nil
}

type Store struct {
	conf   Config
	client rueidis.Client
	l      *slog.Logger
}

func New(settings any, l *slog.Logger) (checkpoint.Store, error) {
	var conf Config
	if err := util.ConvertConfig(settings, &conf); err != nil {
		return nil, fmt.Errorf("convert config: %w", err)
	}
	conf.SetDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if err := conf.TLS.Parse(); err != nil {
		return nil, fmt.Errorf("parse tls: %w", err)
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  conf.InitAddress,
		Username:     conf.Username,
		Password:     conf.Password,
		SelectDB:     conf.SelectDB,
		TLSConfig:    conf.TLS.Config,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("new client: %w", err)
	}

	return &Store{conf: conf, client: client, l: l}, nil
}

// record is the stored JSON form.
type record struct {
	EventNumber     *int64 `json:"event_number,omitempty"`
	CommitPosition  *int64 `json:"commit_position,omitempty"`
	PreparePosition *int64 `json:"prepare_position,omitempty"`
}

func encode(cp checkpoint.Checkpoint) ([]byte, error) {
	r := record{EventNumber: cp.EventNumber}
	if cp.Position != nil {
		r.CommitPosition = &cp.Position.CommitPosition
		r.PreparePosition = &cp.Position.PreparePosition
	}
	return sonic.Marshal(r)
}

func decode(b []byte) (checkpoint.Checkpoint, error) {
	var r record
	if err := sonic.Unmarshal(b, &r); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	cp := checkpoint.Checkpoint{EventNumber: r.EventNumber}
	if r.CommitPosition != nil && r.PreparePosition != nil {
		cp.Position = &types.Position{CommitPosition: *r.CommitPosition, PreparePosition: *r.PreparePosition}
	}
	return cp, nil
}

func (s *Store) key(key string) string {
	return s.conf.KeyPrefix + key
}

func (s *Store) Load(ctx context.Context, key string) (checkpoint.Checkpoint, bool, error) {
	b, err := s.client.Do(ctx, s.client.B().Get().Key(s.key(key)).Build()).AsBytes()
	if rueidis.IsRedisNil(err) {
		return checkpoint.Checkpoint{}, false, nil
	}
	if err != nil {
		return checkpoint.Checkpoint{}, false, fmt.Errorf("get %q: %w", key, err)
	}

	cp, err := decode(b)
	if err != nil {
		return checkpoint.Checkpoint{}, false, err
	}
	return cp, true, nil
}

func (s *Store) Save(ctx context.Context, key string, cp checkpoint.Checkpoint) error {
	b, err := encode(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	var cmd rueidis.Completed
	if s.conf.TTL > 0 {
		cmd = s.client.B().Set().Key(s.key(key)).Value(rueidis.BinaryString(b)).Px(s.conf.TTL).Build()
	} else {
		cmd = s.client.B().Set().Key(s.key(key)).Value(rueidis.BinaryString(b)).Build()
	}
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.client.Close()
	return nil
}
