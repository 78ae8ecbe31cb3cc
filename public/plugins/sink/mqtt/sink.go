package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/fujin-io/evstore/public/plugins/sink"
	"github.com/fujin-io/evstore/public/util"
	"github.com/panjf2000/ants/v2"
)

func init() {
	if err := sink.Register("mqtt", New); err != nil {
		panic(fmt.Sprintf("failed to register mqtt sink: %v", err))
	}
}

// Sink publishes MQTT v5 messages. Headers become user properties.
type Sink struct {
	conf Config
	cm   *autopaho.ConnectionManager
	pool *ants.Pool
	l    *slog.Logger
	wg   sync.WaitGroup
}

func New(settings any, l *slog.Logger) (sink.Sink, error) {
	var conf Config
	if err := util.ConvertConfig(settings, &conf); err != nil {
		return nil, fmt.Errorf("mqtt: convert config: %w", err)
	}
	conf.SetDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	serverURL, err := url.Parse(conf.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("mqtt: parse broker url: %w", err)
	}

	l = l.With("sink_type", "mqtt")
	cliCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     conf.KeepAlive,
		CleanStartOnInitialConnection: conf.CleanStart,
		SessionExpiryInterval:         conf.SessionExpiry,
		ConnectTimeout:                conf.ConnectTimeout,
		OnConnectionUp: func(_ *autopaho.ConnectionManager, connAck *paho.Connack) {
			l.Info("mqtt connection up", "session_present", connAck.SessionPresent)
		},
		OnConnectError: func(err error) {
			l.Error("mqtt connection error", "err", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: conf.ClientID,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), conf.ConnectTimeout)
	defer cancel()

	cm, err := autopaho.NewConnection(context.Background(), cliCfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt: new connection: %w", err)
	}
	if err := cm.AwaitConnection(ctx); err != nil {
		_ = cm.Disconnect(context.Background())
		return nil, fmt.Errorf("mqtt: await connection: %w", err)
	}

	pool, err := ants.NewPool(conf.Pool.Size, ants.WithPreAlloc(conf.Pool.PreAlloc))
	if err != nil {
		_ = cm.Disconnect(context.Background())
		return nil, fmt.Errorf("mqtt: new pool: %w", err)
	}

	return &Sink{
		conf: conf,
		cm:   cm,
		pool: pool,
		l:    l,
	}, nil
}

func (s *Sink) Publish(ctx context.Context, msg []byte, headers [][]byte, callback func(err error)) {
	pub := publish(s.conf, msg, headers)

	s.wg.Add(1)
	err := s.pool.Submit(func() {
		defer s.wg.Done()
		_, err := s.cm.Publish(ctx, pub)
		callback(err)
	})
	if err != nil {
		s.wg.Done()
		callback(err)
	}
}

func publish(conf Config, msg []byte, headers [][]byte) *paho.Publish {
	pub := &paho.Publish{
		Topic:   conf.Topic,
		QoS:     conf.QoS,
		Retain:  conf.Retain,
		Payload: msg,
	}
	if len(headers) == 0 {
		return pub
	}

	props := &paho.PublishProperties{ContentType: "application/json"}
	for i := 0; i < len(headers); i += 2 {
		var val string
		if i+1 < len(headers) {
			val = string(headers[i+1])
		}
		props.User = append(props.User, paho.UserProperty{Key: string(headers[i]), Value: val})
	}
	pub.Properties = props
	return pub
}

func (s *Sink) Flush(_ context.Context) error {
	s.wg.Wait()
	return nil
}

func (s *Sink) Close() error {
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), s.conf.DisconnectTimeout)
	defer cancel()

	if err := s.cm.Disconnect(ctx); err != nil {
		s.l.Error("mqtt disconnect", "err", err)
	}

	if s.conf.Pool.ReleaseTimeout != 0 {
		if err := s.pool.ReleaseTimeout(s.conf.Pool.ReleaseTimeout); err != nil {
			return fmt.Errorf("mqtt: release pool: %w", err)
		}
		return nil
	}
	s.pool.Release()
	return nil
}
