package amqp10

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Azure/go-amqp"
	"github.com/fujin-io/evstore/public/plugins/sink"
	"github.com/fujin-io/evstore/public/util"
)

func init() {
	if err := sink.Register("amqp10", New); err != nil {
		panic(fmt.Sprintf("failed to register amqp10 sink: %v", err))
	}
}

type Sink struct {
	conf Config

	conn    *amqp.Conn
	session *amqp.Session
	sender  *amqp.Sender

	l *slog.Logger
}

func New(settings any, l *slog.Logger) (sink.Sink, error) {
	var conf Config
	if err := util.ConvertConfig(settings, &conf); err != nil {
		return nil, fmt.Errorf("amqp10: convert config: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	ctx := context.Background()
	conn, err := amqp.Dial(ctx, conf.Conn.Addr, &amqp.ConnOptions{
		ContainerID:  conf.Conn.ContainerID,
		HostName:     conf.Conn.HostName,
		IdleTimeout:  conf.Conn.IdleTimeout,
		MaxFrameSize: conf.Conn.MaxFrameSize,
		WriteTimeout: conf.Conn.WriteTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("amqp10: dial: %w", err)
	}

	session, err := conn.NewSession(ctx, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp10: new session: %w", err)
	}

	sender, err := session.NewSender(ctx, conf.Sender.Target, &amqp.SenderOptions{
		Name:           conf.Sender.Name,
		Durability:     conf.Sender.Durability,
		SettlementMode: conf.Sender.SettlementMode,
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp10: new sender: %w", err)
	}

	return &Sink{
		conf:    conf,
		conn:    conn,
		session: session,
		sender:  sender,
		l:       l.With("sink_type", "amqp10"),
	}, nil
}

func (s *Sink) Publish(ctx context.Context, msg []byte, headers [][]byte, callback func(err error)) {
	callback(s.sender.Send(ctx, message(msg, headers), &amqp.SendOptions{
		Settled: s.conf.Settled,
	}))
}

func message(msg []byte, headers [][]byte) *amqp.Message {
	m := amqp.NewMessage(msg)
	if len(headers) == 0 {
		return m
	}

	m.ApplicationProperties = make(map[string]any, len(headers)/2)
	for k, v := range sink.HeaderMap(headers) {
		m.ApplicationProperties[k] = v
	}
	if id, ok := m.ApplicationProperties["es-event-id"]; ok {
		m.Properties = &amqp.MessageProperties{MessageID: id}
	}
	return m
}

func (s *Sink) Flush(_ context.Context) error {
	return nil
}

func (s *Sink) Close() error {
	ctx := context.Background()
	if err := s.sender.Close(ctx); err != nil {
		s.l.Error("close sender", "err", err)
	}
	if err := s.session.Close(ctx); err != nil {
		s.l.Error("close session", "err", err)
	}
	return s.conn.Close()
}
