package amqp091

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fujin-io/evstore/public/plugins/sink"
	"github.com/fujin-io/evstore/public/util"
	amqp "github.com/rabbitmq/amqp091-go"
)

func init() {
	if err := sink.Register("amqp091", New); err != nil {
		panic(fmt.Sprintf("failed to register amqp091 sink: %v", err))
	}
}

type Sink struct {
	conf    Config
	conn    *amqp.Connection
	channel *amqp.Channel
	l       *slog.Logger
}

func New(settings any, l *slog.Logger) (sink.Sink, error) {
	var conf Config
	if err := util.ConvertConfig(settings, &conf); err != nil {
		return nil, fmt.Errorf("amqp091: convert config: %w", err)
	}
	conf.SetDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(conf.Conn.URL, amqp.Config{
		Vhost:      conf.Conn.Vhost,
		ChannelMax: conf.Conn.ChannelMax,
		FrameSize:  conf.Conn.FrameSize,
		Heartbeat:  conf.Conn.Heartbeat,
	})
	if err != nil {
		return nil, fmt.Errorf("amqp091: dial config: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp091: open channel: %w", err)
	}

	if err := declare(channel, conf); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Sink{
		conf:    conf,
		conn:    conn,
		channel: channel,
		l:       l.With("sink_type", "amqp091"),
	}, nil
}

func declare(channel *amqp.Channel, conf Config) error {
	if err := channel.ExchangeDeclare(
		conf.Exchange.Name,
		conf.Exchange.Kind,
		conf.Exchange.Durable,
		conf.Exchange.AutoDelete,
		conf.Exchange.Internal,
		conf.Exchange.NoWait,
		conf.Exchange.Args,
	); err != nil {
		return fmt.Errorf("amqp091: declare exchange: %w", err)
	}

	if conf.Queue.Name == "" {
		return nil
	}

	queue, err := channel.QueueDeclare(
		conf.Queue.Name,
		conf.Queue.Durable,
		conf.Queue.AutoDelete,
		conf.Queue.Exclusive,
		conf.Queue.NoWait,
		conf.Queue.Args,
	)
	if err != nil {
		return fmt.Errorf("amqp091: declare queue: %w", err)
	}

	if err := channel.QueueBind(queue.Name, conf.Publish.RoutingKey, conf.Exchange.Name, false, nil); err != nil {
		return fmt.Errorf("amqp091: queue bind: %w", err)
	}
	return nil
}

func (s *Sink) Publish(ctx context.Context, msg []byte, headers [][]byte, callback func(err error)) {
	callback(s.channel.PublishWithContext(
		ctx,
		s.conf.Exchange.Name,
		s.conf.Publish.RoutingKey,
		s.conf.Publish.Mandatory,
		s.conf.Publish.Immediate,
		publishing(s.conf.Publish, msg, headers),
	))
}

func publishing(conf PublishConfig, msg []byte, headers [][]byte) amqp.Publishing {
	p := amqp.Publishing{
		ContentType:     conf.ContentType,
		ContentEncoding: conf.ContentEncoding,
		DeliveryMode:    conf.DeliveryMode,
		Priority:        conf.Priority,
		AppId:           conf.AppId,
		Body:            msg,
	}
	if len(headers) > 0 {
		p.Headers = make(amqp.Table, len(headers)/2)
		for k, v := range sink.HeaderMap(headers) {
			p.Headers[k] = v
		}
		if id, ok := p.Headers["es-event-id"].(string); ok {
			p.MessageId = id
		}
		if typ, ok := p.Headers["es-event-type"].(string); ok {
			p.Type = typ
		}
	}
	return p
}

func (s *Sink) Flush(_ context.Context) error {
	return nil
}

func (s *Sink) Close() error {
	if err := s.channel.Close(); err != nil {
		_ = s.conn.Close()
		return fmt.Errorf("amqp091: close channel: %w", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("amqp091: close conn: %w", err)
	}
	return nil
}
