package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fujin-io/evstore/public/plugins/sink"
	"github.com/fujin-io/evstore/public/util"
	"github.com/nats-io/nats.go"
)

func init() {
	if err := sink.Register("nats_core", New); err != nil {
		panic(fmt.Sprintf("failed to register nats_core sink: %v", err))
	}
}

// Sink publishes to a single NATS subject. Headers become NATS message
// headers.
type Sink struct {
	conf Config
	nc   *nats.Conn
	l    *slog.Logger
}

func New(settings any, l *slog.Logger) (sink.Sink, error) {
	var conf Config
	if err := util.ConvertConfig(settings, &conf); err != nil {
		return nil, fmt.Errorf("nats_core: convert config: %w", err)
	}
	conf.SetDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	nc, err := nats.Connect(conf.URL, nats.Name(conf.Name))
	if err != nil {
		return nil, fmt.Errorf("nats_core: connect: %w", err)
	}

	return &Sink{
		conf: conf,
		nc:   nc,
		l:    l.With("sink_type", "nats_core"),
	}, nil
}

func (s *Sink) Publish(_ context.Context, msg []byte, headers [][]byte, callback func(err error)) {
	natsMsg := &nats.Msg{
		Subject: s.conf.Subject,
		Data:    msg,
	}

	if len(headers) > 0 {
		natsMsg.Header = make(nats.Header)
		for k, v := range sink.HeaderMap(headers) {
			natsMsg.Header.Set(k, v)
		}
	}

	callback(s.nc.PublishMsg(natsMsg))
}

func (s *Sink) Flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		return s.nc.FlushTimeout(s.conf.FlushTimeout)
	}
	return s.nc.FlushWithContext(ctx)
}

func (s *Sink) Close() error {
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return fmt.Errorf("nats_core: drain: %w", err)
	}
	return nil
}
