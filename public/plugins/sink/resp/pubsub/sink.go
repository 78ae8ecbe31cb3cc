package pubsub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fujin-io/evstore/public/plugins/sink"
	"github.com/fujin-io/evstore/public/plugins/sink/resp/batch"
	"github.com/fujin-io/evstore/public/util"
	"github.com/redis/rueidis"
)

func init() {
	if err := sink.Register("resp_pubsub", New); err != nil {
		panic(fmt.Sprintf("failed to register resp_pubsub sink: %v", err))
	}
}

// Sink PUBLISHes to a redis channel. Pub/sub has no headers, so Publish
// drops them.
type Sink struct {
	conf   Config
	client rueidis.Client
	batch  *batch.Batcher
	l      *slog.Logger
}

func New(settings any, l *slog.Logger) (sink.Sink, error) {
	var conf Config
	if err := util.ConvertConfig(settings, &conf); err != nil {
		return nil, fmt.Errorf("resp_pubsub: convert config: %w", err)
	}
	conf.SetDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	client, err := conf.NewClient()
	if err != nil {
		return nil, fmt.Errorf("resp_pubsub: new client: %w", err)
	}

	return &Sink{
		conf:   conf,
		client: client,
		batch:  batch.New(conf.BatchConfig, client),
		l:      l.With("sink_type", "resp_pubsub", "endpoint", conf.Endpoint()),
	}, nil
}

func (s *Sink) Publish(_ context.Context, msg []byte, _ [][]byte, callback func(err error)) {
	s.batch.Add(command(s.client.B(), s.conf.Channel, msg), callback)
}

func command(b rueidis.Builder, channel string, msg []byte) rueidis.Completed {
	return b.Publish().Channel(channel).Message(rueidis.BinaryString(msg)).Build()
}

func (s *Sink) Flush(ctx context.Context) error {
	return s.batch.Flush(ctx)
}

func (s *Sink) Close() error {
	s.batch.Close()
	s.client.Close()
	return nil
}
