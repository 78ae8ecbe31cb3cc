package streams

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/fujin-io/evstore/public/plugins/sink"
	"github.com/fujin-io/evstore/public/plugins/sink/resp/batch"
	"github.com/fujin-io/evstore/public/util"
	"github.com/redis/rueidis"
)

func init() {
	if err := sink.Register("resp_streams", New); err != nil {
		panic(fmt.Sprintf("failed to register resp_streams sink: %v", err))
	}
}

// Sink XADDs one stream entry per message.
type Sink struct {
	conf   Config
	client rueidis.Client
	batch  *batch.Batcher
	l      *slog.Logger
}

func New(settings any, l *slog.Logger) (sink.Sink, error) {
	var conf Config
	if err := util.ConvertConfig(settings, &conf); err != nil {
		return nil, fmt.Errorf("resp_streams: convert config: %w", err)
	}
	conf.SetDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	client, err := conf.NewClient()
	if err != nil {
		return nil, fmt.Errorf("resp_streams: new client: %w", err)
	}

	return &Sink{
		conf:   conf,
		client: client,
		batch:  batch.New(conf.BatchConfig, client),
		l:      l.With("sink_type", "resp_streams", "endpoint", conf.Endpoint()),
	}, nil
}

func (s *Sink) Publish(_ context.Context, msg []byte, headers [][]byte, callback func(err error)) {
	args := xaddArgs(s.conf, msg, headers)
	s.batch.Add(s.client.B().Arbitrary(args[0]).Keys(args[1]).Args(args[2:]...).Build(), callback)
}

// xaddArgs renders the XADD command. A header named like DataField is
// skipped.
func xaddArgs(conf Config, msg []byte, headers [][]byte) []string {
	args := make([]string, 0, 6+len(headers)+2)
	args = append(args, "XADD", conf.Stream)
	if conf.MaxLen > 0 {
		args = append(args, "MAXLEN", "~", strconv.FormatInt(conf.MaxLen, 10))
	}
	args = append(args, "*", conf.DataField, rueidis.BinaryString(msg))
	for i := 0; i+1 < len(headers); i += 2 {
		if string(headers[i]) == conf.DataField {
			continue
		}
		args = append(args, string(headers[i]), rueidis.BinaryString(headers[i+1]))
	}
	return args
}

func (s *Sink) Flush(ctx context.Context) error {
	return s.batch.Flush(ctx)
}

func (s *Sink) Close() error {
	s.batch.Close()
	s.client.Close()
	return nil
}
