package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fujin-io/evstore/public/plugins/sink"
	"github.com/fujin-io/evstore/public/util"
	"github.com/twmb/franz-go/pkg/kgo"
)

func init() {
	if err := sink.Register("kafka", New); err != nil {
		panic(fmt.Sprintf("failed to register kafka sink: %v", err))
	}
}

type Sink struct {
	conf Config
	c    *kgo.Client
	l    *slog.Logger
	wg   sync.WaitGroup
}

func New(settings any, l *slog.Logger) (sink.Sink, error) {
	var conf Config
	if err := util.ConvertConfig(settings, &conf); err != nil {
		return nil, fmt.Errorf("kafka: convert config: %w", err)
	}
	conf.SetDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	if err := conf.TLS.Parse(); err != nil {
		return nil, fmt.Errorf("kafka: parse tls: %w", err)
	}

	c, err := kgo.NewClient(kgoOpts(conf, conf.TLS.Config)...)
	if err != nil {
		return nil, fmt.Errorf("kafka: new client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), conf.PingTimeout)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("kafka: ping: %w", err)
	}

	return &Sink{
		conf: conf,
		c:    c,
		l:    l.With("sink_type", "kafka"),
	}, nil
}

func (s *Sink) Publish(ctx context.Context, msg []byte, headers [][]byte, callback func(err error)) {
	s.wg.Add(1)
	s.c.Produce(ctx, record(s.conf, msg, headers), func(_ *kgo.Record, err error) {
		callback(err)
		s.wg.Done()
	})
}

func (s *Sink) Flush(ctx context.Context) error {
	if err := s.c.Flush(ctx); err != nil {
		return fmt.Errorf("kafka: flush: %w", err)
	}
	s.wg.Wait()
	return nil
}

func (s *Sink) Close() error {
	s.wg.Wait()
	s.c.Close()
	return nil
}

func record(conf Config, msg []byte, headers [][]byte) *kgo.Record {
	rec := &kgo.Record{
		Topic: conf.Topic,
		Value: msg,
	}
	if len(headers) == 0 {
		return rec
	}

	rec.Headers = make([]kgo.RecordHeader, 0, len(headers)/2)
	for i := 0; i < len(headers); i += 2 {
		var val []byte
		if i+1 < len(headers) {
			val = headers[i+1]
		}
		key := string(headers[i])
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: key, Value: val})
		if conf.KeyHeader != "" && key == conf.KeyHeader {
			rec.Key = val
		}
	}
	return rec
}

func kgoOpts(conf Config, tlsConfig *tls.Config) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(conf.Brokers...),
		kgo.DefaultProduceTopic(conf.Topic),
	}

	if tlsConfig != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsConfig))
	}

	if conf.AllowAutoTopicCreation {
		opts = append(opts, kgo.AllowAutoTopicCreation())
	}

	if conf.DisableIdempotentWrite {
		opts = append(opts, kgo.DisableIdempotentWrite())
	}

	if conf.Linger != 0 {
		opts = append(opts, kgo.ProducerLinger(conf.Linger))
	}

	if conf.MaxBufferedRecords > 0 {
		opts = append(opts, kgo.MaxBufferedRecords(conf.MaxBufferedRecords))
	}

	return opts
}
