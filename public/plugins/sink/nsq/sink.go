package nsq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fujin-io/evstore/public/plugins/sink"
	"github.com/fujin-io/evstore/public/util"
	"github.com/nsqio/go-nsq"
	"github.com/panjf2000/ants/v2"
)

func init() {
	if err := sink.Register("nsq", New); err != nil {
		panic(fmt.Sprintf("failed to register nsq sink: %v", err))
	}
}

// Sink publishes to an nsqd topic. NSQ messages carry no headers, so
// Publish drops them.
type Sink struct {
	conf     Config
	producer *nsq.Producer
	pool     *ants.Pool
	l        *slog.Logger
	wg       sync.WaitGroup
	chPool   sync.Pool
}

func New(settings any, l *slog.Logger) (sink.Sink, error) {
	var conf Config
	if err := util.ConvertConfig(settings, &conf); err != nil {
		return nil, fmt.Errorf("nsq: convert config: %w", err)
	}
	conf.SetDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	prod, err := nsq.NewProducer(conf.Address, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq: new producer: %w", err)
	}
	prod.SetLoggerLevel(nsq.LogLevelWarning)

	pool, err := ants.NewPool(conf.Pool.Size, ants.WithPreAlloc(conf.Pool.PreAlloc))
	if err != nil {
		prod.Stop()
		return nil, fmt.Errorf("nsq: new pool: %w", err)
	}

	return &Sink{
		conf:     conf,
		producer: prod,
		pool:     pool,
		l:        l.With("sink_type", "nsq"),
		chPool: sync.Pool{
			New: func() any {
				return make(chan *nsq.ProducerTransaction, 1)
			},
		},
	}, nil
}

func (s *Sink) Publish(ctx context.Context, msg []byte, _ [][]byte, callback func(err error)) {
	ch := s.chPool.Get().(chan *nsq.ProducerTransaction)

	if err := s.producer.PublishAsync(s.conf.Topic, msg, ch); err != nil {
		s.chPool.Put(ch)
		callback(err)
		return
	}

	s.wg.Add(1)
	err := s.pool.Submit(func() {
		defer s.wg.Done()

		select {
		case tx := <-ch:
			s.chPool.Put(ch)
			callback(tx.Error)
		case <-ctx.Done():
			callback(ctx.Err())
		}
	})
	if err != nil {
		s.wg.Done()
		callback(err)
	}
}

func (s *Sink) Flush(_ context.Context) error {
	s.wg.Wait()
	return nil
}

func (s *Sink) Close() error {
	s.wg.Wait()
	s.producer.Stop()
	if s.conf.Pool.ReleaseTimeout != 0 {
		if err := s.pool.ReleaseTimeout(s.conf.Pool.ReleaseTimeout); err != nil {
			return fmt.Errorf("nsq: release pool: %w", err)
		}
		return nil
	}
	s.pool.Release()
	return nil
}
