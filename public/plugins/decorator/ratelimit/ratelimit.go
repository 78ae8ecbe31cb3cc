// Package ratelimit throttles publishes to a sink.
//
//	decorators:
//	  - name: ratelimit
//	    config:
//	      events_per_second: 1000
//	      burst: 100
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/plugins/decorator"
	"github.com/fujin-io/evstore/public/plugins/sink"
	"github.com/fujin-io/evstore/public/util"
	"golang.org/x/time/rate"
)

const DefaultEventsPerSecond = 1000

type Config struct {
	EventsPerSecond float64 `yaml:"events_per_second"`
	// Burst defaults to one second worth of events.
	Burst int `yaml:"burst"`
}

func (c *Config) SetDefaults() {
	if c.EventsPerSecond == 0 {
		c.EventsPerSecond = DefaultEventsPerSecond
	}
	if c.Burst == 0 {
		c.Burst = max(int(c.EventsPerSecond), 1)
	}
}

func (c *Config) Validate() error {
	if c.EventsPerSecond < 0 || c.Burst < 0 {
		return cerr.ValidationErr("ratelimit: events_per_second and burst must not be negative")
	}
	return nil
}

func init() {
	if err := decorator.Register("ratelimit", New); err != nil {
		panic(fmt.Sprintf("register ratelimit decorator: %v", err))
	}
}

func New(settings any, l *slog.Logger) (decorator.Decorator, error) {
	var conf Config
	if settings != nil {
		if err := util.ConvertConfig(settings, &conf); err != nil {
			return nil, fmt.Errorf("ratelimit: convert config: %w", err)
		}
	}
	conf.SetDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &rateLimitDecorator{conf: conf, l: l}, nil
}

type rateLimitDecorator struct {
	conf Config
	l    *slog.Logger
}

// Wrap gives every wrapped sink its own limiter.
func (d *rateLimitDecorator) Wrap(s sink.Sink, sinkName string) sink.Sink {
	d.l.Debug("rate limiting sink", "sink", sinkName,
		"events_per_second", d.conf.EventsPerSecond, "burst", d.conf.Burst)
	return &rateLimitSink{
		s:       s,
		limiter: rate.NewLimiter(rate.Limit(d.conf.EventsPerSecond), d.conf.Burst),
	}
}

type rateLimitSink struct {
	s       sink.Sink
	limiter *rate.Limiter
}

func (r *rateLimitSink) Publish(ctx context.Context, msg []byte, headers [][]byte, callback func(err error)) {
	if err := r.limiter.Wait(ctx); err != nil {
		callback(fmt.Errorf("rate limit: %w", err))
		return
	}
	r.s.Publish(ctx, msg, headers, callback)
}

func (r *rateLimitSink) Flush(ctx context.Context) error {
	return r.s.Flush(ctx)
}

func (r *rateLimitSink) Close() error {
	return r.s.Close()
}
