// Package log provides a sink that writes every message to the relay
// logger. It is meant for dry runs of a relay configuration.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/plugins/sink"
	"github.com/fujin-io/evstore/public/util"
)

func init() {
	if err := sink.Register("log", New); err != nil {
		panic(fmt.Sprintf("failed to register log sink: %v", err))
	}
}

type Config struct {
	Level string `yaml:"level"`
	// Body logs the message payload as well.
	Body bool `yaml:"body"`
}

type Sink struct {
	conf  Config
	level slog.Level
	l     *slog.Logger
}

func New(settings any, l *slog.Logger) (sink.Sink, error) {
	var conf Config
	if settings != nil {
		if err := util.ConvertConfig(settings, &conf); err != nil {
			return nil, fmt.Errorf("log: convert config: %w", err)
		}
	}

	level, err := parseLevel(conf.Level)
	if err != nil {
		return nil, err
	}

	return &Sink{conf: conf, level: level, l: l}, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, cerr.ValidationErr(fmt.Sprintf("log: unknown level %q", s))
	}
}

func (s *Sink) Publish(ctx context.Context, msg []byte, headers [][]byte, callback func(err error)) {
	attrs := make([]any, 0, len(headers)/2+2)
	for k, v := range sink.HeaderMap(headers) {
		attrs = append(attrs, k, v)
	}
	attrs = append(attrs, "size", len(msg))
	if s.conf.Body {
		attrs = append(attrs, "body", string(msg))
	}
	s.l.Log(ctx, s.level, "event", attrs...)
	callback(nil)
}

func (s *Sink) Flush(_ context.Context) error {
	return nil
}

func (s *Sink) Close() error {
	return nil
}
