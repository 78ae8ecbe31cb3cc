// Package service runs the relays of the evstore-relay command.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fujin-io/evstore/internal/observability"
	"github.com/fujin-io/evstore/public/checkpoint"
	"github.com/fujin-io/evstore/public/client"
	"github.com/fujin-io/evstore/public/client/config"
	"github.com/fujin-io/evstore/public/plugins/configurator"
	"github.com/fujin-io/evstore/public/plugins/decorator"
	"github.com/fujin-io/evstore/public/plugins/sink"
	"github.com/fujin-io/evstore/public/relay"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConfigurator = "file"
	shutdownTimeout     = 5 * time.Second
)

var Version string

// Service owns the clients, the checkpoint store and the sinks of its relays.
type Service struct {
	l       *slog.Logger
	conns   map[string]config.Settings
	conf    Config
	clients map[string]*client.Client
	store   checkpoint.Store
	sinks   []sink.Sink
	relays  []*relay.Relay
}

func New(conf Config, l *slog.Logger) (*Service, error) {
	conns, err := conf.parse()
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &Service{
		l:       l,
		conns:   conns,
		conf:    conf,
		clients: make(map[string]*client.Client, len(conns)),
	}, nil
}

// Start connects the clients used by relays, opens the checkpoint store
// and builds every relay. Whatever was set up is released by Close, also
// when Start fails.
func (s *Service) Start(ctx context.Context) error {
	var err error
	if s.store, err = checkpoint.New(s.conf.Checkpoint, s.l); err != nil {
		return err
	}

	for _, rc := range s.conf.Relays {
		c, err := s.client(ctx, rc.Connection)
		if err != nil {
			return err
		}

		raw, err := sink.New(rc.Sink, s.l)
		if err != nil {
			return fmt.Errorf("relay %s: %w", rc.Name, err)
		}
		sk, err := decorator.Chain(raw, rc.Sink.Protocol, rc.Sink.Decorators, s.l)
		if err != nil {
			_ = raw.Close()
			return fmt.Errorf("relay %s: %w", rc.Name, err)
		}
		s.sinks = append(s.sinks, sk)

		r, err := relay.New(rc, c, sk, s.store, s.l)
		if err != nil {
			return err
		}
		s.relays = append(s.relays, r)
	}
	return nil
}

func (s *Service) client(ctx context.Context, name string) (*client.Client, error) {
	if c, ok := s.clients[name]; ok {
		return c, nil
	}
	c, err := client.New(s.conns[name], client.WithLogger(s.l))
	if err != nil {
		return nil, fmt.Errorf("connection %s: %w", name, err)
	}
	s.clients[name] = c
	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connection %s: connect: %w", name, err)
	}
	s.l.Info("connected", "connection", name)
	return c, nil
}

// Run runs every relay until ctx is done. The first relay to fail stops
// the others.
func (s *Service) Run(ctx context.Context) error {
	eg, eCtx := errgroup.WithContext(ctx)
	for _, r := range s.relays {
		eg.Go(func() error {
			return r.Run(eCtx)
		})
	}
	return eg.Wait()
}

// Close releases sinks before the store and clients.
func (s *Service) Close() error {
	var errs []error
	for _, sk := range s.sinks {
		if err := sk.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close checkpoint store: %w", err))
		}
	}
	for name, c := range s.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func RunCLI(ctx context.Context) {
	log.Printf("version: %s", Version)

	var conf Config
	if err := loadConfig(ctx, &conf); err != nil {
		log.Fatal(err)
	}

	logger := configureLogger(os.Getenv("EVSTORE_LOG_LEVEL"), os.Getenv("EVSTORE_LOG_TYPE"))
	logRegisteredPlugins(logger)

	if err := run(ctx, conf, logger); err != nil {
		logger.Error("evstore relay", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, conf Config, l *slog.Logger) error {
	shutdown, err := observability.Init(ctx, conf.Observability, l)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		sCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(sCtx); err != nil {
			l.Error("shutdown observability", "err", err)
		}
	}()

	svc, err := New(conf, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			l.Error("close service", "err", err)
		}
	}()

	if err := svc.Start(ctx); err != nil {
		return err
	}
	return svc.Run(ctx)
}

func configureLogger(logLevel, logType string) *slog.Logger {
	var parsedLogLevel slog.Level
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		parsedLogLevel = slog.LevelDebug
	case "WARN":
		parsedLogLevel = slog.LevelWarn
	case "ERROR":
		parsedLogLevel = slog.LevelError
	default:
		parsedLogLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: parsedLogLevel}
	var handler slog.Handler
	switch strings.ToLower(logType) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// loadConfig fills cfg with the configurator named by EVSTORE_CONFIGURATOR.
func loadConfig(ctx context.Context, cfg *Config) error {
	loaderType := os.Getenv("EVSTORE_CONFIGURATOR")
	if loaderType == "" {
		loaderType = DefaultConfigurator
	}

	factory, ok := configurator.Get(loaderType)
	if !ok {
		return fmt.Errorf("configurator %q not found (available: %v)", loaderType, configurator.List())
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	loader, err := factory(logger)
	if err != nil {
		return fmt.Errorf("create configurator: %w", err)
	}
	if err := loader.Load(ctx, cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return nil
}

func logRegisteredPlugins(l *slog.Logger) {
	for _, p := range []struct {
		kind  string
		names []string
	}{
		{"sinks", sink.List()},
		{"sink decorators", decorator.List()},
		{"checkpoint stores", checkpoint.List()},
		{"configurators", configurator.List()},
	} {
		if len(p.names) > 0 {
			l.Info("registered "+p.kind, "list", strings.Join(p.names, ", "))
		} else {
			l.Warn("no " + p.kind + " registered")
		}
	}
}
