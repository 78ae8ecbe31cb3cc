// Package client is the public API of the event store TCP client: one
// Client per logical connection, operations that block until the server
// answers, and volatile, catch-up and persistent subscriptions.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fujin-io/evstore/internal/common/promise"
	"github.com/fujin-io/evstore/internal/core/engine"
	"github.com/fujin-io/evstore/internal/core/operations"
	"github.com/fujin-io/evstore/internal/core/transport"
	"github.com/fujin-io/evstore/internal/observability"
	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/client/config"
	"github.com/fujin-io/evstore/public/discovery"
	"github.com/fujin-io/evstore/public/types"
	"go.opentelemetry.io/otel/attribute"
)

type Client struct {
	l *slog.Logger
	s config.Settings
	h *engine.Handler
}

type options struct {
	logger     *slog.Logger
	discoverer engine.EndpointDiscoverer
	dialer     transport.Dialer
	tick       time.Duration
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDiscoverer overrides the discoverer derived from the settings.
func WithDiscoverer(d engine.EndpointDiscoverer) Option {
	return func(o *options) { o.discoverer = d }
}

// WithDialer overrides the dialer derived from the transport settings.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithTickInterval sets how often the connection checks timeouts,
// heartbeats and reconnection delays.
func WithTickInterval(d time.Duration) Option {
	return func(o *options) { o.tick = d }
}

// New validates s and creates a client. Nothing is dialed until Connect.
func New(s config.Settings, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	s.SetDefaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validate settings: %w", err)
	}

	if o.discoverer == nil {
		o.discoverer = newDiscoverer(s, o.logger)
	}
	if o.dialer == nil {
		d, err := newDialer(s)
		if err != nil {
			return nil, fmt.Errorf("new dialer: %w", err)
		}
		o.dialer = d
	}

	h := engine.New(engine.Options{
		Settings:     s,
		Discoverer:   o.discoverer,
		Dialer:       o.dialer,
		Logger:       o.logger.With("component", "client"),
		TickInterval: o.tick,
	})
	return &Client{
		l: o.logger.With("component", "client", "connection", h.ConnectionName()),
		s: s,
		h: h,
	}, nil
}

// NewFromConnectionString is New with settings parsed from cs.
func NewFromConnectionString(cs string, opts ...Option) (*Client, error) {
	s, err := config.ParseConnectionString(cs)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	return New(s, opts...)
}

func newDiscoverer(s config.Settings, l *slog.Logger) engine.EndpointDiscoverer {
	if s.Cluster.Enabled() {
		return discovery.NewCluster(s.Cluster, l)
	}
	if s.TLS.Enabled {
		return discovery.NewStatic(s.Endpoint, s.Endpoint)
	}
	return discovery.NewStatic(s.Endpoint, "")
}

func newDialer(s config.Settings) (transport.Dialer, error) {
	switch {
	case s.Transport == config.TransportQUIC:
		return transport.QUICDialer{TLS: s.TLS.Config}, nil
	case s.Transport != config.TransportTCP:
		return nil, fmt.Errorf("transport %q: %w", s.Transport, cerr.ErrNotSupported)
	case s.TLS.Enabled:
		return transport.TLSDialer{Timeout: s.ClientConnectionTimeout, Config: s.TLS.Config}, nil
	default:
		return transport.TCPDialer{Timeout: s.ClientConnectionTimeout}, nil
	}
}

func (c *Client) ConnectionName() string { return c.h.ConnectionName() }

// Settings returns the effective settings, defaults included.
func (c *Client) Settings() config.Settings { return c.s }

// Connect starts connecting and returns once a node was discovered. The
// connection itself completes in the background; operations issued
// meanwhile are queued.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := c.h.StartConnection().Wait(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Close shuts the connection down. Pending operations fail with
// cerr.ErrConnectionClosed and subscriptions are dropped.
func (c *Client) Close() error {
	c.h.Close("connection close requested by client")
	<-c.h.Done()
	return nil
}

func (c *Client) closed() bool { return c.h.State() == engine.StateClosed }

func (c *Client) OnConnected(fn func(ev types.ConnectionEvent)) (detach func()) {
	return c.h.On(types.EventConnected, fn)
}

func (c *Client) OnDisconnected(fn func(ev types.ConnectionEvent)) (detach func()) {
	return c.h.On(types.EventDisconnected, fn)
}

func (c *Client) OnReconnecting(fn func(ev types.ConnectionEvent)) (detach func()) {
	return c.h.On(types.EventReconnecting, fn)
}

func (c *Client) OnClosed(fn func(ev types.ConnectionEvent)) (detach func()) {
	return c.h.On(types.EventClosed, fn)
}

func (c *Client) OnErrorOccurred(fn func(ev types.ConnectionEvent)) (detach func()) {
	return c.h.On(types.EventErrorOccurred, fn)
}

func (c *Client) OnAuthenticationFailed(fn func(ev types.ConnectionEvent)) (detach func()) {
	return c.h.On(types.EventAuthenticationFailed, fn)
}

type operationOptions struct {
	creds *types.UserCredentials
}

// OperationOption tunes a single call.
type OperationOption func(*operationOptions)

// WithCredentials overrides the default credentials for one call.
func WithCredentials(username, password string) OperationOption {
	return func(o *operationOptions) {
		o.creds = &types.UserCredentials{Username: username, Password: password}
	}
}

func (c *Client) credentials(opts []OperationOption) *types.UserCredentials {
	o := operationOptions{creds: c.s.UserCredentials()}
	for _, opt := range opts {
		opt(&o)
	}
	return o.creds
}

type resultOperation[T any] interface {
	operations.Operation
	Result() *promise.Promise[T]
}

// execute hands op to the connection and waits for its outcome. Leaving
// early through ctx does not cancel the request on the server.
func execute[T any](ctx context.Context, c *Client, op resultOperation[T], attrs ...attribute.KeyValue) (T, error) {
	ctx, end := observability.StartSpan(ctx, op.Name(), attrs...)
	start := time.Now()

	c.h.EnqueueOperation(op, c.s.MaxRetries, c.s.OperationTimeout)
	v, err := op.Result().Wait(ctx)

	observability.ObserveOperation(op.Name(), err, time.Since(start))
	end(err)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", op.Name(), err)
	}
	return v, nil
}

func streamAttr(stream string) attribute.KeyValue {
	return attribute.String("evstore.stream", stream)
}

func checkStream(stream string) error {
	if stream == "" {
		return fmt.Errorf("stream must not be empty: %w", cerr.ErrInvalidArgument)
	}
	return nil
}

func checkCount(count int) error {
	if count <= 0 || count > config.MaxReadBatchSize {
		return fmt.Errorf("count %d not in [1, %d]: %w", count, config.MaxReadBatchSize, cerr.ErrInvalidArgument)
	}
	return nil
}

func (c *Client) AppendToStream(
	ctx context.Context, stream string, expectedVersion int64, events []types.EventData, opts ...OperationOption,
) (types.WriteResult, error) {
	if err := checkStream(stream); err != nil {
		return types.WriteResult{}, err
	}
	op := operations.NewAppendToStream(stream, expectedVersion, events, c.s.RequireMaster(), c.credentials(opts))
	return execute[types.WriteResult](ctx, c, op, streamAttr(stream))
}

func (c *Client) DeleteStream(
	ctx context.Context, stream string, expectedVersion int64, hardDelete bool, opts ...OperationOption,
) (types.DeleteResult, error) {
	if err := checkStream(stream); err != nil {
		return types.DeleteResult{}, err
	}
	op := operations.NewDeleteStream(stream, expectedVersion, hardDelete, c.s.RequireMaster(), c.credentials(opts))
	return execute[types.DeleteResult](ctx, c, op, streamAttr(stream))
}

// ReadEvent reads one event. types.StreamEnd reads the last one.
func (c *Client) ReadEvent(
	ctx context.Context, stream string, eventNumber int64, resolveLinkTos bool, opts ...OperationOption,
) (types.EventReadResult, error) {
	if err := checkStream(stream); err != nil {
		return types.EventReadResult{}, err
	}
	if eventNumber < types.StreamEnd {
		return types.EventReadResult{}, fmt.Errorf("event number %d: %w", eventNumber, cerr.ErrInvalidArgument)
	}
	op := operations.NewReadEvent(stream, eventNumber, resolveLinkTos, c.s.RequireMaster(), c.credentials(opts))
	return execute[types.EventReadResult](ctx, c, op, streamAttr(stream))
}

func (c *Client) ReadStreamEventsForward(
	ctx context.Context, stream string, start int64, count int, resolveLinkTos bool, opts ...OperationOption,
) (types.StreamEventsSlice, error) {
	return c.readStream(ctx, types.Forward, stream, start, count, resolveLinkTos, opts)
}

func (c *Client) ReadStreamEventsBackward(
	ctx context.Context, stream string, start int64, count int, resolveLinkTos bool, opts ...OperationOption,
) (types.StreamEventsSlice, error) {
	return c.readStream(ctx, types.Backward, stream, start, count, resolveLinkTos, opts)
}

func (c *Client) readStream(
	ctx context.Context, dir types.ReadDirection, stream string, start int64, count int,
	resolveLinkTos bool, opts []OperationOption,
) (types.StreamEventsSlice, error) {
	if err := checkStream(stream); err != nil {
		return types.StreamEventsSlice{}, err
	}
	if err := checkCount(count); err != nil {
		return types.StreamEventsSlice{}, err
	}
	if dir == types.Forward && start < 0 {
		return types.StreamEventsSlice{}, fmt.Errorf("start %d: %w", start, cerr.ErrInvalidArgument)
	}
	op := operations.NewReadStreamEvents(dir, stream, start, int32(count), resolveLinkTos, c.s.RequireMaster(), c.credentials(opts))
	return execute[types.StreamEventsSlice](ctx, c, op, streamAttr(stream))
}

func (c *Client) ReadAllEventsForward(
	ctx context.Context, from types.Position, count int, resolveLinkTos bool, opts ...OperationOption,
) (types.AllEventsSlice, error) {
	return c.readAll(ctx, types.Forward, from, count, resolveLinkTos, opts)
}

// ReadAllEventsBackward reads the $all log towards its start. Use
// types.EndPosition to begin at the end.
func (c *Client) ReadAllEventsBackward(
	ctx context.Context, from types.Position, count int, resolveLinkTos bool, opts ...OperationOption,
) (types.AllEventsSlice, error) {
	return c.readAll(ctx, types.Backward, from, count, resolveLinkTos, opts)
}

func (c *Client) readAll(
	ctx context.Context, dir types.ReadDirection, from types.Position, count int,
	resolveLinkTos bool, opts []OperationOption,
) (types.AllEventsSlice, error) {
	if err := checkCount(count); err != nil {
		return types.AllEventsSlice{}, err
	}
	op := operations.NewReadAllEvents(dir, from, int32(count), resolveLinkTos, c.s.RequireMaster(), c.credentials(opts))
	return execute[types.AllEventsSlice](ctx, c, op, streamAttr("$all"))
}

func (c *Client) CreatePersistentSubscription(
	ctx context.Context, stream, group string, settings types.PersistentSubscriptionSettings, opts ...OperationOption,
) error {
	if err := checkStream(stream); err != nil {
		return err
	}
	op := operations.NewCreatePersistentSubscription(stream, group, settings, c.credentials(opts))
	_, err := execute[struct{}](ctx, c, op, streamAttr(stream), attribute.String("evstore.group", group))
	return err
}

func (c *Client) UpdatePersistentSubscription(
	ctx context.Context, stream, group string, settings types.PersistentSubscriptionSettings, opts ...OperationOption,
) error {
	if err := checkStream(stream); err != nil {
		return err
	}
	op := operations.NewUpdatePersistentSubscription(stream, group, settings, c.credentials(opts))
	_, err := execute[struct{}](ctx, c, op, streamAttr(stream), attribute.String("evstore.group", group))
	return err
}

func (c *Client) DeletePersistentSubscription(ctx context.Context, stream, group string, opts ...OperationOption) error {
	if err := checkStream(stream); err != nil {
		return err
	}
	op := operations.NewDeletePersistentSubscription(stream, group, c.credentials(opts))
	_, err := execute[struct{}](ctx, c, op, streamAttr(stream), attribute.String("evstore.group", group))
	return err
}
