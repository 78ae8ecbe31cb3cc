package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fujin-io/evstore/internal/core/subscriptions"
	"github.com/fujin-io/evstore/internal/observability"
	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultPersistentBufferSize   = 10
	DefaultPersistentPollInterval = 10 * time.Millisecond
)

type PersistentSettings struct {
	// BufferSize is the number of events the server may have in flight
	// to this consumer.
	BufferSize int
	// AutoAck acknowledges every event its handler returned nil for.
	AutoAck bool
	// PollInterval is the sleep of the pull loop on an empty buffer.
	PollInterval time.Duration
	Credentials  *types.UserCredentials
}

// DefaultPersistentSettings has AutoAck on.
func DefaultPersistentSettings() PersistentSettings {
	return PersistentSettings{
		BufferSize:   DefaultPersistentBufferSize,
		AutoAck:      true,
		PollInterval: DefaultPersistentPollInterval,
	}
}

type PersistentHandlers struct {
	// EventAppeared gets how often the server delivered ev before.
	EventAppeared func(s *PersistentSubscription, ev types.ResolvedEvent, retryCount int) error
	Dropped       func(s *PersistentSubscription, reason types.SubscriptionDropReason, err error)
}

type persistentEntry struct {
	event      types.ResolvedEvent
	retryCount int
	drop       *types.DropData
}

// PersistentSubscription is a competing consumer of a server side group.
type PersistentSubscription struct {
	l        *slog.Logger
	sub      *subscriptions.Persistent
	stream   string
	group    string
	settings PersistentSettings
	handlers PersistentHandlers

	mu     sync.Mutex
	buffer []persistentEntry

	dropped atomic.Bool
	stopped chan struct{}
}

// ConnectToPersistentSubscription joins group on stream and starts
// dispatching events once the server confirmed.
func (c *Client) ConnectToPersistentSubscription(
	ctx context.Context, stream, group string, settings PersistentSettings, handlers PersistentHandlers,
) (*PersistentSubscription, error) {
	if err := checkStream(stream); err != nil {
		return nil, err
	}
	if group == "" {
		return nil, fmt.Errorf("group must not be empty: %w", cerr.ErrInvalidArgument)
	}
	if handlers.EventAppeared == nil {
		return nil, fmt.Errorf("event handler is required: %w", cerr.ErrInvalidArgument)
	}
	if settings.BufferSize <= 0 {
		settings.BufferSize = DefaultPersistentBufferSize
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = DefaultPersistentPollInterval
	}
	if settings.Credentials == nil {
		settings.Credentials = c.s.UserCredentials()
	}

	s := &PersistentSubscription{
		l:        c.l.With("stream", stream, "group", group),
		stream:   stream,
		group:    group,
		settings: settings,
		handlers: handlers,
		stopped:  make(chan struct{}),
	}

	ctx, end := observability.StartSpan(ctx, "ConnectToPersistentSubscription",
		streamAttr(stream), attribute.String("evstore.group", group))
	s.sub = subscriptions.NewPersistent(subscriptions.Options{
		Logger:         s.l,
		StreamID:       stream,
		ResolveLinkTos: false,
		Credentials:    settings.Credentials,
		OnDropped:      s.onServerDropped,
		Verbose:        c.s.VerboseLogging,
	}, group, int32(settings.BufferSize), s.enqueue)
	c.h.StartSubscription(s.sub, c.s.MaxRetries, c.s.OperationTimeout)

	_, err := s.sub.Confirmed().Wait(ctx)
	end(err)
	if err != nil {
		s.sub.Unsubscribe()
		return nil, fmt.Errorf("connect to persistent subscription %q on %q: %w", group, stream, err)
	}

	go s.pull()
	return s, nil
}

func (s *PersistentSubscription) StreamID() string { return s.stream }

func (s *PersistentSubscription) Group() string { return s.group }

// Done is closed after the Dropped handler returned.
func (s *PersistentSubscription) Done() <-chan struct{} { return s.stopped }

// Ack acknowledges events handled outside of AutoAck.
func (s *PersistentSubscription) Ack(events ...types.ResolvedEvent) error {
	ids, err := eventIDs(events)
	if err != nil {
		return err
	}
	if err := s.sub.NotifyEventsProcessed(ids); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

// AckIDs is Ack for callers that kept only the event ids.
func (s *PersistentSubscription) AckIDs(ids ...uuid.UUID) error {
	if err := s.sub.NotifyEventsProcessed(ids); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

// Nack tells the server what to do with events that were not handled.
func (s *PersistentSubscription) Nack(
	action types.PersistentSubscriptionNakEventAction, reason string, events ...types.ResolvedEvent,
) error {
	ids, err := eventIDs(events)
	if err != nil {
		return err
	}
	if err := s.sub.NotifyEventsFailed(ids, action, reason); err != nil {
		return fmt.Errorf("nack: %w", err)
	}
	return nil
}

func eventIDs(events []types.ResolvedEvent) ([]uuid.UUID, error) {
	if len(events) > subscriptions.MaxAckBatch {
		return nil, fmt.Errorf("%w: %d > %d", cerr.ErrTooManyEventIDs, len(events), subscriptions.MaxAckBatch)
	}
	ids := make([]uuid.UUID, 0, len(events))
	for _, ev := range events {
		if orig := ev.OriginalEvent(); orig != nil {
			ids = append(ids, orig.EventID)
		}
	}
	return ids, nil
}

// Stop leaves the group and waits up to timeout for the drop to
// complete. A non-positive timeout does not wait.
func (s *PersistentSubscription) Stop(timeout time.Duration) error {
	s.sub.Unsubscribe()

	if timeout <= 0 {
		return nil
	}
	select {
	case <-s.stopped:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w after %s", cerr.ErrStopTimeout, timeout)
	}
}

func (s *PersistentSubscription) enqueue(ev types.ResolvedEvent, retryCount int) error {
	s.mu.Lock()
	s.buffer = append(s.buffer, persistentEntry{event: ev, retryCount: retryCount})
	s.mu.Unlock()
	return nil
}

func (s *PersistentSubscription) onServerDropped(reason types.SubscriptionDropReason, err error) {
	s.mu.Lock()
	s.buffer = append(s.buffer, persistentEntry{drop: &types.DropData{Reason: reason, Err: err}})
	s.mu.Unlock()
}

func (s *PersistentSubscription) next() (persistentEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) == 0 {
		return persistentEntry{}, false
	}
	e := s.buffer[0]
	s.buffer[0] = persistentEntry{}
	s.buffer = s.buffer[1:]
	return e, true
}

// pull dispatches buffered events one at a time until a drop.
func (s *PersistentSubscription) pull() {
	t := time.NewTicker(s.settings.PollInterval)
	defer t.Stop()

	for {
		e, ok := s.next()
		if !ok {
			<-t.C
			continue
		}
		if e.drop != nil {
			s.drop(e.drop.Reason, e.drop.Err)
			return
		}
		if err := s.dispatch(e); err != nil {
			s.drop(types.DropEventHandlerException, err)
			return
		}
	}
}

func (s *PersistentSubscription) dispatch(e persistentEntry) error {
	err := s.call(e)
	if err != nil {
		if nerr := s.Nack(types.NakActionRetry, err.Error(), e.event); nerr != nil {
			s.l.Warn("nack failed", "err", nerr)
		}
		return err
	}
	if s.settings.AutoAck {
		if aerr := s.Ack(e.event); aerr != nil {
			s.l.Warn("auto ack failed", "err", aerr)
		}
	}
	return nil
}

func (s *PersistentSubscription) call(e persistentEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
		}
	}()
	return s.handlers.EventAppeared(s, e.event, e.retryCount)
}

func (s *PersistentSubscription) drop(reason types.SubscriptionDropReason, err error) {
	if !s.dropped.CompareAndSwap(false, true) {
		return
	}
	if reason == types.DropEventHandlerException {
		s.l.Error("persistent subscription dropped", "reason", reason.String(), "err", err)
	} else {
		s.l.Info("persistent subscription dropped", "reason", reason.String(), "err", err)
	}
	observability.IncSubscriptionDrop(reason.String())

	s.sub.Unsubscribe()
	if s.handlers.Dropped != nil {
		s.handlers.Dropped(s, reason, err)
	}
	close(s.stopped)
}
