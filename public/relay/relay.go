// Package relay forwards events from the event store to a message broker.
// A relay runs one catch-up subscription from its stored checkpoint,
// publishes every event to its sink and periodically saves how far it got.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fujin-io/evstore/internal/observability"
	"github.com/fujin-io/evstore/public/checkpoint"
	"github.com/fujin-io/evstore/public/client"
	"github.com/fujin-io/evstore/public/plugins/sink"
	"github.com/fujin-io/evstore/public/types"
)

const (
	HeaderEventType   = "es-event-type"
	HeaderEventID     = "es-event-id"
	HeaderStream      = "es-stream"
	HeaderEventNumber = "es-event-number"
	HeaderCreated     = "es-created"
)

// Subscriber starts catch-up subscriptions. *client.Client implements it.
type Subscriber interface {
	SubscribeToStreamFrom(
		stream string, from *int64, settings client.CatchUpSettings, handlers client.CatchUpHandlers,
	) (*client.CatchUpSubscription, error)
	SubscribeToAllFrom(
		from *types.Position, settings client.CatchUpSettings, handlers client.CatchUpHandlers,
	) (*client.CatchUpSubscription, error)
}

type Relay struct {
	conf  Config
	sub   Subscriber
	sink  sink.Sink
	store checkpoint.Store
	l     *slog.Logger

	// Owned by the subscription handler, which never runs concurrently.
	pending checkpoint.Checkpoint
	saved   checkpoint.Checkpoint
	handled int
	pubCtx  context.Context

	errMu      sync.Mutex
	publishErr error
}

func New(conf Config, sub Subscriber, s sink.Sink, store checkpoint.Store, l *slog.Logger) (*Relay, error) {
	conf.SetDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &Relay{
		conf:  conf,
		sub:   sub,
		sink:  s,
		store: store,
		l:     l.With("component", "relay", "relay", conf.Name),
	}, nil
}

type dropped struct {
	reason types.SubscriptionDropReason
	err    error
}

// Run relays until ctx is done or the subscription drops. It returns nil
// after a stop caused by ctx.
func (r *Relay) Run(ctx context.Context) error {
	cp, ok, err := r.store.Load(ctx, r.conf.Name)
	if err != nil {
		return fmt.Errorf("relay %s: load checkpoint: %w", r.conf.Name, err)
	}
	if ok {
		r.pending, r.saved = cp, cp
	}
	r.pubCtx = context.WithoutCancel(ctx)

	drops := make(chan dropped, 1)
	settings := client.CatchUpSettings{
		MaxLiveQueueSize: r.conf.MaxLiveQueueSize,
		ReadBatchSize:    r.conf.ReadBatchSize,
		ResolveLinkTos:   r.conf.ResolveLinkTos,
		SubscriptionName: r.conf.Name,
	}
	handlers := client.CatchUpHandlers{
		EventAppeared: func(_ *client.CatchUpSubscription, ev types.ResolvedEvent) error {
			return r.handle(ev)
		},
		LiveProcessingStarted: func(*client.CatchUpSubscription) {
			r.l.Info("caught up, relaying live events", "checkpoint", r.pending.String())
		},
		Dropped: func(_ *client.CatchUpSubscription, reason types.SubscriptionDropReason, err error) {
			drops <- dropped{reason: reason, err: err}
		},
	}

	var s *client.CatchUpSubscription
	if r.conf.Stream == "" {
		s, err = r.sub.SubscribeToAllFrom(cp.Position, settings, handlers)
	} else {
		s, err = r.sub.SubscribeToStreamFrom(r.conf.Stream, cp.EventNumber, settings, handlers)
	}
	if err != nil {
		return fmt.Errorf("relay %s: subscribe: %w", r.conf.Name, err)
	}
	r.l.Info("relay started", "stream", r.streamName(), "checkpoint", cp.String())

	var d dropped
	select {
	case <-ctx.Done():
		if err := s.Stop(r.conf.StopTimeout); err != nil {
			r.l.Warn("stop subscription", "err", err)
		}
		select {
		case d = <-drops:
		case <-time.After(r.conf.StopTimeout):
			d = dropped{reason: types.DropUserInitiated}
		}
	case d = <-drops:
	}

	if err := r.finish(); err != nil && d.err == nil {
		d.err = err
	}

	if d.reason == types.DropUserInitiated && d.err == nil {
		r.l.Info("relay stopped", "checkpoint", r.saved.String())
		return nil
	}
	observability.IncError("subscription", r.conf.Name)
	return fmt.Errorf("relay %s: subscription dropped (%s): %w", r.conf.Name, d.reason, d.err)
}

func (r *Relay) streamName() string {
	if r.conf.Stream == "" {
		return "$all"
	}
	return r.conf.Stream
}

func (r *Relay) handle(ev types.ResolvedEvent) error {
	if err := r.err(); err != nil {
		return err
	}

	r.advance(ev)
	if e := ev.Event; e != nil && r.relayable(e) {
		r.publish(e)
	}

	r.handled++
	if r.handled >= r.conf.CheckpointEvery {
		return r.checkpoint()
	}
	return nil
}

func (r *Relay) advance(ev types.ResolvedEvent) {
	if r.conf.Stream == "" {
		if ev.OriginalPosition != nil {
			pos := *ev.OriginalPosition
			r.pending = checkpoint.Checkpoint{Position: &pos}
		}
		return
	}
	n := ev.OriginalEventNumber()
	r.pending = checkpoint.Checkpoint{EventNumber: &n}
}

func (r *Relay) relayable(e *types.RecordedEvent) bool {
	if strings.HasPrefix(e.EventType, "$") && !r.conf.IncludeSystemEvents {
		return false
	}
	if len(r.conf.EventTypes) > 0 && !slices.Contains(r.conf.EventTypes, e.EventType) {
		return false
	}
	return true
}

func (r *Relay) publish(e *types.RecordedEvent) {
	msg, err := r.message(e)
	if err != nil {
		r.fail(fmt.Errorf("encode event %s@%d: %w", e.StreamID, e.EventNumber, err))
		return
	}

	r.sink.Publish(r.pubCtx, msg, Headers(e), func(err error) {
		if err != nil {
			r.fail(fmt.Errorf("publish event %s@%d: %w", e.StreamID, e.EventNumber, err))
			return
		}
		observability.IncRelayEvent(r.conf.Name, r.conf.Sink.Protocol)
	})
}

// Headers are the sink headers describing e.
func Headers(e *types.RecordedEvent) [][]byte {
	hs := [][]byte{
		[]byte(HeaderEventType), []byte(e.EventType),
		[]byte(HeaderEventID), []byte(e.EventID.String()),
		[]byte(HeaderStream), []byte(e.StreamID),
		[]byte(HeaderEventNumber), strconv.AppendInt(nil, e.EventNumber, 10),
	}
	if !e.Created.IsZero() {
		hs = append(hs, []byte(HeaderCreated), []byte(e.Created.UTC().Format(time.RFC3339Nano)))
	}
	return hs
}

type envelope struct {
	Stream      string `json:"stream"`
	EventNumber int64  `json:"event_number"`
	EventID     string `json:"event_id"`
	EventType   string `json:"event_type"`
	Created     string `json:"created,omitempty"`
	// Data and Metadata are embedded as JSON when the event is JSON and
	// base64 encoded otherwise.
	Data     any `json:"data,omitempty"`
	Metadata any `json:"metadata,omitempty"`
}

func (r *Relay) message(e *types.RecordedEvent) ([]byte, error) {
	if !r.conf.Envelope {
		return e.Data, nil
	}
	return Envelope(e)
}

// Envelope renders e as a JSON document carrying its metadata.
func Envelope(e *types.RecordedEvent) ([]byte, error) {
	env := envelope{
		Stream:      e.StreamID,
		EventNumber: e.EventNumber,
		EventID:     e.EventID.String(),
		EventType:   e.EventType,
		Data:        payload(e.Data, e.IsJSON),
		Metadata:    payload(e.Metadata, e.IsJSON),
	}
	if !e.Created.IsZero() {
		env.Created = e.Created.UTC().Format(time.RFC3339Nano)
	}
	return sonic.Marshal(env)
}

func payload(b []byte, isJSON bool) any {
	if len(b) == 0 {
		return nil
	}
	if isJSON && sonic.Valid(b) {
		return json.RawMessage(b)
	}
	return b
}

func (r *Relay) fail(err error) {
	observability.IncError("publish", r.conf.Name)
	r.errMu.Lock()
	defer r.errMu.Unlock()
	if r.publishErr == nil {
		r.l.Error("relay publish failed", "err", err)
		r.publishErr = err
	}
}

func (r *Relay) err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.publishErr
}

// checkpoint flushes the sink and saves the pending checkpoint once every
// earlier publish is confirmed.
func (r *Relay) checkpoint() error {
	r.handled = 0
	if err := r.sink.Flush(r.pubCtx); err != nil {
		return fmt.Errorf("flush sink: %w", err)
	}
	if err := r.err(); err != nil {
		return err
	}
	if err := r.store.Save(r.pubCtx, r.conf.Name, r.pending); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	r.saved = r.pending
	r.l.Debug("checkpoint saved", "checkpoint", r.saved.String())
	return nil
}

// finish saves what was handled since the last checkpoint. Nothing is
// saved after a failed publish.
func (r *Relay) finish() error {
	if err := r.err(); err != nil {
		return err
	}
	if r.pending.Equal(r.saved) {
		return nil
	}
	return r.checkpoint()
}
