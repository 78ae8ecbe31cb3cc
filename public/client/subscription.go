package client

import (
	"context"
	"fmt"

	"github.com/fujin-io/evstore/internal/core/subscriptions"
	"github.com/fujin-io/evstore/internal/observability"
	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/types"
)

// EventAppearedFunc handles a pushed event. Returning an error drops the
// subscription with types.DropEventHandlerException.
type EventAppearedFunc func(ev types.ResolvedEvent) error

// DroppedFunc is called once when a subscription ends, after every event
// delivered before the drop was handled.
type DroppedFunc func(reason types.SubscriptionDropReason, err error)

// VolatileSubscription receives live events only.
type VolatileSubscription struct {
	sub  *subscriptions.Volatile
	conf subscriptions.Confirmation
}

// LastCommitPosition is the log position when the subscription went live.
func (v *VolatileSubscription) LastCommitPosition() int64 { return v.conf.LastCommitPosition }

// LastEventNumber is the stream version when the subscription went live,
// nil for $all or a stream that does not exist yet.
func (v *VolatileSubscription) LastEventNumber() *int64 { return v.conf.LastEventNumber }

func (v *VolatileSubscription) IsSubscribedToAll() bool {
	return v.sub.Name() == "VolatileSubscriptionAll"
}

// Unsubscribe is idempotent.
func (v *VolatileSubscription) Unsubscribe() { v.sub.Unsubscribe() }

func (v *VolatileSubscription) Close() error {
	v.sub.Unsubscribe()
	return nil
}

// SubscribeToStream subscribes to live events of stream and waits for the
// server to confirm.
func (c *Client) SubscribeToStream(
	ctx context.Context, stream string, resolveLinkTos bool,
	onEvent EventAppearedFunc, onDropped DroppedFunc, opts ...OperationOption,
) (*VolatileSubscription, error) {
	if err := checkStream(stream); err != nil {
		return nil, err
	}
	return c.subscribe(ctx, stream, resolveLinkTos, onEvent, onDropped, opts)
}

func (c *Client) SubscribeToAll(
	ctx context.Context, resolveLinkTos bool,
	onEvent EventAppearedFunc, onDropped DroppedFunc, opts ...OperationOption,
) (*VolatileSubscription, error) {
	return c.subscribe(ctx, types.AllStreamID, resolveLinkTos, onEvent, onDropped, opts)
}

func (c *Client) subscribe(
	ctx context.Context, stream string, resolveLinkTos bool,
	onEvent EventAppearedFunc, onDropped DroppedFunc, opts []OperationOption,
) (*VolatileSubscription, error) {
	if onEvent == nil {
		return nil, fmt.Errorf("event handler is required: %w", cerr.ErrInvalidArgument)
	}
	ctx, end := observability.StartSpan(ctx, "Subscribe", streamAttr(stream))

	sub := subscriptions.NewVolatile(subscriptions.Options{
		Logger:         c.l,
		StreamID:       stream,
		ResolveLinkTos: resolveLinkTos,
		Credentials:    c.credentials(opts),
		OnDropped:      countDrops(onDropped),
		Verbose:        c.s.VerboseLogging,
	}, subscriptions.EventAppearedFunc(onEvent))
	c.h.StartSubscription(sub, c.s.MaxRetries, c.s.OperationTimeout)

	conf, err := sub.Confirmed().Wait(ctx)
	end(err)
	if err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("subscribe to %q: %w", stream, err)
	}
	return &VolatileSubscription{sub: sub, conf: conf}, nil
}

func countDrops(fn DroppedFunc) subscriptions.DroppedFunc {
	return func(reason types.SubscriptionDropReason, err error) {
		observability.IncSubscriptionDrop(reason.String())
		if fn != nil {
			fn(reason, err)
		}
	}
}
