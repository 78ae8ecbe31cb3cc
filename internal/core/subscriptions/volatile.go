package subscriptions

import (
	"fmt"

	"github.com/fujin-io/evstore/internal/core/operations"
	"github.com/fujin-io/evstore/internal/proto/messages"
	"github.com/fujin-io/evstore/internal/proto/tcp"
	"github.com/fujin-io/evstore/public/types"
	"github.com/google/uuid"
)

// EventAppearedFunc handles one pushed event. A returned error drops the
// subscription with DropEventHandlerException.
type EventAppearedFunc func(ev types.ResolvedEvent) error

// Volatile is a live-only subscription to one stream or to $all (empty
// stream id).
type Volatile struct {
	*subscription
	onEvent EventAppearedFunc
}

func NewVolatile(opts Options, onEvent EventAppearedFunc) *Volatile {
	v := &Volatile{onEvent: onEvent}
	name := "VolatileSubscription"
	if opts.StreamID == types.AllStreamID {
		name = "VolatileSubscriptionAll"
	}
	v.subscription = newSubscription(name, opts, v)
	return v
}

func (v *Volatile) subscribePackage(correlationID uuid.UUID) *tcp.Package {
	req := &messages.SubscribeToStream{
		EventStreamID:  v.opts.StreamID,
		ResolveLinkTos: v.opts.ResolveLinkTos,
	}
	return tcp.NewPackage(tcp.CMD_SUBSCRIBE_TO_STREAM, correlationID, v.opts.Credentials, req.Marshal())
}

func (v *Volatile) inspect(pkg *tcp.Package) (operations.InspectionResult, bool) {
	switch pkg.Command {
	case tcp.CMD_SUBSCRIPTION_CONFIRMATION:
		var msg messages.SubscriptionConfirmation
		if err := msg.Unmarshal(pkg.Data); err != nil {
			return v.fail(types.DropServerError, fmt.Errorf("decode subscription confirmation: %w", err)), true
		}
		return v.confirmSubscription(Confirmation{
			LastCommitPosition: msg.LastCommitPosition,
			LastEventNumber:    msg.LastEventNumber,
		}), true
	case tcp.CMD_STREAM_EVENT_APPEARED:
		var msg messages.StreamEventAppeared
		if err := msg.Unmarshal(pkg.Data); err != nil {
			return v.fail(types.DropServerError, fmt.Errorf("decode stream event appeared: %w", err)), true
		}
		if msg.Event == nil {
			return operations.InspectionResult{Decision: operations.DecisionDoNothing, Description: "EmptyEvent"}, true
		}
		ev := msg.Event.ToResolved()
		v.enqueueEvent(func() error { return v.onEvent(ev) })
		return operations.InspectionResult{Decision: operations.DecisionDoNothing, Description: "StreamEventAppeared"}, true
	default:
		return operations.InspectionResult{}, false
	}
}
