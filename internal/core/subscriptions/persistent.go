package subscriptions

import (
	"fmt"

	"github.com/fujin-io/evstore/internal/core/operations"
	"github.com/fujin-io/evstore/internal/proto/messages"
	"github.com/fujin-io/evstore/internal/proto/tcp"
	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/types"
	"github.com/google/uuid"
)

// MaxAckBatch bounds the number of event ids in one ack or nak frame.
const MaxAckBatch = 2000

// PersistentEventFunc handles one event pushed by a persistent
// subscription. retryCount is how often the server delivered it before.
type PersistentEventFunc func(ev types.ResolvedEvent, retryCount int) error

// Persistent is the connection side of a competing-consumer subscription.
type Persistent struct {
	*subscription
	group           string
	allowedInFlight int32
	onEvent         PersistentEventFunc

	subscriptionID string
}

func NewPersistent(opts Options, group string, allowedInFlight int32, onEvent PersistentEventFunc) *Persistent {
	p := &Persistent{group: group, allowedInFlight: allowedInFlight, onEvent: onEvent}
	p.subscription = newSubscription("PersistentSubscription", opts, p)
	return p
}

func (p *Persistent) subscribePackage(correlationID uuid.UUID) *tcp.Package {
	req := &messages.ConnectToPersistentSubscription{
		SubscriptionID:          p.group,
		EventStreamID:           p.opts.StreamID,
		AllowedInFlightMessages: p.allowedInFlight,
	}
	return tcp.NewPackage(tcp.CMD_CONNECT_TO_PERSISTENT_SUBSCRIPTION, correlationID, p.opts.Credentials, req.Marshal())
}

func (p *Persistent) inspect(pkg *tcp.Package) (operations.InspectionResult, bool) {
	switch pkg.Command {
	case tcp.CMD_PERSISTENT_SUBSCRIPTION_CONFIRMATION:
		var msg messages.PersistentSubscriptionConfirmation
		if err := msg.Unmarshal(pkg.Data); err != nil {
			return p.fail(types.DropServerError, fmt.Errorf("decode persistent subscription confirmation: %w", err)), true
		}
		p.mu.Lock()
		p.subscriptionID = msg.SubscriptionID
		p.mu.Unlock()
		return p.confirmSubscription(Confirmation{
			LastCommitPosition: msg.LastCommitPosition,
			LastEventNumber:    msg.LastEventNumber,
			SubscriptionID:     msg.SubscriptionID,
		}), true
	case tcp.CMD_PERSISTENT_SUBSCRIPTION_STREAM_EVENT_APPEARED:
		var msg messages.PersistentSubscriptionStreamEventAppeared
		if err := msg.Unmarshal(pkg.Data); err != nil {
			return p.fail(types.DropServerError, fmt.Errorf("decode persistent event appeared: %w", err)), true
		}
		if msg.Event == nil {
			return operations.InspectionResult{Decision: operations.DecisionDoNothing, Description: "EmptyEvent"}, true
		}
		ev := msg.Event.ToResolved()
		retryCount := int(msg.RetryCount)
		p.enqueueEvent(func() error { return p.onEvent(ev, retryCount) })
		return operations.InspectionResult{Decision: operations.DecisionDoNothing, Description: "PersistentEventAppeared"}, true
	default:
		return operations.InspectionResult{}, false
	}
}

func (p *Persistent) ackTarget(ids []uuid.UUID) (uuid.UUID, string, PackageSender, error) {
	if len(ids) > MaxAckBatch {
		return uuid.Nil, "", nil, fmt.Errorf("%w: %d > %d", cerr.ErrTooManyEventIDs, len(ids), MaxAckBatch)
	}
	if p.dropped.Load() {
		return uuid.Nil, "", nil, cerr.ErrPersistentSubscriptionStopped
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.subscribed.Load() || p.conn == nil {
		return uuid.Nil, "", nil, cerr.ErrSubscriptionNotConfirmed
	}
	return p.correlationID, p.subscriptionID, p.conn, nil
}

func eventIDBytes(ids []uuid.UUID) [][]byte {
	out := make([][]byte, len(ids))
	for i := range ids {
		id := ids[i]
		out[i] = id[:]
	}
	return out
}

// NotifyEventsProcessed acknowledges ids. More than MaxAckBatch ids is an
// error and nothing is sent.
func (p *Persistent) NotifyEventsProcessed(ids []uuid.UUID) error {
	corrID, subID, conn, err := p.ackTarget(ids)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	req := &messages.PersistentSubscriptionAckEvents{
		SubscriptionID:    subID,
		ProcessedEventIDs: eventIDBytes(ids),
	}
	conn.EnqueueSend(tcp.NewPackage(tcp.CMD_PERSISTENT_SUBSCRIPTION_ACK_EVENTS, corrID, p.opts.Credentials, req.Marshal()))
	return nil
}

// NotifyEventsFailed negatively acknowledges ids with the given action.
// The MaxAckBatch bound applies as for NotifyEventsProcessed.
func (p *Persistent) NotifyEventsFailed(ids []uuid.UUID, action types.PersistentSubscriptionNakEventAction, reason string) error {
	corrID, subID, conn, err := p.ackTarget(ids)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	req := &messages.PersistentSubscriptionNakEvents{
		SubscriptionID:    subID,
		ProcessedEventIDs: eventIDBytes(ids),
		Message:           reason,
		Action:            int32(action),
	}
	conn.EnqueueSend(tcp.NewPackage(tcp.CMD_PERSISTENT_SUBSCRIPTION_NAK_EVENTS, corrID, p.opts.Credentials, req.Marshal()))
	return nil
}
