// Package subscriptions holds the long-lived operations behind volatile and
// persistent subscriptions: a subscribe handshake followed by an unbounded
// stream of pushed events until the subscription is dropped.
package subscriptions

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fujin-io/evstore/internal/common/actionqueue"
	"github.com/fujin-io/evstore/internal/common/promise"
	"github.com/fujin-io/evstore/internal/core/operations"
	"github.com/fujin-io/evstore/internal/proto/messages"
	"github.com/fujin-io/evstore/internal/proto/tcp"
	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/types"
	"github.com/google/uuid"
)

// PackageSender is the outbound side of the connection a subscription was
// sent on. Frames are queued, never written directly.
type PackageSender interface {
	ConnectionID() uuid.UUID
	EnqueueSend(pkg *tcp.Package)
}

// DroppedFunc is invoked exactly once per subscription on its action
// queue. Events still queued at the time of the drop are skipped.
type DroppedFunc func(reason types.SubscriptionDropReason, err error)

// Confirmation is what the server reports when a subscription goes live.
type Confirmation struct {
	LastCommitPosition int64
	// LastEventNumber is nil for $all subscriptions.
	LastEventNumber *int64
	// SubscriptionID is set for persistent subscriptions only.
	SubscriptionID string
}

// Operation is the contract the subscriptions manager drives.
type Operation interface {
	Name() string
	// Subscribe sends the subscribe frame under correlationID. It returns
	// false when the subscription is already confirmed or dropped, or when
	// the frame was already sent under the same correlation id.
	Subscribe(correlationID uuid.UUID, conn PackageSender) bool
	InspectPackage(pkg *tcp.Package) operations.InspectionResult
	DropSubscription(reason types.SubscriptionDropReason, err error, conn PackageSender)
	ConnectionClosed()
}

type Options struct {
	Logger         *slog.Logger
	StreamID       string
	ResolveLinkTos bool
	Credentials    *types.UserCredentials
	OnDropped      DroppedFunc
	// MaxQueueSize bounds events waiting for the handler. Zero means
	// actionqueue.DefaultMaxSize.
	MaxQueueSize int
	Submitter    actionqueue.Submitter
	Verbose      bool
}

// inspector handles the commands specific to a subscription kind. ok is
// false for commands it does not know.
type inspector interface {
	subscribePackage(correlationID uuid.UUID) *tcp.Package
	inspect(pkg *tcp.Package) (res operations.InspectionResult, ok bool)
}

type subscription struct {
	l    *slog.Logger
	name string
	opts Options
	kind inspector

	queue   *actionqueue.Queue
	confirm *promise.Promise[Confirmation]

	mu            sync.Mutex
	correlationID uuid.UUID
	conn          PackageSender

	subscribed atomic.Bool
	dropped    atomic.Bool
}

func newSubscription(name string, opts Options, kind inspector) *subscription {
	l := opts.Logger
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	return &subscription{
		l:       l.With("subscription", name, "stream", opts.StreamID),
		name:    name,
		opts:    opts,
		kind:    kind,
		queue:   actionqueue.New(opts.MaxQueueSize, opts.Submitter),
		confirm: promise.New[Confirmation](),
	}
}

func (s *subscription) Name() string { return s.name }

// Confirmed completes when the server confirms the subscription or fails
// when it is dropped first.
func (s *subscription) Confirmed() *promise.Promise[Confirmation] { return s.confirm }

func (s *subscription) IsSubscribed() bool { return s.subscribed.Load() }

func (s *subscription) IsDropped() bool { return s.dropped.Load() }

func (s *subscription) Subscribe(correlationID uuid.UUID, conn PackageSender) bool {
	if s.dropped.Load() {
		return false
	}

	s.mu.Lock()
	if s.subscribed.Load() || s.correlationID == correlationID {
		s.mu.Unlock()
		return false
	}
	s.correlationID = correlationID
	s.conn = conn
	s.mu.Unlock()

	conn.EnqueueSend(s.kind.subscribePackage(correlationID))
	return true
}

func (s *subscription) current() (uuid.UUID, PackageSender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.correlationID, s.conn
}

// Unsubscribe asks the server to end the subscription and drops it locally.
func (s *subscription) Unsubscribe() {
	_, conn := s.current()
	s.DropSubscription(types.DropUserInitiated, nil, conn)
}

func (s *subscription) ConnectionClosed() {
	s.DropSubscription(types.DropConnectionClosed, cerr.ErrConnectionClosed, nil)
}

// DropSubscription records the first drop reason and ignores later ones.
// With a non-nil conn an unsubscribe frame is sent on a best-effort basis.
func (s *subscription) DropSubscription(reason types.SubscriptionDropReason, err error, conn PackageSender) {
	if !s.dropped.CompareAndSwap(false, true) {
		return
	}

	if s.opts.Verbose {
		s.l.Debug("subscription dropped", "reason", reason.String(), "err", err)
	}

	if conn != nil {
		corrID, _ := s.current()
		conn.EnqueueSend(tcp.NewPackage(tcp.CMD_UNSUBSCRIBE_FROM_STREAM, corrID, s.opts.Credentials,
			(&messages.UnsubscribeFromStream{}).Marshal()))
	}

	if err == nil && reason != types.DropUserInitiated {
		err = fmt.Errorf("%w: %s", cerr.ErrSubscriptionDropped, reason)
	}
	rejectErr := err
	if rejectErr == nil {
		rejectErr = fmt.Errorf("%w: %s", cerr.ErrSubscriptionDropped, reason)
	}
	s.confirm.Reject(rejectErr)

	if s.opts.OnDropped == nil {
		return
	}
	notify := func() { s.opts.OnDropped(reason, err) }
	if qerr := s.queue.EnqueueUnbounded(notify); qerr != nil {
		s.l.Error("enqueue drop notification", "err", qerr)
		go notify()
	}
}

func (s *subscription) InspectPackage(pkg *tcp.Package) operations.InspectionResult {
	if res, ok := s.kind.inspect(pkg); ok {
		return res
	}

	switch pkg.Command {
	case tcp.CMD_SUBSCRIPTION_DROPPED:
		var msg messages.SubscriptionDropped
		if err := msg.Unmarshal(pkg.Data); err != nil {
			return s.fail(types.DropServerError, fmt.Errorf("decode subscription dropped: %w", err))
		}
		reason, err := s.serverDropReason(msg.Reason)
		s.DropSubscription(reason, err, nil)
		return operations.InspectionResult{
			Decision:    operations.DecisionEndOperation,
			Description: "SubscriptionDropped: " + reason.String(),
		}
	case tcp.CMD_NOT_AUTHENTICATED:
		return s.fail(types.DropNotAuthenticated, &cerr.NotAuthenticatedError{Message: string(pkg.Data)})
	case tcp.CMD_BAD_REQUEST:
		return s.fail(types.DropServerError, &cerr.ServerError{Message: string(pkg.Data)})
	case tcp.CMD_NOT_HANDLED:
		res, err := operations.InspectNotHandled(pkg)
		if err != nil {
			return s.fail(types.DropServerError, err)
		}
		return res
	default:
		return s.fail(types.DropServerError, &cerr.UnexpectedCommandError{
			Expected: tcp.CMD_SUBSCRIPTION_CONFIRMATION.String(),
			Actual:   pkg.Command.String(),
		})
	}
}

func (s *subscription) fail(reason types.SubscriptionDropReason, err error) operations.InspectionResult {
	_, conn := s.current()
	s.DropSubscription(reason, err, conn)
	return operations.InspectionResult{
		Decision:    operations.DecisionEndOperation,
		Description: err.Error(),
	}
}

func (s *subscription) serverDropReason(r messages.SubscriptionDropReason) (types.SubscriptionDropReason, error) {
	switch r {
	case messages.DropUnsubscribed:
		return types.DropUserInitiated, nil
	case messages.DropAccessDenied:
		return types.DropAccessDenied, &cerr.AccessDeniedError{Resource: s.opts.StreamID}
	case messages.DropNotFound:
		return types.DropNotFound, fmt.Errorf("subscription to %q: %w", s.opts.StreamID, cerr.ErrStreamNotFound)
	case messages.DropPersistentSubscriptionDeleted:
		return types.DropPersistentSubscriptionDeleted, nil
	case messages.DropSubscriberMaxCountReached:
		return types.DropMaxSubscribersReached, nil
	default:
		return types.DropUnknown, nil
	}
}

// confirmSubscription resolves the pending subscribe result once.
func (s *subscription) confirmSubscription(c Confirmation) operations.InspectionResult {
	if s.subscribed.CompareAndSwap(false, true) {
		s.confirm.Resolve(c)
		if s.opts.Verbose {
			s.l.Debug("subscribed", "last_commit_position", c.LastCommitPosition)
		}
	}
	return operations.InspectionResult{Decision: operations.DecisionSubscribed, Description: "Subscribed"}
}

// enqueueEvent schedules fn on the action queue. Overflow drops the
// subscription. Errors and panics from fn drop it with
// DropEventHandlerException.
func (s *subscription) enqueueEvent(fn func() error) {
	if s.dropped.Load() {
		return
	}

	err := s.queue.Enqueue(func() {
		if s.dropped.Load() {
			return
		}
		if err := safeCall(fn); err != nil {
			_, conn := s.current()
			s.DropSubscription(types.DropEventHandlerException, err, conn)
		}
	})
	if err != nil {
		_, conn := s.current()
		s.DropSubscription(types.DropProcessingQueueOverflow,
			fmt.Errorf("%w: %d events pending", cerr.ErrClientBufferOverflow, s.queue.Len()), conn)
	}
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
		}
	}()
	return fn()
}
