package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fujin-io/evstore/internal/core/subscriptions"
	"github.com/fujin-io/evstore/internal/observability"
	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/types"
)

type CatchUpSettings struct {
	// MaxLiveQueueSize bounds live events waiting while history is read.
	// Zero uses the connection setting.
	MaxLiveQueueSize int
	// ReadBatchSize is the page size of history reads. Zero uses the
	// connection setting.
	ReadBatchSize    int
	ResolveLinkTos   bool
	SubscriptionName string
	Credentials      *types.UserCredentials
}

type CatchUpHandlers struct {
	EventAppeared func(s *CatchUpSubscription, ev types.ResolvedEvent) error
	// LiveProcessingStarted is called once history is exhausted and the
	// subscription switches to pushed events.
	LiveProcessingStarted func(s *CatchUpSubscription)
	Dropped               func(s *CatchUpSubscription, reason types.SubscriptionDropReason, err error)
}

var errStopRequested = errors.New("stop requested")

// catchUpEntry is either a pushed event or the drop of the live
// subscription, kept in arrival order.
type catchUpEntry struct {
	event *types.ResolvedEvent
	drop  *types.DropData
}

// CatchUpSubscription delivers the history of a stream or of $all from a
// checkpoint and then switches to live events without gaps or duplicates.
type CatchUpSubscription struct {
	l        *slog.Logger
	c        *Client
	streamID string
	settings CatchUpSettings
	handlers CatchUpHandlers

	ctx    context.Context
	cancel context.CancelFunc

	// Progress. Owned by whichever goroutine currently reads history or
	// processes the live queue; the two never run at the same time.
	lastProcessedEventNumber int64
	lastProcessedPosition    types.Position
	nextReadEventNumber      int64
	nextReadPosition         types.Position

	mu              sync.Mutex
	live            *subscriptions.Volatile
	queue           []catchUpEntry
	allowProcessing bool
	processing      bool

	stopRequested atomic.Bool
	dropped       atomic.Bool
	stopped       chan struct{}
}

// SubscribeToStreamFrom starts a catch-up subscription on stream. from is
// exclusive; nil starts at the first event.
func (c *Client) SubscribeToStreamFrom(
	stream string, from *int64, settings CatchUpSettings, handlers CatchUpHandlers,
) (*CatchUpSubscription, error) {
	if err := checkStream(stream); err != nil {
		return nil, err
	}
	s, err := c.newCatchUp(stream, settings, handlers)
	if err != nil {
		return nil, err
	}
	s.lastProcessedEventNumber = -1
	if from != nil {
		s.lastProcessedEventNumber = *from
		s.nextReadEventNumber = max(*from, 0)
	}
	s.start()
	return s, nil
}

// SubscribeToAllFrom starts a catch-up subscription on $all. from is
// exclusive; nil starts at the beginning of the log.
func (c *Client) SubscribeToAllFrom(
	from *types.Position, settings CatchUpSettings, handlers CatchUpHandlers,
) (*CatchUpSubscription, error) {
	s, err := c.newCatchUp(types.AllStreamID, settings, handlers)
	if err != nil {
		return nil, err
	}
	s.lastProcessedPosition = types.EndPosition
	s.nextReadPosition = types.StartPosition
	if from != nil {
		s.lastProcessedPosition = *from
		s.nextReadPosition = *from
	}
	s.start()
	return s, nil
}

func (c *Client) newCatchUp(stream string, settings CatchUpSettings, handlers CatchUpHandlers) (*CatchUpSubscription, error) {
	if handlers.EventAppeared == nil {
		return nil, fmt.Errorf("event handler is required: %w", cerr.ErrInvalidArgument)
	}
	if settings.MaxLiveQueueSize <= 0 {
		settings.MaxLiveQueueSize = c.s.MaxLiveQueueSize
	}
	if settings.ReadBatchSize <= 0 {
		settings.ReadBatchSize = c.s.ReadBatchSize
	}
	if err := checkCount(settings.ReadBatchSize); err != nil {
		return nil, fmt.Errorf("read batch size: %w", err)
	}
	if settings.Credentials == nil {
		settings.Credentials = c.s.UserCredentials()
	}

	name := settings.SubscriptionName
	if name == "" {
		name = "catchup"
	}
	logStream := stream
	if stream == types.AllStreamID {
		logStream = "$all"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &CatchUpSubscription{
		l:        c.l.With("subscription", name, "stream", logStream),
		c:        c,
		streamID: stream,
		settings: settings,
		handlers: handlers,
		ctx:      ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
	}, nil
}

func (s *CatchUpSubscription) IsSubscribedToAll() bool { return s.streamID == types.AllStreamID }

func (s *CatchUpSubscription) StreamID() string { return s.streamID }

// LastProcessedEventNumber is meaningful for stream subscriptions and
// only from within handlers or after the drop.
func (s *CatchUpSubscription) LastProcessedEventNumber() int64 { return s.lastProcessedEventNumber }

// LastProcessedPosition is the $all counterpart of LastProcessedEventNumber.
func (s *CatchUpSubscription) LastProcessedPosition() types.Position { return s.lastProcessedPosition }

// Done is closed after the Dropped handler returned.
func (s *CatchUpSubscription) Done() <-chan struct{} { return s.stopped }

// Stop asks the subscription to end and waits up to timeout for the drop
// to complete. A non-positive timeout does not wait.
func (s *CatchUpSubscription) Stop(timeout time.Duration) error {
	s.stopRequested.Store(true)
	s.l.Debug("stop requested")

	s.mu.Lock()
	live := s.live
	s.mu.Unlock()
	if live != nil {
		live.Unsubscribe()
	}

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

func (s *CatchUpSubscription) start() {
	go s.run()
}

// run reads history, subscribes, reads what was written meanwhile and
// then lets the live queue flow.
func (s *CatchUpSubscription) run() {
	s.l.Debug("catch-up started", "from_event_number", s.nextReadEventNumber, "from_position", s.nextReadPosition.String())

	if err := s.readHistory(nil, nil); err != nil {
		s.failRun(err)
		return
	}
	if s.stopRequested.Load() {
		s.failRun(errStopRequested)
		return
	}

	live := subscriptions.NewVolatile(subscriptions.Options{
		Logger:         s.l,
		StreamID:       s.streamID,
		ResolveLinkTos: s.settings.ResolveLinkTos,
		Credentials:    s.settings.Credentials,
		OnDropped:      s.onLiveDropped,
		MaxQueueSize:   s.settings.MaxLiveQueueSize,
		Verbose:        s.c.s.VerboseLogging,
	}, s.onLiveEvent)
	s.mu.Lock()
	s.live = live
	s.mu.Unlock()

	s.c.h.StartSubscription(live, s.c.s.MaxRetries, s.c.s.OperationTimeout)
	conf, err := live.Confirmed().Wait(s.ctx)
	if err != nil {
		// the drop entry of the live subscription decides what happens
		s.startProcessing()
		return
	}
	if s.stopRequested.Load() {
		live.Unsubscribe()
		s.startProcessing()
		return
	}

	lastCommit := conf.LastCommitPosition
	if err := s.readHistory(&lastCommit, conf.LastEventNumber); err != nil {
		s.failRun(err)
		return
	}

	s.l.Debug("live processing started")
	if s.handlers.LiveProcessingStarted != nil {
		s.handlers.LiveProcessingStarted(s)
	}
	s.startProcessing()
}

func (s *CatchUpSubscription) failRun(err error) {
	drop := types.DropData{Reason: types.DropCatchUpError, Err: err}
	var herr *handlerError
	switch {
	case errors.Is(err, errStopRequested):
		drop = types.DropData{Reason: types.DropUserInitiated}
	case errors.As(err, &herr):
		drop.Reason = types.DropEventHandlerException
	}
	s.push(catchUpEntry{drop: &drop})

	s.mu.Lock()
	live := s.live
	s.mu.Unlock()
	if live != nil {
		live.Unsubscribe()
	}
	s.startProcessing()
}

func (s *CatchUpSubscription) readHistory(lastCommitPosition, lastEventNumber *int64) error {
	if s.IsSubscribedToAll() {
		return s.readAllTill(lastCommitPosition)
	}
	return s.readStreamTill(lastEventNumber)
}

// readStreamTill pages forward until lastEventNumber, or the end of the
// stream when it is nil.
func (s *CatchUpSubscription) readStreamTill(lastEventNumber *int64) error {
	for {
		if s.stopRequested.Load() {
			return errStopRequested
		}
		slice, err := s.c.ReadStreamEventsForward(s.ctx, s.streamID, s.nextReadEventNumber,
			s.settings.ReadBatchSize, s.settings.ResolveLinkTos, s.credentialOpts()...)
		if err != nil {
			return fmt.Errorf("read %q from %d: %w", s.streamID, s.nextReadEventNumber, err)
		}

		var done bool
		switch slice.Status {
		case types.SliceReadSuccess:
			for _, ev := range slice.Events {
				if err := s.tryProcess(ev); err != nil {
					return err
				}
			}
			s.nextReadEventNumber = slice.NextEventNumber
			if lastEventNumber == nil {
				done = slice.IsEndOfStream
			} else {
				done = slice.NextEventNumber > *lastEventNumber
			}
		case types.SliceReadStreamNotFound:
			if lastEventNumber != nil && *lastEventNumber != -1 {
				return fmt.Errorf("stream %q not found while expecting event %d: %w",
					s.streamID, *lastEventNumber, cerr.ErrStreamNotFound)
			}
			done = true
		case types.SliceReadStreamDeleted:
			return &cerr.StreamDeletedError{Stream: s.streamID}
		default:
			return fmt.Errorf("unexpected slice status %s", slice.Status)
		}
		if done {
			return nil
		}
	}
}

// readAllTill pages $all forward until lastCommitPosition, or the end of
// the log when it is nil.
func (s *CatchUpSubscription) readAllTill(lastCommitPosition *int64) error {
	for {
		if s.stopRequested.Load() {
			return errStopRequested
		}
		slice, err := s.c.ReadAllEventsForward(s.ctx, s.nextReadPosition,
			s.settings.ReadBatchSize, s.settings.ResolveLinkTos, s.credentialOpts()...)
		if err != nil {
			return fmt.Errorf("read $all from %s: %w", s.nextReadPosition, err)
		}
		for _, ev := range slice.Events {
			if ev.OriginalPosition == nil {
				return fmt.Errorf("event %d of %q without position", ev.OriginalEventNumber(), ev.OriginalStreamID())
			}
			if err := s.tryProcess(ev); err != nil {
				return err
			}
		}
		s.nextReadPosition = slice.NextPosition

		if lastCommitPosition == nil {
			if slice.IsEndOfStream() {
				return nil
			}
			continue
		}
		next := types.Position{CommitPosition: *lastCommitPosition, PreparePosition: *lastCommitPosition}
		if slice.IsEndOfStream() || slice.NextPosition.Compare(next) >= 0 {
			return nil
		}
	}
}

func (s *CatchUpSubscription) credentialOpts() []OperationOption {
	creds := s.settings.Credentials
	if creds == nil {
		return nil
	}
	return []OperationOption{func(o *operationOptions) { o.creds = creds }}
}

// tryProcess hands ev to the handler unless it was already processed.
func (s *CatchUpSubscription) tryProcess(ev types.ResolvedEvent) error {
	if s.IsSubscribedToAll() {
		if ev.OriginalPosition == nil || !ev.OriginalPosition.Greater(s.lastProcessedPosition) {
			return nil
		}
		if err := s.handle(ev); err != nil {
			return err
		}
		s.lastProcessedPosition = *ev.OriginalPosition
		return nil
	}

	n := ev.OriginalEventNumber()
	if n <= s.lastProcessedEventNumber {
		return nil
	}
	if err := s.handle(ev); err != nil {
		return err
	}
	s.lastProcessedEventNumber = n
	return nil
}

func (s *CatchUpSubscription) handle(ev types.ResolvedEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &handlerError{err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if herr := s.handlers.EventAppeared(s, ev); herr != nil {
		return &handlerError{err: herr}
	}
	return nil
}

// handlerError marks failures of the user handler apart from read errors.
type handlerError struct{ err error }

func (e *handlerError) Error() string { return "event handler: " + e.err.Error() }

func (e *handlerError) Unwrap() error { return e.err }

func (s *CatchUpSubscription) onLiveEvent(ev types.ResolvedEvent) error {
	s.mu.Lock()
	overflow := len(s.queue) >= s.settings.MaxLiveQueueSize
	live := s.live
	s.mu.Unlock()

	if overflow {
		drop := types.DropData{
			Reason: types.DropProcessingQueueOverflow,
			Err:    fmt.Errorf("%w: %d live events pending", cerr.ErrClientBufferOverflow, s.settings.MaxLiveQueueSize),
		}
		s.push(catchUpEntry{drop: &drop})
		if live != nil {
			live.Unsubscribe()
		}
		return nil
	}
	s.push(catchUpEntry{event: &ev})
	return nil
}

func (s *CatchUpSubscription) onLiveDropped(reason types.SubscriptionDropReason, err error) {
	s.push(catchUpEntry{drop: &types.DropData{Reason: reason, Err: err}})
}

func (s *CatchUpSubscription) push(e catchUpEntry) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	s.ensureProcessing()
}

func (s *CatchUpSubscription) startProcessing() {
	s.mu.Lock()
	s.allowProcessing = true
	s.mu.Unlock()
	s.ensureProcessing()
}

func (s *CatchUpSubscription) ensureProcessing() {
	s.mu.Lock()
	if !s.allowProcessing || s.processing {
		s.mu.Unlock()
		return
	}
	s.processing = true
	s.mu.Unlock()
	go s.processQueue()
}

func (s *CatchUpSubscription) processQueue() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.dropped.Load() {
			s.processing = false
			s.mu.Unlock()
			return
		}
		e := s.queue[0]
		s.queue[0] = catchUpEntry{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if e.drop != nil {
			if s.shouldRestart(*e.drop) {
				s.restart()
				return
			}
			s.dropSubscription(e.drop.Reason, e.drop.Err)
			continue
		}

		if err := s.tryProcess(*e.event); err != nil {
			s.dropSubscription(types.DropEventHandlerException, err)
		}
	}
}

// shouldRestart is true when the live subscription was lost with the
// socket but the client keeps reconnecting.
func (s *CatchUpSubscription) shouldRestart(d types.DropData) bool {
	return d.Reason == types.DropConnectionClosed && !s.stopRequested.Load() && !s.c.closed()
}

func (s *CatchUpSubscription) restart() {
	s.l.Info("connection lost, restarting catch-up",
		"last_event_number", s.lastProcessedEventNumber, "last_position", s.lastProcessedPosition.String())

	if s.IsSubscribedToAll() {
		s.nextReadPosition = s.lastProcessedPosition
		if s.nextReadPosition == types.EndPosition {
			s.nextReadPosition = types.StartPosition
		}
	} else {
		s.nextReadEventNumber = max(s.lastProcessedEventNumber, 0)
	}

	s.mu.Lock()
	s.live = nil
	s.queue = nil
	s.allowProcessing = false
	s.processing = false
	s.mu.Unlock()

	go s.run()
}

func (s *CatchUpSubscription) dropSubscription(reason types.SubscriptionDropReason, err error) {
	if !s.dropped.CompareAndSwap(false, true) {
		return
	}
	if reason == types.DropEventHandlerException || reason == types.DropCatchUpError {
		s.l.Error("catch-up subscription dropped", "reason", reason.String(), "err", err)
	} else {
		s.l.Info("catch-up subscription dropped", "reason", reason.String(), "err", err)
	}
	observability.IncSubscriptionDrop(reason.String())

	var herr *handlerError
	if errors.As(err, &herr) {
		err = herr.err
	}

	s.mu.Lock()
	live := s.live
	s.mu.Unlock()
	if live != nil {
		live.Unsubscribe()
	}
	s.cancel()

	if s.handlers.Dropped != nil {
		s.handlers.Dropped(s, reason, err)
	}
	close(s.stopped)
}
