package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fujin-io/evstore/internal/common/actionqueue"
	"github.com/fujin-io/evstore/internal/common/promise"
	"github.com/fujin-io/evstore/internal/core/operations"
	"github.com/fujin-io/evstore/internal/core/subscriptions"
	"github.com/fujin-io/evstore/internal/core/transport"
	"github.com/fujin-io/evstore/internal/observability"
	"github.com/fujin-io/evstore/internal/proto/messages"
	"github.com/fujin-io/evstore/internal/proto/tcp"
	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/client/config"
	"github.com/fujin-io/evstore/public/types"
	"github.com/google/uuid"
)

const (
	DefaultTickInterval = 200 * time.Millisecond

	// ClientVersion is sent in the identification handshake.
	ClientVersion = 1
)

type State int32

const (
	StateInit State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Phase is only meaningful while the handler is connecting. Phases are
// strictly ordered; messages that belong to another phase are ignored.
type Phase byte

const (
	PhaseInvalid Phase = iota
	PhaseReconnecting
	PhaseEndpointDiscovery
	PhaseConnectionEstablishing
	PhaseAuthentication
	PhaseIdentification
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseEndpointDiscovery:
		return "endpoint_discovery"
	case PhaseConnectionEstablishing:
		return "connection_establishing"
	case PhaseAuthentication:
		return "authentication"
	case PhaseIdentification:
		return "identification"
	case PhaseConnected:
		return "connected"
	default:
		return "invalid"
	}
}

// EndpointDiscoverer resolves the node to connect to. failed is the node
// of the connection that just went away, or nil.
type EndpointDiscoverer interface {
	Discover(ctx context.Context, failed *types.NodeEndpoints) (types.NodeEndpoints, error)
}

type DiscovererFunc func(ctx context.Context, failed *types.NodeEndpoints) (types.NodeEndpoints, error)

func (f DiscovererFunc) Discover(ctx context.Context, failed *types.NodeEndpoints) (types.NodeEndpoints, error) {
	return f(ctx, failed)
}

// Listener receives lifecycle events. Listeners run one at a time, in the
// order events were raised, never on the handler goroutine.
type Listener func(ev types.ConnectionEvent)

type Options struct {
	// Settings must have defaults applied.
	Settings   config.Settings
	Discoverer EndpointDiscoverer
	// Dialer defaults to a plain TCP dialer.
	Dialer       transport.Dialer
	Logger       *slog.Logger
	TickInterval time.Duration
}

type (
	startConnection struct{ result *promise.Promise[struct{}] }
	closeConnection struct {
		reason string
		err    error
	}
	startOperation      struct{ item *OperationItem }
	startSubscription   struct{ item *SubscriptionItem }
	endpointsDiscovered struct {
		endpoints types.NodeEndpoints
		result    *promise.Promise[struct{}]
	}
	discoveryFailed struct {
		err    error
		result *promise.Promise[struct{}]
	}
	dialed struct {
		attempt  uint64
		endpoint string
		rw       io.ReadWriteCloser
	}
	dialFailed struct {
		attempt  uint64
		endpoint string
		err      error
	}
	packageReceived struct {
		conn *transport.Connection
		pkg  *tcp.Package
	}
	connectionError struct {
		conn *transport.Connection
		err  error
	}
	connectionClosed struct {
		conn *transport.Connection
		err  error
	}
)

type heartbeatInfo struct {
	lastPackageNumber uint64
	intervalStage     bool
	timestamp         time.Time
}

type reconnectionInfo struct {
	attempt   int
	timestamp time.Time
}

type handshakeInfo struct {
	correlationID uuid.UUID
	timestamp     time.Time
}

type listenerEntry struct {
	kind types.ConnectionEventKind
	fn   Listener
}

// Handler is the connection actor. Every exported method only posts a
// message; the state below the mailbox is touched by the run goroutine
// alone.
type Handler struct {
	l          *slog.Logger
	s          config.Settings
	discoverer EndpointDiscoverer
	dialer     transport.Dialer
	tick       time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mbMu     sync.Mutex
	mailbox  []any
	mbClosed bool
	notify   chan struct{}

	lsMu         sync.Mutex
	listeners    map[uint64]listenerEntry
	nextListener uint64
	events       *actionqueue.Queue

	stateView atomic.Int32

	state         State
	phase         Phase
	conn          *transport.Connection
	endpoints     *types.NodeEndpoints
	ops           *OperationsManager
	subs          *SubscriptionsManager
	wasConnected  bool
	packageNumber uint64
	dialAttempt   uint64
	hb            heartbeatInfo
	reconn        reconnectionInfo
	auth          handshakeInfo
	identify      handshakeInfo
	lastTimeouts  time.Time
}

// New starts the handler goroutine. It stays in StateInit until
// StartConnection is called and exits once the connection is closed.
func New(opts Options) *Handler {
	l := opts.Logger
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	s := opts.Settings
	if s.ConnectionName == "" {
		s.ConnectionName = "evstore-" + uuid.NewString()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = transport.TCPDialer{Timeout: s.ClientConnectionTimeout}
	}
	tick := opts.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}

	l = l.With("connection", s.ConnectionName)
	mcfg := ManagerConfig{
		MaxQueueSize:           s.MaxQueueSize,
		MaxConcurrentItems:     s.MaxConcurrentItems,
		FailOnNoServerResponse: s.FailOnNoServerResponse,
		Verbose:                s.VerboseLogging,
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		l:          l,
		s:          s,
		discoverer: opts.Discoverer,
		dialer:     dialer,
		tick:       tick,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		notify:     make(chan struct{}, 1),
		listeners:  make(map[uint64]listenerEntry),
		events:     actionqueue.New(0, nil),
		ops:        NewOperationsManager(mcfg, l),
		subs:       NewSubscriptionsManager(mcfg, l),
	}
	go h.run()
	return h
}

func (h *Handler) ConnectionName() string { return h.s.ConnectionName }

func (h *Handler) State() State { return State(h.stateView.Load()) }

// Done is closed when the handler goroutine has exited.
func (h *Handler) Done() <-chan struct{} { return h.done }

// StartConnection begins connecting. The result completes once the first
// endpoint is discovered, or fails when the handler is already active or
// closed.
func (h *Handler) StartConnection() *promise.Promise[struct{}] {
	p := promise.New[struct{}]()
	if !h.post(startConnection{result: p}) {
		p.Reject(cerr.ErrConnectionClosed)
	}
	return p
}

// Close shuts the connection down for good, failing everything in flight.
func (h *Handler) Close(reason string) {
	h.post(closeConnection{reason: reason})
}

// EnqueueOperation hands op to the handler. The outcome is reported
// through the operation itself.
func (h *Handler) EnqueueOperation(op operations.Operation, maxRetries int, timeout time.Duration) {
	if !h.post(startOperation{item: NewOperationItem(op, maxRetries, timeout)}) {
		op.Fail(cerr.ErrConnectionClosed)
	}
}

func (h *Handler) StartSubscription(op subscriptions.Operation, maxRetries int, timeout time.Duration) {
	if !h.post(startSubscription{item: NewSubscriptionItem(op, maxRetries, timeout)}) {
		op.DropSubscription(types.DropConnectionClosed, cerr.ErrConnectionClosed, nil)
	}
}

// On registers fn for events of kind. The returned func detaches it.
func (h *Handler) On(kind types.ConnectionEventKind, fn Listener) (detach func()) {
	h.lsMu.Lock()
	id := h.nextListener
	h.nextListener++
	h.listeners[id] = listenerEntry{kind: kind, fn: fn}
	h.lsMu.Unlock()

	return func() {
		h.lsMu.Lock()
		delete(h.listeners, id)
		h.lsMu.Unlock()
	}
}

func (h *Handler) post(m any) bool {
	h.mbMu.Lock()
	if h.mbClosed {
		h.mbMu.Unlock()
		return false
	}
	h.mailbox = append(h.mailbox, m)
	h.mbMu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
	return true
}

func (h *Handler) next() (any, bool) {
	h.mbMu.Lock()
	defer h.mbMu.Unlock()
	if len(h.mailbox) == 0 {
		return nil, false
	}
	m := h.mailbox[0]
	h.mailbox[0] = nil
	h.mailbox = h.mailbox[1:]
	return m, true
}

// sealMailbox refuses further messages once the mailbox is empty.
func (h *Handler) sealMailbox() bool {
	h.mbMu.Lock()
	defer h.mbMu.Unlock()
	if len(h.mailbox) > 0 {
		return false
	}
	h.mbClosed = true
	return true
}

func (h *Handler) run() {
	defer close(h.done)

	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	for {
		for m, ok := h.next(); ok; m, ok = h.next() {
			h.handle(m)
		}
		if h.state == StateClosed && h.sealMailbox() {
			return
		}

		select {
		case <-h.notify:
		case <-ticker.C:
			h.timerTick(time.Now())
		}
	}
}

func (h *Handler) handle(m any) {
	switch m := m.(type) {
	case startConnection:
		h.startConnection(m.result)
	case closeConnection:
		h.closeConnection(m.reason, m.err)
	case startOperation:
		h.startOperation(m.item)
	case startSubscription:
		h.startSubscription(m.item)
	case endpointsDiscovered:
		if h.state == StateClosed {
			rejectIfSet(m.result, cerr.ErrConnectionClosed)
			return
		}
		if m.result != nil {
			m.result.Resolve(struct{}{})
		}
		h.establishConnection(m.endpoints)
	case discoveryFailed:
		err := fmt.Errorf("%w: %w", cerr.ErrCannotEstablishConnection, m.err)
		rejectIfSet(m.result, err)
		h.closeConnection("failed to resolve endpoint to connect to", err)
	case dialed:
		h.onDialed(m)
	case dialFailed:
		h.onDialFailed(m)
	case packageReceived:
		h.handlePackage(m.conn, m.pkg)
	case connectionError:
		h.onConnectionError(m.conn, m.err)
	case connectionClosed:
		h.onConnectionClosed(m.conn, m.err)
	default:
		h.l.Error("unknown message", "type", fmt.Sprintf("%T", m))
	}
}

func rejectIfSet(p *promise.Promise[struct{}], err error) {
	if p != nil {
		p.Reject(err)
	}
}

func (h *Handler) setState(s State) {
	h.state = s
	h.stateView.Store(int32(s))
}

func (h *Handler) startConnection(result *promise.Promise[struct{}]) {
	switch h.state {
	case StateInit:
		if h.discoverer == nil {
			result.Reject(cerr.ErrNoEndpoint)
			h.closeConnection("no endpoint discoverer", cerr.ErrNoEndpoint)
			return
		}
		h.setState(StateConnecting)
		h.phase = PhaseReconnecting
		h.discoverEndpoint(result)
	case StateConnecting, StateConnected:
		result.Reject(cerr.ErrConnectionAlreadyActive)
	case StateClosed:
		result.Reject(cerr.ErrConnectionClosed)
	}
}

func (h *Handler) discoverEndpoint(result *promise.Promise[struct{}]) {
	if h.state != StateConnecting || h.phase != PhaseReconnecting {
		return
	}
	h.phase = PhaseEndpointDiscovery

	failed := h.endpoints
	go func() {
		endpoints, err := h.discoverer.Discover(h.ctx, failed)
		var m any = endpointsDiscovered{endpoints: endpoints, result: result}
		if err != nil {
			m = discoveryFailed{err: err, result: result}
		}
		if !h.post(m) {
			rejectIfSet(result, cerr.ErrConnectionClosed)
		}
	}()
}

func (h *Handler) pickEndpoint(endpoints types.NodeEndpoints) string {
	if h.s.TLS.Enabled && endpoints.SecureEndpoint != "" {
		return endpoints.SecureEndpoint
	}
	return endpoints.TCPEndpoint
}

func (h *Handler) establishConnection(endpoints types.NodeEndpoints) {
	if h.state != StateConnecting || h.phase != PhaseEndpointDiscovery {
		return
	}
	endpoint := h.pickEndpoint(endpoints)
	if endpoint == "" {
		h.closeConnection("no endpoint to node specified", cerr.ErrNoEndpoint)
		return
	}

	h.phase = PhaseConnectionEstablishing
	h.endpoints = &endpoints
	h.dialAttempt++
	attempt := h.dialAttempt

	if h.s.VerboseLogging {
		h.l.Debug("dialing", "endpoint", endpoint, "attempt", attempt)
	}

	ctx, cancel := context.WithTimeout(h.ctx, h.s.ClientConnectionTimeout)
	go func() {
		defer cancel()
		rw, err := h.dialer.Dial(ctx, endpoint)
		if err != nil {
			h.post(dialFailed{attempt: attempt, endpoint: endpoint, err: err})
			return
		}
		if !h.post(dialed{attempt: attempt, endpoint: endpoint, rw: rw}) {
			_ = rw.Close()
		}
	}()
}

func (h *Handler) onDialed(m dialed) {
	if m.attempt != h.dialAttempt || h.state != StateConnecting || h.phase != PhaseConnectionEstablishing {
		_ = m.rw.Close()
		return
	}

	conn := transport.NewConnection(m.endpoint, m.rw, transport.Handlers{
		OnPackage: func(c *transport.Connection, pkg *tcp.Package) {
			h.post(packageReceived{conn: c, pkg: pkg})
		},
		OnError: func(c *transport.Connection, err error) {
			h.post(connectionError{conn: c, err: err})
		},
		OnClosed: func(c *transport.Connection, err error) {
			h.post(connectionClosed{conn: c, err: err})
		},
	}, h.l)
	h.conn = conn
	conn.Start()

	h.l.Info("connection established", "endpoint", m.endpoint, "connection_id", conn.ConnectionID().String())

	now := time.Now()
	h.hb = heartbeatInfo{lastPackageNumber: h.packageNumber, intervalStage: true, timestamp: now}

	if creds := h.s.UserCredentials(); creds != nil {
		h.phase = PhaseAuthentication
		h.auth = handshakeInfo{correlationID: uuid.New(), timestamp: now}
		conn.EnqueueSend(tcp.NewPackage(tcp.CMD_AUTHENTICATE, h.auth.correlationID, creds, nil))
		return
	}
	h.goToIdentification(now)
}

func (h *Handler) onDialFailed(m dialFailed) {
	if m.attempt != h.dialAttempt || h.state != StateConnecting || h.phase != PhaseConnectionEstablishing {
		return
	}
	h.l.Warn("dial failed", "endpoint", m.endpoint, "err", m.err)
	h.phase = PhaseReconnecting
	h.reconn.timestamp = time.Now()
}

func (h *Handler) goToIdentification(now time.Time) {
	h.phase = PhaseIdentification
	h.identify = handshakeInfo{correlationID: uuid.New(), timestamp: now}
	msg := &messages.IdentifyClient{Version: ClientVersion, ConnectionName: h.s.ConnectionName}
	h.conn.EnqueueSend(tcp.NewPackage(tcp.CMD_IDENTIFY_CLIENT, h.identify.correlationID, nil, msg.Marshal()))
}

func (h *Handler) goToConnected(now time.Time) {
	h.setState(StateConnected)
	h.phase = PhaseConnected
	h.wasConnected = true

	h.l.Info("connected", "endpoint", h.conn.RemoteEndpoint())
	h.emit(types.ConnectionEvent{Kind: types.EventConnected, Endpoint: h.conn.RemoteEndpoint()})

	h.checkTimeouts(now)
}

func (h *Handler) checkTimeouts(now time.Time) {
	h.ops.CheckTimeoutsAndRetry(h.conn)
	h.subs.CheckTimeoutsAndRetry(h.conn)
	h.lastTimeouts = now
}

func (h *Handler) startOperation(item *OperationItem) {
	switch h.state {
	case StateInit:
		item.Operation.Fail(cerr.ErrConnectionNotActive)
	case StateConnecting:
		_ = h.ops.EnqueueOperation(item)
	case StateConnected:
		if err := h.ops.EnqueueOperation(item); err == nil {
			h.ops.ScheduleWaitingOperations(h.conn)
		}
	case StateClosed:
		item.Operation.Fail(cerr.ErrConnectionClosed)
	}
}

func (h *Handler) startSubscription(item *SubscriptionItem) {
	switch h.state {
	case StateInit:
		item.Operation.DropSubscription(types.DropConnectionClosed, cerr.ErrConnectionNotActive, nil)
	case StateConnecting:
		h.subs.EnqueueSubscription(item)
	case StateConnected:
		h.subs.StartSubscription(item, h.conn)
	case StateClosed:
		item.Operation.DropSubscription(types.DropConnectionClosed, cerr.ErrConnectionClosed, nil)
	}
}

func (h *Handler) handlePackage(conn *transport.Connection, pkg *tcp.Package) {
	if conn != h.conn {
		if h.s.VerboseLogging {
			h.l.Debug("ignoring package from stale connection", "package", pkg.String())
		}
		return
	}
	h.packageNumber++

	switch pkg.Command {
	case tcp.CMD_HEARTBEAT_RESPONSE:
		return
	case tcp.CMD_HEARTBEAT_REQUEST:
		conn.EnqueueSend(tcp.NewPackage(tcp.CMD_HEARTBEAT_RESPONSE, pkg.CorrelationID, nil, nil))
		return
	case tcp.CMD_AUTHENTICATED, tcp.CMD_NOT_AUTHENTICATED:
		if h.state == StateConnecting && h.phase == PhaseAuthentication && h.auth.correlationID == pkg.CorrelationID {
			if pkg.Command == tcp.CMD_NOT_AUTHENTICATED {
				h.l.Warn("authentication failed", "reason", string(pkg.Data))
				h.emit(types.ConnectionEvent{
					Kind:   types.EventAuthenticationFailed,
					Reason: "not authenticated",
					Err:    &cerr.NotAuthenticatedError{Message: string(pkg.Data)},
				})
			}
			h.goToIdentification(time.Now())
			return
		}
	case tcp.CMD_CLIENT_IDENTIFIED:
		if h.state == StateConnecting && h.phase == PhaseIdentification && h.identify.correlationID == pkg.CorrelationID {
			h.goToConnected(time.Now())
			return
		}
	case tcp.CMD_BAD_REQUEST:
		if pkg.CorrelationID == uuid.Nil {
			h.closeConnection("connection-wide bad request received", &cerr.ServerError{Message: string(pkg.Data)})
			return
		}
	}

	if item, ok := h.ops.TryGetActiveOperation(pkg.CorrelationID); ok {
		res := item.Operation.InspectPackage(pkg)
		if h.s.VerboseLogging {
			h.l.Debug("operation inspected", "item", item.String(), "decision", res.Decision.String(), "description", res.Description)
		}
		switch res.Decision {
		case operations.DecisionDoNothing:
		case operations.DecisionEndOperation:
			h.ops.RemoveOperation(item)
		case operations.DecisionRetry:
			h.ops.ScheduleOperationRetry(item)
		case operations.DecisionReconnect:
			h.reconnectTo(res.Endpoints)
			h.ops.ScheduleOperationRetry(item)
		default:
			h.l.Error("unexpected decision for operation", "decision", res.Decision.String(), "item", item.String())
		}
		if h.state == StateConnected {
			h.ops.ScheduleWaitingOperations(h.conn)
		}
		return
	}

	if item, ok := h.subs.TryGetActiveSubscription(pkg.CorrelationID); ok {
		res := item.Operation.InspectPackage(pkg)
		switch res.Decision {
		case operations.DecisionDoNothing:
		case operations.DecisionEndOperation:
			h.subs.RemoveSubscription(item)
		case operations.DecisionRetry:
			h.subs.ScheduleSubscriptionRetry(item)
		case operations.DecisionReconnect:
			h.reconnectTo(res.Endpoints)
			h.subs.ScheduleSubscriptionRetry(item)
		case operations.DecisionSubscribed:
			item.IsSubscribed = true
		}
		return
	}

	if h.s.VerboseLogging {
		h.l.Debug("unmapped package", "package", pkg.String())
	}
}

func (h *Handler) reconnectTo(endpoints *types.NodeEndpoints) {
	if endpoints == nil {
		return
	}
	endpoint := h.pickEndpoint(*endpoints)
	if endpoint == "" {
		h.closeConnection("no endpoint specified while trying to reconnect", cerr.ErrNoEndpoint)
		return
	}
	if h.state != StateConnected || h.conn.RemoteEndpoint() == endpoint {
		return
	}

	h.l.Info("reconnecting to master", "endpoint", endpoint, "current", h.conn.RemoteEndpoint())
	h.closeTCPConnection(fmt.Errorf("%w: redirected to %s", cerr.ErrNotMaster, endpoint))

	h.setState(StateConnecting)
	h.phase = PhaseEndpointDiscovery
	h.establishConnection(*endpoints)
}

// closeTCPConnection drops the socket but keeps the handler alive, so a
// reconnection follows.
func (h *Handler) closeTCPConnection(reason error) {
	if h.conn == nil {
		return
	}
	conn := h.conn
	conn.Close(reason)
	h.onConnectionClosed(conn, reason)
}

func (h *Handler) onConnectionClosed(conn *transport.Connection, err error) {
	if h.state == StateInit {
		h.l.Error("connection closed before start", "err", err)
		return
	}
	if h.state == StateClosed || h.conn != conn {
		return
	}

	h.l.Info("connection closed", "endpoint", conn.RemoteEndpoint(), "err", err)
	h.setState(StateConnecting)
	h.phase = PhaseReconnecting
	h.subs.PurgeSubscribedAndDroppedSubscriptions(conn.ConnectionID())
	h.reconn.timestamp = time.Now()
	h.conn = nil

	if h.wasConnected {
		h.wasConnected = false
		h.emit(types.ConnectionEvent{Kind: types.EventDisconnected, Endpoint: conn.RemoteEndpoint(), Err: err})
	}
}

func (h *Handler) onConnectionError(conn *transport.Connection, err error) {
	if conn != h.conn || h.state == StateClosed {
		return
	}
	h.l.Error("connection error", "endpoint", conn.RemoteEndpoint(), "err", err)
	observability.IncError("connection", "transport")
	h.emit(types.ConnectionEvent{Kind: types.EventErrorOccurred, Endpoint: conn.RemoteEndpoint(), Err: err})
}

func (h *Handler) closeConnection(reason string, err error) {
	if h.state == StateClosed {
		if h.s.VerboseLogging {
			h.l.Debug("close ignored, already closed", "reason", reason)
		}
		return
	}

	h.l.Info("closing connection", "reason", reason, "err", err)
	h.setState(StateClosed)
	h.cancel()

	closedErr := fmt.Errorf("%w: %s", cerr.ErrConnectionClosed, reason)
	h.ops.CleanUp(closedErr)
	h.subs.CleanUp()

	if h.conn != nil {
		h.conn.Close(closedErr)
		h.conn = nil
	}

	if err != nil {
		observability.IncError("connection", "handler")
		h.emit(types.ConnectionEvent{Kind: types.EventErrorOccurred, Reason: reason, Err: err})
	}
	h.emit(types.ConnectionEvent{Kind: types.EventClosed, Reason: reason, Err: err})
}

func (h *Handler) timerTick(now time.Time) {
	switch h.state {
	case StateConnecting:
		if h.phase == PhaseReconnecting && now.Sub(h.reconn.timestamp) >= h.s.ReconnectionDelay {
			h.reconn = reconnectionInfo{attempt: h.reconn.attempt + 1, timestamp: now}
			if h.s.MaxReconnections >= 0 && h.reconn.attempt > h.s.MaxReconnections {
				h.closeConnection("reconnection limit reached",
					fmt.Errorf("%w: %d", cerr.ErrReconnectionLimitReached, h.s.MaxReconnections))
				return
			}
			h.l.Info("reconnecting", "attempt", h.reconn.attempt)
			observability.IncReconnection()
			h.emit(types.ConnectionEvent{Kind: types.EventReconnecting, Reason: fmt.Sprintf("attempt %d", h.reconn.attempt)})
			h.discoverEndpoint(nil)
		}
		if h.phase == PhaseAuthentication && now.Sub(h.auth.timestamp) >= h.s.OperationTimeout {
			h.emit(types.ConnectionEvent{
				Kind:   types.EventAuthenticationFailed,
				Reason: "authentication timed out",
				Err:    cerr.ErrOperationTimedOut,
			})
			h.goToIdentification(now)
		}
		if h.phase == PhaseIdentification && now.Sub(h.identify.timestamp) >= h.s.OperationTimeout {
			h.closeTCPConnection(fmt.Errorf("%w: client identification", cerr.ErrConnectionEstablishTimeout))
		}
		if h.phase > PhaseConnectionEstablishing {
			h.manageHeartbeats(now)
		}
	case StateConnected:
		if now.Sub(h.lastTimeouts) >= h.s.OperationTimeoutCheckPeriod {
			h.reconn = reconnectionInfo{timestamp: now}
			h.checkTimeouts(now)
		}
		h.manageHeartbeats(now)
	}
}

// manageHeartbeats sends a heartbeat request after HeartbeatInterval of
// silence and closes the socket when HeartbeatTimeout more passes without
// any package.
func (h *Handler) manageHeartbeats(now time.Time) {
	if h.conn == nil {
		return
	}
	if h.hb.lastPackageNumber != h.packageNumber {
		h.hb = heartbeatInfo{lastPackageNumber: h.packageNumber, intervalStage: true, timestamp: now}
		return
	}

	timeout := h.s.HeartbeatTimeout
	if h.hb.intervalStage {
		timeout = h.s.HeartbeatInterval
	}
	if now.Sub(h.hb.timestamp) < timeout {
		return
	}

	if h.hb.intervalStage {
		h.conn.EnqueueSend(tcp.NewPackage(tcp.CMD_HEARTBEAT_REQUEST, uuid.New(), nil, nil))
		h.hb = heartbeatInfo{lastPackageNumber: h.hb.lastPackageNumber, intervalStage: false, timestamp: now}
		return
	}

	err := fmt.Errorf("%w: nothing received for %s", cerr.ErrHeartbeatTimeout, h.s.HeartbeatInterval+h.s.HeartbeatTimeout)
	h.l.Warn("closing connection", "endpoint", h.conn.RemoteEndpoint(), "err", err)
	h.closeTCPConnection(err)
}

func (h *Handler) emit(ev types.ConnectionEvent) {
	h.lsMu.Lock()
	var fns []Listener
	for _, e := range h.listeners {
		if e.kind == ev.Kind {
			fns = append(fns, e.fn)
		}
	}
	h.lsMu.Unlock()

	if len(fns) == 0 {
		return
	}
	err := h.events.EnqueueUnbounded(func() {
		for _, fn := range fns {
			fn(ev)
		}
	})
	if err != nil {
		h.l.Error("dispatch connection event", "kind", ev.Kind.String(), "err", err)
	}
}
