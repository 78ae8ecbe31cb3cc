// Package fakeserver is an in-memory event store node speaking the binary
// TCP protocol. It keeps streams, the $all log, transactions, volatile and
// persistent subscriptions, and lets tests override any command.
package fakeserver

import (
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fujin-io/evstore/internal/proto/messages"
	"github.com/fujin-io/evstore/internal/proto/tcp"
	"github.com/fujin-io/evstore/public/types"
	"github.com/google/uuid"
)

// positionStep is the distance between the log positions of two events.
const positionStep = 100

// Hook replaces the built-in handling of one command. handled=false falls
// back to the built-in behavior.
type Hook func(pkg *tcp.Package) (replies []*tcp.Package, handled bool)

type Options struct {
	// Users enables credential checks on Authenticate when not empty.
	Users  map[string]string
	TLS    *tls.Config
	Logger *slog.Logger
}

type stream struct {
	events  []*messages.EventRecord
	deleted bool
}

func (s *stream) version() int64 {
	if s == nil {
		return -1
	}
	return int64(len(s.events)) - 1
}

type logEntry struct {
	rec *messages.EventRecord
	pos int64
}

type transaction struct {
	stream          string
	expectedVersion int64
	events          []*messages.NewEvent
}

type group struct {
	stream   string
	name     string
	settings messages.PersistentSubscriptionSettings
	acked    map[uuid.UUID]bool
	retries  map[uuid.UUID]int32
}

type persistentConsumer struct {
	conn          *conn
	correlationID uuid.UUID
	group         *group
}

type Server struct {
	l     *slog.Logger
	ln    net.Listener
	users map[string]string

	mu        sync.Mutex
	streams   map[string]*stream
	log       []logEntry
	txs       map[int64]*transaction
	nextTx    int64
	groups    map[string]*group
	consumers map[uuid.UUID]*persistentConsumer
	conns     map[*conn]struct{}
	hooks     map[tcp.Command]Hook
	received  map[tcp.Command]int
	closed    bool

	wg sync.WaitGroup
}

// New starts a server on a random loopback port. It is stopped when tb
// finishes.
func New(tb testing.TB, opts Options) *Server {
	tb.Helper()

	var (
		ln  net.Listener
		err error
	)
	if opts.TLS != nil {
		ln, err = tls.Listen("tcp", "127.0.0.1:0", opts.TLS)
	} else {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
	}
	if err != nil {
		tb.Fatalf("listen: %v", err)
	}

	l := opts.Logger
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		l:         l.With("component", "fakeserver"),
		ln:        ln,
		users:     opts.Users,
		streams:   make(map[string]*stream),
		txs:       make(map[int64]*transaction),
		groups:    make(map[string]*group),
		consumers: make(map[uuid.UUID]*persistentConsumer),
		conns:     make(map[*conn]struct{}),
		hooks:     make(map[tcp.Command]Hook),
		received:  make(map[tcp.Command]int),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	tb.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	_ = s.ln.Close()
	for _, c := range conns {
		_ = c.nc.Close()
	}
	s.wg.Wait()
}

// Handle overrides cmd with hook. A nil hook restores the default.
func (s *Server) Handle(cmd tcp.Command, hook Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hook == nil {
		delete(s.hooks, cmd)
		return
	}
	s.hooks[cmd] = hook
}

// Received counts the frames of cmd received so far.
func (s *Server) Received(cmd tcp.Command) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received[cmd]
}

// Connections returns the number of open client connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropConnections closes every client socket from the server side.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.nc.Close()
	}
}

// Append writes events to streamID as if a client did, returning the
// number of the last one.
func (s *Server) Append(streamID string, events ...types.EventData) int64 {
	news := make([]*messages.NewEvent, len(events))
	for i, e := range events {
		news[i] = messages.NewEventFromData(e)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	first, _ := s.appendLocked(streamID, news)
	return first + int64(len(news)) - 1
}

// Acked reports whether the persistent group acknowledged eventID.
func (s *Server) Acked(streamID, groupName string, eventID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupKey(streamID, groupName)]
	return ok && g.acked[eventID]
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.l.Error("accept", "err", err)
			}
			return
		}

		c := &conn{s: s, nc: nc, subs: make(map[uuid.UUID]string)}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = nc.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go c.serve()
	}
}

type conn struct {
	s   *Server
	nc  net.Conn
	wmu sync.Mutex

	// subs maps subscription correlation ids to streams, "" for $all.
	// Guarded by Server.mu.
	subs map[uuid.UUID]string
}

func (c *conn) serve() {
	defer c.s.wg.Done()
	defer c.detach()

	framer := tcp.NewFramer()
	buf := make([]byte, 32*1024)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			if ferr := framer.Feed(buf[:n], c.handle); ferr != nil {
				c.s.l.Error("feed", "err", ferr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.s.l.Debug("read", "err", err)
			}
			return
		}
	}
}

func (c *conn) detach() {
	_ = c.nc.Close()
	c.s.mu.Lock()
	delete(c.s.conns, c)
	for id, pc := range c.s.consumers {
		if pc.conn == c {
			delete(c.s.consumers, id)
		}
	}
	c.s.mu.Unlock()
}

func (c *conn) send(pkgs ...*tcp.Package) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	for _, p := range pkgs {
		b, err := tcp.Encode(p)
		if err != nil {
			c.s.l.Error("encode", "err", err)
			continue
		}
		_ = c.nc.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := c.nc.Write(b); err != nil {
			c.s.l.Debug("write", "err", err)
			return
		}
	}
}

func (c *conn) handle(pkg *tcp.Package) error {
	c.s.mu.Lock()
	c.s.received[pkg.Command]++
	hook := c.s.hooks[pkg.Command]
	c.s.mu.Unlock()

	if hook != nil {
		if replies, handled := hook(pkg); handled {
			c.send(replies...)
			return nil
		}
	}

	reply := func(cmd tcp.Command, m messages.Message) {
		var data []byte
		if m != nil {
			data = m.Marshal()
		}
		c.send(tcp.NewPackage(cmd, pkg.CorrelationID, nil, data))
	}

	switch pkg.Command {
	case tcp.CMD_HEARTBEAT_REQUEST:
		reply(tcp.CMD_HEARTBEAT_RESPONSE, nil)
	case tcp.CMD_PING:
		reply(tcp.CMD_PONG, nil)
	case tcp.CMD_AUTHENTICATE:
		if c.s.authenticate(pkg.Credentials) {
			reply(tcp.CMD_AUTHENTICATED, nil)
		} else {
			reply(tcp.CMD_NOT_AUTHENTICATED, nil)
		}
	case tcp.CMD_IDENTIFY_CLIENT:
		reply(tcp.CMD_CLIENT_IDENTIFIED, nil)
	case tcp.CMD_WRITE_EVENTS:
		var req messages.WriteEvents
		if !c.decode(pkg, &req) {
			return nil
		}
		reply(tcp.CMD_WRITE_EVENTS_COMPLETED, c.s.write(req.EventStreamID, req.ExpectedVersion, req.Events))
	case tcp.CMD_DELETE_STREAM:
		var req messages.DeleteStream
		if !c.decode(pkg, &req) {
			return nil
		}
		reply(tcp.CMD_DELETE_STREAM_COMPLETED, c.s.deleteStream(req))
	case tcp.CMD_TRANSACTION_START:
		var req messages.TransactionStart
		if !c.decode(pkg, &req) {
			return nil
		}
		reply(tcp.CMD_TRANSACTION_START_COMPLETED, c.s.startTransaction(req))
	case tcp.CMD_TRANSACTION_WRITE:
		var req messages.TransactionWrite
		if !c.decode(pkg, &req) {
			return nil
		}
		reply(tcp.CMD_TRANSACTION_WRITE_COMPLETED, c.s.transactionWrite(req))
	case tcp.CMD_TRANSACTION_COMMIT:
		var req messages.TransactionCommit
		if !c.decode(pkg, &req) {
			return nil
		}
		reply(tcp.CMD_TRANSACTION_COMMIT_COMPLETED, c.s.commitTransaction(req))
	case tcp.CMD_READ_EVENT:
		var req messages.ReadEvent
		if !c.decode(pkg, &req) {
			return nil
		}
		reply(tcp.CMD_READ_EVENT_COMPLETED, c.s.readEvent(req))
	case tcp.CMD_READ_STREAM_EVENTS_FORWARD, tcp.CMD_READ_STREAM_EVENTS_BACKWARD:
		var req messages.ReadStreamEvents
		if !c.decode(pkg, &req) {
			return nil
		}
		backward := pkg.Command == tcp.CMD_READ_STREAM_EVENTS_BACKWARD
		resp := c.s.readStream(req, backward)
		if backward {
			reply(tcp.CMD_READ_STREAM_EVENTS_BACKWARD_COMPLETED, resp)
		} else {
			reply(tcp.CMD_READ_STREAM_EVENTS_FORWARD_COMPLETED, resp)
		}
	case tcp.CMD_READ_ALL_EVENTS_FORWARD, tcp.CMD_READ_ALL_EVENTS_BACKWARD:
		var req messages.ReadAllEvents
		if !c.decode(pkg, &req) {
			return nil
		}
		backward := pkg.Command == tcp.CMD_READ_ALL_EVENTS_BACKWARD
		resp := c.s.readAll(req, backward)
		if backward {
			reply(tcp.CMD_READ_ALL_EVENTS_BACKWARD_COMPLETED, resp)
		} else {
			reply(tcp.CMD_READ_ALL_EVENTS_FORWARD_COMPLETED, resp)
		}
	case tcp.CMD_SUBSCRIBE_TO_STREAM:
		var req messages.SubscribeToStream
		if !c.decode(pkg, &req) {
			return nil
		}
		c.s.subscribe(c, pkg.CorrelationID, req.EventStreamID)
	case tcp.CMD_UNSUBSCRIBE_FROM_STREAM:
		c.s.unsubscribe(c, pkg.CorrelationID)
		reply(tcp.CMD_SUBSCRIPTION_DROPPED, &messages.SubscriptionDropped{Reason: messages.DropUnsubscribed})
	case tcp.CMD_CREATE_PERSISTENT_SUBSCRIPTION:
		var req messages.PersistentSubscriptionSettings
		if !c.decode(pkg, &req) {
			return nil
		}
		reply(tcp.CMD_CREATE_PERSISTENT_SUBSCRIPTION_COMPLETED, c.s.createGroup(req))
	case tcp.CMD_UPDATE_PERSISTENT_SUBSCRIPTION:
		var req messages.PersistentSubscriptionSettings
		if !c.decode(pkg, &req) {
			return nil
		}
		reply(tcp.CMD_UPDATE_PERSISTENT_SUBSCRIPTION_COMPLETED, c.s.updateGroup(req))
	case tcp.CMD_DELETE_PERSISTENT_SUBSCRIPTION:
		var req messages.DeletePersistentSubscription
		if !c.decode(pkg, &req) {
			return nil
		}
		reply(tcp.CMD_DELETE_PERSISTENT_SUBSCRIPTION_COMPLETED, c.s.deleteGroup(req))
	case tcp.CMD_CONNECT_TO_PERSISTENT_SUBSCRIPTION:
		var req messages.ConnectToPersistentSubscription
		if !c.decode(pkg, &req) {
			return nil
		}
		c.s.connectPersistent(c, pkg.CorrelationID, req)
	case tcp.CMD_PERSISTENT_SUBSCRIPTION_ACK_EVENTS:
		var req messages.PersistentSubscriptionAckEvents
		if !c.decode(pkg, &req) {
			return nil
		}
		c.s.ack(pkg.CorrelationID, req.ProcessedEventIDs)
	case tcp.CMD_PERSISTENT_SUBSCRIPTION_NAK_EVENTS:
		var req messages.PersistentSubscriptionNakEvents
		if !c.decode(pkg, &req) {
			return nil
		}
		c.s.nak(pkg.CorrelationID, req)
	default:
		c.send(tcp.NewPackage(tcp.CMD_BAD_REQUEST, pkg.CorrelationID, nil, []byte("unsupported command "+pkg.Command.String())))
	}
	return nil
}

func (c *conn) decode(pkg *tcp.Package, m messages.Message) bool {
	if err := m.Unmarshal(pkg.Data); err != nil {
		c.send(tcp.NewPackage(tcp.CMD_BAD_REQUEST, pkg.CorrelationID, nil, []byte(err.Error())))
		return false
	}
	return true
}

func (s *Server) authenticate(creds *types.UserCredentials) bool {
	if len(s.users) == 0 {
		return true
	}
	if creds == nil {
		return false
	}
	pass, ok := s.users[creds.Username]
	return ok && pass == creds.Password
}

func groupKey(streamID, name string) string { return streamID + "::" + name }

func (s *Server) lastPosition() int64 {
	if len(s.log) == 0 {
		return 0
	}
	return s.log[len(s.log)-1].pos
}

// checkVersion returns the current version and whether expected matches it.
func checkVersion(st *stream, expected int64) (int64, bool) {
	current := st.version()
	switch expected {
	case types.ExpectedVersionAny:
		return current, true
	case types.ExpectedVersionNoStream:
		return current, current == -1
	case types.ExpectedVersionStreamExists:
		return current, current >= 0
	default:
		return current, current == expected
	}
}

// appendLocked stores events and pushes them to subscribers. It returns
// the number and log position of the first event.
func (s *Server) appendLocked(streamID string, events []*messages.NewEvent) (int64, int64) {
	st, ok := s.streams[streamID]
	if !ok {
		st = &stream{}
		s.streams[streamID] = st
	}
	first := int64(len(st.events))
	firstPos := s.lastPosition() + positionStep
	now := time.Now().UnixMilli()

	for _, e := range events {
		rec := &messages.EventRecord{
			EventStreamID:       streamID,
			EventNumber:         int64(len(st.events)),
			EventID:             e.EventID,
			EventType:           e.EventType,
			DataContentType:     e.DataContentType,
			MetadataContentType: e.MetadataContentType,
			Data:                e.Data,
			Metadata:            e.Metadata,
			Created:             now,
			CreatedEpoch:        now,
		}
		st.events = append(st.events, rec)
		entry := logEntry{rec: rec, pos: s.lastPosition() + positionStep}
		s.log = append(s.log, entry)
		s.publishLocked(entry)
	}
	return first, firstPos
}

func (s *Server) publishLocked(entry logEntry) {
	appeared := &messages.StreamEventAppeared{Event: &messages.ResolvedEvent{
		Event:           entry.rec,
		CommitPosition:  entry.pos,
		PreparePosition: entry.pos,
	}}
	data := appeared.Marshal()
	for c := range s.conns {
		for corrID, streamID := range c.subs {
			if streamID == types.AllStreamID || streamID == entry.rec.EventStreamID {
				c.send(tcp.NewPackage(tcp.CMD_STREAM_EVENT_APPEARED, corrID, nil, data))
			}
		}
	}
	for corrID, pc := range s.consumers {
		if pc.group.stream == entry.rec.EventStreamID {
			s.pushPersistentLocked(pc, corrID, entry.rec, 0)
		}
	}
}

func (s *Server) pushPersistentLocked(pc *persistentConsumer, corrID uuid.UUID, rec *messages.EventRecord, retryCount int32) {
	msg := &messages.PersistentSubscriptionStreamEventAppeared{
		Event:      &messages.ResolvedIndexedEvent{Event: rec},
		RetryCount: retryCount,
	}
	pc.conn.send(tcp.NewPackage(tcp.CMD_PERSISTENT_SUBSCRIPTION_STREAM_EVENT_APPEARED, corrID, nil, msg.Marshal()))
}

func (s *Server) write(streamID string, expected int64, events []*messages.NewEvent) *messages.WriteEventsCompleted {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.streams[streamID]
	if st != nil && st.deleted {
		return &messages.WriteEventsCompleted{Result: messages.OperationStreamDeleted, Message: "stream deleted"}
	}
	current, ok := checkVersion(st, expected)
	if !ok {
		return &messages.WriteEventsCompleted{
			Result:         messages.OperationWrongExpectedVersion,
			Message:        "wrong expected version",
			CurrentVersion: current,
		}
	}
	if len(events) == 0 {
		return &messages.WriteEventsCompleted{
			Result:           messages.OperationSuccess,
			FirstEventNumber: current + 1,
			LastEventNumber:  current,
			CommitPosition:   -1,
			PreparePosition:  -1,
		}
	}
	first, pos := s.appendLocked(streamID, events)
	return &messages.WriteEventsCompleted{
		Result:           messages.OperationSuccess,
		FirstEventNumber: first,
		LastEventNumber:  first + int64(len(events)) - 1,
		CommitPosition:   pos,
		PreparePosition:  pos,
	}
}

func (s *Server) deleteStream(req messages.DeleteStream) *messages.DeleteStreamCompleted {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.streams[req.EventStreamID]
	if st != nil && st.deleted {
		return &messages.DeleteStreamCompleted{Result: messages.OperationStreamDeleted}
	}
	if _, ok := checkVersion(st, req.ExpectedVersion); !ok {
		return &messages.DeleteStreamCompleted{Result: messages.OperationWrongExpectedVersion}
	}
	if req.HardDelete {
		s.streams[req.EventStreamID] = &stream{deleted: true}
	} else {
		delete(s.streams, req.EventStreamID)
	}
	pos := s.lastPosition()
	return &messages.DeleteStreamCompleted{Result: messages.OperationSuccess, CommitPosition: pos, PreparePosition: pos}
}

func (s *Server) startTransaction(req messages.TransactionStart) *messages.TransactionStartCompleted {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.streams[req.EventStreamID]
	if st != nil && st.deleted {
		return &messages.TransactionStartCompleted{Result: messages.OperationStreamDeleted}
	}
	s.nextTx++
	s.txs[s.nextTx] = &transaction{stream: req.EventStreamID, expectedVersion: req.ExpectedVersion}
	return &messages.TransactionStartCompleted{TransactionID: s.nextTx, Result: messages.OperationSuccess}
}

func (s *Server) transactionWrite(req messages.TransactionWrite) *messages.TransactionWriteCompleted {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[req.TransactionID]
	if !ok {
		return &messages.TransactionWriteCompleted{TransactionID: req.TransactionID, Result: messages.OperationInvalidTransaction}
	}
	tx.events = append(tx.events, req.Events...)
	return &messages.TransactionWriteCompleted{TransactionID: req.TransactionID, Result: messages.OperationSuccess}
}

func (s *Server) commitTransaction(req messages.TransactionCommit) *messages.TransactionCommitCompleted {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[req.TransactionID]
	if !ok {
		return &messages.TransactionCommitCompleted{TransactionID: req.TransactionID, Result: messages.OperationInvalidTransaction}
	}
	delete(s.txs, req.TransactionID)

	st := s.streams[tx.stream]
	if st != nil && st.deleted {
		return &messages.TransactionCommitCompleted{TransactionID: req.TransactionID, Result: messages.OperationStreamDeleted}
	}
	current, ok := checkVersion(st, tx.expectedVersion)
	if !ok {
		return &messages.TransactionCommitCompleted{TransactionID: req.TransactionID, Result: messages.OperationWrongExpectedVersion}
	}
	if len(tx.events) == 0 {
		return &messages.TransactionCommitCompleted{
			TransactionID:    req.TransactionID,
			Result:           messages.OperationSuccess,
			FirstEventNumber: current + 1,
			LastEventNumber:  current,
		}
	}
	first, pos := s.appendLocked(tx.stream, tx.events)
	return &messages.TransactionCommitCompleted{
		TransactionID:    req.TransactionID,
		Result:           messages.OperationSuccess,
		FirstEventNumber: first,
		LastEventNumber:  first + int64(len(tx.events)) - 1,
		CommitPosition:   pos,
		PreparePosition:  pos,
	}
}

func (s *Server) readEvent(req messages.ReadEvent) *messages.ReadEventCompleted {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[req.EventStreamID]
	switch {
	case !ok:
		return &messages.ReadEventCompleted{Result: messages.ReadEventNoStream}
	case st.deleted:
		return &messages.ReadEventCompleted{Result: messages.ReadEventStreamDeleted}
	}
	n := req.EventNumber
	if n == types.StreamEnd {
		n = st.version()
	}
	if n < 0 || n >= int64(len(st.events)) {
		return &messages.ReadEventCompleted{Result: messages.ReadEventNotFound}
	}
	return &messages.ReadEventCompleted{
		Result: messages.ReadEventSuccess,
		Event:  &messages.ResolvedIndexedEvent{Event: st.events[n]},
	}
}

func (s *Server) readStream(req messages.ReadStreamEvents, backward bool) *messages.ReadStreamEventsCompleted {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[req.EventStreamID]
	switch {
	case !ok:
		return &messages.ReadStreamEventsCompleted{
			Result: messages.ReadStreamNoStream, NextEventNumber: -1, LastEventNumber: -1, IsEndOfStream: true,
		}
	case st.deleted:
		return &messages.ReadStreamEventsCompleted{
			Result: messages.ReadStreamStreamDeleted, NextEventNumber: -1, LastEventNumber: -1, IsEndOfStream: true,
		}
	}

	last := st.version()
	resp := &messages.ReadStreamEventsCompleted{
		Result:             messages.ReadStreamSuccess,
		LastEventNumber:    last,
		LastCommitPosition: s.lastPosition(),
	}
	count := int64(req.MaxCount)

	if !backward {
		from := max(req.FromEventNumber, 0)
		for n := from; n <= last && n < from+count; n++ {
			resp.Events = append(resp.Events, &messages.ResolvedIndexedEvent{Event: st.events[n]})
		}
		resp.NextEventNumber = min(from+count, last+1)
		resp.IsEndOfStream = from+count > last
		return resp
	}

	from := req.FromEventNumber
	if from == types.StreamEnd || from > last {
		from = last
	}
	for n := from; n >= 0 && n > from-count; n-- {
		resp.Events = append(resp.Events, &messages.ResolvedIndexedEvent{Event: st.events[n]})
	}
	resp.NextEventNumber = from - count
	resp.IsEndOfStream = from-count < 0
	if resp.IsEndOfStream {
		resp.NextEventNumber = -1
	}
	return resp
}

func (s *Server) readAll(req messages.ReadAllEvents, backward bool) *messages.ReadAllEventsCompleted {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &messages.ReadAllEventsCompleted{
		Result:              messages.ReadAllSuccess,
		CommitPosition:      req.CommitPosition,
		PreparePosition:     req.PreparePosition,
		NextCommitPosition:  req.CommitPosition,
		NextPreparePosition: req.PreparePosition,
	}
	count := int(req.MaxCount)
	toMsg := func(e logEntry) *messages.ResolvedEvent {
		return &messages.ResolvedEvent{Event: e.rec, CommitPosition: e.pos, PreparePosition: e.pos}
	}

	if !backward {
		for _, e := range s.log {
			if e.pos < req.CommitPosition {
				continue
			}
			if len(resp.Events) == count {
				break
			}
			resp.Events = append(resp.Events, toMsg(e))
			resp.NextCommitPosition = e.pos + 1
			resp.NextPreparePosition = e.pos + 1
		}
		return resp
	}

	from := req.CommitPosition
	if from < 0 {
		from = s.lastPosition() + 1
	}
	for i := len(s.log) - 1; i >= 0 && len(resp.Events) < count; i-- {
		e := s.log[i]
		if e.pos >= from {
			continue
		}
		resp.Events = append(resp.Events, toMsg(e))
		resp.NextCommitPosition = e.pos
		resp.NextPreparePosition = e.pos
	}
	return resp
}

// subscribe confirms under the lock so no live event overtakes the
// confirmation.
func (s *Server) subscribe(c *conn, corrID uuid.UUID, streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.subs[corrID] = streamID
	conf := &messages.SubscriptionConfirmation{LastCommitPosition: s.lastPosition()}
	if streamID != types.AllStreamID {
		if st, ok := s.streams[streamID]; ok && !st.deleted {
			v := st.version()
			conf.LastEventNumber = &v
		}
	}
	c.send(tcp.NewPackage(tcp.CMD_SUBSCRIPTION_CONFIRMATION, corrID, nil, conf.Marshal()))
}

func (s *Server) unsubscribe(c *conn, corrID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(c.subs, corrID)
}

func groupResult(r int32, reason string) *messages.PersistentSubscriptionCompleted {
	return &messages.PersistentSubscriptionCompleted{Result: r, Reason: reason}
}

func (s *Server) createGroup(req messages.PersistentSubscriptionSettings) *messages.PersistentSubscriptionCompleted {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := groupKey(req.EventStreamID, req.SubscriptionGroupName)
	if _, ok := s.groups[key]; ok {
		return groupResult(int32(messages.CreatePersistentAlreadyExists), "group exists")
	}
	s.groups[key] = &group{
		stream:   req.EventStreamID,
		name:     req.SubscriptionGroupName,
		settings: req,
		acked:    make(map[uuid.UUID]bool),
		retries:  make(map[uuid.UUID]int32),
	}
	return groupResult(int32(messages.CreatePersistentSuccess), "")
}

func (s *Server) updateGroup(req messages.PersistentSubscriptionSettings) *messages.PersistentSubscriptionCompleted {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupKey(req.EventStreamID, req.SubscriptionGroupName)]
	if !ok {
		return groupResult(int32(messages.UpdatePersistentDoesNotExist), "group does not exist")
	}
	g.settings = req
	return groupResult(int32(messages.UpdatePersistentSuccess), "")
}

func (s *Server) deleteGroup(req messages.DeletePersistentSubscription) *messages.PersistentSubscriptionCompleted {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := groupKey(req.EventStreamID, req.SubscriptionGroupName)
	g, ok := s.groups[key]
	if !ok {
		return groupResult(int32(messages.DeletePersistentDoesNotExist), "group does not exist")
	}
	delete(s.groups, key)

	dropped := (&messages.SubscriptionDropped{Reason: messages.DropPersistentSubscriptionDeleted}).Marshal()
	for corrID, pc := range s.consumers {
		if pc.group == g {
			delete(s.consumers, corrID)
			pc.conn.send(tcp.NewPackage(tcp.CMD_SUBSCRIPTION_DROPPED, corrID, nil, dropped))
		}
	}
	return groupResult(int32(messages.DeletePersistentSuccess), "")
}

// connectPersistent confirms the consumer and replays every event of the
// stream from the group's start that is not acknowledged yet.
func (s *Server) connectPersistent(c *conn, corrID uuid.UUID, req messages.ConnectToPersistentSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := groupKey(req.EventStreamID, req.SubscriptionID)
	g, ok := s.groups[key]
	if !ok {
		msg := &messages.SubscriptionDropped{Reason: messages.DropNotFound}
		c.send(tcp.NewPackage(tcp.CMD_SUBSCRIPTION_DROPPED, corrID, nil, msg.Marshal()))
		return
	}

	pc := &persistentConsumer{conn: c, correlationID: corrID, group: g}
	s.consumers[corrID] = pc

	conf := &messages.PersistentSubscriptionConfirmation{
		LastCommitPosition: s.lastPosition(),
		SubscriptionID:     key,
	}
	st := s.streams[g.stream]
	if st != nil {
		v := st.version()
		conf.LastEventNumber = &v
	}
	c.send(tcp.NewPackage(tcp.CMD_PERSISTENT_SUBSCRIPTION_CONFIRMATION, corrID, nil, conf.Marshal()))

	if st == nil || g.settings.StartFrom == types.StreamEnd {
		return
	}
	for _, rec := range st.events[min(max(g.settings.StartFrom, 0), int64(len(st.events))):] {
		var id uuid.UUID
		copy(id[:], rec.EventID)
		if !g.acked[id] {
			s.pushPersistentLocked(pc, corrID, rec, g.retries[id])
		}
	}
}

func (s *Server) ack(corrID uuid.UUID, ids [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc, ok := s.consumers[corrID]
	if !ok {
		return
	}
	for _, b := range ids {
		var id uuid.UUID
		copy(id[:], b)
		pc.group.acked[id] = true
	}
}

// nak redelivers events nacked with the retry action and parks or skips
// the others by acknowledging them.
func (s *Server) nak(corrID uuid.UUID, req messages.PersistentSubscriptionNakEvents) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc, ok := s.consumers[corrID]
	if !ok {
		return
	}
	st := s.streams[pc.group.stream]
	for _, b := range req.ProcessedEventIDs {
		var id uuid.UUID
		copy(id[:], b)
		if types.PersistentSubscriptionNakEventAction(req.Action) != types.NakActionRetry || st == nil {
			pc.group.acked[id] = true
			continue
		}
		pc.group.retries[id]++
		for _, rec := range st.events {
			var recID uuid.UUID
			copy(recID[:], rec.EventID)
			if recID == id {
				s.pushPersistentLocked(pc, corrID, rec, pc.group.retries[id])
				break
			}
		}
	}
}
