package subscriptions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fujin-io/evstore/internal/core/operations"
	"github.com/fujin-io/evstore/internal/proto/messages"
	"github.com/fujin-io/evstore/internal/proto/tcp"
	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	id uuid.UUID

	mu   sync.Mutex
	sent []*tcp.Package
}

func newFakeSender() *fakeSender { return &fakeSender{id: uuid.New()} }

func (f *fakeSender) ConnectionID() uuid.UUID { return f.id }

func (f *fakeSender) EnqueueSend(pkg *tcp.Package) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, pkg)
}

func (f *fakeSender) packages() []*tcp.Package {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*tcp.Package(nil), f.sent...)
}

type dropRecorder struct {
	mu      sync.Mutex
	calls   int
	reason  types.SubscriptionDropReason
	err     error
	dropped chan struct{}
}

func newDropRecorder() *dropRecorder { return &dropRecorder{dropped: make(chan struct{}, 8)} }

func (d *dropRecorder) onDropped(reason types.SubscriptionDropReason, err error) {
	d.mu.Lock()
	d.calls++
	if d.calls == 1 {
		d.reason, d.err = reason, err
	}
	d.mu.Unlock()
	d.dropped <- struct{}{}
}

func (d *dropRecorder) wait(t *testing.T) (types.SubscriptionDropReason, error) {
	t.Helper()
	select {
	case <-d.dropped:
	case <-time.After(2 * time.Second):
		t.Fatal("drop callback not invoked")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reason, d.err
}

func (d *dropRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func eventPackage(corrID uuid.UUID, number int64) *tcp.Package {
	msg := &messages.StreamEventAppeared{Event: &messages.ResolvedEvent{
		Event:          &messages.EventRecord{EventStreamID: "orders-1", EventNumber: number, EventType: "E"},
		CommitPosition: number, PreparePosition: number,
	}}
	return tcp.NewPackage(tcp.CMD_STREAM_EVENT_APPEARED, corrID, nil, msg.Marshal())
}

func confirmPackage(corrID uuid.UUID, lastEventNumber int64) *tcp.Package {
	msg := &messages.SubscriptionConfirmation{LastCommitPosition: 100, LastEventNumber: &lastEventNumber}
	return tcp.NewPackage(tcp.CMD_SUBSCRIPTION_CONFIRMATION, corrID, nil, msg.Marshal())
}

func TestVolatile_Subscribe_SendsOnce(t *testing.T) {
	v := NewVolatile(Options{StreamID: "orders-1"}, func(types.ResolvedEvent) error { return nil })
	conn := newFakeSender()

	corrID := uuid.New()
	assert.True(t, v.Subscribe(corrID, conn))
	assert.False(t, v.Subscribe(corrID, conn))

	sent := conn.packages()
	require.Len(t, sent, 1)
	assert.Equal(t, tcp.CMD_SUBSCRIBE_TO_STREAM, sent[0].Command)
	var req messages.SubscribeToStream
	require.NoError(t, req.Unmarshal(sent[0].Data))
	assert.Equal(t, "orders-1", req.EventStreamID)
}

func TestVolatile_Subscribe_RetryBeforeConfirmation(t *testing.T) {
	v := NewVolatile(Options{StreamID: "orders-1"}, func(types.ResolvedEvent) error { return nil })
	conn := newFakeSender()

	assert.True(t, v.Subscribe(uuid.New(), conn))
	retryID := uuid.New()
	assert.True(t, v.Subscribe(retryID, conn))
	v.InspectPackage(confirmPackage(retryID, 0))
	assert.False(t, v.Subscribe(uuid.New(), conn))

	assert.Len(t, conn.packages(), 2)
}

func TestVolatile_InspectPackage_Confirmation(t *testing.T) {
	v := NewVolatile(Options{StreamID: "orders-1"}, func(types.ResolvedEvent) error { return nil })
	corrID := uuid.New()
	v.Subscribe(corrID, newFakeSender())

	res := v.InspectPackage(confirmPackage(corrID, 41))

	assert.Equal(t, operations.DecisionSubscribed, res.Decision)
	c, err := v.Confirmed().Wait(context.Background())
	require.NoError(t, err)
	require.NotNil(t, c.LastEventNumber)
	assert.Equal(t, int64(41), *c.LastEventNumber)
	assert.True(t, v.IsSubscribed())
}

func TestVolatile_InspectPackage_EventsInOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []int64
	)
	done := make(chan struct{})
	v := NewVolatile(Options{StreamID: "orders-1"}, func(ev types.ResolvedEvent) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.OriginalEventNumber())
		if len(got) == 50 {
			close(done)
		}
		return nil
	})
	corrID := uuid.New()
	v.Subscribe(corrID, newFakeSender())
	v.InspectPackage(confirmPackage(corrID, -1))

	for i := int64(0); i < 50; i++ {
		res := v.InspectPackage(eventPackage(corrID, i))
		require.Equal(t, operations.DecisionDoNothing, res.Decision)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("events not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, n := range got {
		assert.Equal(t, int64(i), n)
	}
}

func TestVolatile_DropSubscription_Idempotent(t *testing.T) {
	rec := newDropRecorder()
	v := NewVolatile(Options{StreamID: "s", OnDropped: rec.onDropped}, func(types.ResolvedEvent) error { return nil })
	v.Subscribe(uuid.New(), newFakeSender())

	v.DropSubscription(types.DropServerError, cerr.ErrServerError, nil)
	v.DropSubscription(types.DropUserInitiated, nil, nil)

	reason, err := rec.wait(t)
	assert.Equal(t, types.DropServerError, reason)
	assert.ErrorIs(t, err, cerr.ErrServerError)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestVolatile_DropSubscription_BeforeConfirmationRejects(t *testing.T) {
	v := NewVolatile(Options{StreamID: "s"}, func(types.ResolvedEvent) error { return nil })
	v.Subscribe(uuid.New(), newFakeSender())

	v.ConnectionClosed()

	_, err := v.Confirmed().Wait(context.Background())
	assert.ErrorIs(t, err, cerr.ErrConnectionClosed)
	assert.False(t, v.Subscribe(uuid.New(), newFakeSender()))
}

func TestVolatile_Unsubscribe_SendsFrame(t *testing.T) {
	rec := newDropRecorder()
	v := NewVolatile(Options{StreamID: "s", OnDropped: rec.onDropped}, func(types.ResolvedEvent) error { return nil })
	conn := newFakeSender()
	corrID := uuid.New()
	v.Subscribe(corrID, conn)
	v.InspectPackage(confirmPackage(corrID, 0))

	v.Unsubscribe()

	reason, err := rec.wait(t)
	assert.Equal(t, types.DropUserInitiated, reason)
	assert.NoError(t, err)
	sent := conn.packages()
	require.Len(t, sent, 2)
	assert.Equal(t, tcp.CMD_UNSUBSCRIBE_FROM_STREAM, sent[1].Command)
	assert.Equal(t, corrID, sent[1].CorrelationID)
}

func TestVolatile_InspectPackage_HandlerErrorDrops(t *testing.T) {
	rec := newDropRecorder()
	boom := errors.New("boom")
	var calls int
	v := NewVolatile(Options{StreamID: "s", OnDropped: rec.onDropped}, func(types.ResolvedEvent) error {
		calls++
		return boom
	})
	corrID := uuid.New()
	v.Subscribe(corrID, newFakeSender())
	v.InspectPackage(confirmPackage(corrID, 0))

	v.InspectPackage(eventPackage(corrID, 1))
	v.InspectPackage(eventPackage(corrID, 2))

	reason, err := rec.wait(t)
	assert.Equal(t, types.DropEventHandlerException, reason)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestVolatile_InspectPackage_HandlerPanicDrops(t *testing.T) {
	rec := newDropRecorder()
	v := NewVolatile(Options{StreamID: "s", OnDropped: rec.onDropped}, func(types.ResolvedEvent) error {
		panic("handler bug")
	})
	corrID := uuid.New()
	v.Subscribe(corrID, newFakeSender())
	v.InspectPackage(confirmPackage(corrID, 0))

	v.InspectPackage(eventPackage(corrID, 1))

	reason, err := rec.wait(t)
	assert.Equal(t, types.DropEventHandlerException, reason)
	assert.Contains(t, err.Error(), "handler bug")
}

func TestVolatile_InspectPackage_QueueOverflowDrops(t *testing.T) {
	rec := newDropRecorder()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	v := NewVolatile(Options{StreamID: "s", OnDropped: rec.onDropped, MaxQueueSize: 2}, func(types.ResolvedEvent) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	})
	corrID := uuid.New()
	v.Subscribe(corrID, newFakeSender())
	v.InspectPackage(confirmPackage(corrID, 0))

	v.InspectPackage(eventPackage(corrID, 1))
	<-started
	v.InspectPackage(eventPackage(corrID, 2))
	v.InspectPackage(eventPackage(corrID, 3))
	v.InspectPackage(eventPackage(corrID, 4))
	close(release)

	reason, err := rec.wait(t)
	assert.Equal(t, types.DropProcessingQueueOverflow, reason)
	assert.ErrorIs(t, err, cerr.ErrClientBufferOverflow)
}

func TestVolatile_DropSubscription_SkipsQueuedEvents(t *testing.T) {
	rec := newDropRecorder()
	started := make(chan struct{})
	release := make(chan struct{})
	var (
		once sync.Once
		mu   sync.Mutex
		got  []int64
	)
	v := NewVolatile(Options{StreamID: "s", OnDropped: rec.onDropped}, func(ev types.ResolvedEvent) error {
		once.Do(func() { close(started) })
		<-release
		mu.Lock()
		got = append(got, ev.OriginalEventNumber())
		mu.Unlock()
		return nil
	})
	corrID := uuid.New()
	v.Subscribe(corrID, newFakeSender())
	v.InspectPackage(confirmPackage(corrID, 0))

	v.InspectPackage(eventPackage(corrID, 1))
	<-started
	v.InspectPackage(eventPackage(corrID, 2))
	v.InspectPackage(eventPackage(corrID, 3))
	v.DropSubscription(types.DropUserInitiated, nil, nil)
	close(release)

	reason, _ := rec.wait(t)
	assert.Equal(t, types.DropUserInitiated, reason)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1}, got)
	assert.Equal(t, 1, rec.count())
}

func TestVolatile_InspectPackage_ServerDropped(t *testing.T) {
	tests := []struct {
		name   string
		reason messages.SubscriptionDropReason
		want   types.SubscriptionDropReason
	}{
		{"unsubscribed", messages.DropUnsubscribed, types.DropUserInitiated},
		{"access denied", messages.DropAccessDenied, types.DropAccessDenied},
		{"not found", messages.DropNotFound, types.DropNotFound},
		{"deleted", messages.DropPersistentSubscriptionDeleted, types.DropPersistentSubscriptionDeleted},
		{"max subscribers", messages.DropSubscriberMaxCountReached, types.DropMaxSubscribersReached},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newDropRecorder()
			v := NewVolatile(Options{StreamID: "s", OnDropped: rec.onDropped}, func(types.ResolvedEvent) error { return nil })
			corrID := uuid.New()
			v.Subscribe(corrID, newFakeSender())

			res := v.InspectPackage(tcp.NewPackage(tcp.CMD_SUBSCRIPTION_DROPPED, corrID, nil,
				(&messages.SubscriptionDropped{Reason: tt.reason}).Marshal()))

			assert.Equal(t, operations.DecisionEndOperation, res.Decision)
			reason, _ := rec.wait(t)
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestVolatile_InspectPackage_NotHandledRetries(t *testing.T) {
	v := NewVolatile(Options{StreamID: "s"}, func(types.ResolvedEvent) error { return nil })
	corrID := uuid.New()
	v.Subscribe(corrID, newFakeSender())

	res := v.InspectPackage(tcp.NewPackage(tcp.CMD_NOT_HANDLED, corrID, nil,
		(&messages.NotHandled{Reason: messages.NotHandledTooBusy}).Marshal()))

	assert.Equal(t, operations.DecisionRetry, res.Decision)
	assert.False(t, v.IsDropped())
}

func confirmedPersistent(t *testing.T, conn *fakeSender) (*Persistent, uuid.UUID) {
	t.Helper()
	p := NewPersistent(Options{StreamID: "orders"}, "workers", 10, func(types.ResolvedEvent, int) error { return nil })
	corrID := uuid.New()
	require.True(t, p.Subscribe(corrID, conn))
	res := p.InspectPackage(tcp.NewPackage(tcp.CMD_PERSISTENT_SUBSCRIPTION_CONFIRMATION, corrID, nil,
		(&messages.PersistentSubscriptionConfirmation{SubscriptionID: "orders::workers"}).Marshal()))
	require.Equal(t, operations.DecisionSubscribed, res.Decision)
	return p, corrID
}

func TestPersistent_NotifyEventsProcessed_Cap(t *testing.T) {
	conn := newFakeSender()
	p, _ := confirmedPersistent(t, conn)
	ids := make([]uuid.UUID, MaxAckBatch+1)
	for i := range ids {
		ids[i] = uuid.New()
	}

	err := p.NotifyEventsProcessed(ids)

	assert.ErrorIs(t, err, cerr.ErrTooManyEventIDs)
	assert.Len(t, conn.packages(), 1)

	err = p.NotifyEventsFailed(ids, types.NakActionRetry, "x")
	assert.ErrorIs(t, err, cerr.ErrTooManyEventIDs)
	assert.Len(t, conn.packages(), 1)
}

func TestPersistent_NotifyEventsProcessed_SendsAck(t *testing.T) {
	conn := newFakeSender()
	p, corrID := confirmedPersistent(t, conn)
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	require.NoError(t, p.NotifyEventsProcessed(ids))

	sent := conn.packages()
	require.Len(t, sent, 2)
	assert.Equal(t, tcp.CMD_PERSISTENT_SUBSCRIPTION_ACK_EVENTS, sent[1].Command)
	assert.Equal(t, corrID, sent[1].CorrelationID)
	var ack messages.PersistentSubscriptionAckEvents
	require.NoError(t, ack.Unmarshal(sent[1].Data))
	assert.Equal(t, "orders::workers", ack.SubscriptionID)
	require.Len(t, ack.ProcessedEventIDs, 2)
	assert.Equal(t, ids[1][:], ack.ProcessedEventIDs[1])
}

func TestPersistent_NotifyEventsFailed_SendsNak(t *testing.T) {
	conn := newFakeSender()
	p, _ := confirmedPersistent(t, conn)

	require.NoError(t, p.NotifyEventsFailed([]uuid.UUID{uuid.New()}, types.NakActionPark, "poison"))

	sent := conn.packages()
	require.Len(t, sent, 2)
	var nak messages.PersistentSubscriptionNakEvents
	require.NoError(t, nak.Unmarshal(sent[1].Data))
	assert.Equal(t, int32(types.NakActionPark), nak.Action)
	assert.Equal(t, "poison", nak.Message)
}

func TestPersistent_NotifyEventsProcessed_NotConfirmed(t *testing.T) {
	p := NewPersistent(Options{StreamID: "orders"}, "workers", 10, func(types.ResolvedEvent, int) error { return nil })

	err := p.NotifyEventsProcessed([]uuid.UUID{uuid.New()})

	assert.ErrorIs(t, err, cerr.ErrSubscriptionNotConfirmed)
}

func TestPersistent_InspectPackage_EventWithRetryCount(t *testing.T) {
	got := make(chan int, 1)
	p := NewPersistent(Options{StreamID: "orders"}, "workers", 10, func(_ types.ResolvedEvent, retryCount int) error {
		got <- retryCount
		return nil
	})
	corrID := uuid.New()
	p.Subscribe(corrID, newFakeSender())

	p.InspectPackage(tcp.NewPackage(tcp.CMD_PERSISTENT_SUBSCRIPTION_STREAM_EVENT_APPEARED, corrID, nil,
		(&messages.PersistentSubscriptionStreamEventAppeared{
			Event:      &messages.ResolvedIndexedEvent{Event: &messages.EventRecord{EventStreamID: "orders"}},
			RetryCount: 3,
		}).Marshal()))

	select {
	case n := <-got:
		assert.Equal(t, 3, n)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}
