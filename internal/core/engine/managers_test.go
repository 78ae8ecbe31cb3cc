package engine

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fujin-io/evstore/internal/core/operations"
	"github.com/fujin-io/evstore/internal/core/subscriptions"
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

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func managerConfig() ManagerConfig {
	return ManagerConfig{MaxQueueSize: 100, MaxConcurrentItems: 100}
}

func appendOp() *operations.AppendToStream {
	return operations.NewAppendToStream("orders-1", types.ExpectedVersionAny,
		[]types.EventData{types.NewJSONEvent("OrderPlaced", []byte(`{}`), nil)}, true, nil)
}

func completed(op *operations.AppendToStream) bool {
	return op.Result().IsCompleted()
}

func resultErr(t *testing.T, op *operations.AppendToStream) error {
	t.Helper()
	require.True(t, completed(op))
	_, err := op.Result().Wait(t.Context())
	return err
}

func TestOperationsManager_ScheduleWaitingOperations_ConcurrencyCap(t *testing.T) {
	cfg := managerConfig()
	cfg.MaxConcurrentItems = 2
	m := NewOperationsManager(cfg, testLogger())
	conn := newFakeSender()

	items := make([]*OperationItem, 5)
	for i := range items {
		items[i] = NewOperationItem(appendOp(), 10, time.Minute)
		require.NoError(t, m.EnqueueOperation(items[i]))
	}

	m.ScheduleWaitingOperations(conn)
	assert.Equal(t, 2, m.ActiveCount())
	assert.Len(t, conn.packages(), 2)

	for done := 0; done < 5; done++ {
		sent := conn.packages()
		item, ok := m.TryGetActiveOperation(sent[done].CorrelationID)
		require.True(t, ok)
		require.True(t, m.RemoveOperation(item))

		m.ScheduleWaitingOperations(conn)
		assert.LessOrEqual(t, m.ActiveCount(), 2)
	}

	assert.Len(t, conn.packages(), 5)
	assert.Equal(t, 0, m.TotalOperationCount())
	for i, pkg := range conn.packages() {
		assert.Equal(t, items[i].CorrelationID, pkg.CorrelationID, "operations are sent in enqueue order")
	}
}

func TestOperationsManager_EnqueueOperation_MaxQueueSize(t *testing.T) {
	cfg := managerConfig()
	cfg.MaxQueueSize = 2
	m := NewOperationsManager(cfg, testLogger())

	require.NoError(t, m.EnqueueOperation(NewOperationItem(appendOp(), 10, time.Minute)))
	require.NoError(t, m.EnqueueOperation(NewOperationItem(appendOp(), 10, time.Minute)))

	op := appendOp()
	err := m.EnqueueOperation(NewOperationItem(op, 10, time.Minute))

	assert.ErrorIs(t, err, cerr.ErrMaxQueueSizeReached)
	assert.ErrorIs(t, resultErr(t, op), cerr.ErrMaxQueueSizeReached)
	assert.Equal(t, 2, m.TotalOperationCount())
}

func TestOperationsManager_ScheduleOperationRetry_ExactBound(t *testing.T) {
	for _, maxRetries := range []int{0, 1, 3} {
		m := NewOperationsManager(managerConfig(), testLogger())
		conn := newFakeSender()
		op := appendOp()
		item := NewOperationItem(op, maxRetries, time.Minute)

		require.NoError(t, m.EnqueueOperation(item))
		m.ScheduleWaitingOperations(conn)
		for i := 0; !completed(op) && i < 100; i++ {
			m.ScheduleOperationRetry(item)
			m.CheckTimeoutsAndRetry(conn)
		}

		assert.Len(t, conn.packages(), maxRetries+1, "max retries %d", maxRetries)
		var limitErr *cerr.RetriesLimitReachedError
		require.ErrorAs(t, resultErr(t, op), &limitErr)
		assert.Equal(t, maxRetries, limitErr.Retries)
		assert.Equal(t, 0, m.TotalOperationCount())
	}
}

func TestOperationsManager_ScheduleOperationRetry_Unlimited(t *testing.T) {
	m := NewOperationsManager(managerConfig(), testLogger())
	conn := newFakeSender()
	op := appendOp()
	item := NewOperationItem(op, -1, time.Minute)

	require.NoError(t, m.EnqueueOperation(item))
	m.ScheduleWaitingOperations(conn)
	for range 50 {
		m.ScheduleOperationRetry(item)
		m.CheckTimeoutsAndRetry(conn)
	}

	assert.False(t, completed(op))
	assert.Len(t, conn.packages(), 51)
	assert.Equal(t, 50, item.RetryCount)
}

func TestOperationsManager_CheckTimeoutsAndRetry_StaleConnectionKeepsEnqueueOrder(t *testing.T) {
	m := NewOperationsManager(managerConfig(), testLogger())
	oldConn, newConn := newFakeSender(), newFakeSender()

	items := make([]*OperationItem, 8)
	for i := range items {
		items[i] = NewOperationItem(appendOp(), 10, time.Minute)
		require.NoError(t, m.EnqueueOperation(items[i]))
	}
	m.ScheduleWaitingOperations(oldConn)

	// A reply-driven retry parks one item before the sweep finds the others stale.
	m.ScheduleOperationRetry(items[5])
	m.CheckTimeoutsAndRetry(newConn)

	sent := newConn.packages()
	require.Len(t, sent, len(items))
	for i, pkg := range sent {
		assert.Equal(t, items[i].CorrelationID, pkg.CorrelationID, "retry %d out of order", i)
		assert.Equal(t, newConn.ConnectionID(), items[i].ConnectionID)
		assert.Equal(t, 1, items[i].RetryCount)
	}
}

func TestOperationsManager_CheckTimeoutsAndRetry_Timeout(t *testing.T) {
	tests := []struct {
		name                   string
		failOnNoServerResponse bool
	}{
		{"retry", false},
		{"fail", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := managerConfig()
			cfg.FailOnNoServerResponse = tt.failOnNoServerResponse
			m := NewOperationsManager(cfg, testLogger())
			now := time.Now()
			m.now = func() time.Time { return now }
			conn := newFakeSender()

			op := appendOp()
			item := NewOperationItem(op, 10, time.Second)
			require.NoError(t, m.EnqueueOperation(item))
			m.ScheduleWaitingOperations(conn)
			firstCorrID := item.CorrelationID

			now = now.Add(500 * time.Millisecond)
			m.CheckTimeoutsAndRetry(conn)
			assert.Len(t, conn.packages(), 1, "not timed out yet")

			now = now.Add(time.Second)
			m.CheckTimeoutsAndRetry(conn)

			if tt.failOnNoServerResponse {
				assert.ErrorIs(t, resultErr(t, op), cerr.ErrOperationTimedOut)
				assert.Equal(t, 0, m.TotalOperationCount())
				return
			}
			assert.False(t, completed(op))
			require.Len(t, conn.packages(), 2)
			assert.NotEqual(t, firstCorrID, item.CorrelationID)
			assert.Equal(t, 1, item.RetryCount)
		})
	}
}

func TestOperationsManager_CleanUp(t *testing.T) {
	cfg := managerConfig()
	cfg.MaxConcurrentItems = 1
	m := NewOperationsManager(cfg, testLogger())
	conn := newFakeSender()

	active, waiting := appendOp(), appendOp()
	require.NoError(t, m.EnqueueOperation(NewOperationItem(active, 10, time.Minute)))
	require.NoError(t, m.EnqueueOperation(NewOperationItem(waiting, 10, time.Minute)))
	m.ScheduleWaitingOperations(conn)

	m.CleanUp(nil)

	assert.ErrorIs(t, resultErr(t, active), cerr.ErrConnectionClosed)
	assert.ErrorIs(t, resultErr(t, waiting), cerr.ErrConnectionClosed)
	assert.Equal(t, 0, m.TotalOperationCount())
}

type dropRecorder struct {
	mu     sync.Mutex
	calls  int
	reason types.SubscriptionDropReason
	err    error
}

func (d *dropRecorder) onDropped(reason types.SubscriptionDropReason, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls == 1 {
		d.reason, d.err = reason, err
	}
}

func (d *dropRecorder) get() (int, types.SubscriptionDropReason, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls, d.reason, d.err
}

func volatileItem(d *dropRecorder, maxRetries int, timeout time.Duration) (*SubscriptionItem, *subscriptions.Volatile) {
	sub := subscriptions.NewVolatile(subscriptions.Options{
		StreamID:  "orders-1",
		OnDropped: d.onDropped,
	}, func(types.ResolvedEvent) error { return nil })
	return NewSubscriptionItem(sub, maxRetries, timeout), sub
}

func confirm(t *testing.T, m *SubscriptionsManager, item *SubscriptionItem) {
	t.Helper()
	last := int64(4)
	conf := &messages.SubscriptionConfirmation{LastCommitPosition: 500, LastEventNumber: &last}
	res := item.Operation.InspectPackage(tcp.NewPackage(tcp.CMD_SUBSCRIPTION_CONFIRMATION, item.CorrelationID, nil, conf.Marshal()))
	require.Equal(t, operations.DecisionSubscribed, res.Decision)
	got, ok := m.TryGetActiveSubscription(item.CorrelationID)
	require.True(t, ok)
	got.IsSubscribed = true
}

func TestSubscriptionsManager_StartSubscription(t *testing.T) {
	m := NewSubscriptionsManager(managerConfig(), testLogger())
	conn := newFakeSender()
	item, _ := volatileItem(&dropRecorder{}, 10, time.Minute)

	m.StartSubscription(item, conn)

	sent := conn.packages()
	require.Len(t, sent, 1)
	assert.Equal(t, tcp.CMD_SUBSCRIBE_TO_STREAM, sent[0].Command)
	assert.Equal(t, item.CorrelationID, sent[0].CorrelationID)
	assert.Equal(t, conn.ConnectionID(), item.ConnectionID)
	assert.Equal(t, 1, m.ActiveCount())
}

func TestSubscriptionsManager_StartSubscription_WithoutConnectionWaits(t *testing.T) {
	m := NewSubscriptionsManager(managerConfig(), testLogger())
	item, _ := volatileItem(&dropRecorder{}, 10, time.Minute)

	m.StartSubscription(item, nil)
	assert.Equal(t, 0, m.ActiveCount())

	conn := newFakeSender()
	m.StartWaitingSubscriptions(conn)
	assert.Len(t, conn.packages(), 1)
	assert.Equal(t, 1, m.ActiveCount())
}

func TestSubscriptionsManager_StartSubscription_DroppedIsForgotten(t *testing.T) {
	m := NewSubscriptionsManager(managerConfig(), testLogger())
	item, sub := volatileItem(&dropRecorder{}, 10, time.Minute)
	sub.Unsubscribe()

	conn := newFakeSender()
	m.StartSubscription(item, conn)

	assert.Empty(t, conn.packages())
	assert.Equal(t, 0, m.ActiveCount())
}

func TestSubscriptionsManager_CheckTimeoutsAndRetry_OnlyUnconfirmed(t *testing.T) {
	m := NewSubscriptionsManager(managerConfig(), testLogger())
	now := time.Now()
	m.now = func() time.Time { return now }
	conn := newFakeSender()

	confirmedItem, _ := volatileItem(&dropRecorder{}, 10, time.Second)
	pendingItem, _ := volatileItem(&dropRecorder{}, 10, time.Second)
	m.StartSubscription(confirmedItem, conn)
	m.StartSubscription(pendingItem, conn)
	confirm(t, m, confirmedItem)

	now = now.Add(2 * time.Second)
	m.CheckTimeoutsAndRetry(conn)

	sent := conn.packages()
	require.Len(t, sent, 3)
	assert.Equal(t, pendingItem.CorrelationID, sent[2].CorrelationID)
	assert.Equal(t, 1, pendingItem.RetryCount)
	assert.Equal(t, 0, confirmedItem.RetryCount)
	assert.Equal(t, 2, m.ActiveCount())
}

func TestSubscriptionsManager_CheckTimeoutsAndRetry_FailOnNoServerResponse(t *testing.T) {
	cfg := managerConfig()
	cfg.FailOnNoServerResponse = true
	m := NewSubscriptionsManager(cfg, testLogger())
	now := time.Now()
	m.now = func() time.Time { return now }
	conn := newFakeSender()

	drops := &dropRecorder{}
	item, sub := volatileItem(drops, 10, time.Second)
	m.StartSubscription(item, conn)

	now = now.Add(2 * time.Second)
	m.CheckTimeoutsAndRetry(conn)

	assert.Equal(t, 0, m.ActiveCount())
	assert.True(t, sub.IsDropped())
	assert.Eventually(t, func() bool {
		calls, reason, err := drops.get()
		return calls == 1 && reason == types.DropSubscribingError && err != nil
	}, time.Second, 5*time.Millisecond)
	_, _, err := drops.get()
	assert.ErrorIs(t, err, cerr.ErrOperationTimedOut)
}

func TestSubscriptionsManager_ScheduleSubscriptionRetry_LimitDrops(t *testing.T) {
	m := NewSubscriptionsManager(managerConfig(), testLogger())
	conn := newFakeSender()
	drops := &dropRecorder{}
	item, _ := volatileItem(drops, 2, time.Minute)

	m.StartSubscription(item, conn)
	for range 5 {
		m.ScheduleSubscriptionRetry(item)
		m.CheckTimeoutsAndRetry(conn)
	}

	assert.Len(t, conn.packages(), 3)
	assert.Eventually(t, func() bool {
		calls, reason, _ := drops.get()
		return calls == 1 && reason == types.DropSubscribingError
	}, time.Second, 5*time.Millisecond)
	_, _, err := drops.get()
	assert.ErrorIs(t, err, cerr.ErrRetriesLimitReached)
}

func TestSubscriptionsManager_PurgeSubscribedAndDroppedSubscriptions(t *testing.T) {
	m := NewSubscriptionsManager(managerConfig(), testLogger())
	oldConn := newFakeSender()

	confirmedDrops, pendingDrops := &dropRecorder{}, &dropRecorder{}
	confirmedItem, _ := volatileItem(confirmedDrops, 10, time.Minute)
	pendingItem, _ := volatileItem(pendingDrops, 10, time.Minute)
	m.StartSubscription(confirmedItem, oldConn)
	m.StartSubscription(pendingItem, oldConn)
	confirm(t, m, confirmedItem)

	m.PurgeSubscribedAndDroppedSubscriptions(oldConn.ConnectionID())

	assert.Equal(t, 1, m.ActiveCount())
	assert.Eventually(t, func() bool {
		calls, reason, _ := confirmedDrops.get()
		return calls == 1 && reason == types.DropConnectionClosed
	}, time.Second, 5*time.Millisecond)

	newConn := newFakeSender()
	m.CheckTimeoutsAndRetry(newConn)
	sent := newConn.packages()
	require.Len(t, sent, 1, "the unconfirmed subscription is resubscribed on the new connection")
	assert.Equal(t, pendingItem.CorrelationID, sent[0].CorrelationID)
	calls, _, _ := pendingDrops.get()
	assert.Equal(t, 0, calls)
}

func TestSubscriptionsManager_CleanUp(t *testing.T) {
	m := NewSubscriptionsManager(managerConfig(), testLogger())
	drops := &dropRecorder{}
	item, _ := volatileItem(drops, 10, time.Minute)
	m.StartSubscription(item, newFakeSender())

	m.CleanUp()

	assert.Equal(t, 0, m.ActiveCount())
	assert.Eventually(t, func() bool {
		calls, reason, _ := drops.get()
		return calls == 1 && reason == types.DropConnectionClosed
	}, time.Second, 5*time.Millisecond)
}
