package engine

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/fujin-io/evstore/internal/core/subscriptions"
	"github.com/fujin-io/evstore/internal/observability"
	"github.com/fujin-io/evstore/public/cerr"
	"github.com/google/uuid"
)

// ManagerConfig is the subset of the client settings the managers need.
type ManagerConfig struct {
	MaxQueueSize           int
	MaxConcurrentItems     int
	FailOnNoServerResponse bool
	Verbose                bool
}

// OperationsManager keeps every operation in exactly one of the active,
// waiting or retry-pending sets. It is not safe for concurrent use; the
// handler goroutine owns it.
type OperationsManager struct {
	l   *slog.Logger
	cfg ManagerConfig
	now func() time.Time

	active       map[uuid.UUID]*OperationItem
	waiting      []*OperationItem
	retryPending []*OperationItem
}

func NewOperationsManager(cfg ManagerConfig, l *slog.Logger) *OperationsManager {
	return &OperationsManager{
		l:      l.With("component", "operations_manager"),
		cfg:    cfg,
		now:    time.Now,
		active: make(map[uuid.UUID]*OperationItem),
	}
}

// TotalOperationCount counts active and waiting operations.
func (m *OperationsManager) TotalOperationCount() int {
	return len(m.active) + len(m.waiting)
}

func (m *OperationsManager) ActiveCount() int { return len(m.active) }

func (m *OperationsManager) TryGetActiveOperation(correlationID uuid.UUID) (*OperationItem, bool) {
	item, ok := m.active[correlationID]
	return item, ok
}

// EnqueueOperation appends item to the waiting queue. The operation fails
// with ErrMaxQueueSizeReached when MaxQueueSize operations are pending.
func (m *OperationsManager) EnqueueOperation(item *OperationItem) error {
	if m.TotalOperationCount() >= m.cfg.MaxQueueSize {
		err := fmt.Errorf("%w: %d", cerr.ErrMaxQueueSizeReached, m.cfg.MaxQueueSize)
		item.Operation.Fail(err)
		return err
	}
	m.debug("enqueue", item)
	m.waiting = append(m.waiting, item)
	return nil
}

// ScheduleOperation sends item under a fresh correlation id, or parks it in
// the waiting queue when there is no connection or no free slot.
func (m *OperationsManager) ScheduleOperation(item *OperationItem, conn subscriptions.PackageSender) {
	if conn == nil || len(m.active) >= m.cfg.MaxConcurrentItems {
		m.waiting = append(m.waiting, item)
		return
	}

	item.CorrelationID = uuid.New()
	item.ConnectionID = conn.ConnectionID()
	item.LastUpdated = m.now()

	pkg, err := item.Operation.CreateNetworkPackage(item.CorrelationID)
	if err != nil {
		item.Operation.Fail(fmt.Errorf("create package: %w", err))
		return
	}
	m.active[item.CorrelationID] = item
	m.debug("send", item)
	conn.EnqueueSend(pkg)
}

// ScheduleWaitingOperations moves waiting operations to the active set in
// FIFO order while slots are free.
func (m *OperationsManager) ScheduleWaitingOperations(conn subscriptions.PackageSender) {
	if conn == nil {
		return
	}
	for len(m.waiting) > 0 && len(m.active) < m.cfg.MaxConcurrentItems {
		item := m.waiting[0]
		m.waiting[0] = nil
		m.waiting = m.waiting[1:]
		m.ScheduleOperation(item, conn)
	}
}

// RemoveOperation drops item from the active set. It returns false when
// the item was not active.
func (m *OperationsManager) RemoveOperation(item *OperationItem) bool {
	if _, ok := m.active[item.CorrelationID]; !ok {
		m.debug("remove failed", item)
		return false
	}
	delete(m.active, item.CorrelationID)
	m.debug("removed", item)
	return true
}

// ScheduleOperationRetry takes item out of the active set and either
// fails it, when its retries are used up, or parks it until the next
// sweep re-sends it.
func (m *OperationsManager) ScheduleOperationRetry(item *OperationItem) {
	if !m.RemoveOperation(item) {
		return
	}

	if retriesExhausted(item.RetryCount, item.MaxRetries) {
		item.Operation.Fail(&cerr.RetriesLimitReachedError{Item: item.Operation.Name(), Retries: item.RetryCount})
		return
	}
	m.debug("retry scheduled", item)
	observability.IncRetry(item.Operation.Name())
	m.retryPending = append(m.retryPending, item)
}

// CheckTimeoutsAndRetry retries operations sent on another connection and
// operations without a reply for longer than their timeout, then re-sends
// retry-pending operations in their original enqueue order.
func (m *OperationsManager) CheckTimeoutsAndRetry(conn subscriptions.PackageSender) {
	if conn == nil {
		return
	}

	var retries []*OperationItem
	var failed []*OperationItem
	now := m.now()
	for _, item := range m.active {
		switch {
		case item.ConnectionID != conn.ConnectionID():
			retries = append(retries, item)
		case item.Timeout > 0 && now.Sub(item.LastUpdated) > item.Timeout:
			err := fmt.Errorf("%w: %s after %s", cerr.ErrOperationTimedOut, item.Operation.Name(), item.Timeout)
			m.l.Error("operation timed out", "item", item.String(), "err", err)
			if m.cfg.FailOnNoServerResponse {
				item.Operation.Fail(err)
				failed = append(failed, item)
			} else {
				retries = append(retries, item)
			}
		}
	}

	for _, item := range failed {
		m.RemoveOperation(item)
	}
	for _, item := range retries {
		m.ScheduleOperationRetry(item)
	}

	if len(m.retryPending) > 0 {
		slices.SortFunc(m.retryPending, func(a, b *OperationItem) int {
			return cmp.Compare(a.SeqNo, b.SeqNo)
		})
		pending := m.retryPending
		m.retryPending = nil
		for _, item := range pending {
			item.RetryCount++
			m.ScheduleOperation(item, conn)
		}
	}

	m.ScheduleWaitingOperations(conn)
}

// CleanUp fails every tracked operation with err, or ErrConnectionClosed
// when err is nil.
func (m *OperationsManager) CleanUp(err error) {
	if err == nil {
		err = cerr.ErrConnectionClosed
	}
	for _, item := range m.active {
		item.Operation.Fail(err)
	}
	for _, item := range m.waiting {
		item.Operation.Fail(err)
	}
	for _, item := range m.retryPending {
		item.Operation.Fail(err)
	}
	clear(m.active)
	m.waiting = nil
	m.retryPending = nil
}

func (m *OperationsManager) debug(msg string, item *OperationItem) {
	if m.cfg.Verbose {
		m.l.Debug(msg, "item", item.String())
	}
}
