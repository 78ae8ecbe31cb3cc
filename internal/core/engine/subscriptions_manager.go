package engine

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/fujin-io/evstore/internal/core/subscriptions"
	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/types"
	"github.com/google/uuid"
)

// SubscriptionsManager is the subscription counterpart of
// OperationsManager. Only unconfirmed subscriptions time out; confirmed
// ones live until dropped or until their connection goes away.
type SubscriptionsManager struct {
	l   *slog.Logger
	cfg ManagerConfig
	now func() time.Time

	active       map[uuid.UUID]*SubscriptionItem
	waiting      []*SubscriptionItem
	retryPending []*SubscriptionItem
}

func NewSubscriptionsManager(cfg ManagerConfig, l *slog.Logger) *SubscriptionsManager {
	return &SubscriptionsManager{
		l:      l.With("component", "subscriptions_manager"),
		cfg:    cfg,
		now:    time.Now,
		active: make(map[uuid.UUID]*SubscriptionItem),
	}
}

func (m *SubscriptionsManager) ActiveCount() int { return len(m.active) }

func (m *SubscriptionsManager) TryGetActiveSubscription(correlationID uuid.UUID) (*SubscriptionItem, bool) {
	item, ok := m.active[correlationID]
	return item, ok
}

func (m *SubscriptionsManager) EnqueueSubscription(item *SubscriptionItem) {
	m.debug("enqueue", item)
	m.waiting = append(m.waiting, item)
}

// StartSubscription sends the subscribe frame of item under a fresh
// correlation id. Items the operation refuses to send are forgotten.
func (m *SubscriptionsManager) StartSubscription(item *SubscriptionItem, conn subscriptions.PackageSender) {
	if conn == nil {
		m.waiting = append(m.waiting, item)
		return
	}
	if item.IsSubscribed {
		m.debug("already subscribed, removing", item)
		m.RemoveSubscription(item)
		return
	}

	item.CorrelationID = uuid.New()
	item.ConnectionID = conn.ConnectionID()
	item.LastUpdated = m.now()
	m.active[item.CorrelationID] = item

	if !item.Operation.Subscribe(item.CorrelationID, conn) {
		m.debug("subscribe refused, removing", item)
		m.RemoveSubscription(item)
		return
	}
	m.debug("subscribe sent", item)
}

func (m *SubscriptionsManager) StartWaitingSubscriptions(conn subscriptions.PackageSender) {
	if conn == nil {
		return
	}
	waiting := m.waiting
	m.waiting = nil
	for _, item := range waiting {
		m.StartSubscription(item, conn)
	}
}

func (m *SubscriptionsManager) RemoveSubscription(item *SubscriptionItem) bool {
	if _, ok := m.active[item.CorrelationID]; !ok {
		return false
	}
	delete(m.active, item.CorrelationID)
	m.debug("removed", item)
	return true
}

// ScheduleSubscriptionRetry drops item with DropSubscribingError when its
// retries are used up and parks it for the next sweep otherwise.
func (m *SubscriptionsManager) ScheduleSubscriptionRetry(item *SubscriptionItem) {
	if !m.RemoveSubscription(item) {
		return
	}

	if retriesExhausted(item.RetryCount, item.MaxRetries) {
		err := &cerr.RetriesLimitReachedError{Item: item.Operation.Name(), Retries: item.RetryCount}
		item.Operation.DropSubscription(types.DropSubscribingError, err, nil)
		return
	}
	m.debug("retry scheduled", item)
	m.retryPending = append(m.retryPending, item)
}

// PurgeSubscribedAndDroppedSubscriptions notifies every confirmed
// subscription bound to connectionID that its connection is gone and
// forgets it. Unconfirmed ones stay and are retried on the next sweep.
func (m *SubscriptionsManager) PurgeSubscribedAndDroppedSubscriptions(connectionID uuid.UUID) {
	var purged []*SubscriptionItem
	for _, item := range m.active {
		if item.IsSubscribed && item.ConnectionID == connectionID {
			item.Operation.ConnectionClosed()
			purged = append(purged, item)
		}
	}
	for _, item := range purged {
		m.RemoveSubscription(item)
	}
}

func (m *SubscriptionsManager) CheckTimeoutsAndRetry(conn subscriptions.PackageSender) {
	if conn == nil {
		return
	}

	var retries []*SubscriptionItem
	var failed []*SubscriptionItem
	now := m.now()
	for _, item := range m.active {
		if item.IsSubscribed {
			continue
		}
		switch {
		case item.ConnectionID != conn.ConnectionID():
			retries = append(retries, item)
		case item.Timeout > 0 && now.Sub(item.LastUpdated) > item.Timeout:
			err := fmt.Errorf("%w: %s after %s", cerr.ErrOperationTimedOut, item.Operation.Name(), item.Timeout)
			m.l.Error("subscription timed out", "item", item.String(), "err", err)
			if m.cfg.FailOnNoServerResponse {
				item.Operation.DropSubscription(types.DropSubscribingError, err, nil)
				failed = append(failed, item)
			} else {
				retries = append(retries, item)
			}
		}
	}

	for _, item := range failed {
		m.RemoveSubscription(item)
	}
	for _, item := range retries {
		m.ScheduleSubscriptionRetry(item)
	}

	if len(m.retryPending) > 0 {
		slices.SortFunc(m.retryPending, func(a, b *SubscriptionItem) int {
			return cmp.Compare(a.SeqNo, b.SeqNo)
		})
		pending := m.retryPending
		m.retryPending = nil
		for _, item := range pending {
			item.RetryCount++
			m.StartSubscription(item, conn)
		}
	}

	m.StartWaitingSubscriptions(conn)
}

// CleanUp tells every tracked subscription its connection closed.
func (m *SubscriptionsManager) CleanUp() {
	for _, item := range m.active {
		item.Operation.ConnectionClosed()
	}
	for _, item := range m.waiting {
		item.Operation.ConnectionClosed()
	}
	for _, item := range m.retryPending {
		item.Operation.ConnectionClosed()
	}
	clear(m.active)
	m.waiting = nil
	m.retryPending = nil
}

func (m *SubscriptionsManager) debug(msg string, item *SubscriptionItem) {
	if m.cfg.Verbose {
		m.l.Debug(msg, "item", item.String())
	}
}
