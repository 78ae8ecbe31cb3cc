// Package engine drives one logical connection to the event store: a
// single goroutine owns the socket and the bookkeeping of every in-flight
// operation and subscription, and all state changes happen while it
// handles one message at a time.
package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fujin-io/evstore/internal/core/operations"
	"github.com/fujin-io/evstore/internal/core/subscriptions"
	"github.com/google/uuid"
)

var nextSeqNo atomic.Int64

// OperationItem tracks one operation across its attempts. A new
// correlation id is assigned on every attempt.
type OperationItem struct {
	SeqNo     int64
	Operation operations.Operation

	MaxRetries int
	Timeout    time.Duration
	CreatedAt  time.Time

	CorrelationID uuid.UUID
	ConnectionID  uuid.UUID
	RetryCount    int
	LastUpdated   time.Time
}

func NewOperationItem(op operations.Operation, maxRetries int, timeout time.Duration) *OperationItem {
	now := time.Now()
	return &OperationItem{
		SeqNo:       nextSeqNo.Add(1),
		Operation:   op,
		MaxRetries:  maxRetries,
		Timeout:     timeout,
		CreatedAt:   now,
		LastUpdated: now,
	}
}

func (i *OperationItem) String() string {
	return fmt.Sprintf("Operation %s (%s): retry %d/%d, created %s ago",
		i.Operation.Name(), i.CorrelationID, i.RetryCount, i.MaxRetries, time.Since(i.CreatedAt).Round(time.Millisecond))
}

// SubscriptionItem tracks one subscription. IsSubscribed is set once the
// server confirmed it; confirmed items are no longer retried on timeout.
type SubscriptionItem struct {
	SeqNo     int64
	Operation subscriptions.Operation

	MaxRetries int
	Timeout    time.Duration
	CreatedAt  time.Time

	CorrelationID uuid.UUID
	ConnectionID  uuid.UUID
	RetryCount    int
	LastUpdated   time.Time
	IsSubscribed  bool
}

func NewSubscriptionItem(op subscriptions.Operation, maxRetries int, timeout time.Duration) *SubscriptionItem {
	now := time.Now()
	return &SubscriptionItem{
		SeqNo:       nextSeqNo.Add(1),
		Operation:   op,
		MaxRetries:  maxRetries,
		Timeout:     timeout,
		CreatedAt:   now,
		LastUpdated: now,
	}
}

func (i *SubscriptionItem) String() string {
	return fmt.Sprintf("Subscription %s (%s): subscribed %t, retry %d/%d",
		i.Operation.Name(), i.CorrelationID, i.IsSubscribed, i.RetryCount, i.MaxRetries)
}

// retriesExhausted reports whether one more attempt would exceed maxRetries.
// A negative maxRetries retries forever.
func retriesExhausted(retryCount, maxRetries int) bool {
	return maxRetries >= 0 && retryCount >= maxRetries
}
