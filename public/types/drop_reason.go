package types

// SubscriptionDropReason explains why a subscription ended.
type SubscriptionDropReason byte

const (
	DropUserInitiated SubscriptionDropReason = iota
	DropNotAuthenticated
	DropAccessDenied
	DropSubscribingError
	DropServerError
	DropConnectionClosed
	DropCatchUpError
	DropProcessingQueueOverflow
	DropEventHandlerException
	DropMaxSubscribersReached
	DropPersistentSubscriptionDeleted
	DropNotFound
	DropUnknown
)

func (r SubscriptionDropReason) String() string {
	switch r {
	case DropUserInitiated:
		return "user_initiated"
	case DropNotAuthenticated:
		return "not_authenticated"
	case DropAccessDenied:
		return "access_denied"
	case DropSubscribingError:
		return "subscribing_error"
	case DropServerError:
		return "server_error"
	case DropConnectionClosed:
		return "connection_closed"
	case DropCatchUpError:
		return "catch_up_error"
	case DropProcessingQueueOverflow:
		return "processing_queue_overflow"
	case DropEventHandlerException:
		return "event_handler_exception"
	case DropMaxSubscribersReached:
		return "max_subscribers_reached"
	case DropPersistentSubscriptionDeleted:
		return "persistent_subscription_deleted"
	case DropNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// DropData records the first reason a subscription is ending. Later
// reasons are ignored.
type DropData struct {
	Reason SubscriptionDropReason
	Err    error
}

// ConnectionEventKind enumerates client lifecycle notifications.
type ConnectionEventKind byte

const (
	EventConnected ConnectionEventKind = iota
	EventDisconnected
	EventReconnecting
	EventClosed
	EventErrorOccurred
	EventAuthenticationFailed
)

func (k ConnectionEventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventClosed:
		return "closed"
	case EventErrorOccurred:
		return "error_occurred"
	case EventAuthenticationFailed:
		return "authentication_failed"
	default:
		return "unknown"
	}
}

// ConnectionEvent is delivered to lifecycle listeners.
type ConnectionEvent struct {
	Kind     ConnectionEventKind
	Endpoint string
	Reason   string
	Err      error
}
