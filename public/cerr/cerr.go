// Package cerr holds the client error taxonomy: transport, protocol and
// domain errors returned by operations, plus the subscription-level errors.
package cerr

import (
	"errors"
	"fmt"
)

var (
	ErrNotSupported    = errors.New("not supported")
	ErrValidateConf    = errors.New("validate config")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Transport errors.
var (
	ErrConnectionClosed              = errors.New("connection closed")
	ErrCannotEstablishConnection     = errors.New("cannot establish connection")
	ErrOperationTimedOut             = errors.New("operation timed out")
	ErrRetriesLimitReached           = errors.New("retries limit reached")
	ErrMaxQueueSizeReached           = errors.New("max queue size reached")
	ErrConnectionAlreadyActive       = errors.New("connection already active")
	ErrConnectionNotActive           = errors.New("connection not active")
	ErrReconnectionLimitReached      = errors.New("reconnection limit reached")
	ErrNoEndpoint                    = errors.New("no endpoint specified")
	ErrClusterDiscoveryFailed        = errors.New("cluster discovery failed")
	ErrHeartbeatTimeout              = errors.New("heartbeat timeout")
	ErrConnectionEstablishTimeout    = errors.New("connection establishment timeout")
	ErrInvalidFrameLength            = errors.New("invalid frame length")
	ErrCredentialsTooLong            = errors.New("credentials too long")
	ErrSubscriptionAlreadyStarted    = errors.New("subscription already started")
	ErrStopTimeout                   = errors.New("subscription did not stop in time")
	ErrTooManyEventIDs               = errors.New("too many event ids in one call")
	ErrClientBufferOverflow          = errors.New("client buffer overflow")
	ErrPersistentSubscriptionStopped = errors.New("persistent subscription stopped")
	ErrSubscriptionDropped           = errors.New("subscription dropped")
	ErrSubscriptionNotConfirmed      = errors.New("subscription not confirmed")
)

// Protocol errors.
var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrBadRequest        = errors.New("bad request")
	ErrServerError       = errors.New("server error")
	ErrUnexpectedCommand = errors.New("unexpected command")
	ErrNotMaster         = errors.New("not master")
)

// Domain errors.
var (
	ErrWrongExpectedVersion = errors.New("wrong expected version")
	ErrStreamDeleted        = errors.New("stream deleted")
	ErrInvalidTransaction   = errors.New("invalid transaction")
	ErrAccessDenied         = errors.New("access denied")
	ErrStreamNotFound       = errors.New("stream not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrDoesNotExist         = errors.New("does not exist")
	ErrTransactionClosed    = errors.New("transaction already committed or rolled back")
)

func ValidationErr(text string) error {
	return fmt.Errorf(text+": %w", ErrValidateConf)
}

// WrongExpectedVersionError is returned when an append, delete or transaction
// commit is rejected because the stream is not at the expected version.
type WrongExpectedVersionError struct {
	Stream          string
	ExpectedVersion int64
	CurrentVersion  int64
}

func (e *WrongExpectedVersionError) Error() string {
	return fmt.Sprintf("wrong expected version for stream %q: expected %d, current %d",
		e.Stream, e.ExpectedVersion, e.CurrentVersion)
}

func (e *WrongExpectedVersionError) Unwrap() error { return ErrWrongExpectedVersion }

// StreamDeletedError is returned for operations on a hard-deleted stream.
type StreamDeletedError struct {
	Stream string
}

func (e *StreamDeletedError) Error() string {
	return fmt.Sprintf("stream %q is deleted", e.Stream)
}

func (e *StreamDeletedError) Unwrap() error { return ErrStreamDeleted }

// AccessDeniedError carries the resource and the server supplied reason.
type AccessDeniedError struct {
	Resource string
	Reason   string
}

func (e *AccessDeniedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("access denied to %q", e.Resource)
	}
	return fmt.Sprintf("access denied to %q: %s", e.Resource, e.Reason)
}

func (e *AccessDeniedError) Unwrap() error { return ErrAccessDenied }

// ServerError wraps a BadRequest or unexpected server failure message.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return "server error"
	}
	return "server error: " + e.Message
}

func (e *ServerError) Unwrap() error { return ErrServerError }

// UnexpectedCommandError is a protocol violation: the server answered with a
// command the operation does not understand.
type UnexpectedCommandError struct {
	Expected string
	Actual   string
}

func (e *UnexpectedCommandError) Error() string {
	return fmt.Sprintf("unexpected command: expected %s, got %s", e.Expected, e.Actual)
}

func (e *UnexpectedCommandError) Unwrap() error { return ErrUnexpectedCommand }

// RetriesLimitReachedError reports the operation and the number of attempts made.
type RetriesLimitReachedError struct {
	Item    string
	Retries int
}

func (e *RetriesLimitReachedError) Error() string {
	return fmt.Sprintf("item %s reached retries limit: %d", e.Item, e.Retries)
}

func (e *RetriesLimitReachedError) Unwrap() error { return ErrRetriesLimitReached }

// NotAuthenticatedError carries the server message for a rejected credential.
type NotAuthenticatedError struct {
	Message string
}

func (e *NotAuthenticatedError) Error() string {
	if e.Message == "" {
		return "not authenticated"
	}
	return "not authenticated: " + e.Message
}

func (e *NotAuthenticatedError) Unwrap() error { return ErrNotAuthenticated }
