// Package types contains the data model shared by the client API, the
// connection engine and the relay: events, cursors, slices, results and
// subscription drop reasons.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Expected version sentinels accepted by append, delete and transaction start.
const (
	ExpectedVersionAny          int64 = -2
	ExpectedVersionNoStream     int64 = -1
	ExpectedVersionEmptyStream  int64 = -1
	ExpectedVersionStreamExists int64 = -4
)

// StreamStart and StreamEnd are the event number cursors for reading a
// stream from its beginning or its end.
const (
	StreamStart int64 = 0
	StreamEnd   int64 = -1
)

// AllStreamID is the pseudo stream name used for $all subscriptions.
const AllStreamID = ""

// Position is a cursor in the global transaction log.
type Position struct {
	CommitPosition  int64
	PreparePosition int64
}

var (
	StartPosition = Position{CommitPosition: 0, PreparePosition: 0}
	EndPosition   = Position{CommitPosition: -1, PreparePosition: -1}
)

// Compare returns -1, 0 or 1 ordering p against other by commit then prepare position.
func (p Position) Compare(other Position) int {
	switch {
	case p.CommitPosition < other.CommitPosition:
		return -1
	case p.CommitPosition > other.CommitPosition:
		return 1
	case p.PreparePosition < other.PreparePosition:
		return -1
	case p.PreparePosition > other.PreparePosition:
		return 1
	default:
		return 0
	}
}

func (p Position) Less(other Position) bool    { return p.Compare(other) < 0 }
func (p Position) Greater(other Position) bool { return p.Compare(other) > 0 }

func (p Position) String() string {
	return fmt.Sprintf("%d/%d", p.CommitPosition, p.PreparePosition)
}

// EventData is an event to be written.
type EventData struct {
	EventID  uuid.UUID
	Type     string
	IsJSON   bool
	Data     []byte
	Metadata []byte
}

// NewJSONEvent builds an EventData with a fresh id and JSON content type.
func NewJSONEvent(eventType string, data, metadata []byte) EventData {
	return EventData{
		EventID:  uuid.New(),
		Type:     eventType,
		IsJSON:   true,
		Data:     data,
		Metadata: metadata,
	}
}

// RecordedEvent is an event as stored by the server.
type RecordedEvent struct {
	StreamID    string
	EventID     uuid.UUID
	EventNumber int64
	EventType   string
	Data        []byte
	Metadata    []byte
	IsJSON      bool
	Created     time.Time
	CreatedUnix int64
}

// ResolvedEvent is an event together with the link that pointed to it, if any.
type ResolvedEvent struct {
	Event            *RecordedEvent
	Link             *RecordedEvent
	OriginalPosition *Position
}

// OriginalEvent returns the link when present, otherwise the event.
func (e ResolvedEvent) OriginalEvent() *RecordedEvent {
	if e.Link != nil {
		return e.Link
	}
	return e.Event
}

func (e ResolvedEvent) IsResolved() bool { return e.Link != nil && e.Event != nil }

func (e ResolvedEvent) OriginalStreamID() string {
	if ev := e.OriginalEvent(); ev != nil {
		return ev.StreamID
	}
	return ""
}

func (e ResolvedEvent) OriginalEventNumber() int64 {
	if ev := e.OriginalEvent(); ev != nil {
		return ev.EventNumber
	}
	return -1
}

// WriteResult is returned by appends and transaction commits.
type WriteResult struct {
	NextExpectedVersion int64
	LogPosition         Position
}

// DeleteResult is returned by stream deletion.
type DeleteResult struct {
	LogPosition Position
}

// ReadDirection of a slice read.
type ReadDirection byte

const (
	Forward ReadDirection = iota
	Backward
)

func (d ReadDirection) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// SliceReadStatus is the outcome of a stream slice read.
type SliceReadStatus byte

const (
	SliceReadSuccess SliceReadStatus = iota
	SliceReadStreamNotFound
	SliceReadStreamDeleted
)

func (s SliceReadStatus) String() string {
	switch s {
	case SliceReadSuccess:
		return "success"
	case SliceReadStreamNotFound:
		return "stream_not_found"
	case SliceReadStreamDeleted:
		return "stream_deleted"
	default:
		return "unknown"
	}
}

// StreamEventsSlice is one page of a stream read.
type StreamEventsSlice struct {
	Status          SliceReadStatus
	Stream          string
	FromEventNumber int64
	Direction       ReadDirection
	Events          []ResolvedEvent
	NextEventNumber int64
	LastEventNumber int64
	IsEndOfStream   bool
}

// AllEventsSlice is one page of a $all read.
type AllEventsSlice struct {
	Direction    ReadDirection
	FromPosition Position
	NextPosition Position
	Events       []ResolvedEvent
}

func (s AllEventsSlice) IsEndOfStream() bool { return len(s.Events) == 0 }

// EventReadStatus is the outcome of a single event read.
type EventReadStatus byte

const (
	EventReadSuccess EventReadStatus = iota
	EventReadNotFound
	EventReadNoStream
	EventReadStreamDeleted
)

// EventReadResult is returned by ReadEvent.
type EventReadResult struct {
	Status      EventReadStatus
	Stream      string
	EventNumber int64
	Event       *ResolvedEvent
}

// UserCredentials are attached inline to a frame when set.
type UserCredentials struct {
	Username string
	Password string
}

// NodeEndpoints are the resolved addresses of the node to connect to.
type NodeEndpoints struct {
	TCPEndpoint    string
	SecureEndpoint string
}

func (e NodeEndpoints) String() string {
	return fmt.Sprintf("[%s, %s]", e.TCPEndpoint, e.SecureEndpoint)
}

// PersistentSubscriptionNakEventAction tells the server what to do with a
// negatively acknowledged event.
type PersistentSubscriptionNakEventAction int32

const (
	NakActionUnknown PersistentSubscriptionNakEventAction = iota
	NakActionPark
	NakActionRetry
	NakActionSkip
	NakActionStop
)

// PersistentSubscriptionSettings configure a server side persistent subscription group.
type PersistentSubscriptionSettings struct {
	ResolveLinkTos        bool
	StartFrom             int64
	MessageTimeout        time.Duration
	ExtraStatistics       bool
	MaxRetryCount         int32
	LiveBufferSize        int32
	ReadBatchSize         int32
	HistoryBufferSize     int32
	CheckPointAfter       time.Duration
	MinCheckPointCount    int32
	MaxCheckPointCount    int32
	MaxSubscriberCount    int32
	NamedConsumerStrategy string
}

// DefaultPersistentSubscriptionSettings mirrors the server defaults.
func DefaultPersistentSubscriptionSettings() PersistentSubscriptionSettings {
	return PersistentSubscriptionSettings{
		StartFrom:             StreamEnd,
		MessageTimeout:        30 * time.Second,
		MaxRetryCount:         10,
		LiveBufferSize:        500,
		ReadBatchSize:         20,
		HistoryBufferSize:     500,
		CheckPointAfter:       2 * time.Second,
		MinCheckPointCount:    10,
		MaxCheckPointCount:    1000,
		NamedConsumerStrategy: "RoundRobin",
	}
}
