package messages

import (
	"time"

	"github.com/fujin-io/evstore/public/types"
	"github.com/google/uuid"
)

const (
	ContentTypeBinary int32 = 0
	ContentTypeJSON   int32 = 1
)

type NewEvent struct {
	EventID             []byte
	EventType           string
	DataContentType     int32
	MetadataContentType int32
	Data                []byte
	Metadata            []byte
}

func NewEventFromData(e types.EventData) *NewEvent {
	ct := ContentTypeBinary
	if e.IsJSON {
		ct = ContentTypeJSON
	}
	id := e.EventID
	return &NewEvent{
		EventID:             id[:],
		EventType:           e.Type,
		DataContentType:     ct,
		MetadataContentType: 0,
		Data:                e.Data,
		Metadata:            e.Metadata,
	}
}

func (m *NewEvent) Marshal() []byte {
	var e encoder
	e.bytes(1, m.EventID)
	e.string(2, m.EventType)
	e.int32(3, m.DataContentType)
	e.int32(4, m.MetadataContentType)
	e.bytes(5, m.Data)
	if m.Metadata != nil {
		e.bytes(6, m.Metadata)
	}
	return e.b
}

func (m *NewEvent) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.EventID = f.bytes()
		case 2:
			m.EventType = f.string()
		case 3:
			m.DataContentType = f.int32()
		case 4:
			m.MetadataContentType = f.int32()
		case 5:
			m.Data = f.bytes()
		case 6:
			m.Metadata = f.bytes()
		}
		return nil
	})
}

type EventRecord struct {
	EventStreamID       string
	EventNumber         int64
	EventID             []byte
	EventType           string
	DataContentType     int32
	MetadataContentType int32
	Data                []byte
	Metadata            []byte
	Created             int64
	CreatedEpoch        int64
}

func (m *EventRecord) Marshal() []byte {
	var e encoder
	e.string(1, m.EventStreamID)
	e.int64(2, m.EventNumber)
	e.bytes(3, m.EventID)
	e.string(4, m.EventType)
	e.int32(5, m.DataContentType)
	e.int32(6, m.MetadataContentType)
	e.bytes(7, m.Data)
	if m.Metadata != nil {
		e.bytes(8, m.Metadata)
	}
	e.int64(9, m.Created)
	e.int64(10, m.CreatedEpoch)
	return e.b
}

func (m *EventRecord) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.EventStreamID = f.string()
		case 2:
			m.EventNumber = f.int64()
		case 3:
			m.EventID = f.bytes()
		case 4:
			m.EventType = f.string()
		case 5:
			m.DataContentType = f.int32()
		case 6:
			m.MetadataContentType = f.int32()
		case 7:
			m.Data = f.bytes()
		case 8:
			m.Metadata = f.bytes()
		case 9:
			m.Created = f.int64()
		case 10:
			m.CreatedEpoch = f.int64()
		}
		return nil
	})
}

// ToRecorded converts the DTO into the public model. A nil record yields nil.
func (m *EventRecord) ToRecorded() *types.RecordedEvent {
	if m == nil {
		return nil
	}
	var id uuid.UUID
	copy(id[:], m.EventID)
	return &types.RecordedEvent{
		StreamID:    m.EventStreamID,
		EventID:     id,
		EventNumber: m.EventNumber,
		EventType:   m.EventType,
		Data:        m.Data,
		Metadata:    m.Metadata,
		IsJSON:      m.DataContentType == ContentTypeJSON,
		Created:     time.UnixMilli(m.CreatedEpoch).UTC(),
		CreatedUnix: m.CreatedEpoch,
	}
}

type ResolvedIndexedEvent struct {
	Event *EventRecord
	Link  *EventRecord
}

func (m *ResolvedIndexedEvent) Marshal() []byte {
	var e encoder
	if m.Event != nil {
		e.message(1, m.Event)
	}
	if m.Link != nil {
		e.message(2, m.Link)
	}
	return e.b
}

func (m *ResolvedIndexedEvent) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.Event = &EventRecord{}
			return m.Event.Unmarshal(f.v)
		case 2:
			m.Link = &EventRecord{}
			return m.Link.Unmarshal(f.v)
		}
		return nil
	})
}

func (m *ResolvedIndexedEvent) ToResolved() types.ResolvedEvent {
	return types.ResolvedEvent{
		Event: m.Event.ToRecorded(),
		Link:  m.Link.ToRecorded(),
	}
}

type ResolvedEvent struct {
	Event           *EventRecord
	Link            *EventRecord
	CommitPosition  int64
	PreparePosition int64
}

func (m *ResolvedEvent) Marshal() []byte {
	var e encoder
	if m.Event != nil {
		e.message(1, m.Event)
	}
	if m.Link != nil {
		e.message(2, m.Link)
	}
	e.int64(3, m.CommitPosition)
	e.int64(4, m.PreparePosition)
	return e.b
}

func (m *ResolvedEvent) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.Event = &EventRecord{}
			return m.Event.Unmarshal(f.v)
		case 2:
			m.Link = &EventRecord{}
			return m.Link.Unmarshal(f.v)
		case 3:
			m.CommitPosition = f.int64()
		case 4:
			m.PreparePosition = f.int64()
		}
		return nil
	})
}

func (m *ResolvedEvent) ToResolved() types.ResolvedEvent {
	return types.ResolvedEvent{
		Event: m.Event.ToRecorded(),
		Link:  m.Link.ToRecorded(),
		OriginalPosition: &types.Position{
			CommitPosition:  m.CommitPosition,
			PreparePosition: m.PreparePosition,
		},
	}
}
