package messages

type ReadEventResult int32

const (
	ReadEventSuccess ReadEventResult = iota
	ReadEventNotFound
	ReadEventNoStream
	ReadEventStreamDeleted
	ReadEventError
	ReadEventAccessDenied
)

type ReadStreamResult int32

const (
	ReadStreamSuccess ReadStreamResult = iota
	ReadStreamNoStream
	ReadStreamStreamDeleted
	ReadStreamNotModified
	ReadStreamError
	ReadStreamAccessDenied
)

type ReadAllResult int32

const (
	ReadAllSuccess ReadAllResult = iota
	ReadAllNotModified
	ReadAllError
	ReadAllAccessDenied
)

type ReadEvent struct {
	EventStreamID  string
	EventNumber    int64
	ResolveLinkTos bool
	RequireMaster  bool
}

func (m *ReadEvent) Marshal() []byte {
	var e encoder
	e.string(1, m.EventStreamID)
	e.int64(2, m.EventNumber)
	e.bool(3, m.ResolveLinkTos)
	e.bool(4, m.RequireMaster)
	return e.b
}

func (m *ReadEvent) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.EventStreamID = f.string()
		case 2:
			m.EventNumber = f.int64()
		case 3:
			m.ResolveLinkTos = f.bool()
		case 4:
			m.RequireMaster = f.bool()
		}
		return nil
	})
}

type ReadEventCompleted struct {
	Result ReadEventResult
	Event  *ResolvedIndexedEvent
	Error  string
}

func (m *ReadEventCompleted) Marshal() []byte {
	var e encoder
	e.int32(1, int32(m.Result))
	ev := m.Event
	if ev == nil {
		ev = &ResolvedIndexedEvent{}
	}
	e.message(2, ev)
	if m.Error != "" {
		e.string(3, m.Error)
	}
	return e.b
}

func (m *ReadEventCompleted) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.Result = ReadEventResult(f.int32())
		case 2:
			m.Event = &ResolvedIndexedEvent{}
			return m.Event.Unmarshal(f.v)
		case 3:
			m.Error = f.string()
		}
		return nil
	})
}

type ReadStreamEvents struct {
	EventStreamID   string
	FromEventNumber int64
	MaxCount        int32
	ResolveLinkTos  bool
	RequireMaster   bool
}

func (m *ReadStreamEvents) Marshal() []byte {
	var e encoder
	e.string(1, m.EventStreamID)
	e.int64(2, m.FromEventNumber)
	e.int32(3, m.MaxCount)
	e.bool(4, m.ResolveLinkTos)
	e.bool(5, m.RequireMaster)
	return e.b
}

func (m *ReadStreamEvents) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.EventStreamID = f.string()
		case 2:
			m.FromEventNumber = f.int64()
		case 3:
			m.MaxCount = f.int32()
		case 4:
			m.ResolveLinkTos = f.bool()
		case 5:
			m.RequireMaster = f.bool()
		}
		return nil
	})
}

type ReadStreamEventsCompleted struct {
	Events             []*ResolvedIndexedEvent
	Result             ReadStreamResult
	NextEventNumber    int64
	LastEventNumber    int64
	IsEndOfStream      bool
	LastCommitPosition int64
	Error              string
}

func (m *ReadStreamEventsCompleted) Marshal() []byte {
	var e encoder
	for _, ev := range m.Events {
		e.message(1, ev)
	}
	e.int32(2, int32(m.Result))
	e.int64(3, m.NextEventNumber)
	e.int64(4, m.LastEventNumber)
	e.bool(5, m.IsEndOfStream)
	e.int64(6, m.LastCommitPosition)
	if m.Error != "" {
		e.string(7, m.Error)
	}
	return e.b
}

func (m *ReadStreamEventsCompleted) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			ev := &ResolvedIndexedEvent{}
			if err := ev.Unmarshal(f.v); err != nil {
				return err
			}
			m.Events = append(m.Events, ev)
		case 2:
			m.Result = ReadStreamResult(f.int32())
		case 3:
			m.NextEventNumber = f.int64()
		case 4:
			m.LastEventNumber = f.int64()
		case 5:
			m.IsEndOfStream = f.bool()
		case 6:
			m.LastCommitPosition = f.int64()
		case 7:
			m.Error = f.string()
		}
		return nil
	})
}

type ReadAllEvents struct {
	CommitPosition  int64
	PreparePosition int64
	MaxCount        int32
	ResolveLinkTos  bool
	RequireMaster   bool
}

func (m *ReadAllEvents) Marshal() []byte {
	var e encoder
	e.int64(1, m.CommitPosition)
	e.int64(2, m.PreparePosition)
	e.int32(3, m.MaxCount)
	e.bool(4, m.ResolveLinkTos)
	e.bool(5, m.RequireMaster)
	return e.b
}

func (m *ReadAllEvents) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.CommitPosition = f.int64()
		case 2:
			m.PreparePosition = f.int64()
		case 3:
			m.MaxCount = f.int32()
		case 4:
			m.ResolveLinkTos = f.bool()
		case 5:
			m.RequireMaster = f.bool()
		}
		return nil
	})
}

type ReadAllEventsCompleted struct {
	CommitPosition      int64
	PreparePosition     int64
	Events              []*ResolvedEvent
	NextCommitPosition  int64
	NextPreparePosition int64
	Result              ReadAllResult
	Error               string
}

func (m *ReadAllEventsCompleted) Marshal() []byte {
	var e encoder
	e.int64(1, m.CommitPosition)
	e.int64(2, m.PreparePosition)
	for _, ev := range m.Events {
		e.message(3, ev)
	}
	e.int64(4, m.NextCommitPosition)
	e.int64(5, m.NextPreparePosition)
	e.int32(6, int32(m.Result))
	if m.Error != "" {
		e.string(7, m.Error)
	}
	return e.b
}

func (m *ReadAllEventsCompleted) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.CommitPosition = f.int64()
		case 2:
			m.PreparePosition = f.int64()
		case 3:
			ev := &ResolvedEvent{}
			if err := ev.Unmarshal(f.v); err != nil {
				return err
			}
			m.Events = append(m.Events, ev)
		case 4:
			m.NextCommitPosition = f.int64()
		case 5:
			m.NextPreparePosition = f.int64()
		case 6:
			m.Result = ReadAllResult(f.int32())
		case 7:
			m.Error = f.string()
		}
		return nil
	})
}
