package messages

type CreatePersistentSubscriptionResult int32

const (
	CreatePersistentSuccess CreatePersistentSubscriptionResult = iota
	CreatePersistentAlreadyExists
	CreatePersistentFail
	CreatePersistentAccessDenied
)

type UpdatePersistentSubscriptionResult int32

const (
	UpdatePersistentSuccess UpdatePersistentSubscriptionResult = iota
	UpdatePersistentDoesNotExist
	UpdatePersistentFail
	UpdatePersistentAccessDenied
)

type DeletePersistentSubscriptionResult int32

const (
	DeletePersistentSuccess DeletePersistentSubscriptionResult = iota
	DeletePersistentDoesNotExist
	DeletePersistentFail
	DeletePersistentAccessDenied
)

type ConnectToPersistentSubscription struct {
	SubscriptionID          string
	EventStreamID           string
	AllowedInFlightMessages int32
}

func (m *ConnectToPersistentSubscription) Marshal() []byte {
	var e encoder
	e.string(1, m.SubscriptionID)
	e.string(2, m.EventStreamID)
	e.int32(3, m.AllowedInFlightMessages)
	return e.b
}

func (m *ConnectToPersistentSubscription) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.SubscriptionID = f.string()
		case 2:
			m.EventStreamID = f.string()
		case 3:
			m.AllowedInFlightMessages = f.int32()
		}
		return nil
	})
}

type PersistentSubscriptionConfirmation struct {
	LastCommitPosition int64
	SubscriptionID     string
	LastEventNumber    *int64
}

func (m *PersistentSubscriptionConfirmation) Marshal() []byte {
	var e encoder
	e.int64(1, m.LastCommitPosition)
	e.string(2, m.SubscriptionID)
	if m.LastEventNumber != nil {
		e.int64(3, *m.LastEventNumber)
	}
	return e.b
}

func (m *PersistentSubscriptionConfirmation) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.LastCommitPosition = f.int64()
		case 2:
			m.SubscriptionID = f.string()
		case 3:
			v := f.int64()
			m.LastEventNumber = &v
		}
		return nil
	})
}

type PersistentSubscriptionStreamEventAppeared struct {
	Event      *ResolvedIndexedEvent
	RetryCount int32
}

func (m *PersistentSubscriptionStreamEventAppeared) Marshal() []byte {
	var e encoder
	ev := m.Event
	if ev == nil {
		ev = &ResolvedIndexedEvent{}
	}
	e.message(1, ev)
	e.int32(2, m.RetryCount)
	return e.b
}

func (m *PersistentSubscriptionStreamEventAppeared) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.Event = &ResolvedIndexedEvent{}
			return m.Event.Unmarshal(f.v)
		case 2:
			m.RetryCount = f.int32()
		}
		return nil
	})
}

type PersistentSubscriptionAckEvents struct {
	SubscriptionID    string
	ProcessedEventIDs [][]byte
}

func (m *PersistentSubscriptionAckEvents) Marshal() []byte {
	var e encoder
	e.string(1, m.SubscriptionID)
	for _, id := range m.ProcessedEventIDs {
		e.bytes(2, id)
	}
	return e.b
}

func (m *PersistentSubscriptionAckEvents) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.SubscriptionID = f.string()
		case 2:
			m.ProcessedEventIDs = append(m.ProcessedEventIDs, f.bytes())
		}
		return nil
	})
}

type PersistentSubscriptionNakEvents struct {
	SubscriptionID    string
	ProcessedEventIDs [][]byte
	Message           string
	Action            int32
}

func (m *PersistentSubscriptionNakEvents) Marshal() []byte {
	var e encoder
	e.string(1, m.SubscriptionID)
	for _, id := range m.ProcessedEventIDs {
		e.bytes(2, id)
	}
	e.string(3, m.Message)
	e.int32(4, m.Action)
	return e.b
}

func (m *PersistentSubscriptionNakEvents) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.SubscriptionID = f.string()
		case 2:
			m.ProcessedEventIDs = append(m.ProcessedEventIDs, f.bytes())
		case 3:
			m.Message = f.string()
		case 4:
			m.Action = f.int32()
		}
		return nil
	})
}

// PersistentSubscriptionSettings is shared by the create and update requests.
type PersistentSubscriptionSettings struct {
	SubscriptionGroupName      string
	EventStreamID              string
	ResolveLinkTos             bool
	StartFrom                  int64
	MessageTimeoutMilliseconds int32
	RecordStatistics           bool
	LiveBufferSize             int32
	ReadBatchSize              int32
	BufferSize                 int32
	MaxRetryCount              int32
	PreferRoundRobin           bool
	CheckpointAfterTime        int32
	CheckpointMaxCount         int32
	CheckpointMinCount         int32
	SubscriberMaxCount         int32
	NamedConsumerStrategy      string
}

func (m *PersistentSubscriptionSettings) Marshal() []byte {
	var e encoder
	e.string(1, m.SubscriptionGroupName)
	e.string(2, m.EventStreamID)
	e.bool(3, m.ResolveLinkTos)
	e.int64(4, m.StartFrom)
	e.int32(5, m.MessageTimeoutMilliseconds)
	e.bool(6, m.RecordStatistics)
	e.int32(7, m.LiveBufferSize)
	e.int32(8, m.ReadBatchSize)
	e.int32(9, m.BufferSize)
	e.int32(10, m.MaxRetryCount)
	e.bool(11, m.PreferRoundRobin)
	e.int32(12, m.CheckpointAfterTime)
	e.int32(13, m.CheckpointMaxCount)
	e.int32(14, m.CheckpointMinCount)
	e.int32(15, m.SubscriberMaxCount)
	if m.NamedConsumerStrategy != "" {
		e.string(16, m.NamedConsumerStrategy)
	}
	return e.b
}

func (m *PersistentSubscriptionSettings) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.SubscriptionGroupName = f.string()
		case 2:
			m.EventStreamID = f.string()
		case 3:
			m.ResolveLinkTos = f.bool()
		case 4:
			m.StartFrom = f.int64()
		case 5:
			m.MessageTimeoutMilliseconds = f.int32()
		case 6:
			m.RecordStatistics = f.bool()
		case 7:
			m.LiveBufferSize = f.int32()
		case 8:
			m.ReadBatchSize = f.int32()
		case 9:
			m.BufferSize = f.int32()
		case 10:
			m.MaxRetryCount = f.int32()
		case 11:
			m.PreferRoundRobin = f.bool()
		case 12:
			m.CheckpointAfterTime = f.int32()
		case 13:
			m.CheckpointMaxCount = f.int32()
		case 14:
			m.CheckpointMinCount = f.int32()
		case 15:
			m.SubscriberMaxCount = f.int32()
		case 16:
			m.NamedConsumerStrategy = f.string()
		}
		return nil
	})
}

// PersistentSubscriptionCompleted is the shape of the create, update and
// delete replies: a result code and a reason.
type PersistentSubscriptionCompleted struct {
	Result int32
	Reason string
}

func (m *PersistentSubscriptionCompleted) Marshal() []byte {
	var e encoder
	e.int32(1, m.Result)
	if m.Reason != "" {
		e.string(2, m.Reason)
	}
	return e.b
}

func (m *PersistentSubscriptionCompleted) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.Result = f.int32()
		case 2:
			m.Reason = f.string()
		}
		return nil
	})
}

type DeletePersistentSubscription struct {
	SubscriptionGroupName string
	EventStreamID         string
}

func (m *DeletePersistentSubscription) Marshal() []byte {
	var e encoder
	e.string(1, m.SubscriptionGroupName)
	e.string(2, m.EventStreamID)
	return e.b
}

func (m *DeletePersistentSubscription) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.SubscriptionGroupName = f.string()
		case 2:
			m.EventStreamID = f.string()
		}
		return nil
	})
}
