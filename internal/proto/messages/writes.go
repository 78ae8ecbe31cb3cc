package messages

type OperationResult int32

const (
	OperationSuccess OperationResult = iota
	OperationPrepareTimeout
	OperationCommitTimeout
	OperationForwardTimeout
	OperationWrongExpectedVersion
	OperationStreamDeleted
	OperationInvalidTransaction
	OperationAccessDenied
)

type WriteEvents struct {
	EventStreamID   string
	ExpectedVersion int64
	Events          []*NewEvent
	RequireMaster   bool
}

func (m *WriteEvents) Marshal() []byte {
	var e encoder
	e.string(1, m.EventStreamID)
	e.int64(2, m.ExpectedVersion)
	for _, ev := range m.Events {
		e.message(3, ev)
	}
	e.bool(4, m.RequireMaster)
	return e.b
}

func (m *WriteEvents) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.EventStreamID = f.string()
		case 2:
			m.ExpectedVersion = f.int64()
		case 3:
			ev := &NewEvent{}
			if err := ev.Unmarshal(f.v); err != nil {
				return err
			}
			m.Events = append(m.Events, ev)
		case 4:
			m.RequireMaster = f.bool()
		}
		return nil
	})
}

type WriteEventsCompleted struct {
	Result           OperationResult
	Message          string
	FirstEventNumber int64
	LastEventNumber  int64
	PreparePosition  int64
	CommitPosition   int64
	CurrentVersion   int64
}

func (m *WriteEventsCompleted) Marshal() []byte {
	var e encoder
	e.int32(1, int32(m.Result))
	e.string(2, m.Message)
	e.int64(3, m.FirstEventNumber)
	e.int64(4, m.LastEventNumber)
	e.int64(5, m.PreparePosition)
	e.int64(6, m.CommitPosition)
	e.int64(7, m.CurrentVersion)
	return e.b
}

func (m *WriteEventsCompleted) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.Result = OperationResult(f.int32())
		case 2:
			m.Message = f.string()
		case 3:
			m.FirstEventNumber = f.int64()
		case 4:
			m.LastEventNumber = f.int64()
		case 5:
			m.PreparePosition = f.int64()
		case 6:
			m.CommitPosition = f.int64()
		case 7:
			m.CurrentVersion = f.int64()
		}
		return nil
	})
}

type DeleteStream struct {
	EventStreamID   string
	ExpectedVersion int64
	RequireMaster   bool
	HardDelete      bool
}

func (m *DeleteStream) Marshal() []byte {
	var e encoder
	e.string(1, m.EventStreamID)
	e.int64(2, m.ExpectedVersion)
	e.bool(3, m.RequireMaster)
	e.bool(4, m.HardDelete)
	return e.b
}

func (m *DeleteStream) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.EventStreamID = f.string()
		case 2:
			m.ExpectedVersion = f.int64()
		case 3:
			m.RequireMaster = f.bool()
		case 4:
			m.HardDelete = f.bool()
		}
		return nil
	})
}

type DeleteStreamCompleted struct {
	Result          OperationResult
	Message         string
	PreparePosition int64
	CommitPosition  int64
}

func (m *DeleteStreamCompleted) Marshal() []byte {
	var e encoder
	e.int32(1, int32(m.Result))
	e.string(2, m.Message)
	e.int64(3, m.PreparePosition)
	e.int64(4, m.CommitPosition)
	return e.b
}

func (m *DeleteStreamCompleted) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.Result = OperationResult(f.int32())
		case 2:
			m.Message = f.string()
		case 3:
			m.PreparePosition = f.int64()
		case 4:
			m.CommitPosition = f.int64()
		}
		return nil
	})
}

type TransactionStart struct {
	EventStreamID   string
	ExpectedVersion int64
	RequireMaster   bool
}

func (m *TransactionStart) Marshal() []byte {
	var e encoder
	e.string(1, m.EventStreamID)
	e.int64(2, m.ExpectedVersion)
	e.bool(3, m.RequireMaster)
	return e.b
}

func (m *TransactionStart) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.EventStreamID = f.string()
		case 2:
			m.ExpectedVersion = f.int64()
		case 3:
			m.RequireMaster = f.bool()
		}
		return nil
	})
}

type TransactionStartCompleted struct {
	TransactionID int64
	Result        OperationResult
	Message       string
}

func (m *TransactionStartCompleted) Marshal() []byte {
	var e encoder
	e.int64(1, m.TransactionID)
	e.int32(2, int32(m.Result))
	e.string(3, m.Message)
	return e.b
}

func (m *TransactionStartCompleted) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.TransactionID = f.int64()
		case 2:
			m.Result = OperationResult(f.int32())
		case 3:
			m.Message = f.string()
		}
		return nil
	})
}

type TransactionWrite struct {
	TransactionID int64
	Events        []*NewEvent
	RequireMaster bool
}

func (m *TransactionWrite) Marshal() []byte {
	var e encoder
	e.int64(1, m.TransactionID)
	for _, ev := range m.Events {
		e.message(2, ev)
	}
	e.bool(3, m.RequireMaster)
	return e.b
}

func (m *TransactionWrite) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.TransactionID = f.int64()
		case 2:
			ev := &NewEvent{}
			if err := ev.Unmarshal(f.v); err != nil {
				return err
			}
			m.Events = append(m.Events, ev)
		case 3:
			m.RequireMaster = f.bool()
		}
		return nil
	})
}

type TransactionWriteCompleted struct {
	TransactionID int64
	Result        OperationResult
	Message       string
}

func (m *TransactionWriteCompleted) Marshal() []byte {
	var e encoder
	e.int64(1, m.TransactionID)
	e.int32(2, int32(m.Result))
	e.string(3, m.Message)
	return e.b
}

func (m *TransactionWriteCompleted) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.TransactionID = f.int64()
		case 2:
			m.Result = OperationResult(f.int32())
		case 3:
			m.Message = f.string()
		}
		return nil
	})
}

type TransactionCommit struct {
	TransactionID int64
	RequireMaster bool
}

func (m *TransactionCommit) Marshal() []byte {
	var e encoder
	e.int64(1, m.TransactionID)
	e.bool(2, m.RequireMaster)
	return e.b
}

func (m *TransactionCommit) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.TransactionID = f.int64()
		case 2:
			m.RequireMaster = f.bool()
		}
		return nil
	})
}

type TransactionCommitCompleted struct {
	TransactionID    int64
	Result           OperationResult
	Message          string
	FirstEventNumber int64
	LastEventNumber  int64
	PreparePosition  int64
	CommitPosition   int64
}

func (m *TransactionCommitCompleted) Marshal() []byte {
	var e encoder
	e.int64(1, m.TransactionID)
	e.int32(2, int32(m.Result))
	e.string(3, m.Message)
	e.int64(4, m.FirstEventNumber)
	e.int64(5, m.LastEventNumber)
	e.int64(6, m.PreparePosition)
	e.int64(7, m.CommitPosition)
	return e.b
}

func (m *TransactionCommitCompleted) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.TransactionID = f.int64()
		case 2:
			m.Result = OperationResult(f.int32())
		case 3:
			m.Message = f.string()
		case 4:
			m.FirstEventNumber = f.int64()
		case 5:
			m.LastEventNumber = f.int64()
		case 6:
			m.PreparePosition = f.int64()
		case 7:
			m.CommitPosition = f.int64()
		}
		return nil
	})
}
