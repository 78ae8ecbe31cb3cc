package messages

type SubscriptionDropReason int32

const (
	DropUnsubscribed SubscriptionDropReason = iota
	DropAccessDenied
	DropNotFound
	DropPersistentSubscriptionDeleted
	DropSubscriberMaxCountReached
)

type SubscribeToStream struct {
	EventStreamID  string
	ResolveLinkTos bool
}

func (m *SubscribeToStream) Marshal() []byte {
	var e encoder
	e.string(1, m.EventStreamID)
	e.bool(2, m.ResolveLinkTos)
	return e.b
}

func (m *SubscribeToStream) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.EventStreamID = f.string()
		case 2:
			m.ResolveLinkTos = f.bool()
		}
		return nil
	})
}

type SubscriptionConfirmation struct {
	LastCommitPosition int64
	LastEventNumber    *int64
}

func (m *SubscriptionConfirmation) Marshal() []byte {
	var e encoder
	e.int64(1, m.LastCommitPosition)
	if m.LastEventNumber != nil {
		e.int64(2, *m.LastEventNumber)
	}
	return e.b
}

func (m *SubscriptionConfirmation) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.LastCommitPosition = f.int64()
		case 2:
			v := f.int64()
			m.LastEventNumber = &v
		}
		return nil
	})
}

type StreamEventAppeared struct {
	Event *ResolvedEvent
}

func (m *StreamEventAppeared) Marshal() []byte {
	var e encoder
	ev := m.Event
	if ev == nil {
		ev = &ResolvedEvent{}
	}
	e.message(1, ev)
	return e.b
}

func (m *StreamEventAppeared) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		if f.num == 1 {
			m.Event = &ResolvedEvent{}
			return m.Event.Unmarshal(f.v)
		}
		return nil
	})
}

type UnsubscribeFromStream struct{}

func (m *UnsubscribeFromStream) Marshal() []byte          { return nil }
func (m *UnsubscribeFromStream) Unmarshal(_ []byte) error { return nil }

type SubscriptionDropped struct {
	Reason SubscriptionDropReason
}

func (m *SubscriptionDropped) Marshal() []byte {
	var e encoder
	e.int32(1, int32(m.Reason))
	return e.b
}

func (m *SubscriptionDropped) Unmarshal(b []byte) error {
	return decode(b, func(f field) error {
		if f.num == 1 {
			m.Reason = SubscriptionDropReason(f.int32())
		}
		return nil
	})
}
