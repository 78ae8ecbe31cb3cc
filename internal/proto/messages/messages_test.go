package messages

import (
	"testing"

	"github.com/fujin-io/evstore/public/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteEvents_NegativeExpectedVersionAndRepeatedEvents(t *testing.T) {
	in := &WriteEvents{
		EventStreamID:   "orders-1",
		ExpectedVersion: types.ExpectedVersionNoStream,
		Events: []*NewEvent{
			NewEventFromData(types.NewJSONEvent("OrderPlaced", []byte(`{"id":1}`), nil)),
			NewEventFromData(types.EventData{EventID: uuid.New(), Type: "OrderPaid", Data: []byte{1}}),
		},
		RequireMaster: true,
	}

	var out WriteEvents
	require.NoError(t, out.Unmarshal(in.Marshal()))

	assert.Equal(t, "orders-1", out.EventStreamID)
	assert.Equal(t, int64(-1), out.ExpectedVersion)
	assert.True(t, out.RequireMaster)
	require.Len(t, out.Events, 2)
	assert.Equal(t, ContentTypeJSON, out.Events[0].DataContentType)
	assert.Equal(t, ContentTypeBinary, out.Events[1].DataContentType)
	assert.Equal(t, "OrderPaid", out.Events[1].EventType)
	assert.Nil(t, out.Events[0].Metadata)
}

func TestSubscriptionConfirmation_OptionalLastEventNumber(t *testing.T) {
	var withoutNumber SubscriptionConfirmation
	require.NoError(t, withoutNumber.Unmarshal((&SubscriptionConfirmation{LastCommitPosition: 42}).Marshal()))
	assert.Nil(t, withoutNumber.LastEventNumber)
	assert.Equal(t, int64(42), withoutNumber.LastCommitPosition)

	n := int64(7)
	var withNumber SubscriptionConfirmation
	require.NoError(t, withNumber.Unmarshal((&SubscriptionConfirmation{LastCommitPosition: 42, LastEventNumber: &n}).Marshal()))
	require.NotNil(t, withNumber.LastEventNumber)
	assert.Equal(t, int64(7), *withNumber.LastEventNumber)
}

func TestResolvedEvent_ToResolved(t *testing.T) {
	id := uuid.New()
	in := &StreamEventAppeared{Event: &ResolvedEvent{
		Event: &EventRecord{
			EventStreamID:   "orders-1",
			EventNumber:     3,
			EventID:         id[:],
			EventType:       "OrderShipped",
			DataContentType: ContentTypeJSON,
			Data:            []byte(`{}`),
			CreatedEpoch:    1700000000000,
		},
		CommitPosition:  100,
		PreparePosition: 99,
	}}

	var out StreamEventAppeared
	require.NoError(t, out.Unmarshal(in.Marshal()))
	ev := out.Event.ToResolved()

	require.NotNil(t, ev.Event)
	assert.Nil(t, ev.Link)
	assert.Equal(t, id, ev.Event.EventID)
	assert.Equal(t, int64(3), ev.OriginalEventNumber())
	assert.True(t, ev.Event.IsJSON)
	assert.Equal(t, types.Position{CommitPosition: 100, PreparePosition: 99}, *ev.OriginalPosition)
	assert.Equal(t, int64(1700000000000), ev.Event.Created.UnixMilli())
}

func TestNotHandled_MasterInfo(t *testing.T) {
	info := &MasterInfo{
		ExternalTCPAddress:       "10.0.0.2",
		ExternalTCPPort:          1113,
		ExternalSecureTCPAddress: "10.0.0.2",
		ExternalSecureTCPPort:    1115,
	}
	nh := &NotHandled{Reason: NotHandledNotMaster, AdditionalInfo: info.Marshal()}

	var out NotHandled
	require.NoError(t, out.Unmarshal(nh.Marshal()))
	var gotInfo MasterInfo
	require.NoError(t, gotInfo.Unmarshal(out.AdditionalInfo))

	assert.Equal(t, NotHandledNotMaster, out.Reason)
	assert.Equal(t, "10.0.0.2:1113", gotInfo.TCPEndpoint())
	assert.Equal(t, "10.0.0.2:1115", gotInfo.SecureEndpoint())
	assert.Equal(t, "", (&MasterInfo{ExternalTCPAddress: "h", ExternalTCPPort: 1}).SecureEndpoint())
}

func TestDecode_Malformed(t *testing.T) {
	var m ReadStreamEventsCompleted

	err := m.Unmarshal([]byte{0x0A, 0x05, 0x01})

	assert.ErrorIs(t, err, ErrMalformed)
}

func TestPersistentSubscriptionAckEvents_IDs(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	in := &PersistentSubscriptionAckEvents{SubscriptionID: "orders::group", ProcessedEventIDs: [][]byte{a[:], b[:]}}

	var out PersistentSubscriptionAckEvents
	require.NoError(t, out.Unmarshal(in.Marshal()))

	assert.Equal(t, "orders::group", out.SubscriptionID)
	assert.Equal(t, [][]byte{a[:], b[:]}, out.ProcessedEventIDs)
}
