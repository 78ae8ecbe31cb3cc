package tcp

import "fmt"

type Command byte

const (
	CMD_HEARTBEAT_REQUEST  Command = 0x01
	CMD_HEARTBEAT_RESPONSE Command = 0x02
	CMD_PING               Command = 0x03
	CMD_PONG               Command = 0x04

	CMD_WRITE_EVENTS           Command = 0x82
	CMD_WRITE_EVENTS_COMPLETED Command = 0x83

	CMD_TRANSACTION_START            Command = 0x84
	CMD_TRANSACTION_START_COMPLETED  Command = 0x85
	CMD_TRANSACTION_WRITE            Command = 0x86
	CMD_TRANSACTION_WRITE_COMPLETED  Command = 0x87
	CMD_TRANSACTION_COMMIT           Command = 0x88
	CMD_TRANSACTION_COMMIT_COMPLETED Command = 0x89

	CMD_DELETE_STREAM           Command = 0x8A
	CMD_DELETE_STREAM_COMPLETED Command = 0x8B

	CMD_READ_EVENT                            Command = 0xB0
	CMD_READ_EVENT_COMPLETED                  Command = 0xB1
	CMD_READ_STREAM_EVENTS_FORWARD            Command = 0xB2
	CMD_READ_STREAM_EVENTS_FORWARD_COMPLETED  Command = 0xB3
	CMD_READ_STREAM_EVENTS_BACKWARD           Command = 0xB4
	CMD_READ_STREAM_EVENTS_BACKWARD_COMPLETED Command = 0xB5
	CMD_READ_ALL_EVENTS_FORWARD               Command = 0xB6
	CMD_READ_ALL_EVENTS_FORWARD_COMPLETED     Command = 0xB7
	CMD_READ_ALL_EVENTS_BACKWARD              Command = 0xB8
	CMD_READ_ALL_EVENTS_BACKWARD_COMPLETED    Command = 0xB9

	CMD_SUBSCRIBE_TO_STREAM       Command = 0xC0
	CMD_SUBSCRIPTION_CONFIRMATION Command = 0xC1
	CMD_STREAM_EVENT_APPEARED     Command = 0xC2
	CMD_UNSUBSCRIBE_FROM_STREAM   Command = 0xC3
	CMD_SUBSCRIPTION_DROPPED      Command = 0xC4

	CMD_CONNECT_TO_PERSISTENT_SUBSCRIPTION            Command = 0xC5
	CMD_PERSISTENT_SUBSCRIPTION_CONFIRMATION          Command = 0xC6
	CMD_PERSISTENT_SUBSCRIPTION_STREAM_EVENT_APPEARED Command = 0xC7
	CMD_CREATE_PERSISTENT_SUBSCRIPTION                Command = 0xC8
	CMD_CREATE_PERSISTENT_SUBSCRIPTION_COMPLETED      Command = 0xC9
	CMD_DELETE_PERSISTENT_SUBSCRIPTION                Command = 0xCA
	CMD_DELETE_PERSISTENT_SUBSCRIPTION_COMPLETED      Command = 0xCB
	CMD_PERSISTENT_SUBSCRIPTION_ACK_EVENTS            Command = 0xCC
	CMD_PERSISTENT_SUBSCRIPTION_NAK_EVENTS            Command = 0xCD
	CMD_UPDATE_PERSISTENT_SUBSCRIPTION                Command = 0xCE
	CMD_UPDATE_PERSISTENT_SUBSCRIPTION_COMPLETED      Command = 0xCF

	CMD_BAD_REQUEST       Command = 0xF0
	CMD_NOT_HANDLED       Command = 0xF1
	CMD_AUTHENTICATE      Command = 0xF2
	CMD_AUTHENTICATED     Command = 0xF3
	CMD_NOT_AUTHENTICATED Command = 0xF4
	CMD_IDENTIFY_CLIENT   Command = 0xF5
	CMD_CLIENT_IDENTIFIED Command = 0xF6
)

var commandNames = map[Command]string{
	CMD_HEARTBEAT_REQUEST:  "HeartbeatRequest",
	CMD_HEARTBEAT_RESPONSE: "HeartbeatResponse",
	CMD_PING:               "Ping",
	CMD_PONG:               "Pong",

	CMD_WRITE_EVENTS:           "WriteEvents",
	CMD_WRITE_EVENTS_COMPLETED: "WriteEventsCompleted",

	CMD_TRANSACTION_START:            "TransactionStart",
	CMD_TRANSACTION_START_COMPLETED:  "TransactionStartCompleted",
	CMD_TRANSACTION_WRITE:            "TransactionWrite",
	CMD_TRANSACTION_WRITE_COMPLETED:  "TransactionWriteCompleted",
	CMD_TRANSACTION_COMMIT:           "TransactionCommit",
	CMD_TRANSACTION_COMMIT_COMPLETED: "TransactionCommitCompleted",

	CMD_DELETE_STREAM:           "DeleteStream",
	CMD_DELETE_STREAM_COMPLETED: "DeleteStreamCompleted",

	CMD_READ_EVENT:                            "ReadEvent",
	CMD_READ_EVENT_COMPLETED:                  "ReadEventCompleted",
	CMD_READ_STREAM_EVENTS_FORWARD:            "ReadStreamEventsForward",
	CMD_READ_STREAM_EVENTS_FORWARD_COMPLETED:  "ReadStreamEventsForwardCompleted",
	CMD_READ_STREAM_EVENTS_BACKWARD:           "ReadStreamEventsBackward",
	CMD_READ_STREAM_EVENTS_BACKWARD_COMPLETED: "ReadStreamEventsBackwardCompleted",
	CMD_READ_ALL_EVENTS_FORWARD:               "ReadAllEventsForward",
	CMD_READ_ALL_EVENTS_FORWARD_COMPLETED:     "ReadAllEventsForwardCompleted",
	CMD_READ_ALL_EVENTS_BACKWARD:              "ReadAllEventsBackward",
	CMD_READ_ALL_EVENTS_BACKWARD_COMPLETED:    "ReadAllEventsBackwardCompleted",

	CMD_SUBSCRIBE_TO_STREAM:       "SubscribeToStream",
	CMD_SUBSCRIPTION_CONFIRMATION: "SubscriptionConfirmation",
	CMD_STREAM_EVENT_APPEARED:     "StreamEventAppeared",
	CMD_UNSUBSCRIBE_FROM_STREAM:   "UnsubscribeFromStream",
	CMD_SUBSCRIPTION_DROPPED:      "SubscriptionDropped",

	CMD_CONNECT_TO_PERSISTENT_SUBSCRIPTION:            "ConnectToPersistentSubscription",
	CMD_PERSISTENT_SUBSCRIPTION_CONFIRMATION:          "PersistentSubscriptionConfirmation",
	CMD_PERSISTENT_SUBSCRIPTION_STREAM_EVENT_APPEARED: "PersistentSubscriptionStreamEventAppeared",
	CMD_CREATE_PERSISTENT_SUBSCRIPTION:                "CreatePersistentSubscription",
	CMD_CREATE_PERSISTENT_SUBSCRIPTION_COMPLETED:      "CreatePersistentSubscriptionCompleted",
	CMD_DELETE_PERSISTENT_SUBSCRIPTION:                "DeletePersistentSubscription",
	CMD_DELETE_PERSISTENT_SUBSCRIPTION_COMPLETED:      "DeletePersistentSubscriptionCompleted",
	CMD_PERSISTENT_SUBSCRIPTION_ACK_EVENTS:            "PersistentSubscriptionAckEvents",
	CMD_PERSISTENT_SUBSCRIPTION_NAK_EVENTS:            "PersistentSubscriptionNakEvents",
	CMD_UPDATE_PERSISTENT_SUBSCRIPTION:                "UpdatePersistentSubscription",
	CMD_UPDATE_PERSISTENT_SUBSCRIPTION_COMPLETED:      "UpdatePersistentSubscriptionCompleted",

	CMD_BAD_REQUEST:       "BadRequest",
	CMD_NOT_HANDLED:       "NotHandled",
	CMD_AUTHENTICATE:      "Authenticate",
	CMD_AUTHENTICATED:     "Authenticated",
	CMD_NOT_AUTHENTICATED: "NotAuthenticated",
	CMD_IDENTIFY_CLIENT:   "IdentifyClient",
	CMD_CLIENT_IDENTIFIED: "ClientIdentified",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(0x%02X)", byte(c))
}

type Flags byte

const (
	FLAG_NONE          Flags = 0x00
	FLAG_AUTHENTICATED Flags = 0x01
)
