package operations

import (
	"fmt"

	"github.com/fujin-io/evstore/internal/proto/messages"
	"github.com/fujin-io/evstore/internal/proto/tcp"
	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/types"
)

// writeVerdict maps the result code shared by every write-path reply.
// Timeouts on the server side are retried.
func writeVerdict(
	result messages.OperationResult, message, stream string, expected, current int64,
) (InspectionResult, error) {
	switch result {
	case messages.OperationSuccess:
		return endOperation("Success"), nil
	case messages.OperationPrepareTimeout:
		return retry("PrepareTimeout"), nil
	case messages.OperationCommitTimeout:
		return retry("CommitTimeout"), nil
	case messages.OperationForwardTimeout:
		return retry("ForwardTimeout"), nil
	case messages.OperationWrongExpectedVersion:
		return endOperation("WrongExpectedVersion"), &cerr.WrongExpectedVersionError{
			Stream:          stream,
			ExpectedVersion: expected,
			CurrentVersion:  current,
		}
	case messages.OperationStreamDeleted:
		return endOperation("StreamDeleted"), &cerr.StreamDeletedError{Stream: stream}
	case messages.OperationInvalidTransaction:
		return endOperation("InvalidTransaction"), cerr.ErrInvalidTransaction
	case messages.OperationAccessDenied:
		return endOperation("AccessDenied"), &cerr.AccessDeniedError{Resource: stream, Reason: message}
	default:
		return endOperation("Unexpected"), &cerr.ServerError{
			Message: fmt.Sprintf("unexpected operation result %d: %s", result, message),
		}
	}
}

func newEvents(events []types.EventData) []*messages.NewEvent {
	out := make([]*messages.NewEvent, 0, len(events))
	for _, e := range events {
		out = append(out, messages.NewEventFromData(e))
	}
	return out
}

type AppendToStream struct {
	*operation[types.WriteResult]
}

func NewAppendToStream(
	stream string, expectedVersion int64, events []types.EventData,
	requireMaster bool, creds *types.UserCredentials,
) *AppendToStream {
	req := &messages.WriteEvents{
		EventStreamID:   stream,
		ExpectedVersion: expectedVersion,
		Events:          newEvents(events),
		RequireMaster:   requireMaster,
	}
	respond := func(data []byte) (InspectionResult, types.WriteResult, error) {
		var resp messages.WriteEventsCompleted
		if err := resp.Unmarshal(data); err != nil {
			return InspectionResult{}, types.WriteResult{}, decodeFailed("write events completed", err)
		}
		res, err := writeVerdict(resp.Result, resp.Message, stream, expectedVersion, resp.CurrentVersion)
		return res, types.WriteResult{
			NextExpectedVersion: resp.LastEventNumber,
			LogPosition:         types.Position{CommitPosition: resp.CommitPosition, PreparePosition: resp.PreparePosition},
		}, err
	}
	return &AppendToStream{newOperation("AppendToStream",
		tcp.CMD_WRITE_EVENTS, tcp.CMD_WRITE_EVENTS_COMPLETED, creds, req, respond)}
}

type DeleteStream struct {
	*operation[types.DeleteResult]
}

func NewDeleteStream(
	stream string, expectedVersion int64, hardDelete, requireMaster bool, creds *types.UserCredentials,
) *DeleteStream {
	req := &messages.DeleteStream{
		EventStreamID:   stream,
		ExpectedVersion: expectedVersion,
		RequireMaster:   requireMaster,
		HardDelete:      hardDelete,
	}
	respond := func(data []byte) (InspectionResult, types.DeleteResult, error) {
		var resp messages.DeleteStreamCompleted
		if err := resp.Unmarshal(data); err != nil {
			return InspectionResult{}, types.DeleteResult{}, decodeFailed("delete stream completed", err)
		}
		res, err := writeVerdict(resp.Result, resp.Message, stream, expectedVersion, -1)
		return res, types.DeleteResult{
			LogPosition: types.Position{CommitPosition: resp.CommitPosition, PreparePosition: resp.PreparePosition},
		}, err
	}
	return &DeleteStream{newOperation("DeleteStream",
		tcp.CMD_DELETE_STREAM, tcp.CMD_DELETE_STREAM_COMPLETED, creds, req, respond)}
}

type StartTransaction struct {
	*operation[int64]
}

// NewStartTransaction resolves with the server assigned transaction id.
func NewStartTransaction(
	stream string, expectedVersion int64, requireMaster bool, creds *types.UserCredentials,
) *StartTransaction {
	req := &messages.TransactionStart{
		EventStreamID:   stream,
		ExpectedVersion: expectedVersion,
		RequireMaster:   requireMaster,
	}
	respond := func(data []byte) (InspectionResult, int64, error) {
		var resp messages.TransactionStartCompleted
		if err := resp.Unmarshal(data); err != nil {
			return InspectionResult{}, 0, decodeFailed("transaction start completed", err)
		}
		res, err := writeVerdict(resp.Result, resp.Message, stream, expectedVersion, -1)
		return res, resp.TransactionID, err
	}
	return &StartTransaction{newOperation("StartTransaction",
		tcp.CMD_TRANSACTION_START, tcp.CMD_TRANSACTION_START_COMPLETED, creds, req, respond)}
}

type TransactionalWrite struct {
	*operation[struct{}]
}

func NewTransactionalWrite(
	transactionID int64, events []types.EventData, requireMaster bool, creds *types.UserCredentials,
) *TransactionalWrite {
	req := &messages.TransactionWrite{
		TransactionID: transactionID,
		Events:        newEvents(events),
		RequireMaster: requireMaster,
	}
	resource := fmt.Sprintf("transaction %d", transactionID)
	respond := func(data []byte) (InspectionResult, struct{}, error) {
		var resp messages.TransactionWriteCompleted
		if err := resp.Unmarshal(data); err != nil {
			return InspectionResult{}, struct{}{}, decodeFailed("transaction write completed", err)
		}
		res, err := writeVerdict(resp.Result, resp.Message, resource, -1, -1)
		return res, struct{}{}, err
	}
	return &TransactionalWrite{newOperation("TransactionalWrite",
		tcp.CMD_TRANSACTION_WRITE, tcp.CMD_TRANSACTION_WRITE_COMPLETED, creds, req, respond)}
}

type CommitTransaction struct {
	*operation[types.WriteResult]
}

func NewCommitTransaction(transactionID int64, requireMaster bool, creds *types.UserCredentials) *CommitTransaction {
	req := &messages.TransactionCommit{
		TransactionID: transactionID,
		RequireMaster: requireMaster,
	}
	resource := fmt.Sprintf("transaction %d", transactionID)
	respond := func(data []byte) (InspectionResult, types.WriteResult, error) {
		var resp messages.TransactionCommitCompleted
		if err := resp.Unmarshal(data); err != nil {
			return InspectionResult{}, types.WriteResult{}, decodeFailed("transaction commit completed", err)
		}
		res, err := writeVerdict(resp.Result, resp.Message, resource, -1, -1)
		return res, types.WriteResult{
			NextExpectedVersion: resp.LastEventNumber,
			LogPosition:         types.Position{CommitPosition: resp.CommitPosition, PreparePosition: resp.PreparePosition},
		}, err
	}
	return &CommitTransaction{newOperation("CommitTransaction",
		tcp.CMD_TRANSACTION_COMMIT, tcp.CMD_TRANSACTION_COMMIT_COMPLETED, creds, req, respond)}
}
