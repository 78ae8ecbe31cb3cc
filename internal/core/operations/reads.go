package operations

import (
	"github.com/fujin-io/evstore/internal/proto/messages"
	"github.com/fujin-io/evstore/internal/proto/tcp"
	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/types"
)

type ReadEvent struct {
	*operation[types.EventReadResult]
}

func NewReadEvent(
	stream string, eventNumber int64, resolveLinkTos, requireMaster bool, creds *types.UserCredentials,
) *ReadEvent {
	req := &messages.ReadEvent{
		EventStreamID:  stream,
		EventNumber:    eventNumber,
		ResolveLinkTos: resolveLinkTos,
		RequireMaster:  requireMaster,
	}
	respond := func(data []byte) (InspectionResult, types.EventReadResult, error) {
		var resp messages.ReadEventCompleted
		if err := resp.Unmarshal(data); err != nil {
			return InspectionResult{}, types.EventReadResult{}, decodeFailed("read event completed", err)
		}

		out := types.EventReadResult{Stream: stream, EventNumber: eventNumber}
		switch resp.Result {
		case messages.ReadEventSuccess:
			out.Status = types.EventReadSuccess
			if resp.Event != nil {
				ev := resp.Event.ToResolved()
				out.Event = &ev
			}
			return endOperation("Success"), out, nil
		case messages.ReadEventNotFound:
			out.Status = types.EventReadNotFound
			return endOperation("NotFound"), out, nil
		case messages.ReadEventNoStream:
			out.Status = types.EventReadNoStream
			return endOperation("NoStream"), out, nil
		case messages.ReadEventStreamDeleted:
			out.Status = types.EventReadStreamDeleted
			return endOperation("StreamDeleted"), out, nil
		case messages.ReadEventAccessDenied:
			return endOperation("AccessDenied"), out, &cerr.AccessDeniedError{Resource: stream, Reason: resp.Error}
		default:
			return endOperation("Error"), out, &cerr.ServerError{Message: resp.Error}
		}
	}
	return &ReadEvent{newOperation("ReadEvent",
		tcp.CMD_READ_EVENT, tcp.CMD_READ_EVENT_COMPLETED, creds, req, respond)}
}

type ReadStreamEvents struct {
	*operation[types.StreamEventsSlice]
}

// NewReadStreamEvents reads up to maxCount events of one stream starting at
// from, in the given direction.
func NewReadStreamEvents(
	direction types.ReadDirection, stream string, from int64, maxCount int32,
	resolveLinkTos, requireMaster bool, creds *types.UserCredentials,
) *ReadStreamEvents {
	req := &messages.ReadStreamEvents{
		EventStreamID:   stream,
		FromEventNumber: from,
		MaxCount:        maxCount,
		ResolveLinkTos:  resolveLinkTos,
		RequireMaster:   requireMaster,
	}
	respond := func(data []byte) (InspectionResult, types.StreamEventsSlice, error) {
		var resp messages.ReadStreamEventsCompleted
		if err := resp.Unmarshal(data); err != nil {
			return InspectionResult{}, types.StreamEventsSlice{}, decodeFailed("read stream events completed", err)
		}

		slice := types.StreamEventsSlice{
			Stream:          stream,
			FromEventNumber: from,
			Direction:       direction,
			NextEventNumber: resp.NextEventNumber,
			LastEventNumber: resp.LastEventNumber,
			IsEndOfStream:   resp.IsEndOfStream,
		}
		switch resp.Result {
		case messages.ReadStreamSuccess, messages.ReadStreamNotModified:
			slice.Status = types.SliceReadSuccess
			slice.Events = make([]types.ResolvedEvent, 0, len(resp.Events))
			for _, ev := range resp.Events {
				slice.Events = append(slice.Events, ev.ToResolved())
			}
			return endOperation("Success"), slice, nil
		case messages.ReadStreamNoStream:
			slice.Status = types.SliceReadStreamNotFound
			slice.IsEndOfStream = true
			return endOperation("NoStream"), slice, nil
		case messages.ReadStreamStreamDeleted:
			slice.Status = types.SliceReadStreamDeleted
			slice.IsEndOfStream = true
			return endOperation("StreamDeleted"), slice, nil
		case messages.ReadStreamAccessDenied:
			return endOperation("AccessDenied"), slice, &cerr.AccessDeniedError{Resource: stream, Reason: resp.Error}
		default:
			return endOperation("Error"), slice, &cerr.ServerError{Message: resp.Error}
		}
	}

	reqCmd, respCmd := tcp.CMD_READ_STREAM_EVENTS_FORWARD, tcp.CMD_READ_STREAM_EVENTS_FORWARD_COMPLETED
	name := "ReadStreamEventsForward"
	if direction == types.Backward {
		reqCmd, respCmd = tcp.CMD_READ_STREAM_EVENTS_BACKWARD, tcp.CMD_READ_STREAM_EVENTS_BACKWARD_COMPLETED
		name = "ReadStreamEventsBackward"
	}
	return &ReadStreamEvents{newOperation(name, reqCmd, respCmd, creds, req, respond)}
}

type ReadAllEvents struct {
	*operation[types.AllEventsSlice]
}

func NewReadAllEvents(
	direction types.ReadDirection, from types.Position, maxCount int32,
	resolveLinkTos, requireMaster bool, creds *types.UserCredentials,
) *ReadAllEvents {
	req := &messages.ReadAllEvents{
		CommitPosition:  from.CommitPosition,
		PreparePosition: from.PreparePosition,
		MaxCount:        maxCount,
		ResolveLinkTos:  resolveLinkTos,
		RequireMaster:   requireMaster,
	}
	respond := func(data []byte) (InspectionResult, types.AllEventsSlice, error) {
		var resp messages.ReadAllEventsCompleted
		if err := resp.Unmarshal(data); err != nil {
			return InspectionResult{}, types.AllEventsSlice{}, decodeFailed("read all events completed", err)
		}

		slice := types.AllEventsSlice{
			Direction:    direction,
			FromPosition: types.Position{CommitPosition: resp.CommitPosition, PreparePosition: resp.PreparePosition},
			NextPosition: types.Position{CommitPosition: resp.NextCommitPosition, PreparePosition: resp.NextPreparePosition},
		}
		switch resp.Result {
		case messages.ReadAllSuccess, messages.ReadAllNotModified:
			slice.Events = make([]types.ResolvedEvent, 0, len(resp.Events))
			for _, ev := range resp.Events {
				slice.Events = append(slice.Events, ev.ToResolved())
			}
			return endOperation("Success"), slice, nil
		case messages.ReadAllAccessDenied:
			return endOperation("AccessDenied"), slice, &cerr.AccessDeniedError{Resource: "$all", Reason: resp.Error}
		default:
			return endOperation("Error"), slice, &cerr.ServerError{Message: resp.Error}
		}
	}

	reqCmd, respCmd := tcp.CMD_READ_ALL_EVENTS_FORWARD, tcp.CMD_READ_ALL_EVENTS_FORWARD_COMPLETED
	name := "ReadAllEventsForward"
	if direction == types.Backward {
		reqCmd, respCmd = tcp.CMD_READ_ALL_EVENTS_BACKWARD, tcp.CMD_READ_ALL_EVENTS_BACKWARD_COMPLETED
		name = "ReadAllEventsBackward"
	}
	return &ReadAllEvents{newOperation(name, reqCmd, respCmd, creds, req, respond)}
}
