package operations

import (
	"fmt"

	"github.com/fujin-io/evstore/internal/proto/messages"
	"github.com/fujin-io/evstore/internal/proto/tcp"
	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/types"
)

const strategyRoundRobin = "RoundRobin"

func settingsMessage(stream, group string, s types.PersistentSubscriptionSettings) *messages.PersistentSubscriptionSettings {
	return &messages.PersistentSubscriptionSettings{
		SubscriptionGroupName:      group,
		EventStreamID:              stream,
		ResolveLinkTos:             s.ResolveLinkTos,
		StartFrom:                  s.StartFrom,
		MessageTimeoutMilliseconds: int32(s.MessageTimeout.Milliseconds()),
		RecordStatistics:           s.ExtraStatistics,
		LiveBufferSize:             s.LiveBufferSize,
		ReadBatchSize:              s.ReadBatchSize,
		BufferSize:                 s.HistoryBufferSize,
		MaxRetryCount:              s.MaxRetryCount,
		PreferRoundRobin:           s.NamedConsumerStrategy == strategyRoundRobin,
		CheckpointAfterTime:        int32(s.CheckPointAfter.Milliseconds()),
		CheckpointMaxCount:         s.MaxCheckPointCount,
		CheckpointMinCount:         s.MinCheckPointCount,
		SubscriberMaxCount:         s.MaxSubscriberCount,
		NamedConsumerStrategy:      s.NamedConsumerStrategy,
	}
}

func persistentResource(stream, group string) string {
	return fmt.Sprintf("persistent subscription %s::%s", stream, group)
}

// The create, update and delete replies share one shape and the same result
// ordering: success, then the "exists" condition, then fail and access denied.
func persistentVerdict(kind string, exists error, resource string) responder[struct{}] {
	return func(data []byte) (InspectionResult, struct{}, error) {
		var resp messages.PersistentSubscriptionCompleted
		if err := resp.Unmarshal(data); err != nil {
			return InspectionResult{}, struct{}{}, decodeFailed(kind+" persistent subscription completed", err)
		}
		switch resp.Result {
		case int32(messages.CreatePersistentSuccess):
			return endOperation("Success"), struct{}{}, nil
		case int32(messages.CreatePersistentAlreadyExists):
			return endOperation(exists.Error()), struct{}{}, fmt.Errorf("%s: %w", resource, exists)
		case int32(messages.CreatePersistentFail):
			return endOperation("Fail"), struct{}{}, &cerr.ServerError{Message: resp.Reason}
		case int32(messages.CreatePersistentAccessDenied):
			return endOperation("AccessDenied"), struct{}{}, &cerr.AccessDeniedError{Resource: resource, Reason: resp.Reason}
		default:
			return endOperation("Unexpected"), struct{}{}, &cerr.ServerError{
				Message: fmt.Sprintf("unexpected %s result %d: %s", kind, resp.Result, resp.Reason),
			}
		}
	}
}

type CreatePersistentSubscription struct {
	*operation[struct{}]
}

func NewCreatePersistentSubscription(
	stream, group string, settings types.PersistentSubscriptionSettings, creds *types.UserCredentials,
) *CreatePersistentSubscription {
	resource := persistentResource(stream, group)
	return &CreatePersistentSubscription{newOperation("CreatePersistentSubscription",
		tcp.CMD_CREATE_PERSISTENT_SUBSCRIPTION, tcp.CMD_CREATE_PERSISTENT_SUBSCRIPTION_COMPLETED,
		creds, settingsMessage(stream, group, settings),
		persistentVerdict("create", cerr.ErrAlreadyExists, resource))}
}

type UpdatePersistentSubscription struct {
	*operation[struct{}]
}

func NewUpdatePersistentSubscription(
	stream, group string, settings types.PersistentSubscriptionSettings, creds *types.UserCredentials,
) *UpdatePersistentSubscription {
	resource := persistentResource(stream, group)
	return &UpdatePersistentSubscription{newOperation("UpdatePersistentSubscription",
		tcp.CMD_UPDATE_PERSISTENT_SUBSCRIPTION, tcp.CMD_UPDATE_PERSISTENT_SUBSCRIPTION_COMPLETED,
		creds, settingsMessage(stream, group, settings),
		persistentVerdict("update", cerr.ErrDoesNotExist, resource))}
}

type DeletePersistentSubscription struct {
	*operation[struct{}]
}

func NewDeletePersistentSubscription(stream, group string, creds *types.UserCredentials) *DeletePersistentSubscription {
	resource := persistentResource(stream, group)
	req := &messages.DeletePersistentSubscription{SubscriptionGroupName: group, EventStreamID: stream}
	return &DeletePersistentSubscription{newOperation("DeletePersistentSubscription",
		tcp.CMD_DELETE_PERSISTENT_SUBSCRIPTION, tcp.CMD_DELETE_PERSISTENT_SUBSCRIPTION_COMPLETED,
		creds, req, persistentVerdict("delete", cerr.ErrDoesNotExist, resource))}
}
