// Package operations holds single request/response units carried over the
// connection: each builds one request frame and inspects the frames routed
// back to it by correlation id.
package operations

import (
	"fmt"

	"github.com/fujin-io/evstore/internal/common/promise"
	"github.com/fujin-io/evstore/internal/proto/messages"
	"github.com/fujin-io/evstore/internal/proto/tcp"
	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/types"
	"github.com/google/uuid"
)

type InspectionDecision byte

const (
	DecisionDoNothing InspectionDecision = iota
	DecisionEndOperation
	DecisionRetry
	DecisionReconnect
	DecisionSubscribed
)

func (d InspectionDecision) String() string {
	switch d {
	case DecisionDoNothing:
		return "DoNothing"
	case DecisionEndOperation:
		return "EndOperation"
	case DecisionRetry:
		return "Retry"
	case DecisionReconnect:
		return "Reconnect"
	case DecisionSubscribed:
		return "Subscribed"
	default:
		return fmt.Sprintf("InspectionDecision(%d)", byte(d))
	}
}

// InspectionResult is the verdict on one inbound frame. Endpoints is set
// only for DecisionReconnect.
type InspectionResult struct {
	Decision    InspectionDecision
	Description string
	Endpoints   *types.NodeEndpoints
}

func endOperation(desc string) InspectionResult {
	return InspectionResult{Decision: DecisionEndOperation, Description: desc}
}

func retry(desc string) InspectionResult {
	return InspectionResult{Decision: DecisionRetry, Description: desc}
}

// Operation is the contract the operations manager drives.
type Operation interface {
	// Name is used in logs, metrics and errors.
	Name() string
	CreateNetworkPackage(correlationID uuid.UUID) (*tcp.Package, error)
	InspectPackage(pkg *tcp.Package) InspectionResult
	// Fail completes the operation with err. Completing twice is a no-op.
	Fail(err error)
}

// responder interprets the payload of the expected response. A non-nil
// error fails the operation; DecisionEndOperation with a nil error
// completes it with the value.
type responder[T any] func(data []byte) (InspectionResult, T, error)

type operation[T any] struct {
	name        string
	requestCmd  tcp.Command
	responseCmd tcp.Command
	creds       *types.UserCredentials
	request     messages.Message
	respond     responder[T]
	result      *promise.Promise[T]
}

func newOperation[T any](
	name string, requestCmd, responseCmd tcp.Command,
	creds *types.UserCredentials, request messages.Message, respond responder[T],
) *operation[T] {
	return &operation[T]{
		name:        name,
		requestCmd:  requestCmd,
		responseCmd: responseCmd,
		creds:       creds,
		request:     request,
		respond:     respond,
		result:      promise.New[T](),
	}
}

func (o *operation[T]) Name() string { return o.name }

// Result is completed exactly once with the decoded reply or a typed error.
func (o *operation[T]) Result() *promise.Promise[T] { return o.result }

func (o *operation[T]) CreateNetworkPackage(correlationID uuid.UUID) (*tcp.Package, error) {
	return tcp.NewPackage(o.requestCmd, correlationID, o.creds, o.request.Marshal()), nil
}

func (o *operation[T]) Fail(err error) {
	o.result.Reject(err)
}

func (o *operation[T]) InspectPackage(pkg *tcp.Package) InspectionResult {
	if pkg.Command == o.responseCmd {
		res, v, err := o.respond(pkg.Data)
		if err != nil {
			o.Fail(err)
			return endOperation(err.Error())
		}
		if res.Decision == DecisionEndOperation {
			o.result.Resolve(v)
		}
		return res
	}

	res, err := InspectUnexpected(pkg, o.responseCmd)
	if err != nil {
		o.Fail(err)
	}
	return res
}

// InspectUnexpected handles the frames any operation may receive instead of
// its expected reply. A non-nil error means the operation must fail.
func InspectUnexpected(pkg *tcp.Package, expected tcp.Command) (InspectionResult, error) {
	switch pkg.Command {
	case tcp.CMD_NOT_AUTHENTICATED:
		err := &cerr.NotAuthenticatedError{Message: string(pkg.Data)}
		return endOperation("NotAuthenticated"), err
	case tcp.CMD_BAD_REQUEST:
		err := &cerr.ServerError{Message: string(pkg.Data)}
		return endOperation("BadRequest"), err
	case tcp.CMD_NOT_HANDLED:
		return InspectNotHandled(pkg)
	default:
		err := &cerr.UnexpectedCommandError{Expected: expected.String(), Actual: pkg.Command.String()}
		return endOperation(err.Error()), err
	}
}

// InspectNotHandled maps NotReady and TooBusy to a local retry and
// NotMaster to a reconnect towards the advertised master.
func InspectNotHandled(pkg *tcp.Package) (InspectionResult, error) {
	var nh messages.NotHandled
	if err := nh.Unmarshal(pkg.Data); err != nil {
		return endOperation("malformed NotHandled"), fmt.Errorf("decode not handled: %w", err)
	}

	switch nh.Reason {
	case messages.NotHandledNotReady:
		return retry("NotHandled - NotReady"), nil
	case messages.NotHandledTooBusy:
		return retry("NotHandled - TooBusy"), nil
	case messages.NotHandledNotMaster:
		var mi messages.MasterInfo
		if err := mi.Unmarshal(nh.AdditionalInfo); err != nil {
			return endOperation("malformed MasterInfo"), fmt.Errorf("decode master info: %w", err)
		}
		return InspectionResult{
			Decision:    DecisionReconnect,
			Description: "NotHandled - NotMaster",
			Endpoints: &types.NodeEndpoints{
				TCPEndpoint:    mi.TCPEndpoint(),
				SecureEndpoint: mi.SecureEndpoint(),
			},
		}, nil
	default:
		return retry(fmt.Sprintf("NotHandled - unknown reason %d", nh.Reason)), nil
	}
}

func decodeFailed(name string, err error) error {
	return fmt.Errorf("decode %s: %w", name, err)
}
