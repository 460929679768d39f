package sundaews

import (
	"context"
	"errors"

	"github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws/groupchannel"
)

var (
	// ErrSuppress is returned by Executor.Publish to skip one subscriber for
	// one event.
	ErrSuppress = errors.New("notification suppressed")

	// ErrUnsubscribe is returned by Executor.Publish to complete the
	// subscription.
	ErrUnsubscribe = errors.New("subscription terminated")
)

// OperationKind is the GraphQL operation type of a start message.
type OperationKind string

const (
	KindQuery        OperationKind = "query"
	KindMutation     OperationKind = "mutation"
	KindSubscription OperationKind = "subscription"
)

// Operation is a classified start message.
type Operation struct {
	ID            string
	Kind          OperationKind
	Query         string
	OperationName string
	Variables     map[string]interface{}

	// Field and Args describe the first root field of the operation. Alias
	// is the field's response key when it differs from Field.
	Field string
	Alias string
	Args  map[string]interface{}

	// Context is opaque state an Executor keeps between Subscribe and Publish.
	Context interface{}
}

// Executor is the GraphQL engine seen by a connection.
type Executor interface {
	// Parse classifies a start payload.
	Parse(ctx context.Context, payload StartPayload) (*Operation, error)

	// Execute runs a query or mutation. The result is sent as the data payload.
	Execute(ctx context.Context, op *Operation) (interface{}, error)

	// Subscribe returns the groups a subscription joins, or rejects it.
	Subscribe(ctx context.Context, op *Operation) ([]string, error)

	// Publish computes the data payload of one notification. It returns
	// ErrSuppress to skip this subscriber, ErrUnsubscribe to end the
	// subscription.
	Publish(ctx context.Context, op *Operation, event groupchannel.Event) (interface{}, error)
}
