// Package sundaegql provides GraphQL server utilities with built-in CORS,
// logging middleware, and common GraphQL scalar types.
//
// Queries and mutations are served over HTTP by the graph-gophers relay and
// over WebSocket by sundaews; subscriptions are WebSocket only and are
// backed by group broadcasts rather than resolver channels.
package sundaegql

import (
	"context"
	"encoding/json"

	sundaecli "github.com/SundaeSwap-finance/sundae-gqlws/sundae-cli"
	"github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws/groupchannel"
)

func AllowIntrospection() bool {
	return sundaecli.CommonOpts.Network != "mainnet" || sundaecli.CommonOpts.Console
}

type Resolver interface {
	Schema() string
	Config() *BaseConfig
}

// SubscriptionResolver is a Resolver whose schema has subscriptions. Its
// root subscription fields are served by Subscriptions, and their groups
// live on GroupChannel.
type SubscriptionResolver interface {
	Resolver
	Subscriptions() map[string]Subscription
	GroupChannel() groupchannel.Channel
}

// ConnectResolver may be implemented by a SubscriptionResolver to
// authenticate connection_init payloads.
type ConnectResolver interface {
	OnConnect(ctx context.Context, payload json.RawMessage) (context.Context, error)
}

// SubscriptionSchemaResolver may be implemented by a SubscriptionResolver to
// declare its Subscription type. The returned SDL is appended to Schema()
// and used to validate subscription operations.
type SubscriptionSchemaResolver interface {
	SubscriptionSchema() string
}
