package sundaegql

import (
	"context"
	"encoding/json"
	"fmt"

	sundaews "github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws"
	"github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws/groupchannel"
	"github.com/graph-gophers/graphql-go"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/validator"
)

// Subscription implements one root field of the subscription type.
type Subscription interface {
	// Subscribe returns the groups a subscriber with args joins.
	Subscribe(ctx context.Context, args map[string]interface{}) ([]string, error)

	// Publish turns a group payload into the field's value for one
	// subscriber. Returning sundaews.ErrSuppress skips the subscriber;
	// sundaews.ErrUnsubscribe ends the subscription.
	Publish(ctx context.Context, args map[string]interface{}, payload json.RawMessage) (interface{}, error)
}

// SubscriptionFunc adapts a pair of functions to Subscription.
type SubscriptionFunc struct {
	SubscribeFunc func(ctx context.Context, args map[string]interface{}) ([]string, error)
	PublishFunc   func(ctx context.Context, args map[string]interface{}, payload json.RawMessage) (interface{}, error)
}

func (f SubscriptionFunc) Subscribe(ctx context.Context, args map[string]interface{}) ([]string, error) {
	return f.SubscribeFunc(ctx, args)
}

func (f SubscriptionFunc) Publish(ctx context.Context, args map[string]interface{}, payload json.RawMessage) (interface{}, error) {
	if f.PublishFunc == nil {
		var v interface{}
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return f.PublishFunc(ctx, args, payload)
}

// Executor runs queries and mutations on a graph-gophers schema and routes
// subscriptions to Subscriptions by root field name.
type Executor struct {
	Schema        *graphql.Schema
	Subscriptions map[string]Subscription

	// SubscriptionSchema, when set, validates subscription documents and
	// variables and supplies argument defaults. Without it only the root
	// field name is checked.
	SubscriptionSchema *ast.Schema
}

func NewExecutor(schema *graphql.Schema, subscriptions map[string]Subscription) *Executor {
	return &Executor{
		Schema:        schema,
		Subscriptions: subscriptions,
	}
}

func (e *Executor) Parse(_ context.Context, payload sundaews.StartPayload) (*sundaews.Operation, error) {
	op, err := ParseOperation(payload)
	if err != nil {
		return nil, err
	}
	if op.Kind == sundaews.KindSubscription {
		sub, ok := e.Subscriptions[op.Field]
		if !ok {
			return nil, fmt.Errorf("unknown subscription field %v", op.Field)
		}
		op.Context = sub

		if e.SubscriptionSchema != nil {
			if err := e.validateSubscription(payload, op); err != nil {
				return nil, err
			}
		}
	}
	return op, nil
}

func (e *Executor) validateSubscription(payload sundaews.StartPayload, op *sundaews.Operation) error {
	doc, errs := gqlparser.LoadQueryWithRules(e.SubscriptionSchema, payload.Query, nil)
	if len(errs) > 0 {
		return fmt.Errorf("invalid subscription: %w", errs)
	}
	def := doc.Operations.ForName(payload.OperationName)
	if def == nil {
		return fmt.Errorf("unknown operation %v", payload.OperationName)
	}
	if _, err := validator.VariableValues(e.SubscriptionSchema, def, payload.Variables); err != nil {
		return fmt.Errorf("invalid variables: %w", err)
	}

	field := e.SubscriptionSchema.Subscription.Fields.ForName(op.Field)
	if field == nil {
		return fmt.Errorf("unknown subscription field %v", op.Field)
	}
	for _, arg := range field.Arguments {
		if _, ok := op.Args[arg.Name]; ok || arg.DefaultValue == nil {
			continue
		}
		value, err := arg.DefaultValue.Value(nil)
		if err != nil {
			return fmt.Errorf("default value of %v: %w", arg.Name, err)
		}
		op.Args[arg.Name] = value
	}
	return nil
}

// LoadSubscriptionSchema loads sdl with gqlparser for subscription
// validation. sdl must declare a Subscription type; it need not be listed
// in the schema block, which graph-gophers would reject.
func LoadSubscriptionSchema(sdl string) (*ast.Schema, error) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "subscriptions.gql", Input: sdl})
	if err != nil {
		return nil, fmt.Errorf("loading subscription schema: %w", err)
	}
	if schema.Subscription == nil {
		schema.Subscription = schema.Types["Subscription"]
	}
	if schema.Subscription == nil {
		return nil, fmt.Errorf("subscription schema has no Subscription type")
	}
	return schema, nil
}

// Execute returns the schema's *graphql.Response; field errors travel inside
// it rather than as an error.
func (e *Executor) Execute(ctx context.Context, op *sundaews.Operation) (interface{}, error) {
	if e.Schema == nil {
		return nil, fmt.Errorf("no schema to execute %v against", op.Kind)
	}
	return e.Schema.Exec(ctx, op.Query, op.OperationName, op.Variables), nil
}

func (e *Executor) Subscribe(ctx context.Context, op *sundaews.Operation) ([]string, error) {
	sub, err := subscriptionOf(op)
	if err != nil {
		return nil, err
	}
	groups, err := sub.Subscribe(ctx, op.Args)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %v: %w", op.Field, err)
	}
	return groups, nil
}

// Publish wraps the subscription's value as {"data": {field: value}}.
func (e *Executor) Publish(ctx context.Context, op *sundaews.Operation, event groupchannel.Event) (interface{}, error) {
	sub, err := subscriptionOf(op)
	if err != nil {
		return nil, err
	}
	v, err := sub.Publish(ctx, op.Args, event.Payload)
	if err != nil {
		return nil, err
	}

	key := op.Field
	if op.Alias != "" {
		key = op.Alias
	}
	return map[string]interface{}{
		"data": map[string]interface{}{key: v},
	}, nil
}

func subscriptionOf(op *sundaews.Operation) (Subscription, error) {
	sub, ok := op.Context.(Subscription)
	if !ok {
		return nil, fmt.Errorf("%v is not a subscription", op.Field)
	}
	return sub, nil
}
