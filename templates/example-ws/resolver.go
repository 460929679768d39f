package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	sundaecli "github.com/SundaeSwap-finance/sundae-gqlws/sundae-cli"
	sundaegql "github.com/SundaeSwap-finance/sundae-gqlws/sundae-gql"
	sundaews "github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws"
	"github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws/groupchannel"
	"github.com/google/uuid"
	"github.com/graph-gophers/graphql-go"
)

//go:embed example.gql
var schema string

//go:embed subscriptions.gql
var subscriptionSchema string

type Resolver struct {
	config  *sundaegql.BaseConfig
	channel groupchannel.Channel
}

func NewResolver(config *sundaegql.BaseConfig, channel groupchannel.Channel) *Resolver {
	return &Resolver{
		config:  config,
		channel: channel,
	}
}

func (r *Resolver) Schema() string {
	return sundaegql.MergeSchemas(schema, sundaegql.Common)
}

func (r *Resolver) SubscriptionSchema() string {
	return subscriptionSchema
}

func (r *Resolver) Config() *sundaegql.BaseConfig {
	return r.config
}

func (r *Resolver) GroupChannel() groupchannel.Channel {
	return r.channel
}

func (r *Resolver) Subscriptions() map[string]sundaegql.Subscription {
	return map[string]sundaegql.Subscription{
		"messageSent": messageSent{},
		"heartbeat":   heartbeat,
	}
}

func (r *Resolver) Hello() string {
	return "world!"
}

type Message struct {
	ID     graphql.ID      `json:"id"`
	Room   graphql.ID      `json:"room"`
	Text   string          `json:"text"`
	Sender string          `json:"sender"`
	Meta   *sundaegql.JSON `json:"meta,omitempty"`
}

// envelope is the group payload of a sent message. Origin is the connection
// that sent it, so that connection is not echoed its own message.
type envelope struct {
	Origin  string  `json:"origin,omitempty"`
	Message Message `json:"message"`
}

const heartbeatGroup = "heartbeat"

type Heartbeat struct {
	Timestamp string `json:"timestamp"`
}

func roomGroup(room string) string {
	return "room:" + room
}

func (r *Resolver) SendMessage(ctx context.Context, args struct {
	Room graphql.ID
	Text string
}) (*Message, error) {
	origin := sundaews.ConnectionID(ctx)
	msg := Message{
		ID:     graphql.ID(uuid.NewString()),
		Room:   args.Room,
		Text:   args.Text,
		Sender: origin,
	}

	if err := groupchannel.Broadcast(ctx, r.channel, roomGroup(string(args.Room)), envelope{
		Origin:  origin,
		Message: msg,
	}); err != nil {
		return nil, fmt.Errorf("sending message to %v: %w", args.Room, err)
	}
	if r.config.Metrics != nil {
		r.config.Metrics.Event(ctx, sundaecli.GroupBroadcastMetric, map[sundaecli.DimensionName]string{
			sundaecli.OperationNameDimension: "sendMessage",
		})
	}
	return &msg, nil
}

func (r *Resolver) CloseRoom(ctx context.Context, args struct{ Room graphql.ID }) (bool, error) {
	if err := groupchannel.Unsubscribe(ctx, r.channel, roomGroup(string(args.Room))); err != nil {
		return false, fmt.Errorf("closing room %v: %w", args.Room, err)
	}
	return true, nil
}

var heartbeat = sundaegql.SubscriptionFunc{
	SubscribeFunc: func(context.Context, map[string]interface{}) ([]string, error) {
		return []string{heartbeatGroup}, nil
	},
}

type messageSent struct{}

func (messageSent) Subscribe(_ context.Context, args map[string]interface{}) ([]string, error) {
	room, ok := args["room"].(string)
	if !ok || room == "" {
		return nil, fmt.Errorf("room is required")
	}
	return []string{roomGroup(room)}, nil
}

func (messageSent) Publish(ctx context.Context, args map[string]interface{}, payload json.RawMessage) (interface{}, error) {
	var e envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}
	echo, _ := args["echo"].(bool)
	if !echo && e.Origin != "" && e.Origin == sundaews.ConnectionID(ctx) {
		return nil, sundaews.ErrSuppress
	}
	return e.Message, nil
}
