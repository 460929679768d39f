// Package groupchannel distributes group events to the connections that have
// joined a group, either inside one process or across processes through Redis
// pub/sub or a Kinesis stream.
package groupchannel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrClosed is returned by channels that have been shut down.
var ErrClosed = errors.New("group channel closed")

// Event is a message published to a group.
type Event struct {
	Group   string          `json:"group"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Terminate asks every subscription on Group to complete.
	Terminate bool `json:"terminate,omitempty"`
}

// Member receives events for the groups it has joined.
type Member interface {
	MemberID() string

	// Deliver must not block on other members.
	Deliver(event Event)
}

// Channel is the shared fan-out mechanism behind broadcasts.
type Channel interface {
	Join(ctx context.Context, group string, member Member) error
	Leave(ctx context.Context, group string, member Member) error
	Publish(ctx context.Context, event Event) error
}

// Broadcast publishes payload to every member of group.
func Broadcast(ctx context.Context, ch Channel, group string, payload interface{}) error {
	if group == "" {
		return fmt.Errorf("empty group name")
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling payload for group %v: %w", group, err)
	}
	return ch.Publish(ctx, Event{Group: group, Payload: b})
}

// Unsubscribe completes every subscription currently joined to group.
func Unsubscribe(ctx context.Context, ch Channel, group string) error {
	if group == "" {
		return fmt.Errorf("empty group name")
	}
	return ch.Publish(ctx, Event{Group: group, Terminate: true})
}
