package sundaecron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-gqlws/sundae-cli"
	"github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws/groupchannel"
	"github.com/tj/assert"
)

type member struct {
	events chan groupchannel.Event
}

func (m *member) MemberID() string { return "m" }

func (m *member) Deliver(event groupchannel.Event) { m.events <- event }

func TestBroadcastHandler(t *testing.T) {
	ctx := context.Background()
	service := sundaecli.NewService("test-cron")

	t.Run("broadcasts the payload", func(t *testing.T) {
		ch := groupchannel.NewLocal()
		m := &member{events: make(chan groupchannel.Event, 1)}
		assert.NoError(t, ch.Join(ctx, "heartbeat", m))

		h := NewBroadcastHandler(service, ch, "heartbeat", func(context.Context) (interface{}, error) {
			return map[string]int{"beat": 1}, nil
		})
		assert.NoError(t, h.RunOnce(ctx, nil))

		event := <-m.events
		assert.Equal(t, "heartbeat", event.Group)
		assert.JSONEq(t, `{"beat":1}`, string(event.Payload))
	})

	t.Run("payload errors abort the broadcast", func(t *testing.T) {
		ch := groupchannel.NewLocal()
		m := &member{events: make(chan groupchannel.Event, 1)}
		assert.NoError(t, ch.Join(ctx, "heartbeat", m))

		h := NewBroadcastHandler(service, ch, "heartbeat", func(context.Context) (interface{}, error) {
			return nil, errors.New("no data")
		})
		assert.Error(t, h.RunOnce(ctx, nil))
		assert.Len(t, m.events, 0)
	})

	t.Run("every runs until cancelled", func(t *testing.T) {
		var runs atomic.Int32
		h := NewHandler(service, func(context.Context) error {
			runs.Add(1)
			return nil
		})

		ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		assert.NoError(t, h.Every(ctx, 10*time.Millisecond))
		assert.True(t, runs.Load() >= 2)
	})
}
