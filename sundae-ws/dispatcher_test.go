package sundaews

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws/groupchannel"
	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

type outbox struct {
	mu   sync.Mutex
	msgs []OperationMessage
}

func (o *outbox) send(data []byte) {
	var msg OperationMessage
	_ = json.Unmarshal(data, &msg)
	o.mu.Lock()
	o.msgs = append(o.msgs, msg)
	o.mu.Unlock()
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.msgs)
}

func (o *outbox) get(i int) OperationMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.msgs[i]
}

// failingChannel rejects joins of one group.
type failingChannel struct {
	*groupchannel.Local
	reject string
}

func (f failingChannel) Join(ctx context.Context, group string, m groupchannel.Member) error {
	if group == f.reject {
		return errors.New("join refused")
	}
	return f.Local.Join(ctx, group, m)
}

func newTestDispatcher(ch groupchannel.Channel, exec Executor) (*Dispatcher, *outbox) {
	out := &outbox{}
	return &Dispatcher{
		ConnectionID: "conn-1",
		Channel:      ch,
		Executor:     exec,
		Logger:       zerolog.Nop(),
		Send:         out.send,
	}, out
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()

	t.Run("attach joins each group once", func(t *testing.T) {
		ch := groupchannel.NewLocal()
		d, _ := newTestDispatcher(ch, &testExecutor{})

		assert.NoError(t, d.Attach(ctx, &Record{OperationID: "1", Groups: []string{"a", "b"}}))
		assert.NoError(t, d.Attach(ctx, &Record{OperationID: "2", Groups: []string{"b"}}))
		assert.Equal(t, 1, ch.Members("a"))
		assert.Equal(t, 1, ch.Members("b"))

		assert.True(t, d.Detach(ctx, "2"))
		assert.Equal(t, 1, ch.Members("b"))
		assert.True(t, d.Detach(ctx, "1"))
		assert.Equal(t, 0, ch.Groups())
		assert.False(t, d.Detach(ctx, "1"))
	})

	t.Run("duplicate attach is rejected", func(t *testing.T) {
		d, _ := newTestDispatcher(groupchannel.NewLocal(), &testExecutor{})
		assert.NoError(t, d.Attach(ctx, &Record{OperationID: "1", Groups: []string{"a"}}))
		err := d.Attach(ctx, &Record{OperationID: "1", Groups: []string{"b"}})
		assert.True(t, errors.Is(err, ErrDuplicateOperation))
		assert.Equal(t, []string{"a"}, d.Groups())
	})

	t.Run("failed join rolls back", func(t *testing.T) {
		local := groupchannel.NewLocal()
		d, _ := newTestDispatcher(failingChannel{Local: local, reject: "c"}, &testExecutor{})

		err := d.Attach(ctx, &Record{OperationID: "1", Groups: []string{"a", "b", "c"}})
		assert.Error(t, err)
		assert.Equal(t, 0, local.Groups())
		_, ok := d.Lookup("1")
		assert.False(t, ok)
	})

	t.Run("events are dispatched in order", func(t *testing.T) {
		ch := groupchannel.NewLocal()
		d, out := newTestDispatcher(ch, &testExecutor{})
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go d.Run(runCtx)

		assert.NoError(t, d.Attach(ctx, &Record{OperationID: "1", Groups: []string{"g"}}))
		for i := 0; i < 20; i++ {
			assert.NoError(t, groupchannel.Broadcast(ctx, ch, "g", i))
		}
		eventually(t, func() bool { return out.len() == 20 })
		for i := 0; i < 20; i++ {
			msg := out.get(i)
			assert.Equal(t, MsgData, msg.Type)
			var n int
			assert.NoError(t, json.Unmarshal(msg.Payload, &n))
			assert.Equal(t, i, n)
		}
	})

	t.Run("terminate without hook detaches and completes", func(t *testing.T) {
		ch := groupchannel.NewLocal()
		d, out := newTestDispatcher(ch, &testExecutor{})
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go d.Run(runCtx)

		assert.NoError(t, d.Attach(ctx, &Record{OperationID: "1", Groups: []string{"g"}}))
		assert.NoError(t, groupchannel.Unsubscribe(ctx, ch, "g"))
		eventually(t, func() bool { return out.len() == 1 })
		assert.Equal(t, MsgComplete, out.get(0).Type)
		assert.Equal(t, "1", out.get(0).ID)
		assert.Equal(t, 0, ch.Groups())
	})

	t.Run("detach all", func(t *testing.T) {
		ch := groupchannel.NewLocal()
		d, _ := newTestDispatcher(ch, &testExecutor{})
		assert.NoError(t, d.Attach(ctx, &Record{OperationID: "1", Groups: []string{"a"}}))
		assert.NoError(t, d.Attach(ctx, &Record{OperationID: "2", Groups: []string{"b"}}))

		assert.Equal(t, []string{"1", "2"}, d.DetachAll(ctx))
		assert.Equal(t, 0, ch.Groups())
		assert.Empty(t, d.Groups())
	})

	t.Run("deliver never blocks", func(t *testing.T) {
		d, _ := newTestDispatcher(groupchannel.NewLocal(), &testExecutor{})
		done := make(chan struct{})
		go func() {
			for i := 0; i < 10000; i++ {
				d.Deliver(groupchannel.Event{Group: "g"})
			}
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(waitTimeout):
			t.Fatal("deliver blocked without a running dispatcher")
		}
	})
}
