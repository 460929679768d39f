package sundaews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws/groupchannel"
	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

const waitTimeout = 2 * time.Second

// pipeTransport is an in-memory Transport. The test writes client frames to
// in and reads server frames from out.
type pipeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (p *pipeTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.closed:
		return nil, io.EOF
	}
}

func (p *pipeTransport) WriteMessage(_ context.Context, data []byte) error {
	select {
	case <-p.closed:
		return errors.New("transport closed")
	default:
	}
	select {
	case p.out <- data:
		return nil
	case <-p.closed:
		return errors.New("transport closed")
	}
}

func (p *pipeTransport) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeTransport) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// testExecutor classifies queries of the form "<kind> <field>". Groups
// default to the field name and notifications to the raw payload.
type testExecutor struct {
	execute   func(ctx context.Context, op *Operation) (interface{}, error)
	subscribe func(ctx context.Context, op *Operation) ([]string, error)
	publish   func(ctx context.Context, op *Operation, event groupchannel.Event) (interface{}, error)
}

func (e *testExecutor) Parse(_ context.Context, payload StartPayload) (*Operation, error) {
	parts := strings.Fields(payload.Query)
	if len(parts) != 2 {
		return nil, fmt.Errorf("cannot parse %q", payload.Query)
	}
	op := &Operation{
		Query:         payload.Query,
		OperationName: payload.OperationName,
		Variables:     payload.Variables,
		Field:         parts[1],
		Args:          payload.Variables,
	}
	switch parts[0] {
	case "query":
		op.Kind = KindQuery
	case "mutation":
		op.Kind = KindMutation
	case "subscription":
		op.Kind = KindSubscription
	default:
		return nil, fmt.Errorf("unknown kind %v", parts[0])
	}
	return op, nil
}

func (e *testExecutor) Execute(ctx context.Context, op *Operation) (interface{}, error) {
	if e.execute != nil {
		return e.execute(ctx, op)
	}
	return map[string]interface{}{"data": map[string]interface{}{op.Field: true}}, nil
}

func (e *testExecutor) Subscribe(ctx context.Context, op *Operation) ([]string, error) {
	if e.subscribe != nil {
		return e.subscribe(ctx, op)
	}
	return []string{op.Field}, nil
}

func (e *testExecutor) Publish(ctx context.Context, op *Operation, event groupchannel.Event) (interface{}, error) {
	if e.publish != nil {
		return e.publish(ctx, op, event)
	}
	return event.Payload, nil
}

type testClient struct {
	t         *testing.T
	conn      *Conn
	transport *pipeTransport
	done      chan struct{}
	err       error
}

func newTestServer(exec Executor, ch groupchannel.Channel, config Config) *Server {
	return &Server{
		Executor: exec,
		Channel:  ch,
		Config:   config,
		Logger:   zerolog.Nop(),
	}
}

func startClient(t *testing.T, server *Server) *testClient {
	t.Helper()
	transport := newPipeTransport()
	c := &testClient{
		t:         t,
		conn:      server.NewConn(transport),
		transport: transport,
		done:      make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		c.err = c.conn.Serve(context.Background())
	}()
	t.Cleanup(func() {
		transport.Close()
		select {
		case <-c.done:
		case <-time.After(waitTimeout):
		}
	})
	return c
}

func (c *testClient) sendRaw(frame string) {
	c.transport.in <- []byte(frame)
}

func (c *testClient) send(id, typ string, payload interface{}) {
	c.t.Helper()
	msg := OperationMessage{ID: id, Type: typ}
	if payload != nil {
		b, err := json.Marshal(payload)
		assert.NoError(c.t, err)
		msg.Payload = b
	}
	b, err := json.Marshal(msg)
	assert.NoError(c.t, err)
	c.transport.in <- b
}

func (c *testClient) start(id, query string) {
	c.t.Helper()
	c.send(id, MsgStart, StartPayload{Query: query})
}

func (c *testClient) init() {
	c.t.Helper()
	c.send("", MsgConnectionInit, nil)
	c.expect(MsgConnectionAck, "")
}

func (c *testClient) next() OperationMessage {
	c.t.Helper()
	select {
	case data := <-c.transport.out:
		var msg OperationMessage
		assert.NoError(c.t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(waitTimeout):
		c.t.Fatal("timed out waiting for a server message")
		return OperationMessage{}
	}
}

func (c *testClient) expect(typ, id string) OperationMessage {
	c.t.Helper()
	msg := c.next()
	assert.Equal(c.t, typ, msg.Type, "payload: %s", msg.Payload)
	assert.Equal(c.t, id, msg.ID)
	return msg
}

func (c *testClient) expectNone(d time.Duration) {
	c.t.Helper()
	select {
	case data := <-c.transport.out:
		c.t.Fatalf("unexpected server message %s", data)
	case <-time.After(d):
	}
}

func (c *testClient) wait() error {
	c.t.Helper()
	select {
	case <-c.done:
		return c.err
	case <-time.After(waitTimeout):
		c.t.Fatal("timed out waiting for the connection to close")
		return nil
	}
}

// waitSubscribed blocks until the connection has joined group.
func (c *testClient) waitSubscribed(group string) {
	c.t.Helper()
	eventually(c.t, func() bool {
		for _, g := range c.conn.Groups() {
			if g == group {
				return true
			}
		}
		return false
	})
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func payloadOf(t *testing.T, msg OperationMessage) map[string]interface{} {
	t.Helper()
	var v map[string]interface{}
	assert.NoError(t, json.Unmarshal(msg.Payload, &v))
	return v
}
