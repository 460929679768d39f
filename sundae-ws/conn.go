package sundaews

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-gqlws/sundae-cli"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// State is the protocol state of a connection.
type State int32

const (
	StateAwaitingInit State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingInit:
		return "awaiting_init"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Transport carries whole text messages for one connection. ReadMessage
// returns io.EOF once the peer has closed the connection.
type Transport interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}

// Conn runs the protocol for one client connection.
type Conn struct {
	info      *ConnInfo
	transport Transport
	executor  Executor
	config    Config
	logger    zerolog.Logger
	metrics   Metrics

	state   atomic.Int32
	ctx     context.Context
	cancel  context.CancelFunc
	session context.Context

	ops        *opTable
	tasks      scheduler
	slots      *semaphore.Weighted
	dispatcher *Dispatcher

	outMu      sync.RWMutex
	outClosed  bool
	outbox     chan []byte
	writerDone chan struct{}

	closeOnce      sync.Once
	closedByServer atomic.Bool
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.info.ID
}

// State returns the current protocol state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Groups returns the groups the connection currently belongs to.
func (c *Conn) Groups() []string {
	return c.dispatcher.Groups()
}

// Serve runs the connection until the client terminates it, the transport
// fails, or ctx is done. All subscriptions and group memberships are
// released before it returns.
func (c *Conn) Serve(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(WithConnInfo(ctx, c.info))
	c.session = c.ctx
	start := time.Now()

	c.metrics.Event(c.ctx, sundaecli.ConnectionOpenedMetric)
	c.logger.Info().Msg("connection established")

	go c.writeLoop()
	go c.dispatcher.Run(c.ctx)
	stopWatch := context.AfterFunc(ctx, c.closeTransport)
	defer stopWatch()

	var err error
	for {
		var data []byte
		data, err = c.transport.ReadMessage(c.ctx)
		if err != nil {
			break
		}
		if !c.handleMessage(data) {
			break
		}
	}

	c.shutdown()
	c.metrics.Timing(context.WithoutCancel(c.ctx), sundaecli.ConnectionDurationMetric, start)

	if err == nil || errors.Is(err, io.EOF) || c.closedByServer.Load() {
		c.logger.Info().Msg("connection closed")
		return nil
	}
	c.logger.Warn().Err(err).Msg("connection closed by transport error")
	return fmt.Errorf("reading from connection %v: %w", c.ID(), err)
}

// handleMessage reports whether the read loop should continue.
func (c *Conn) handleMessage(data []byte) bool {
	msg, err := ParseMessage(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("invalid message")
		c.send(ConnectionErrorMessage(err.Error()))
		return true
	}

	c.logger.Debug().Str("type", msg.Type).Str("op_id", msg.ID).Msg("received message")

	switch msg.Type {
	case MsgConnectionInit:
		return c.handleInit(msg)
	case MsgConnectionTerminate:
		return false
	case MsgStart:
		c.handleStart(msg)
	case MsgStop:
		c.handleStop(msg)
	default:
		c.logger.Warn().Str("type", msg.Type).Msg("unhandled message type")
		c.send(ErrorMessage(msg.ID, fmt.Sprintf("unsupported message type %v", msg.Type)))
	}
	return true
}

func (c *Conn) handleInit(msg *OperationMessage) bool {
	if c.State() != StateAwaitingInit {
		c.send(ConnectionErrorMessage("connection already initialized"))
		return true
	}

	c.info.InitPayload = msg.Payload
	if c.config.OnConnect != nil {
		next, err := c.config.OnConnect(c.ctx, msg.Payload)
		if err != nil {
			c.logger.Warn().Err(err).Msg("connection rejected")
			c.send(ConnectionErrorMessage(err.Error()))
			return false
		}
		if next != nil {
			c.session = next
		}
	}

	c.state.Store(int32(StateReady))
	c.send(AckMessage())
	c.logger.Debug().Msg("connection_ack sent")

	if c.config.KeepAlive > 0 {
		c.send(KeepAliveMessage())
		go c.keepAlive(c.config.KeepAlive)
	}
	return true
}

func (c *Conn) handleStart(msg *OperationMessage) {
	if c.State() != StateReady {
		c.send(ErrorMessage(msg.ID, "connection not initialized"))
		return
	}
	if msg.ID == "" {
		c.send(ErrorMessage("", "missing operation id"))
		return
	}

	// Under strict ordering the id is reserved when the task runs, so a
	// queued stop for an earlier operation with the same id is honored first.
	if c.config.StrictOrdering {
		c.tasks.Go(func() {
			op, prev := c.reserve(msg.ID)
			c.runOperation(op, prev, msg)
		})
		return
	}
	op, prev := c.reserve(msg.ID)
	c.tasks.Go(func() {
		c.runOperation(op, prev, msg)
	})
}

func (c *Conn) handleStop(msg *OperationMessage) {
	if c.State() != StateReady {
		c.send(ErrorMessage(msg.ID, "connection not initialized"))
		return
	}

	stop := func() {
		op := c.ops.take(msg.ID)
		if op == nil {
			c.logger.Debug().Str("op_id", msg.ID).Msg("stop for unknown operation")
			return
		}
		c.stopOperation(op)
	}
	if c.config.StrictOrdering {
		c.tasks.Go(stop)
		return
	}
	stop()
}

// closing reports whether shutdown has begun.
func (c *Conn) closing() bool {
	return c.State() == StateClosed || c.ctx.Err() != nil
}

// reserve claims id for a new operation. An operation already running
// under id is stopped and replaced. Once the connection is closing the
// returned operation is already stopped.
func (c *Conn) reserve(id string) (op, prev *operation) {
	op = newOperation(c.session, c.ctx, id)
	if c.closing() {
		op.stop()
		return op, nil
	}
	prev = c.ops.replace(op)
	if prev != nil {
		c.logger.Warn().Str("op_id", id).Msg("operation id already active, replacing it")
		c.stopOperation(prev)
	}
	return op, prev
}

// stopOperation cancels op, releases its subscription and reports the
// completion to the client when it had subscribed.
func (c *Conn) stopOperation(op *operation) {
	stopped, subscribed := op.stop()
	if !stopped {
		return
	}
	if subscribed {
		c.dispatcher.Detach(context.WithoutCancel(c.ctx), op.id)
		c.send(CompleteMessage(op.id))
	}
	c.logger.Info().Str("op_id", op.id).Bool("subscription", subscribed).Msg("operation stopped")
}

// terminate completes a subscription ended by the server side.
func (c *Conn) terminate(record *Record) {
	if record.op == nil {
		return
	}
	c.ops.remove(record.op)
	c.stopOperation(record.op)
}

func (c *Conn) runOperation(op, prev *operation, msg *OperationMessage) {
	defer close(op.done)

	if prev != nil {
		select {
		case <-prev.done:
		case <-op.ctx.Done():
			return
		}
	}
	if c.slots != nil {
		if err := c.slots.Acquire(op.ctx, 1); err != nil {
			return
		}
		defer c.slots.Release(1)
	}
	if op.ctx.Err() != nil || c.closing() {
		return
	}

	payload, err := ParseStartPayload(msg)
	if err != nil {
		c.fail(op, err)
		return
	}
	operation, err := c.executor.Parse(op.ctx, payload)
	if err != nil {
		c.fail(op, err)
		return
	}
	operation.ID = op.id

	ctx, span := tracer.Start(op.ctx, "graphql.operation", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(
		attribute.String("graphql.operation.id", op.id),
		attribute.String("graphql.operation.name", operation.OperationName),
		attribute.String("graphql.operation.type", string(operation.Kind)),
	)

	start := time.Now()
	if operation.Kind == KindSubscription {
		err = c.runSubscription(ctx, op, operation)
	} else {
		err = c.runQuery(ctx, op, operation)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	c.metrics.Timing(context.WithoutCancel(ctx), sundaecli.OperationTimeMetric, start, map[sundaecli.DimensionName]string{
		sundaecli.OperationKindDimension: string(operation.Kind),
		sundaecli.OperationNameDimension: operation.OperationName,
	})
}

func (c *Conn) runQuery(ctx context.Context, op *operation, operation *Operation) error {
	result, err := c.executor.Execute(ctx, operation)
	if err != nil {
		c.fail(op, err)
		return err
	}

	msg, err := DataMessage(op.id, result)
	if err != nil {
		c.fail(op, err)
		return err
	}
	if !op.finish(c.send, msg, CompleteMessage(op.id)) {
		c.logger.Debug().Str("op_id", op.id).Msg("dropping result of stopped operation")
	}
	c.ops.remove(op)
	return nil
}

func (c *Conn) runSubscription(ctx context.Context, op *operation, operation *Operation) error {
	groups, err := c.executor.Subscribe(ctx, operation)
	if err != nil {
		c.fail(op, err)
		return err
	}

	record := &Record{
		OperationID:  op.id,
		ConnectionID: c.ID(),
		Groups:       groups,
		Operation:    operation,
		op:           op,
	}

	op.mu.Lock()
	defer op.mu.Unlock()

	if op.stopped || c.closing() {
		return nil
	}
	if err := c.dispatcher.Attach(ctx, record); err != nil {
		c.logger.Error().Err(err).Str("op_id", op.id).Msg("failed to attach subscription")
		c.send(ErrorMessage(op.id, err.Error()))
		c.send(CompleteMessage(op.id))
		op.stopped = true
		op.cancel()
		c.ops.remove(op)
		return err
	}
	op.subscribed = true

	if c.config.ConfirmSubscriptions {
		msg, _ := DataMessage(op.id, map[string]interface{}{"data": nil})
		c.send(msg)
	}

	c.logger.Info().
		Str("op_id", op.id).
		Str("field", operation.Field).
		Strs("groups", record.Groups).
		Msg("subscription created")
	return nil
}

// fail reports err for op followed by complete.
func (c *Conn) fail(op *operation, err error) {
	c.logger.Warn().Err(err).Str("op_id", op.id).Msg("operation failed")
	op.finish(c.send, ErrorMessage(op.id, err.Error()), CompleteMessage(op.id))
	c.ops.remove(op)
}

func (c *Conn) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.send(KeepAliveMessage())
		}
	}
}

// send enqueues msg for the writer. Messages sent after shutdown are dropped.
func (c *Conn) send(msg []byte) {
	c.outMu.RLock()
	defer c.outMu.RUnlock()
	if c.outClosed {
		return
	}
	select {
	case c.outbox <- msg:
	case <-c.writerDone:
	}
}

func (c *Conn) writeLoop() {
	defer close(c.writerDone)
	defer c.closeTransport()

	for msg := range c.outbox {
		if err := c.transport.WriteMessage(context.Background(), msg); err != nil {
			c.logger.Error().Err(err).Msg("failed to write message")
			return
		}
	}
}

func (c *Conn) closeTransport() {
	c.closeOnce.Do(func() {
		c.closedByServer.Store(true)
		if err := c.transport.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("error closing transport")
		}
	})
}

func (c *Conn) shutdown() {
	c.state.Store(int32(StateClosed))
	c.cancel()

	for _, op := range c.ops.drain() {
		op.stop()
	}
	c.tasks.Wait()
	for _, op := range c.ops.drain() {
		op.stop()
	}
	released := c.dispatcher.DetachAll(context.WithoutCancel(c.ctx))

	c.outMu.Lock()
	c.outClosed = true
	close(c.outbox)
	c.outMu.Unlock()
	<-c.writerDone

	c.logger.Debug().Strs("released", released).Msg("connection resources released")
	c.metrics.Event(context.WithoutCancel(c.ctx), sundaecli.ConnectionClosedMetric)

	if c.config.OnDisconnect != nil {
		c.config.OnDisconnect(context.WithoutCancel(c.session))
	}
}
