package sundaews

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws/groupchannel"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Dispatcher fans group events out to the subscriptions of one connection.
// It owns the connection's Registry and its group memberships on Channel.
type Dispatcher struct {
	ConnectionID string
	Channel      groupchannel.Channel
	Executor     Executor
	Logger       zerolog.Logger

	// Send enqueues an outbound message on the connection.
	Send func(msg []byte)

	// Terminate completes a subscription ended by its executor or by a
	// server-side unsubscribe. When nil the dispatcher detaches the record
	// and sends complete itself.
	Terminate func(record *Record)

	once     sync.Once
	mu       sync.Mutex
	registry *Registry
	inbox    mailbox
}

func (d *Dispatcher) setup() {
	d.once.Do(func() {
		d.registry = NewRegistry()
		d.inbox.notify = make(chan struct{}, 1)
	})
}

// MemberID identifies the connection on the group channel.
func (d *Dispatcher) MemberID() string {
	return d.ConnectionID
}

// Deliver queues event for Run. It never blocks on the connection.
func (d *Dispatcher) Deliver(event groupchannel.Event) {
	d.setup()
	d.inbox.push(event)
}

// Attach registers record and joins the groups it is the first to reference.
func (d *Dispatcher) Attach(ctx context.Context, record *Record) error {
	d.setup()
	d.mu.Lock()
	defer d.mu.Unlock()

	joined, err := d.registry.Register(record)
	if err != nil {
		return err
	}
	for i, group := range joined {
		if err := d.Channel.Join(ctx, group, d); err != nil {
			d.registry.Unregister(record.OperationID)
			d.leave(ctx, joined[:i])
			return fmt.Errorf("joining group %v: %w", group, err)
		}
	}

	d.Logger.Debug().
		Str("op_id", record.OperationID).
		Strs("groups", record.Groups).
		Strs("joined", joined).
		Msg("subscription attached")
	return nil
}

// Detach unregisters the record for id and leaves the groups nothing else
// references. It reports whether a record existed.
func (d *Dispatcher) Detach(ctx context.Context, id string) bool {
	d.setup()
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.registry.Lookup(id); !ok {
		return false
	}
	freed := d.registry.Unregister(id)
	d.leave(ctx, freed)

	d.Logger.Debug().Str("op_id", id).Strs("left", freed).Msg("subscription detached")
	return true
}

// DetachAll releases every record and group membership.
func (d *Dispatcher) DetachAll(ctx context.Context) []string {
	d.setup()
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := d.registry.IDs()
	for _, id := range ids {
		d.leave(ctx, d.registry.Unregister(id))
	}
	return ids
}

// Lookup returns the record for id.
func (d *Dispatcher) Lookup(id string) (*Record, bool) {
	d.setup()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry.Lookup(id)
}

// Groups returns the groups the connection has joined.
func (d *Dispatcher) Groups() []string {
	d.setup()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry.Groups()
}

func (d *Dispatcher) leave(ctx context.Context, groups []string) {
	for _, group := range groups {
		if err := d.Channel.Leave(ctx, group, d); err != nil {
			d.Logger.Error().Err(err).Str("group", group).Msg("failed to leave group")
		}
	}
}

// Run handles delivered events in arrival order until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	d.setup()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.inbox.notify:
			for _, event := range d.inbox.drain() {
				if ctx.Err() != nil {
					return
				}
				d.dispatch(ctx, event)
			}
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, event groupchannel.Event) {
	d.mu.Lock()
	records := d.registry.RecordsForGroup(event.Group)
	d.mu.Unlock()

	if len(records) == 0 {
		return
	}

	d.Logger.Debug().
		Str("group", event.Group).
		Int("subscribers", len(records)).
		Bool("terminate", event.Terminate).
		Msg("dispatching event")

	for _, record := range records {
		d.notify(ctx, record, event)
	}
}

func (d *Dispatcher) notify(ctx context.Context, record *Record, event groupchannel.Event) {
	if event.Terminate {
		d.terminate(ctx, record)
		return
	}

	if record.op != nil {
		ctx = record.op.ctx
	}
	ctx, span := tracer.Start(ctx, "graphql.notification", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("graphql.operation.id", record.OperationID),
		attribute.String("sundae.ws.group", event.Group),
	)

	payload, err := d.publish(ctx, record, event)
	switch {
	case errors.Is(err, ErrSuppress):
		span.SetAttributes(attribute.Bool("sundae.ws.suppressed", true))
		d.Logger.Trace().Str("op_id", record.OperationID).Str("group", event.Group).Msg("notification suppressed")

	case errors.Is(err, ErrUnsubscribe):
		d.terminate(ctx, record)

	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.Logger.Warn().Err(err).Str("op_id", record.OperationID).Str("group", event.Group).Msg("publish failed")
		record.emit(d.Send, ErrorMessage(record.OperationID, err.Error()))

	default:
		msg, err := DataMessage(record.OperationID, payload)
		if err != nil {
			d.Logger.Error().Err(err).Str("op_id", record.OperationID).Msg("failed to build data message")
			record.emit(d.Send, ErrorMessage(record.OperationID, err.Error()))
			return
		}
		record.emit(d.Send, msg)
	}
}

func (d *Dispatcher) publish(ctx context.Context, record *Record, event groupchannel.Event) (payload interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publish panicked: %v", r)
		}
	}()
	return d.Executor.Publish(ctx, record.Operation, event)
}

func (d *Dispatcher) terminate(ctx context.Context, record *Record) {
	if d.Terminate != nil {
		d.Terminate(record)
		return
	}
	if d.Detach(context.WithoutCancel(ctx), record.OperationID) {
		d.Send(CompleteMessage(record.OperationID))
	}
}

// emit sends msg on behalf of the record's operation, dropping it once the
// operation has been stopped.
func (r *Record) emit(send func([]byte), msg []byte) {
	if r.op == nil {
		send(msg)
		return
	}
	r.op.emit(send, msg)
}

// mailbox is an unbounded FIFO of group events.
type mailbox struct {
	mu     sync.Mutex
	events []groupchannel.Event
	notify chan struct{}
}

func (m *mailbox) push(event groupchannel.Event) {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []groupchannel.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.events
	m.events = nil
	return events
}
