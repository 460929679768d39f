package sundaews

import (
	"context"
	"sync"
)

// operation is the connection-side state of one start message.
type operation struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	stopped    bool
	subscribed bool
}

// newOperation derives the operation context from session and also cancels
// it once conn is done, since session may not descend from conn.
func newOperation(session, conn context.Context, id string) *operation {
	ctx, cancel := context.WithCancel(session)
	unlink := context.AfterFunc(conn, cancel)
	return &operation{
		id:  id,
		ctx: ctx,
		cancel: func() {
			unlink()
			cancel()
		},
		done: make(chan struct{}),
	}
}

// emit sends msgs unless the operation was stopped.
func (o *operation) emit(send func([]byte), msgs ...[]byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return false
	}
	for _, msg := range msgs {
		send(msg)
	}
	return true
}

// finish sends the terminal msgs and marks the operation stopped.
func (o *operation) finish(send func([]byte), msgs ...[]byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return false
	}
	for _, msg := range msgs {
		send(msg)
	}
	o.stopped = true
	o.cancel()
	return true
}

// stop reports whether the operation was still running and whether it had
// registered a subscription.
func (o *operation) stop() (stopped, subscribed bool) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return false, false
	}
	o.stopped = true
	subscribed = o.subscribed
	o.mu.Unlock()

	o.cancel()
	return true, subscribed
}

// opTable holds the active operations of a connection by id.
type opTable struct {
	mu  sync.Mutex
	ops map[string]*operation
}

func newOpTable() *opTable {
	return &opTable{ops: make(map[string]*operation)}
}

// replace stores op under its id and returns the operation it displaced.
func (t *opTable) replace(op *operation) *operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.ops[op.id]
	t.ops[op.id] = op
	return prev
}

// take removes and returns the operation stored under id.
func (t *opTable) take(id string) *operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[id]
	if !ok {
		return nil
	}
	delete(t.ops, id)
	return op
}

// remove deletes id only while it still maps to op.
func (t *opTable) remove(op *operation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ops[op.id] == op {
		delete(t.ops, op.id)
	}
}

func (t *opTable) drain() []*operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	ops := make([]*operation, 0, len(t.ops))
	for id, op := range t.ops {
		ops = append(ops, op)
		delete(t.ops, id)
	}
	return ops
}

func (t *opTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops)
}
