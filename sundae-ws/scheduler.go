package sundaews

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// scheduler runs the tasks created by one connection's inbound messages.
type scheduler interface {
	Go(task func())
	Wait()
}

func newScheduler(config Config) scheduler {
	if config.StrictOrdering {
		return newSequential(64)
	}
	return &pool{}
}

// pool runs each task on its own goroutine. Go never blocks; tasks bound
// their own concurrency with Conn.slots.
type pool struct {
	g errgroup.Group
}

func (p *pool) Go(task func()) {
	p.g.Go(func() error {
		task()
		return nil
	})
}

func (p *pool) Wait() {
	_ = p.g.Wait()
}

// sequential runs tasks one at a time in submission order.
type sequential struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
}

func newSequential(buffer int) *sequential {
	s := &sequential{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *sequential) run() {
	defer close(s.done)
	for task := range s.tasks {
		task()
	}
}

func (s *sequential) Go(task func()) {
	s.tasks <- task
}

// Wait runs the queued tasks to completion. Go must not be called afterwards.
func (s *sequential) Wait() {
	s.once.Do(func() { close(s.tasks) })
	<-s.done
}
