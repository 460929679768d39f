package groupchannel

import (
	"context"
	"sync"
)

// Local is an in-process Channel. It is also the fan-out stage of the Redis
// and Kinesis channels once an event reaches this process.
type Local struct {
	mu     sync.RWMutex
	groups map[string]map[string]Member
}

// NewLocal creates an empty in-process channel.
func NewLocal() *Local {
	return &Local{groups: make(map[string]map[string]Member)}
}

func (l *Local) Join(_ context.Context, group string, member Member) error {
	l.join(group, member)
	return nil
}

func (l *Local) Leave(_ context.Context, group string, member Member) error {
	l.leave(group, member)
	return nil
}

func (l *Local) Publish(_ context.Context, event Event) error {
	l.deliver(event)
	return nil
}

// Members returns the number of members joined to group.
func (l *Local) Members(group string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.groups[group])
}

// Groups returns the number of groups with at least one member.
func (l *Local) Groups() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.groups)
}

// join reports whether member is the first one in group.
func (l *Local) join(group string, member Member) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	members, ok := l.groups[group]
	if !ok {
		members = make(map[string]Member)
		l.groups[group] = members
	}
	members[member.MemberID()] = member
	return !ok
}

// leave reports whether group became empty.
func (l *Local) leave(group string, member Member) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	members, ok := l.groups[group]
	if !ok {
		return false
	}
	delete(members, member.MemberID())
	if len(members) == 0 {
		delete(l.groups, group)
		return true
	}
	return false
}

func (l *Local) deliver(event Event) int {
	l.mu.RLock()
	members := make([]Member, 0, len(l.groups[event.Group]))
	for _, m := range l.groups[event.Group] {
		members = append(members, m)
	}
	l.mu.RUnlock()

	for _, m := range members {
		m.Deliver(event)
	}
	return len(members)
}
