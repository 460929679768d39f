package groupchannel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisPrefix namespaces group names in the Redis pub/sub keyspace.
const DefaultRedisPrefix = "sundae-ws:group:"

// Redis is a Channel that fans events out across processes with Redis
// pub/sub. A process subscribes to a group's Redis channel while at least one
// local member has joined it.
type Redis struct {
	rdb    *redis.Client
	prefix string
	logger zerolog.Logger
	local  *Local

	mu     sync.Mutex
	pubsub *redis.PubSub
	closed bool
	done   chan struct{}

	pendingMu sync.Mutex
	pending   map[string]chan struct{}
}

// NewRedis starts the receive loop on a shared pub/sub connection. Call Close
// on shutdown.
func NewRedis(rdb *redis.Client, prefix string, logger zerolog.Logger) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	r := &Redis{
		rdb:    rdb,
		prefix: prefix,
		logger: logger.With().Str("component", "groupchannel.redis").Logger(),
		local:  NewLocal(),
		pubsub:  rdb.Subscribe(context.Background()),
		done:    make(chan struct{}),
		pending: make(map[string]chan struct{}),
	}
	go r.receive(r.pubsub.ChannelWithSubscriptions())
	return r
}

// NewRedisFromURL parses a redis:// or rediss:// URL and builds a Redis channel.
func NewRedisFromURL(ctx context.Context, url, prefix string, logger zerolog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return NewRedis(rdb, prefix, logger), nil
}

func (r *Redis) channelName(group string) string {
	return r.prefix + group
}

func (r *Redis) groupName(channel string) string {
	return strings.TrimPrefix(channel, r.prefix)
}

// Join returns once Redis has confirmed the subscription to group's
// channel, so events published after Join returns reach member.
func (r *Redis) Join(ctx context.Context, group string, member Member) error {
	channel := r.channelName(group)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if !r.local.join(group, member) {
		confirmed := r.pendingFor(channel, false)
		r.mu.Unlock()
		return r.awaitSubscribed(ctx, group, member, confirmed)
	}
	confirmed := r.pendingFor(channel, true)
	if err := r.pubsub.Subscribe(ctx, channel); err != nil {
		r.local.leave(group, member)
		r.confirm(channel)
		r.mu.Unlock()
		return fmt.Errorf("subscribing to redis channel for group %v: %w", group, err)
	}
	r.mu.Unlock()

	if err := r.awaitSubscribed(ctx, group, member, confirmed); err != nil {
		return err
	}
	r.logger.Debug().Str("group", group).Msg("subscribed to group")
	return nil
}

// pendingFor returns the confirmation channel of an in-flight SUBSCRIBE,
// creating one when create is set. It returns nil when nothing is pending.
func (r *Redis) pendingFor(channel string, create bool) chan struct{} {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	if create {
		r.pending[channel] = make(chan struct{})
	}
	return r.pending[channel]
}

// confirm releases the joins waiting on channel.
func (r *Redis) confirm(channel string) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	if ch, ok := r.pending[channel]; ok {
		close(ch)
		delete(r.pending, channel)
	}
}

// awaitSubscribed waits for confirmed and undoes the join when it never
// arrives.
func (r *Redis) awaitSubscribed(ctx context.Context, group string, member Member, confirmed <-chan struct{}) error {
	if confirmed == nil {
		return nil
	}

	var err error
	select {
	case <-confirmed:
		return nil
	case <-r.done:
		err = ErrClosed
	case <-ctx.Done():
		err = fmt.Errorf("waiting for redis to confirm group %v: %w", group, ctx.Err())
	}
	_ = r.Leave(context.WithoutCancel(ctx), group, member)
	return err
}

func (r *Redis) Leave(ctx context.Context, group string, member Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	if !r.local.leave(group, member) {
		return nil
	}
	if err := r.pubsub.Unsubscribe(ctx, r.channelName(group)); err != nil {
		return fmt.Errorf("unsubscribing from redis channel for group %v: %w", group, err)
	}
	r.logger.Debug().Str("group", group).Msg("unsubscribed from group")
	return nil
}

func (r *Redis) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channelName(event.Group), data).Err(); err != nil {
		return fmt.Errorf("publishing to redis channel for group %v: %w", event.Group, err)
	}
	return nil
}

// Close stops the receive loop. Members are not notified.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	err := r.pubsub.Close()
	r.mu.Unlock()

	<-r.done
	return err
}

func (r *Redis) receive(messages <-chan interface{}) {
	defer close(r.done)
	for msg := range messages {
		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				r.confirm(m.Channel)
			}
		case *redis.Message:
			r.deliver(m)
		}
	}
}

func (r *Redis) deliver(msg *redis.Message) {
	var event Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		r.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed group event")
		return
	}
	if event.Group == "" {
		event.Group = r.groupName(msg.Channel)
	}
	n := r.local.deliver(event)
	r.logger.Trace().Str("group", event.Group).Int("members", n).Msg("delivered group event")
}
