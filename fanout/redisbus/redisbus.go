// Package redisbus is a fanout.Adapter backed by Redis Pub/Sub, used
// for multi-server cross-coordinator coordination: every server
// publishes applied deltas to a shared channel and treats incoming
// channel messages as remote deltas to re-broadcast to its own local
// subscribers only.
package redisbus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"replidoc/fanout"
)

// Bus is a Redis-backed fanout.Adapter.
type Bus struct {
	client *redis.Client
}

// New wraps an existing Redis client.
func New(client *redis.Client) *Bus {
	return &Bus{client: client}
}

// Publish implements fanout.Adapter.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redisbus: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe implements fanout.Adapter over plain Redis Pub/Sub, which
// delivers each message at most once: a message published while this
// subscription is disconnected is not redelivered.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler fanout.Handler) (func(), error) {
	sub := b.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redisbus: subscribe %s: %w", channel, err)
	}

	ch := sub.Channel()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = sub.Close()
	}, nil
}
