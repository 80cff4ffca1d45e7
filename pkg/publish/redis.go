// Package publish fans comparison records out to external consumers over
// Redis pub/sub. Optional; the daemon runs without it.
package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/phenomenon0/epl-edge/pkg/aggregate"
)

// RedisBroadcaster publishes comparison recomputes to a Redis channel.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
}

// NewRedisBroadcaster connects a broadcaster to the given address/channel.
func NewRedisBroadcaster(addr, channel string) *RedisBroadcaster {
	return &RedisBroadcaster{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
	}
}

// Ping verifies the connection.
func (b *RedisBroadcaster) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// PublishComparisons publishes one recompute as a single JSON message.
func (b *RedisBroadcaster) PublishComparisons(ctx context.Context, records []aggregate.ComparisonRecord) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal comparisons: %w", err)
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Close releases the Redis connection.
func (b *RedisBroadcaster) Close() error {
	return b.client.Close()
}
