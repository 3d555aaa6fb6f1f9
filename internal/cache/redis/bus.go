package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/yllvar/Compound-Explorer/internal/domain"
)

// RunBus publishes run reports over Redis Pub/Sub. Delivery is fire and
// forget: a report published with no subscriber is dropped.
type RunBus struct {
	rdb *redis.Client
}

// NewRunBus creates a RunBus backed by the given Client.
func NewRunBus(c *Client) *RunBus {
	return &RunBus{rdb: c.Underlying()}
}

// Publish sends payload to channel.
func (b *RunBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

var _ domain.EventBus = (*RunBus)(nil)
