package push

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/talentgrid/entitlements/internal/model"
)

// DefaultChannel is the Redis channel and NATS subject events travel on.
const DefaultChannel = "entitlements.push"

// RedisBus fans events out over Redis Pub/Sub.
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisBus creates a RedisBus on an existing client. The client is owned
// by the caller and is not closed by Close.
func NewRedisBus(client *redis.Client, channel string, logger *slog.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "push.redis"),
	}
}

func (b *RedisBus) Publish(ctx context.Context, event model.Event) error {
	data, err := marshalEvent(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, handler func(model.Event)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// Receive blocks until Redis confirms the subscription.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			event, err := unmarshalEvent([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("invalid event on bus", "error", err)
				continue
			}
			handler(event)
		}
	}
}

func (b *RedisBus) Close() error { return nil }
