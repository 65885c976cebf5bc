package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisStreamMaxLen = 10000

// RedisBus appends events to a Redis stream
type RedisBus struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewRedisBus creates a client for addr
func NewRedisBus(addr, stream string, logger *zap.Logger) (*RedisBus, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	logger.Info("event bus configured", zap.String("backend", "redis"), zap.String("stream", stream))
	return &RedisBus{client: client, stream: stream, logger: logger}, nil
}

// Publish appends the event to the stream, trimming it to an approximate max length
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	data, err := encode(event)
	if err != nil {
		return err
	}
	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: redisStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"type": event.Type, "event": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append to redis stream: %w", err)
	}
	return nil
}

// Subscribe tails the stream from new entries until ctx is done
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	lastID := "$"
	for {
		streams, err := b.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{b.stream, lastID},
			Count:   50,
			Block:   5 * time.Second,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return fmt.Errorf("failed to read redis stream: %w", err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				raw, _ := msg.Values["event"].(string)
				event, err := decode([]byte(raw))
				if err != nil {
					b.logger.Warn("dropping malformed event", zap.String("id", msg.ID), zap.Error(err))
					continue
				}
				if err := handler(ctx, event); err != nil {
					b.logger.Warn("event handler failed", zap.String("type", event.Type), zap.Error(err))
				}
			}
		}
	}
}

// Close closes the client
func (b *RedisBus) Close() error {
	return b.client.Close()
}
