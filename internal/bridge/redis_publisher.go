// Package bridge holds the gateway's Redis Streams integration: a
// best-effort notification channel that lets an external inventory
// writer tell the Fleet Registry "something changed" so it can reload
// promptly instead of waiting for its next poll. Redis is optional —
// the Registry's poll loop is always correct on its own, just slower
// to notice a change.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// ChangeEvent is the msgpack-encoded payload on the inventory stream.
type ChangeEvent struct {
	Event string `msgpack:"event"`
}

// InventoryNotifier publishes and consumes fleet inventory change
// notifications over a Redis Stream.
type InventoryNotifier struct {
	client *redis.Client
	stream string
	group  string
	logger *zap.Logger
}

// NewInventoryNotifier connects to redisURL and ensures the consumer
// group exists on stream (creating the stream if needed).
func NewInventoryNotifier(redisURL, stream, group string, logger *zap.Logger) (*InventoryNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	err = client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &InventoryNotifier{client: client, stream: stream, group: group, logger: logger.Named("inventory-notifier")}, nil
}

// Publish appends a change notification to the stream. Called by
// whatever process mutates the Robot Inventory, not by the gateway
// itself in normal operation, but kept symmetric for test harnesses.
func (n *InventoryNotifier) Publish(ctx context.Context, event string) error {
	payload, err := msgpack.Marshal(ChangeEvent{Event: event})
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	return n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: 1000,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).Err()
}

// Watch blocks, reading new stream entries as consumer and calling
// onChange once per batch received, until ctx is canceled. Read errors
// are logged and retried after a short backoff rather than treated as
// fatal — a dropped Redis connection should degrade to "no prompt
// notifications", not take the process down.
func (n *InventoryNotifier) Watch(ctx context.Context, consumer string, onChange func()) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := n.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    n.group,
			Consumer: consumer,
			Streams:  []string{n.stream, ">"},
			Count:    16,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			n.logger.Warn("inventory stream read failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		var ids []string
		for _, stream := range res {
			for _, msg := range stream.Messages {
				ids = append(ids, msg.ID)
			}
		}
		if len(ids) == 0 {
			continue
		}

		onChange()
		if err := n.client.XAck(ctx, n.stream, n.group, ids...).Err(); err != nil {
			n.logger.Warn("inventory stream ack failed", zap.Error(err))
		}
	}
}

// Close releases the underlying Redis connection.
func (n *InventoryNotifier) Close() error {
	return n.client.Close()
}
