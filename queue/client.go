package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/threatmap/internal/redisconn"
)

const (
	// DefaultQueue is the list shared by enqueuers and workers.
	DefaultQueue = "threatmap:work"

	// DefaultPopTimeout bounds each BRPOP so workers notice cancellation.
	DefaultPopTimeout = time.Second

	// DefaultHeartbeatTTL is how long a worker counts as alive after its last
	// heartbeat.
	DefaultHeartbeatTTL = 30 * time.Second
)

// Client defines the interface for interacting with the Redis work queue.
type Client interface {
	// Push adds a work item to the end of a queue (LPUSH).
	Push(ctx context.Context, queue string, item WorkItem) error

	// Pop removes and returns a work item from the front of a queue (BRPOP).
	// It returns nil, nil when no item arrived within the pop timeout.
	Pop(ctx context.Context, queue string) (*WorkItem, error)

	// Depth returns the number of items waiting in a queue.
	Depth(ctx context.Context, queue string) (int64, error)

	// Publish sends a result to the run's result channel.
	Publish(ctx context.Context, result Result) error

	// Subscribe returns the results published for a run until ctx is done.
	Subscribe(ctx context.Context, runID string) (<-chan Result, error)

	// Heartbeat refreshes the health key of a worker.
	Heartbeat(ctx context.Context, workerID string) error

	// Alive reports whether a worker has sent a heartbeat within the TTL.
	Alive(ctx context.Context, workerID string) (bool, error)

	// Close closes the Redis connection.
	Close() error
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	redisconn.Options

	// PopTimeout bounds each blocking pop. Defaults to DefaultPopTimeout.
	PopTimeout time.Duration

	// HeartbeatTTL is the lifetime of a heartbeat key. Defaults to
	// DefaultHeartbeatTTL.
	HeartbeatTTL time.Duration
}

// RedisClient implements the Client interface using go-redis/v9.
type RedisClient struct {
	client       *redis.Client
	popTimeout   time.Duration
	heartbeatTTL time.Duration
}

var _ Client = (*RedisClient)(nil)

// NewRedisClient creates a new Redis queue client with the given options.
func NewRedisClient(opts RedisOptions) (*RedisClient, error) {
	client, err := redisconn.Dial(opts.Options)
	if err != nil {
		return nil, err
	}

	if opts.PopTimeout <= 0 {
		opts.PopTimeout = DefaultPopTimeout
	}
	if opts.HeartbeatTTL <= 0 {
		opts.HeartbeatTTL = DefaultHeartbeatTTL
	}

	return &RedisClient{
		client:       client,
		popTimeout:   opts.PopTimeout,
		heartbeatTTL: opts.HeartbeatTTL,
	}, nil
}

// ResultChannel returns the pub/sub channel carrying a run's results.
func ResultChannel(runID string) string {
	return fmt.Sprintf("threatmap:results:%s", runID)
}

// HealthKey returns the key refreshed by a worker's heartbeat.
func HealthKey(workerID string) string {
	return fmt.Sprintf("threatmap:worker:%s:health", workerID)
}

// Push adds a work item to the end of a queue.
func (c *RedisClient) Push(ctx context.Context, queue string, item WorkItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal work item: %w", err)
	}

	if err := c.client.LPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("failed to push to queue %s: %w", queue, err)
	}

	return nil
}

// Pop removes and returns a work item from the front of a queue.
func (c *RedisClient) Pop(ctx context.Context, queue string) (*WorkItem, error) {
	// BRPOP returns [queue_name, value] or redis.Nil on timeout
	result, err := c.client.BRPop(ctx, c.popTimeout, queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop from queue %s: %w", queue, err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP result length: %d", len(result))
	}

	var item WorkItem
	if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal work item: %w", err)
	}

	return &item, nil
}

// Depth returns the length of a queue.
func (c *RedisClient) Depth(ctx context.Context, queue string) (int64, error) {
	n, err := c.client.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read depth of queue %s: %w", queue, err)
	}
	return n, nil
}

// Publish sends a result to the run's result channel.
func (c *RedisClient) Publish(ctx context.Context, result Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	channel := ResultChannel(result.RunID)
	if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}

	return nil
}

// Subscribe creates a subscription to a run's result channel.
func (c *RedisClient) Subscribe(ctx context.Context, runID string) (<-chan Result, error) {
	channel := ResultChannel(runID)
	pubsub := c.client.Subscribe(ctx, channel)

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", channel, err)
	}

	resultChan := make(chan Result)

	go func() {
		defer close(resultChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var result Result
				if err := json.Unmarshal([]byte(msg.Payload), &result); err != nil {
					continue
				}

				select {
				case resultChan <- result:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return resultChan, nil
}

// Heartbeat refreshes the worker's health key with the configured TTL.
func (c *RedisClient) Heartbeat(ctx context.Context, workerID string) error {
	if err := c.client.Set(ctx, HealthKey(workerID), "ok", c.heartbeatTTL).Err(); err != nil {
		return fmt.Errorf("failed to set heartbeat for worker %s: %w", workerID, err)
	}
	return nil
}

// Alive reports whether the worker's health key exists.
func (c *RedisClient) Alive(ctx context.Context, workerID string) (bool, error) {
	n, err := c.client.Exists(ctx, HealthKey(workerID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check heartbeat for worker %s: %w", workerID, err)
	}
	return n == 1, nil
}

// Close closes the Redis connection.
func (c *RedisClient) Close() error {
	return c.client.Close()
}
