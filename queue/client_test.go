package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/threatmap/internal/redisconn"
)

// setupTestClient creates a miniredis instance and returns a connected RedisClient.
func setupTestClient(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := NewRedisClient(RedisOptions{
		Options: redisconn.Options{
			URL:            fmt.Sprintf("redis://%s", mr.Addr()),
			ConnectTimeout: 5 * time.Second,
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   5 * time.Second,
		},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client, mr
}

func TestNewRedisClient(t *testing.T) {
	t.Run("defaults applied", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.Equal(t, DefaultPopTimeout, client.popTimeout)
		assert.Equal(t, DefaultHeartbeatTTL, client.heartbeatTTL)
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewRedisClient(RedisOptions{Options: redisconn.Options{URL: "invalid://url"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse Redis URL")
	})
}

func TestPushPop(t *testing.T) {
	t.Run("successful push and pop", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ctx := context.Background()

		item := validItem()
		require.NoError(t, client.Push(ctx, DefaultQueue, item))

		popped, err := client.Pop(ctx, DefaultQueue)
		require.NoError(t, err)
		require.NotNil(t, popped)
		assert.Equal(t, item, *popped)
	})

	t.Run("multiple items FIFO order", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			item := validItem()
			item.Index = i
			item.Total = 5
			item.IncidentID = fmt.Sprintf("inc-%d", i)
			require.NoError(t, client.Push(ctx, DefaultQueue, item))
		}

		depth, err := client.Depth(ctx, DefaultQueue)
		require.NoError(t, err)
		assert.Equal(t, int64(5), depth)

		for i := 0; i < 5; i++ {
			popped, err := client.Pop(ctx, DefaultQueue)
			require.NoError(t, err)
			require.NotNil(t, popped)
			assert.Equal(t, fmt.Sprintf("inc-%d", i), popped.IncidentID)
		}

		depth, err = client.Depth(ctx, DefaultQueue)
		require.NoError(t, err)
		assert.Zero(t, depth)
	})

	t.Run("pop from empty queue times out with nil", func(t *testing.T) {
		client, _ := setupTestClient(t)

		item, err := client.Pop(context.Background(), "empty-queue")
		require.NoError(t, err)
		assert.Nil(t, item)
	})

	t.Run("pop returns pushed item while blocked", func(t *testing.T) {
		client, _ := setupTestClient(t)
		client.popTimeout = 5 * time.Second
		ctx := context.Background()

		resultChan := make(chan *WorkItem, 1)
		errChan := make(chan error, 1)
		go func() {
			item, err := client.Pop(ctx, "delayed-queue")
			if err != nil {
				errChan <- err
				return
			}
			resultChan <- item
		}()

		time.Sleep(100 * time.Millisecond)
		require.NoError(t, client.Push(ctx, "delayed-queue", validItem()))

		select {
		case item := <-resultChan:
			require.NotNil(t, item)
			assert.Equal(t, "inc-1", item.IncidentID)
		case err := <-errChan:
			t.Fatalf("unexpected error: %v", err)
		case <-time.After(3 * time.Second):
			t.Fatal("Pop did not return after item was pushed")
		}
	})

	t.Run("malformed payload", func(t *testing.T) {
		client, mr := setupTestClient(t)

		_, err := mr.Lpush("bad-queue", "{not json")
		require.NoError(t, err)

		_, err = client.Pop(context.Background(), "bad-queue")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal work item")
	})
}

func TestPublishSubscribe(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results, err := client.Subscribe(ctx, "run-1")
	require.NoError(t, err)

	now := time.Now().UnixMilli()
	sent := Result{
		RunID:       "run-1",
		IncidentID:  "inc-1",
		Stage:       StageMap,
		Saved:       true,
		Mappings:    2,
		WorkerID:    "w-1",
		StartedAt:   now,
		CompletedAt: now + 5,
	}
	require.NoError(t, client.Publish(ctx, sent))

	// A result for another run is not delivered.
	other := sent
	other.RunID = "run-2"
	require.NoError(t, client.Publish(ctx, other))

	select {
	case got := <-results:
		assert.Equal(t, sent, got)
	case <-ctx.Done():
		t.Fatal("result not received")
	}

	cancel()
	for range results {
		// drain until the subscription goroutine closes the channel
	}
}

func TestHeartbeat(t *testing.T) {
	t.Run("heartbeat sets TTL", func(t *testing.T) {
		client, mr := setupTestClient(t)
		ctx := context.Background()

		require.NoError(t, client.Heartbeat(ctx, "w-1"))

		ttl := mr.TTL(HealthKey("w-1"))
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, DefaultHeartbeatTTL)

		alive, err := client.Alive(ctx, "w-1")
		require.NoError(t, err)
		assert.True(t, alive)
	})

	t.Run("heartbeat expires", func(t *testing.T) {
		client, mr := setupTestClient(t)
		ctx := context.Background()

		require.NoError(t, client.Heartbeat(ctx, "w-1"))
		mr.FastForward(DefaultHeartbeatTTL + time.Second)

		alive, err := client.Alive(ctx, "w-1")
		require.NoError(t, err)
		assert.False(t, alive)
	})

	t.Run("unknown worker", func(t *testing.T) {
		client, _ := setupTestClient(t)

		alive, err := client.Alive(context.Background(), "ghost")
		require.NoError(t, err)
		assert.False(t, alive)
	})
}

func TestClose(t *testing.T) {
	client, _ := setupTestClient(t)
	require.NoError(t, client.Close())

	err := client.Push(context.Background(), DefaultQueue, validItem())
	assert.Error(t, err)
}
