package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/cod-ledger/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr := miniredis.RunT(t)

	adapter, err := redis.NewRedisAdapter(t.Name(), "test:", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func testConfig(name string) QueueConfig {
	return QueueConfig{
		Name:              name,
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      50 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	}
}

type payload struct {
	Key string `json:"key"`
}

func TestQueue_PublishAndConsume(t *testing.T) {
	_, adapter := setupTestRedis(t)

	queue, err := NewQueue(context.Background(), adapter, testConfig("audit"))
	require.NoError(t, err)

	_, err = queue.PublishJSON(context.Background(), payload{Key: "value"}, map[string]string{"type": "test"})
	require.NoError(t, err)

	received := make(chan *Message, 1)
	require.NoError(t, queue.Consume(func(ctx context.Context, msg *Message) error {
		received <- msg
		return nil
	}))
	defer queue.Stop(time.Second)

	select {
	case msg := <-received:
		var p payload
		require.NoError(t, msg.Decode(&p))
		assert.Equal(t, "value", p.Key)
		assert.Equal(t, "test", msg.Metadata["type"])
		assert.Equal(t, 0, msg.Attempts)
		assert.False(t, msg.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

func TestQueue_ConsumeTwice(t *testing.T) {
	_, adapter := setupTestRedis(t)

	queue, err := NewQueue(context.Background(), adapter, testConfig("audit"))
	require.NoError(t, err)
	defer queue.Stop(time.Second)

	noop := func(ctx context.Context, msg *Message) error { return nil }
	require.NoError(t, queue.Consume(noop))
	assert.Error(t, queue.Consume(noop))
	assert.Error(t, queue.Consume(nil))
}

func TestQueue_NewQueueIsIdempotent(t *testing.T) {
	_, adapter := setupTestRedis(t)

	_, err := NewQueue(context.Background(), adapter, testConfig("audit"))
	require.NoError(t, err)
	_, err = NewQueue(context.Background(), adapter, testConfig("audit"))
	assert.NoError(t, err)

	_, err = NewQueue(context.Background(), adapter, QueueConfig{})
	assert.Error(t, err)
}

func TestQueue_PollAcksOnSuccess(t *testing.T) {
	_, adapter := setupTestRedis(t)
	ctx := context.Background()

	queue, err := NewQueue(ctx, adapter, testConfig("audit"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := queue.PublishJSON(ctx, payload{Key: "k"}, nil)
		require.NoError(t, err)
	}

	n, err := queue.Poll(ctx, func(ctx context.Context, msg *Message) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stats, err := queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalMessages)
	assert.Equal(t, int64(0), stats.PendingMessages)
}

func TestQueue_RetryThenDeadLetter(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	ctx := context.Background()

	cfg := testConfig("audit")
	cfg.MaxRetries = 2
	queue, err := NewQueue(ctx, adapter, cfg)
	require.NoError(t, err)

	_, err = queue.PublishJSON(ctx, payload{Key: "retry"}, map[string]string{"type": "collection_failed"})
	require.NoError(t, err)

	var calls atomic.Int32
	failing := func(ctx context.Context, msg *Message) error {
		calls.Add(1)
		return assert.AnError
	}

	now := time.Now()
	mr.SetTime(now)

	_, err = queue.Poll(ctx, failing)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	stats, err := queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PendingMessages)

	// visible again after the timeout
	mr.SetTime(now.Add(10 * time.Second))
	_, err = queue.Poll(ctx, failing)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	mr.SetTime(now.Add(20 * time.Second))
	_, err = queue.Poll(ctx, failing)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "handler must not run once retries are exhausted")

	stats, err = queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.PendingMessages)
	assert.Equal(t, int64(1), stats.DeadLetters)
}

func TestQueue_ConcurrentPublish(t *testing.T) {
	_, adapter := setupTestRedis(t)
	ctx := context.Background()

	queue, err := NewQueue(ctx, adapter, testConfig("notifications"))
	require.NoError(t, err)

	numGoroutines := 10
	done := make(chan struct{}, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			_, err := queue.PublishJSON(ctx, payload{Key: "c"}, nil)
			assert.NoError(t, err)
			done <- struct{}{}
		}()
	}
	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	stats, err := queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(numGoroutines), stats.TotalMessages)
}

func TestQueue_Stop(t *testing.T) {
	_, adapter := setupTestRedis(t)

	queue, err := NewQueue(context.Background(), adapter, testConfig("audit"))
	require.NoError(t, err)

	require.NoError(t, queue.Consume(func(ctx context.Context, msg *Message) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}))
	assert.NoError(t, queue.Stop(2*time.Second))
}
