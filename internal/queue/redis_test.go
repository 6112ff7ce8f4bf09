package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisBackend(client, 3), mr
}

func TestRedisBackendEnqueueDequeueAck(t *testing.T) {
	b, _ := newTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, Message{JobID: "j1", JobType: "json", JobData: []byte(`{"a":1}`), Priority: 1}))

	msg, ok, err := b.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "j1", msg.JobID)
	assert.Equal(t, []byte(`{"a":1}`), msg.JobData)

	require.NoError(t, b.Ack(ctx, "j1"))

	size, err := b.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestRedisBackendPriorityOrdering(t *testing.T) {
	b, _ := newTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, Message{JobID: "low", Priority: 1}))
	require.NoError(t, b.Enqueue(ctx, Message{JobID: "high", Priority: 10}))

	msg, ok, err := b.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "high", msg.JobID)
}

func TestRedisBackendNackRetriesThenDLQs(t *testing.T) {
	b, _ := newTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, Message{JobID: "j1", MaxRetries: 1}))
	msg, ok, err := b.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Nack(ctx, msg.JobID, "boom"))
	dlqSize, err := b.DLQSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), dlqSize)

	retried, ok, err := b.Dequeue(ctx, 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, retried.RetryCount)

	require.NoError(t, b.Nack(ctx, retried.JobID, "boom again"))
	dlqSize, err = b.DLQSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dlqSize)
}

func TestRedisBackendNackPermanentSkipsRetryBudget(t *testing.T) {
	b, _ := newTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, Message{JobID: "j1", MaxRetries: 5}))
	msg, ok, err := b.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.NackPermanent(ctx, msg.JobID, "unfingerprintable"))

	dlqSize, err := b.DLQSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dlqSize)

	size, err := b.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestRedisBackendDequeueTimesOutWhenEmpty(t *testing.T) {
	b, _ := newTestRedisBackend(t)
	ctx := context.Background()

	_, ok, err := b.Dequeue(ctx, 150*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}
