//go:build integration

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestRedisBackendAgainstRealRedis exercises RedisBackend against a real
// Redis container instead of miniredis, catching anything miniredis
// doesn't faithfully emulate (TTL edge cases, pipeline semantics).
func TestRedisBackendAgainstRealRedis(t *testing.T) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	defer client.Close()

	backend := NewRedisBackend(client, 3)
	require.NoError(t, backend.Enqueue(ctx, Message{JobID: "real-1", Priority: 5}))

	msg, ok, err := backend.Dequeue(ctx, 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "real-1", msg.JobID)
	require.NoError(t, backend.Ack(ctx, msg.JobID))
}
