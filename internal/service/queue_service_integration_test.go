//go:build integration

package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"doc-convert-service/internal/service"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	c, err := tcredis.Run(ctx, "redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	uri, err := c.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisQueue_ClaimAckNoRequeue(t *testing.T) {
	ctx := context.Background()
	rdb := startRedis(t)
	q := service.NewRedisQueue(rdb, service.Lane{QueueKey: "t:queue", ProcessingKey: "t:processing"})

	require.NoError(t, q.Enqueue(ctx, "first"))
	require.NoError(t, q.Enqueue(ctx, "second"))

	id, err := q.ClaimBlocking(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", id)

	n, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// a crashed worker never acks "first"; it must not be delivered again
	id, err = q.ClaimBlocking(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "second", id)
	require.NoError(t, q.Ack(ctx, "second"))

	_, err = q.ClaimBlocking(ctx, 300*time.Millisecond)
	assert.ErrorIs(t, err, service.ErrEmpty)

	n, err = q.InFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
