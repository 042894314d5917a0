//go:build integration

package redisstore_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"doc-convert-service/internal/entity"
	"doc-convert-service/internal/repository"
	"doc-convert-service/internal/repository/redisstore"
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
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestRedisStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	rdb := startRedis(t)
	repo := redisstore.NewJobRepository(rdb, "test:job:", time.Hour)

	job := &entity.Job{
		ID:        uuid.New(),
		Operation: entity.OpSplit,
		Inputs:    []string{"/tmp/convert/a.pdf"},
		Params:    entity.Params{Ranges: []entity.PageRange{{Start: 1, End: 2}, {Start: 5, End: 5}}},
	}
	require.NoError(t, repo.Create(ctx, job))

	ttl, err := rdb.TTL(ctx, "test:job:"+job.ID.String()).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusQueued, got.Status)
	assert.Equal(t, job.Inputs, got.Inputs)
	assert.Equal(t, job.Params, got.Params)

	assert.ErrorIs(t, repo.SetResultDone(ctx, job.ID, entity.Result{}), repository.ErrInvalidTransition)
	require.NoError(t, repo.MarkRunning(ctx, job.ID))
	require.NoError(t, repo.SetResultDone(ctx, job.ID, entity.Result{Path: "job-x.zip", ContentType: "application/zip"}))
	assert.ErrorIs(t, repo.SetResultError(ctx, job.ID, "late"), repository.ErrInvalidTransition)

	got, err = repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDone, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "job-x.zip", got.Result.Path)
	assert.Nil(t, got.Error)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, repo.MarkRunning(ctx, uuid.New()), repository.ErrNotFound)
}

func TestRedisStore_MarkRunningSingleWinner(t *testing.T) {
	ctx := context.Background()
	rdb := startRedis(t)
	repo := redisstore.NewJobRepository(rdb, "", 0)

	job := &entity.Job{ID: uuid.New(), Operation: entity.OpCompress, Inputs: []string{"a"}}
	require.NoError(t, repo.Create(ctx, job))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if repo.MarkRunning(ctx, job.ID) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
