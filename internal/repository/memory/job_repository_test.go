package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-convert-service/internal/entity"
	"doc-convert-service/internal/repository"
)

func newJob() *entity.Job {
	return &entity.Job{
		ID:        uuid.New(),
		Operation: entity.OpCompress,
		Inputs:    []string{"/tmp/x/in.pdf"},
		Params:    entity.Params{Quality: "low"},
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	r := NewJobRepository(0)
	j := newJob()

	require.NoError(t, r.Create(ctx, j))
	got, err := r.GetByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusQueued, got.Status)
	assert.Equal(t, j.Inputs, got.Inputs)

	require.ErrorIs(t, r.SetResultDone(ctx, j.ID, entity.Result{}), repository.ErrInvalidTransition)

	require.NoError(t, r.MarkRunning(ctx, j.ID))
	require.ErrorIs(t, r.MarkRunning(ctx, j.ID), repository.ErrInvalidTransition)

	res := entity.Result{Path: "job-1.pdf", ContentType: "application/pdf"}
	require.NoError(t, r.SetResultDone(ctx, j.ID, res))

	require.ErrorIs(t, r.SetResultError(ctx, j.ID, "late"), repository.ErrInvalidTransition)
	require.ErrorIs(t, r.SetResultDone(ctx, j.ID, entity.Result{Path: "other"}), repository.ErrInvalidTransition)

	got, err = r.GetByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDone, got.Status)
	assert.Equal(t, &res, got.Result)
	assert.Nil(t, got.Error)
}

func TestQueuedToError(t *testing.T) {
	ctx := context.Background()
	r := NewJobRepository(0)
	j := newJob()
	require.NoError(t, r.Create(ctx, j))

	require.NoError(t, r.SetResultError(ctx, j.ID, "enqueue failed"))
	got, err := r.GetByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusError, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "enqueue failed", *got.Error)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	r := NewJobRepository(0)

	_, err := r.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, r.MarkRunning(ctx, uuid.New()), repository.ErrNotFound)
}

func TestMarkRunning_OnlyOneWinner(t *testing.T) {
	ctx := context.Background()
	r := NewJobRepository(0)
	j := newJob()
	require.NoError(t, r.Create(ctx, j))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.MarkRunning(ctx, j.ID) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestGetByID_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	r := NewJobRepository(0)
	j := newJob()
	require.NoError(t, r.Create(ctx, j))

	got, err := r.GetByID(ctx, j.ID)
	require.NoError(t, err)
	got.Inputs[0] = "mutated"
	got.Status = entity.StatusDone

	again, err := r.GetByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x/in.pdf", again.Inputs[0])
	assert.Equal(t, entity.StatusQueued, again.Status)
}

func TestCreate_PrunesExpiredFinishedJobs(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewJobRepository(time.Hour)
	r.now = func() time.Time { return now }

	done, failed, queued, running := newJob(), newJob(), newJob(), newJob()
	for _, j := range []*entity.Job{done, failed, queued, running} {
		require.NoError(t, r.Create(ctx, j))
	}
	require.NoError(t, r.MarkRunning(ctx, done.ID))
	require.NoError(t, r.SetResultDone(ctx, done.ID, entity.Result{Path: "job-1.pdf"}))
	require.NoError(t, r.SetResultError(ctx, failed.ID, "corrupt"))
	require.NoError(t, r.MarkRunning(ctx, running.ID))

	now = now.Add(2 * time.Hour)
	fresh := newJob()
	require.NoError(t, r.Create(ctx, fresh))

	for _, id := range []uuid.UUID{done.ID, failed.ID} {
		_, err := r.GetByID(ctx, id)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	}
	for _, id := range []uuid.UUID{queued.ID, running.ID, fresh.ID} {
		_, err := r.GetByID(ctx, id)
		assert.NoError(t, err)
	}
}

func TestCreate_ZeroTTLKeepsEverything(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewJobRepository(0)
	r.now = func() time.Time { return now }

	j := newJob()
	require.NoError(t, r.Create(ctx, j))
	require.NoError(t, r.SetResultError(ctx, j.ID, "corrupt"))

	now = now.Add(365 * 24 * time.Hour)
	require.NoError(t, r.Create(ctx, newJob()))

	_, err := r.GetByID(ctx, j.ID)
	assert.NoError(t, err)
}
