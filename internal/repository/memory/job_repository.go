// Package memory is an in-process job store for single-process
// deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"doc-convert-service/internal/entity"
	"doc-convert-service/internal/repository"
)

// pruneEvery throttles the scan for expired records.
const pruneEvery = time.Minute

type JobRepository struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*entity.Job
	now  func() time.Time

	// ttl is how long a finished job stays readable; zero keeps it forever.
	ttl        time.Duration
	lastPruned time.Time
}

func NewJobRepository(ttl time.Duration) *JobRepository {
	return &JobRepository{jobs: map[uuid.UUID]*entity.Job{}, now: time.Now, ttl: ttl}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	r.pruneLocked(now)

	c := clone(job)
	c.Status = entity.StatusQueued
	c.CreatedAt, c.UpdatedAt = now, now
	r.jobs[job.ID] = c

	job.Status, job.CreatedAt, job.UpdatedAt = c.Status, now, now
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(j), nil
}

func (r *JobRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return r.transition(id, entity.StatusRunning, nil)
}

func (r *JobRepository) SetResultDone(ctx context.Context, id uuid.UUID, result entity.Result) error {
	return r.transition(id, entity.StatusDone, func(j *entity.Job) {
		res := result
		j.Result = &res
		j.Error = nil
	})
}

func (r *JobRepository) SetResultError(ctx context.Context, id uuid.UUID, errText string) error {
	return r.transition(id, entity.StatusError, func(j *entity.Job) {
		msg := errText
		j.Error = &msg
	})
}

func (r *JobRepository) transition(id uuid.UUID, to entity.JobStatus, apply func(*entity.Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !repository.CanTransition(j.Status, to) {
		return repository.ErrInvalidTransition
	}
	j.Status = to
	j.UpdatedAt = r.now().UTC()
	if apply != nil {
		apply(j)
	}
	return nil
}

// pruneLocked drops done and error jobs not updated within ttl. Queued and
// running jobs are kept whatever their age.
func (r *JobRepository) pruneLocked(now time.Time) {
	if r.ttl <= 0 || now.Sub(r.lastPruned) < pruneEvery {
		return
	}
	r.lastPruned = now
	cutoff := now.Add(-r.ttl)
	for id, j := range r.jobs {
		if j.Status.Terminal() && j.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
		}
	}
}

func clone(j *entity.Job) *entity.Job {
	c := *j
	c.Inputs = append([]string(nil), j.Inputs...)
	c.Params.Langs = append([]string(nil), j.Params.Langs...)
	c.Params.Ranges = append([]entity.PageRange(nil), j.Params.Ranges...)
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}
