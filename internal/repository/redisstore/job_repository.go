// Package redisstore keeps job records as Redis hashes so the API and
// standalone workers share state.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"doc-convert-service/internal/entity"
	"doc-convert-service/internal/repository"
)

const (
	fID          = "id"
	fOperation   = "operation"
	fInputs      = "inputs"
	fParams      = "params"
	fStatus      = "status"
	fResultPath  = "result_path"
	fResultCType = "result_content_type"
	fError       = "error"
	fCreatedAt   = "created_at"
	fUpdatedAt   = "updated_at"
)

// transitionScript moves KEYS[1] to ARGV[1] when its current status is one
// of ARGV[4..]. ARGV[2] is updated_at, ARGV[3] a JSON object of extra fields.
// Returns 1 on success, 0 on a disallowed transition, -1 when missing.
var transitionScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then
  return -1
end
local ok = false
for i = 4, #ARGV do
  if ARGV[i] == cur then ok = true end
end
if not ok then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'updated_at', ARGV[2])
local extra = cjson.decode(ARGV[3])
for k, v in pairs(extra) do
  redis.call('HSET', KEYS[1], k, v)
end
return 1
`)

type JobRepository struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewJobRepository stores jobs under <prefix><id>. Records expire ttl after
// creation; ttl <= 0 keeps them forever.
func NewJobRepository(rdb redis.UniversalClient, prefix string, ttl time.Duration) *JobRepository {
	if prefix == "" {
		prefix = "convert:job:"
	}
	return &JobRepository{rdb: rdb, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *JobRepository) key(id uuid.UUID) string { return r.prefix + id.String() }

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	inputs, err := json.Marshal(job.Inputs)
	if err != nil {
		return fmt.Errorf("encode inputs: %w", err)
	}
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}

	now := r.now().UTC()
	ts := now.Format(time.RFC3339Nano)
	key := r.key(job.ID)

	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			fID, job.ID.String(),
			fOperation, string(job.Operation),
			fInputs, string(inputs),
			fParams, string(params),
			fStatus, string(entity.StatusQueued),
			fCreatedAt, ts,
			fUpdatedAt, ts,
		)
		if r.ttl > 0 {
			p.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return err
	}

	job.Status = entity.StatusQueued
	job.CreatedAt, job.UpdatedAt = now, now
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	m, err := r.rdb.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, repository.ErrNotFound
	}
	return decode(id, m)
}

func decode(id uuid.UUID, m map[string]string) (*entity.Job, error) {
	j := &entity.Job{
		ID:        id,
		Operation: entity.Operation(m[fOperation]),
		Status:    entity.JobStatus(m[fStatus]),
	}
	if err := json.Unmarshal([]byte(m[fInputs]), &j.Inputs); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	if err := json.Unmarshal([]byte(m[fParams]), &j.Params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if p, ok := m[fResultPath]; ok && p != "" {
		j.Result = &entity.Result{Path: p, ContentType: m[fResultCType]}
	}
	if e, ok := m[fError]; ok && e != "" {
		j.Error = &e
	}
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, m[fCreatedAt])
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, m[fUpdatedAt])
	return j, nil
}

func (r *JobRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, entity.StatusRunning, nil)
}

func (r *JobRepository) SetResultDone(ctx context.Context, id uuid.UUID, result entity.Result) error {
	return r.transition(ctx, id, entity.StatusDone, map[string]string{
		fResultPath:  result.Path,
		fResultCType: result.ContentType,
	})
}

func (r *JobRepository) SetResultError(ctx context.Context, id uuid.UUID, errText string) error {
	return r.transition(ctx, id, entity.StatusError, map[string]string{fError: errText})
}

func (r *JobRepository) transition(ctx context.Context, id uuid.UUID, to entity.JobStatus, extra map[string]string) error {
	if extra == nil {
		extra = map[string]string{}
	}
	raw, err := json.Marshal(extra)
	if err != nil {
		return err
	}

	args := []any{string(to), r.now().UTC().Format(time.RFC3339Nano), string(raw)}
	for _, s := range repository.AllowedFrom(to) {
		args = append(args, string(s))
	}

	res, err := transitionScript.Run(ctx, r.rdb, []string{r.key(id)}, args...).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return repository.ErrNotFound
		}
		return err
	}
	switch res {
	case 1:
		return nil
	case 0:
		return repository.ErrInvalidTransition
	default:
		return repository.ErrNotFound
	}
}
