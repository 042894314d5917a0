package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"doc-convert-service/internal/entity"
	"doc-convert-service/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversion_jobs (
    id                  UUID PRIMARY KEY,
    operation           TEXT NOT NULL,
    status              TEXT NOT NULL,
    inputs              JSONB NOT NULL DEFAULT '[]',
    params              JSONB NOT NULL DEFAULT '{}',
    result_path         TEXT,
    result_content_type TEXT,
    error               TEXT,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS conversion_jobs_status_idx ON conversion_jobs (status);
`

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	inputs, err := json.Marshal(job.Inputs)
	if err != nil {
		return err
	}
	params, err := json.Marshal(job.Params)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO conversion_jobs (id, operation, status, inputs, params)
VALUES ($1, $2, 'queued', $3, $4)
RETURNING status, created_at, updated_at;
`
	var status string
	if err := r.pool.QueryRow(ctx, q, job.ID, string(job.Operation), inputs, params).
		Scan(&status, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return err
	}
	job.Status = entity.JobStatus(status)
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	const q = `
SELECT id, operation, status, inputs, params, result_path, result_content_type, error, created_at, updated_at
FROM conversion_jobs
WHERE id = $1;
`

	var (
		job         entity.Job
		opText      string
		statusText  string
		inputBytes  []byte
		paramBytes  []byte
		resultPath  *string
		resultCType *string
		errText     *string
	)

	if err := r.pool.QueryRow(ctx, q, id).Scan(
		&job.ID,
		&opText,
		&statusText,
		&inputBytes,
		&paramBytes,
		&resultPath,  // NULL => nil
		&resultCType, // NULL => nil
		&errText,     // NULL => nil
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	job.Operation = entity.Operation(opText)
	job.Status = entity.JobStatus(statusText)
	if err := json.Unmarshal(inputBytes, &job.Inputs); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	if err := json.Unmarshal(paramBytes, &job.Params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if resultPath != nil {
		job.Result = &entity.Result{Path: *resultPath}
		if resultCType != nil {
			job.Result.ContentType = *resultCType
		}
	}
	job.Error = errText

	return &job, nil
}

func (r *JobRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE conversion_jobs SET status='running', updated_at=now() WHERE id=$1 AND status = ANY($2);`
	return r.exec(ctx, id, q, id, allowed(entity.StatusRunning))
}

func (r *JobRepository) SetResultDone(ctx context.Context, id uuid.UUID, result entity.Result) error {
	const q = `
UPDATE conversion_jobs
SET status='done', result_path=$3, result_content_type=$4, error=NULL, updated_at=now()
WHERE id=$1 AND status = ANY($2);`
	return r.exec(ctx, id, q, id, allowed(entity.StatusDone), result.Path, result.ContentType)
}

func (r *JobRepository) SetResultError(ctx context.Context, id uuid.UUID, errText string) error {
	const q = `UPDATE conversion_jobs SET status='error', error=$3, updated_at=now() WHERE id=$1 AND status = ANY($2);`
	return r.exec(ctx, id, q, id, allowed(entity.StatusError), errText)
}

// exec runs a conditional UPDATE; zero rows means the job is missing or in
// a state the transition does not leave from.
func (r *JobRepository) exec(ctx context.Context, id uuid.UUID, q string, args ...any) error {
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversion_jobs WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrInvalidTransition
}

func allowed(to entity.JobStatus) []string {
	from := repository.AllowedFrom(to)
	out := make([]string, len(from))
	for i, s := range from {
		out[i] = string(s)
	}
	return out
}
