package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"doc-convert-service/internal/convert"
	"doc-convert-service/internal/entity"
	"doc-convert-service/internal/repository"
	"doc-convert-service/internal/service"
)

type JobRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	SetResultDone(ctx context.Context, id uuid.UUID, result entity.Result) error
	SetResultError(ctx context.Context, id uuid.UUID, errText string) error
}

type Executor interface {
	Execute(ctx context.Context, req convert.Request) (convert.Artifact, error)
}

type FileRemover interface {
	Remove(paths ...string)
}

// ErrSkipped marks a delivery that was not executed because the job had
// already left the queued state.
var ErrSkipped = errors.New("job not in queued state")

type Processor struct {
	repo  JobRepo
	exec  Executor
	files FileRemover
	log   zerolog.Logger
}

func NewProcessor(repo JobRepo, exec Executor, files FileRemover, log zerolog.Logger) *Processor {
	return &Processor{repo: repo, exec: exec, files: files, log: log.With().Str("component", "worker").Logger()}
}

// Process runs one job: queued -> running -> done|error. Conversion
// failures and panics become the job's error state; the returned error is
// for logging only.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	start := time.Now()
	log := p.log.With().Str("job_id", jobID).Logger()

	id, err := uuid.Parse(jobID)
	if err != nil {
		log.Error().Err(err).Msg("parse job id")
		return err
	}

	// State writes must land even when shutdown cancels ctx mid-job.
	stateCtx := context.WithoutCancel(ctx)

	if err := p.repo.MarkRunning(stateCtx, id); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			log.Warn().Msg("job already claimed or finished, skipping")
			return ErrSkipped
		}
		log.Error().Err(err).Msg("update status=running")
		return err
	}

	job, err := p.repo.GetByID(stateCtx, id)
	if err != nil {
		log.Error().Err(err).Msg("get job")
		if ferr := p.repo.SetResultError(stateCtx, id, "load job: "+err.Error()); ferr != nil {
			log.Error().Err(ferr).Msg("set error")
		}
		return err
	}
	defer p.files.Remove(job.Inputs...)

	log = log.With().Str("op", string(job.Operation)).Logger()
	log.Info().Str("status", string(entity.StatusRunning)).Msg("job started")

	art, execErr := p.execute(ctx, job)
	if execErr != nil {
		if err := p.repo.SetResultError(stateCtx, id, execErr.Error()); err != nil {
			log.Error().Err(err).Msg("set error")
		}
		log.Warn().Err(execErr).
			Str("status", string(entity.StatusError)).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("job failed")
		return execErr
	}

	result := entity.Result{Path: service.ResultName(art.Path), ContentType: art.ContentType}
	if err := p.repo.SetResultDone(stateCtx, id, result); err != nil {
		log.Error().Err(err).Msg("set done")
		p.files.Remove(art.Path)
		return err
	}

	log.Info().
		Str("status", string(entity.StatusDone)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("job done")
	return nil
}

func (p *Processor) execute(ctx context.Context, job *entity.Job) (art convert.Artifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("job_id", job.ID.String()).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("job panicked")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.exec.Execute(ctx, convert.Request{
		Operation: job.Operation,
		Inputs:    job.Inputs,
		Params:    job.Params,
		Prefix:    "job",
	})
}
