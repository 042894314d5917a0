package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"doc-convert-service/internal/apperr"
	"doc-convert-service/internal/entity"
	"doc-convert-service/internal/repository"
	"doc-convert-service/internal/storage"
)

// JobRepository is the job state store port (memory, redisstore and
// postgresql implement it).
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	SetResultDone(ctx context.Context, id uuid.UUID, result entity.Result) error
	SetResultError(ctx context.Context, id uuid.UUID, errText string) error
}

// JobQueue is the slice of Queue the API side needs.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
}

type Options struct {
	// Enabled is the process-wide async toggle.
	Enabled bool
	// Available is false when the job backend could not be reached at
	// startup; job calls then answer ServiceUnavailable.
	Available bool
}

type JobService struct {
	repo  JobRepository
	queue JobQueue
	files *storage.Manager
	opts  Options
	log   zerolog.Logger
}

func NewJobService(repo JobRepository, queue JobQueue, files *storage.Manager, opts Options, log zerolog.Logger) *JobService {
	return &JobService{
		repo:  repo,
		queue: queue,
		files: files,
		opts:  opts,
		log:   log.With().Str("component", "jobs").Logger(),
	}
}

// NewUnavailableJobService answers every job call with ServiceUnavailable
// (or InvalidInput when async jobs are disabled).
func NewUnavailableJobService(enabled bool, log zerolog.Logger) *JobService {
	return &JobService{
		opts: Options{Enabled: enabled},
		log:  log.With().Str("component", "jobs").Logger(),
	}
}

func (s *JobService) Enabled() bool   { return s.opts.Enabled }
func (s *JobService) Available() bool { return s.opts.Available && s.repo != nil && s.queue != nil }

type SubmitRequest struct {
	Operation entity.Operation
	Inputs    []string
	Params    entity.Params
}

// Submit records a queued job and enqueues it. It never waits for execution.
// On failure the caller still owns Inputs.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	if !s.opts.Enabled {
		return uuid.Nil, apperr.InvalidInput("async jobs are disabled")
	}
	if !s.Available() {
		return uuid.Nil, apperr.ServiceUnavailable("job queue unavailable")
	}
	if !req.Operation.Valid() {
		return uuid.Nil, apperr.InvalidInput("unknown job type")
	}
	if len(req.Inputs) == 0 {
		return uuid.Nil, apperr.InvalidInput("no input files")
	}

	job := &entity.Job{
		ID:        uuid.New(),
		Operation: req.Operation,
		Inputs:    req.Inputs,
		Params:    req.Params,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		s.log.Error().Err(err).Msg("create job")
		return uuid.Nil, apperr.Wrap(apperr.KindServiceUnavailable, "job queue unavailable", err)
	}

	if err := s.queue.Enqueue(ctx, job.ID.String()); err != nil {
		s.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("enqueue job")
		if ferr := s.repo.SetResultError(context.WithoutCancel(ctx), job.ID, "enqueue failed: "+err.Error()); ferr != nil {
			s.log.Error().Err(ferr).Str("job_id", job.ID.String()).Msg("mark unqueued job as error")
		}
		return uuid.Nil, apperr.Wrap(apperr.KindServiceUnavailable, "job queue unavailable", err)
	}

	s.log.Info().Str("job_id", job.ID.String()).Str("op", string(job.Operation)).Int("inputs", len(job.Inputs)).Msg("job queued")
	return job.ID, nil
}

// StatusView is what pollers see. Error detail stays in the store.
type StatusView struct {
	Status      entity.JobStatus
	Progress    int
	ResultURL   string
	ContentType string
	Message     string
}

func ResultURL(id uuid.UUID) string { return "/api/jobs/" + id.String() + "/download" }

// Status is read-only; repeated calls only reflect committed transitions.
func (s *JobService) Status(ctx context.Context, rawID string) (StatusView, error) {
	job, err := s.load(ctx, rawID)
	if err != nil {
		return StatusView{}, err
	}

	v := StatusView{Status: job.Status, Progress: job.Status.Progress()}
	switch job.Status {
	case entity.StatusDone:
		v.ResultURL = ResultURL(job.ID)
		if job.Result != nil {
			v.ContentType = job.Result.ContentType
		}
	case entity.StatusError:
		v.Message = "job failed"
	}
	return v, nil
}

// FetchResult returns the result file of a done job. Malformed or unknown
// ids, unfinished jobs and swept files all yield NotFound.
func (s *JobService) FetchResult(ctx context.Context, rawID string) (storage.ManagedFile, error) {
	job, err := s.load(ctx, rawID)
	if err != nil {
		return storage.ManagedFile{}, err
	}
	if job.Status != entity.StatusDone || job.Result == nil {
		return storage.ManagedFile{}, apperr.NotFound("job result not found")
	}

	path, err := s.files.Resolve(job.Result.Path)
	if err != nil {
		s.log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("result path rejected")
		return storage.ManagedFile{}, apperr.NotFound("job result not found")
	}
	mf, err := s.files.Describe(path, storage.OwnerResult, job.Result.ContentType)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return storage.ManagedFile{}, apperr.NotFound("job result not found")
		}
		return storage.ManagedFile{}, err
	}
	return mf, nil
}

func (s *JobService) load(ctx context.Context, rawID string) (*entity.Job, error) {
	if !s.Available() {
		return nil, apperr.ServiceUnavailable("job queue unavailable")
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, apperr.NotFound("job not found")
	}
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("job not found")
		}
		return nil, apperr.Wrap(apperr.KindServiceUnavailable, "job queue unavailable", fmt.Errorf("get job %s: %w", id, err))
	}
	return job, nil
}

// ResultName is how a result path is recorded: relative to the storage
// root, so downloads always go back through Resolve.
func ResultName(path string) string { return filepath.Base(path) }
