package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"doc-convert-service/internal/service"
)

type Pool struct {
	queue      service.Queue
	processor  *Processor
	workers    int
	claimDelay time.Duration
	backoff    time.Duration
	log        zerolog.Logger
}

func NewPool(queue service.Queue, processor *Processor, workers int, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 2
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		claimDelay: 5 * time.Second,
		backoff:    time.Second,
		log:        log.With().Str("component", "pool").Logger(),
	}
}

// Run claims jobs until ctx is done, then waits for in-progress jobs to
// finish before returning.
func (p *Pool) Run(ctx context.Context) {
	if n, err := p.queue.InFlight(ctx); err == nil && n > 0 {
		// Left by workers that died mid-job. They are not retried.
		p.log.Warn().Int64("count", n).Msg("claimed jobs without ack found at startup")
	}
	p.log.Info().Int("workers", p.workers).Msg("worker pool started")

	jobCh := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for jobID := range jobCh {
				p.handle(ctx, n, jobID)
			}
		}(i + 1)
	}

	defer func() {
		close(jobCh)
		wg.Wait()
		p.log.Info().Msg("worker pool stopped")
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		jobID, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
		if err != nil {
			if errors.Is(err, service.ErrEmpty) || ctx.Err() != nil {
				continue
			}
			p.log.Error().Err(err).Msg("claim failed")
			select {
			case <-time.After(p.backoff):
			case <-ctx.Done():
			}
			continue
		}

		select {
		case jobCh <- jobID:
		case <-ctx.Done():
			// claimed but never started; it stays claimed and queued
			p.log.Warn().Str("job_id", jobID).Msg("shutdown before job started")
			return
		}
	}
}

// handle processes one job and always acks: by then the job is terminal,
// skipped, or unrecoverable.
func (p *Pool) handle(ctx context.Context, n int, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Int("worker", n).Str("job_id", jobID).Interface("panic", r).Msg("worker recovered")
		}
		if err := p.queue.Ack(context.WithoutCancel(ctx), jobID); err != nil {
			p.log.Error().Int("worker", n).Str("job_id", jobID).Err(err).Msg("ack failed")
		}
	}()

	if err := p.processor.Process(ctx, jobID); err != nil && !errors.Is(err, ErrSkipped) {
		p.log.Debug().Int("worker", n).Str("job_id", jobID).Err(err).Msg("process returned error")
	}
}
