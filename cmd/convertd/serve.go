package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "doc-convert-service/docs"
	"doc-convert-service/internal/config"
	"doc-convert-service/internal/logging"
	"doc-convert-service/internal/service"
	httptransport "doc-convert-service/internal/transport/http"
	"doc-convert-service/internal/upload"
	"doc-convert-service/internal/worker"
)

func newServeCmd() *cobra.Command {
	var noWorkers bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the temp sweeper and in-process workers",
		Long: `serve starts the HTTP API and the periodic temp-dir sweep.

The API starts even when the job backend is unreachable; job endpoints then
answer 503 while the synchronous endpoints keep working. With the memory
backend the workers always run in-process. With Redis they run in-process
unless --no-workers is set, in which case "convertd worker" processes must
consume the queue.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, noWorkers)
		},
	}
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "do not run workers in this process (redis backend only)")
	return cmd
}

func runServe(ctx context.Context, noWorkers bool) error {
	files, err := newStorage(cfg, log)
	if err != nil {
		return err
	}
	conv := newConverter(cfg, files, log)

	var bg sync.WaitGroup
	bg.Add(1)
	go func() {
		defer bg.Done()
		files.RunSweeper(ctx, cfg.SweepInterval(), cfg.UploadTTL())
	}()

	jobs := service.NewUnavailableJobService(cfg.AsyncJobs, log)
	if cfg.AsyncJobs {
		b, err := openBackend(ctx, cfg, log)
		if err != nil {
			log.Warn().Err(err).Msg("job backend unavailable, async endpoints will answer 503")
		} else {
			defer b.Close()
			jobs = service.NewJobService(b.repo, b.queue, files, service.Options{Enabled: true, Available: true}, log)

			if cfg.JobsBackend == config.BackendMemory || !noWorkers {
				proc := worker.NewProcessor(b.repo, conv, files, log)
				pool := worker.NewPool(b.queue, proc, cfg.Workers, log)
				bg.Add(1)
				go func() {
					defer bg.Done()
					pool.Run(ctx)
				}()
			}
		}
	}

	h := httptransport.NewHandler(jobs, upload.NewValidator(files, log), conv, files, httptransport.Limits{
		MaxFileBytes:  cfg.MaxFileBytes(),
		MaxTotalBytes: cfg.MaxTotalBytes(),
	}, log)
	router := httptransport.Routes(h, httptransport.RouterConfig{
		BodyLimit:   cfg.RequestBodyLimit(),
		RateLimit:   cfg.RateLimit,
		RateWindow:  cfg.RateWindow(),
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
	}, log)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logging.StdLogger(log, "http"),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("tmp_dir", files.Root()).
			Bool("async_jobs", jobs.Enabled()).
			Bool("jobs_available", jobs.Available()).
			Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	bg.Wait()
	log.Info().Msg("stopped")
	return nil
}
