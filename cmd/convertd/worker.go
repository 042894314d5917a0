package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"doc-convert-service/internal/config"
	"doc-convert-service/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a standalone worker pool against the Redis job queue",
		Long: `worker claims jobs from the shared Redis queue and runs them. It must share
TMP_DIR with the API processes, since job inputs and results live there.

A worker killed mid-job leaves that job in "running"; it is not retried.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.JobsBackend != config.BackendRedis {
				return fmt.Errorf("worker needs JOBS_BACKEND=redis, got %q", cfg.JobsBackend)
			}
			if workers > 0 {
				cfg.Workers = workers
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			files, err := newStorage(cfg, log)
			if err != nil {
				return err
			}
			b, err := openBackend(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer b.Close()

			proc := worker.NewProcessor(b.repo, newConverter(cfg, files, log), files, log)
			log.Info().
				Int("workers", cfg.Workers).
				Str("tmp_dir", files.Root()).
				Str("store", cfg.JobStore).
				Msg("worker started")
			worker.NewPool(b.queue, proc, cfg.Workers, log).Run(ctx)
			log.Info().Msg("worker stopped")
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "pool size (default: WORKERS)")
	return cmd
}
