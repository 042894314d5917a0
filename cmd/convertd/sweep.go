package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one temp-dir sweep pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				ttl = cfg.UploadTTL()
			}
			files, err := newStorage(cfg, log)
			if err != nil {
				return err
			}
			n := files.Sweep(ttl)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries older than %s from %s\n", n, ttl, files.Root())
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "age threshold (default: TTL_UPLOAD_MINUTES)")
	return cmd
}
