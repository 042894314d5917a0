// Command convertd runs the document conversion API, its workers and the
// temp-storage sweeper.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"doc-convert-service/internal/config"
	"doc-convert-service/internal/logging"
)

var (
	cfgFile string

	cfg config.Config
	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "convertd",
	Short: "PDF and image conversion service",
	Long: `convertd serves the conversion API (merge, split, compress, to-images, ocr),
runs async job workers against the shared queue and sweeps expired temp files.

Settings come from .env, an optional YAML file (--config / CONFIG_FILE) and
environment variables, in that order.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log = logging.New(cfg.LogLevel, cfg.LogFormat, "convertd")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file (default: CONFIG_FILE or env only)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newSweepCmd())
}

//go:generate swag init --dir ../.. --generalInfo cmd/convertd/main.go --output ../../docs --outputTypes go --parseInternal --exclude _examples

// @title convertd API
// @version 1.0
// @description PDF merge, split, compress, rasterize and OCR, synchronously or as queued jobs.
// @BasePath /
func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
