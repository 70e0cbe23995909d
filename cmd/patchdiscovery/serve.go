package main

import (
	"github.com/spf13/cobra"

	"PatchDiscovery/internal/app"
	"PatchDiscovery/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the run controller over HTTP",
	Long: `Start the HTTP boundary: JSON state and item endpoints, run actions
(start, pause, resume, stop, refresh), an SSE state feed and Prometheus metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := loadConfig()
		logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

		application, err := app.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := application.Close(); err != nil {
				logger.Warn("close application", "error", err)
			}
		}()

		if err := application.Serve(ctx); err != nil {
			return err
		}
		logger.Info("server exited properly")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
