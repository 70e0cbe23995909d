package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"PatchDiscovery/internal/app"
	"PatchDiscovery/internal/domain"
	"PatchDiscovery/internal/logging"
	"PatchDiscovery/internal/usecase"
)

var (
	watchBatches int
	watchTimeout time.Duration
	watchJSON    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Start a run, follow it and print a digest",
	Long: `Start a discovery run for the configured patch, print progress while it
runs and a digest of accepted items once it completes. With auto-loop enabled,
--batches sets how many batches to wait for.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if watchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, watchTimeout)
			defer cancel()
		}

		cfg := loadConfig()
		logger := logging.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

		application, err := app.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := application.Close(); err != nil {
				logger.Warn("close application", "error", err)
			}
		}()

		report, err := application.Watch(ctx, usecase.WatchOptions{
			Batches:    watchBatches,
			OnProgress: printProgress,
		})
		if err != nil {
			return err
		}

		if sent, err := application.PublishDigest(ctx, usecase.BuildDigestMessage(report.Items)); err != nil {
			logger.Warn("digest not delivered", "error", err)
		} else if sent {
			logger.Info("digest delivered", "items", len(report.Items))
		}

		if watchJSON {
			payload, err := usecase.BuildDigestJSON(report.Items)
			if err != nil {
				return fmt.Errorf("build digest: %w", err)
			}
			fmt.Println(string(payload))
			return nil
		}

		fmt.Printf("\nRun %s %s after %d batch(es): %d found, %d saved, %d duplicates\n\n",
			report.RunID, report.Lifecycle, report.Batches,
			report.Counters.ItemsFound, report.Counters.TotalSaved, report.Counters.TotalDuplicates)
		fmt.Print(usecase.BuildDigestMessage(report.Items))
		return nil
	},
}

func printProgress(s domain.RunState) {
	stage := string(s.CurrentStage)
	if stage == "" {
		stage = "-"
	}
	fmt.Fprintf(os.Stderr, "[%s] %-9s stage=%-9s found=%d frontier=%d %s\n",
		time.Now().Format("15:04:05"), s.Lifecycle, stage,
		s.Counters.ItemsFound, s.Counters.FrontierSize, s.LastItemTitle)
}

func init() {
	watchCmd.Flags().IntVar(&watchBatches, "batches", 1, "number of completed batches to wait for")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 0, "give up (and stop the run) after this long; 0 waits forever")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "print the digest as JSON")
	rootCmd.AddCommand(watchCmd)
}
