package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"PatchDiscovery/internal/config"
)

var (
	configPath    string
	patchOverride string
)

var rootCmd = &cobra.Command{
	Use:           "patchdiscovery",
	Short:         "Drive and observe discovery runs for a patch",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			return os.Setenv("PATCH_DISCOVERY_CONFIG", configPath)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config (overrides $PATCH_DISCOVERY_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&patchOverride, "patch", "", "patch handle to drive (overrides config)")
}

func loadConfig() config.Config {
	cfg := config.Load()
	if patchOverride != "" {
		cfg.Patch = patchOverride
	}
	return cfg
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
