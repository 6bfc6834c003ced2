// daytrader buys one candidate stock per day and sells it at a target profit.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"daytrader/internal/logger"
	"daytrader/internal/trace"
)

var (
	configPath string
	dryRun     bool
	buyWindow  time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "daytrader",
		Short: "Single-position intraday trader",
		Long: `daytrader watches today's candidate stock, buys it once when it reaches
its buy price and sells it once the target profit is reached.`,
		SilenceUsage: true,
		RunE:         run,
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the yaml config")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Simulate orders regardless of the configured mode")
	rootCmd.Flags().DurationVar(&buyWindow, "buy-window", 0, "Override how long to wait for the buy, in whole seconds of at least 1s (e.g. 10m)")

	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("daytrader version %s\n", trace.Version)
		},
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := initializeSystem(); err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = trace.Shutdown(shutdownCtx)
	}()

	cfg, secrets, err := loadConfig(ctx, configPath, dryRun, buyWindow)
	if err != nil {
		return err
	}

	sys, err := initializeComponents(ctx, cfg, secrets)
	if err != nil {
		return err
	}
	defer sys.shutdown(context.WithoutCancel(ctx))

	session, err := sys.engine.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info(ctx, "Shutting down...", "status", session.Status)
		return nil
	}
	return err
}
