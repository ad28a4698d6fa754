package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/ohjaamo/internal/daemon"
	"github.com/yairfalse/ohjaamo/internal/telemetry"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the control plane daemon",
	Long: `Run ohjaamo in daemon mode.

The daemon executes admitted requests through their step plans and
reconciles every configured scope against the backend at the configured
interval.

Features:
- Request executor worker pool
- Periodic sweep submitting open requests, including ones admitted
  with --no-wait or left mid-plan by a crash
- Per-scope reconciliation loop with deletion policy guard
- Prometheus metrics, /health and /-/ready endpoints
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  ohjaamo daemon --config /etc/ohjaamo/config.yaml`,
	RunE:    runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyLogLevel(cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	provider, err := telemetry.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	d, err := daemon.New(ctx, cfg, provider)
	if err != nil {
		return fmt.Errorf("assemble control plane: %w", err)
	}
	defer func() { _ = d.Close() }()

	if err := d.Run(ctx); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}
	return nil
}
