package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yairfalse/ohjaamo/internal/config"
	"github.com/yairfalse/ohjaamo/internal/daemon"
)

var (
	version    = "0.1.0"
	configPath string

	rootCmd = &cobra.Command{
		Use:   "ohjaamo",
		Short: "Resource Lifecycle Control Plane",
		Long: `Ohjaamo - Resource Lifecycle Control Plane

Ohjaamo manages the lifecycle of tenant infrastructure: networks,
subnets, security groups, floating IPs and virtual environments. Every
mutation runs as an admitted request through an explicit state machine,
and a reconciliation loop keeps local records honest against what the
backend actually has.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Ohjaamo {{.Version}} - Resource Lifecycle Control Plane
`)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path")
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openControlPlane assembles the control plane for one-shot commands.
// The caller must Close it.
func openControlPlane(ctx context.Context) (*daemon.Daemon, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyLogLevel(cfg.Log.Level)

	d, err := daemon.New(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func applyLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
