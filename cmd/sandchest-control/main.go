package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sandchest/control/pkg/config"
	"github.com/sandchest/control/pkg/controlplane"
	"github.com/sandchest/control/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sandchest-control",
	Short: "Sandchest control plane for ephemeral VM sandboxes",
	Long: `sandchest-control runs the orchestration side of the Sandchest
platform: sandbox lifecycle enforcement, node capacity leasing, rate
limiting, and data retention across a fleet of VM host nodes.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"sandchest-control version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	runCmd.Flags().StringP("config", "c", "", "Path to YAML config file")
	runCmd.Flags().String("listen", "", "Admin listen address (overrides config)")
	runCmd.Flags().String("data-dir", "", "State directory (overrides config)")
	runCmd.Flags().String("nats-url", "", "NATS server URL (overrides config)")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the control plane",
	Long: `Start the control plane: heartbeat intake, leader-elected policy
workers, and the admin HTTP surface. Multiple replicas may run against
the same NATS cluster; per-worker leader locks keep each policy single-
writer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("listen"); v != "" {
			cfg.Server.Address = v
		}
		if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
			cfg.Data.Dir = v
		}
		if v, _ := cmd.Flags().GetString("nats-url"); v != "" {
			cfg.NATS.URL = v
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Logging.Level),
			JSONOutput: !cfg.Logging.Pretty,
		})

		cp, err := controlplane.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to assemble control plane: %w", err)
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- cp.Start()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		logger := log.WithComponent("main")
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
		case err := <-errCh:
			if err != nil {
				logger.Error().Err(err).Msg("control plane failed")
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		cp.Stop(ctx)
		return nil
	},
}
