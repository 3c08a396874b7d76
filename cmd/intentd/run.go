package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/intentkit/intentkit/log"
	"github.com/intentkit/intentkit/manager"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the intent manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		configPath, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}
		stateDir, err := cmd.Flags().GetString("state-dir")
		if err != nil {
			return err
		}
		metricsAddr, err := cmd.Flags().GetString("metrics-addr")
		if err != nil {
			return err
		}

		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		m, err := manager.New(ctx, &manager.Config{
			StateDir:    stateDir,
			MetricsAddr: metricsAddr,
			Intent:      cfg.Manager,
			Cleanup:     cfg.Cleanup,
			Driver:      cfg.Driver,
		})
		if err != nil {
			return err
		}
		defer m.Stop()

		if err := cfg.Topology.apply(m.Topology()); err != nil {
			return err
		}
		if err := cfg.submit(m.Intents()); err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- m.Run(ctx)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			log.G(ctx).Infof("received %s, shutting down", sig)
		case err := <-errCh:
			return err
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringP("config", "c", "", "Configuration file (YAML)")
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9464", "Address to serve Prometheus metrics on, empty to disable")
}
